// Package auth resolves and formats bearer credentials for the endpoint
// handshake.
package auth

import (
	"fmt"
	"net/http"
	"os"
	"strings"
)

// Credentials holds the bearer token presented on the WebSocket handshake.
type Credentials struct {
	Token string
}

// Resolve picks the effective token: a literal token wins over a token
// file. Both empty means anonymous access, which is not an error.
func Resolve(token, tokenFile string) (*Credentials, error) {
	if token != "" {
		return &Credentials{Token: token}, nil
	}

	if tokenFile != "" {
		data, err := os.ReadFile(tokenFile)
		if err != nil {
			return nil, fmt.Errorf("read token file: %w", err)
		}
		tok := strings.TrimSpace(string(data))
		if tok == "" {
			return nil, fmt.Errorf("token file %s is empty", tokenFile)
		}
		return &Credentials{Token: tok}, nil
	}

	return &Credentials{}, nil
}

// IsAnonymous reports whether no token is configured.
func (c *Credentials) IsAnonymous() bool {
	return c.Token == ""
}

// Header returns the handshake headers for these credentials. Anonymous
// credentials produce no headers.
func (c *Credentials) Header() http.Header {
	h := http.Header{}
	if c.Token != "" {
		h.Set("Authorization", "Bearer "+c.Token)
	}
	return h
}
