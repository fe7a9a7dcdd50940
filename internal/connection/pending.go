package connection

import (
	"context"
	"sync"
	"time"

	"github.com/driftlock/wsbridge/internal/message"
)

// pendingRequest tracks one in-flight request awaiting a correlated reply.
type pendingRequest struct {
	id      string
	created time.Time
	done    chan struct{}

	reply *message.Message
	err   error
}

// pendingStore maps request IDs to in-flight requests. A request completes
// exactly once: the first of reply, failure, timeout, or teardown wins.
type pendingStore struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
}

func newPendingStore() *pendingStore {
	return &pendingStore{
		pending: make(map[string]*pendingRequest),
	}
}

// add registers a request ID. Returns ErrDuplicateRequest if the ID is
// already in flight.
func (s *pendingStore) add(id string) (*pendingRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pending[id]; ok {
		return nil, ErrDuplicateRequest
	}

	p := &pendingRequest{
		id:      id,
		created: time.Now(),
		done:    make(chan struct{}),
	}
	s.pending[id] = p

	return p, nil
}

// complete resolves a pending request with a reply. Returns the request, or
// nil if no request with that ID is in flight. Delete-before-signal keeps
// completion at-most-once even when a timeout races the reply.
func (s *pendingStore) complete(id string, reply *message.Message) *pendingRequest {
	s.mu.Lock()
	p, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}

	p.reply = reply
	close(p.done)

	return p
}

// fail resolves a pending request with an error.
func (s *pendingStore) fail(id string, err error) *pendingRequest {
	s.mu.Lock()
	p, ok := s.pending[id]
	if ok {
		delete(s.pending, id)
	}
	s.mu.Unlock()

	if !ok {
		return nil
	}

	p.err = err
	close(p.done)

	return p
}

// remove drops a request without signalling it. Used by the waiter after a
// timeout so a late reply finds nothing.
func (s *pendingStore) remove(id string) {
	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()
}

// clear fails every in-flight request with err.
func (s *pendingStore) clear(err error) {
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[string]*pendingRequest)
	s.mu.Unlock()

	for _, p := range pending {
		p.err = err
		close(p.done)
	}
}

// count returns the number of in-flight requests.
func (s *pendingStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// wait blocks until the request completes, the timeout elapses, or ctx is
// cancelled. On timeout or cancellation the request is removed so a late
// reply is dropped.
func (s *pendingStore) wait(ctx context.Context, p *pendingRequest, timeout time.Duration) (*message.Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return p.reply, p.err
	case <-timer.C:
		s.remove(p.id)
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		s.remove(p.id)
		return nil, ctx.Err()
	}
}
