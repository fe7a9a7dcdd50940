// Package connection manages one logical WebSocket connection to a remote
// endpoint: typed message send/receive, request/response correlation,
// priority-ordered offline queueing, rate-limited admission, heartbeats,
// and bounded automatic reconnection.
//
// The Manager owns the transport handle and all mutable state; the Client
// is its only view of the socket, and the read loop is the only source of
// inbound events.
package connection
