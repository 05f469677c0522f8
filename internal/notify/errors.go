package notify

import "errors"

var (
	// ErrHubClosed is returned when publishing to a stopped hub.
	ErrHubClosed = errors.New("notify: hub closed")

	// ErrUnauthenticated is returned for a missing or invalid token.
	ErrUnauthenticated = errors.New("notify: unauthenticated")

	// ErrSlowClient is returned when a client's send queue is full.
	ErrSlowClient = errors.New("notify: client send queue full")

	// ErrClientClosed is returned when sending to a closed client.
	ErrClientClosed = errors.New("notify: client closed")
)
