package domain

import (
	"context"
	"encoding/json"
)

// Conn is a long-lived protocol connection to one backend. Call sends a
// request with a fresh correlation id and blocks until the matching reply
// arrives or ctx is done. Concurrent calls on the same Conn are safe and
// never observe each other's replies.
type Conn interface {
	Call(ctx context.Context, method string, params any) (json.RawMessage, error)
	Alive() bool
	Close() error
}
