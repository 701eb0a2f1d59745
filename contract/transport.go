package contract

import (
	"cinematch/protocol"
	"context"
	"time"
)

// Connection is one live transport to the hub, already past its handshake.
// Receive blocks until a record arrives or the connection fails.
type Connection interface {
	Receive() (protocol.Record, error)
	Send(ctx context.Context, r protocol.Record) error
	Close() error
}

// ConnectionFactory opens a new hub connection. Each call yields a fresh one.
type ConnectionFactory interface {
	Dial(ctx context.Context) (Connection, error)
}

type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}
