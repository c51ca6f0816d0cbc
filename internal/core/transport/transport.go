// Package transport defines the opaque byte channel replication runs over.
// A transmission is handed to Send whole and comes out of Receive whole;
// implementations differ in whether delivery is ordered or reliable.
package transport

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrClosed          = errors.New("transport closed")
	ErrMessageTooLarge = errors.New("message exceeds size limit")
)

// DefaultMaxMessageSize bounds a single transmission.
const DefaultMaxMessageSize = 1 << 20

// Conn carries whole messages between two peers. Send and Receive may be
// called from different goroutines, but each only from one at a time.
type Conn interface {
	ID() uuid.UUID
	RemoteAddr() string
	Send(ctx context.Context, data []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// Listener accepts inbound connections.
type Listener interface {
	Accept(ctx context.Context) (Conn, error)
	Addr() string
	Close() error
}

// Dialer opens an outbound connection.
type Dialer interface {
	Dial(ctx context.Context, addr string) (Conn, error)
}

// Config holds settings shared by the network transports.
type Config struct {
	MaxMessageSize int
	WriteTimeout   time.Duration
	// Path is the HTTP path of the websocket endpoint.
	Path string
}

func (c Config) WithDefaults() Config {
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = DefaultMaxMessageSize
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 5 * time.Second
	}
	if c.Path == "" {
		c.Path = "/replication"
	}
	return c
}

// CheckSize rejects outbound messages larger than limit.
func CheckSize(data []byte, limit int) error {
	if limit > 0 && len(data) > limit {
		return errors.Wrapf(ErrMessageTooLarge, "%d > %d bytes", len(data), limit)
	}
	return nil
}
