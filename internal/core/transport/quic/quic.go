// Package quic carries each replication message on its own unidirectional
// QUIC stream. Every message is delivered reliably, but messages may overtake
// one another, so the receiver sees an unordered channel.
package quic

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/quic-go/quic-go"

	"github.com/zeusync/framesync/internal/core/observability/log"
	"github.com/zeusync/framesync/internal/core/transport"
)

var (
	_ transport.Conn     = (*Conn)(nil)
	_ transport.Listener = (*Listener)(nil)
	_ transport.Dialer   = (*Dialer)(nil)
)

const (
	DefaultIdleTimeout = 30 * time.Second
	DefaultKeepAlive   = 10 * time.Second
	DefaultMaxStreams  = 1000
)

func quicConfig() *quic.Config {
	return &quic.Config{
		MaxIncomingUniStreams: DefaultMaxStreams,
		MaxIdleTimeout:        DefaultIdleTimeout,
		KeepAlivePeriod:       DefaultKeepAlive,
	}
}

// Conn is one QUIC peer.
type Conn struct {
	id     uuid.UUID
	conn   *quic.Conn
	config transport.Config
	closed atomic.Bool
	logger log.Log
}

func newConn(conn *quic.Conn, config transport.Config, logger log.Log) *Conn {
	id := uuid.New()
	return &Conn{
		id:     id,
		conn:   conn,
		config: config,
		logger: logger.With(log.Stringer("connection_id", id), log.String("remote_addr", conn.RemoteAddr().String())),
	}
}

func (c *Conn) ID() uuid.UUID { return c.id }

func (c *Conn) RemoteAddr() string { return c.conn.RemoteAddr().String() }

// Send writes data on a new unidirectional stream and closes it.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	if c.closed.Load() {
		return transport.ErrClosed
	}
	if err := transport.CheckSize(data, c.config.MaxMessageSize); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.config.WriteTimeout)
	defer cancel()

	stream, err := c.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return c.wrap(err, "failed to open stream")
	}
	if d, ok := ctx.Deadline(); ok {
		_ = stream.SetWriteDeadline(d)
	}
	if _, err = stream.Write(data); err != nil {
		stream.CancelWrite(0)
		return c.wrap(err, "failed to write message")
	}
	return stream.Close()
}

// Receive reads the next complete stream.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	if c.closed.Load() {
		return nil, transport.ErrClosed
	}

	stream, err := c.conn.AcceptUniStream(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, c.wrap(err, "failed to accept stream")
	}

	data, err := io.ReadAll(io.LimitReader(stream, int64(c.config.MaxMessageSize)+1))
	if err != nil {
		return nil, c.wrap(err, "failed to read message")
	}
	if len(data) > c.config.MaxMessageSize {
		stream.CancelRead(0)
		return nil, errors.Wrapf(transport.ErrMessageTooLarge, "limit %d bytes", c.config.MaxMessageSize)
	}
	return data, nil
}

func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.conn.CloseWithError(0, "connection closed")
}

func (c *Conn) wrap(err error, msg string) error {
	var appErr *quic.ApplicationError
	if c.closed.Load() || errors.As(err, &appErr) {
		return errors.Wrap(transport.ErrClosed, err.Error())
	}
	return errors.Wrap(err, msg)
}

// Listener accepts QUIC connections.
type Listener struct {
	listener *quic.Listener
	config   transport.Config
	logger   log.Log
}

// Listen binds a QUIC listener on addr. tlsConfig must carry a certificate;
// GenerateSelfSignedTLS serves for development.
func Listen(addr string, tlsConfig *tls.Config, config transport.Config, logger log.Log) (*Listener, error) {
	logger = log.OrProvide(logger).With(log.String("transport", "quic"))

	listener, err := quic.ListenAddr(addr, tlsConfig, quicConfig())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on %s", addr)
	}

	logger.Info("quic listener started", log.String("addr", listener.Addr().String()))
	return &Listener{listener: listener, config: config.WithDefaults(), logger: logger}, nil
}

func (l *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	conn, err := l.listener.Accept(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, quic.ErrServerClosed) || errors.Is(err, net.ErrClosed) {
			return nil, transport.ErrClosed
		}
		return nil, errors.Wrap(err, "failed to accept connection")
	}
	return newConn(conn, l.config, l.logger), nil
}

func (l *Listener) Addr() string { return l.listener.Addr().String() }

func (l *Listener) Close() error {
	l.logger.Info("quic listener closed")
	return l.listener.Close()
}

// Dialer opens QUIC connections.
type Dialer struct {
	tlsConfig *tls.Config
	config    transport.Config
	logger    log.Log
}

// NewDialer returns a dialer. A nil tlsConfig skips certificate verification.
func NewDialer(tlsConfig *tls.Config, config transport.Config, logger log.Log) *Dialer {
	if tlsConfig == nil {
		tlsConfig = InsecureClientTLS()
	}
	return &Dialer{
		tlsConfig: tlsConfig,
		config:    config.WithDefaults(),
		logger:    log.OrProvide(logger).With(log.String("transport", "quic")),
	}
}

func (d *Dialer) Dial(ctx context.Context, addr string) (transport.Conn, error) {
	tlsConfig := d.tlsConfig.Clone()
	if tlsConfig.ServerName == "" {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			tlsConfig.ServerName = host
		} else {
			tlsConfig.ServerName = addr
		}
	}

	conn, err := quic.DialAddr(ctx, addr, tlsConfig, quicConfig())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", addr)
	}
	return newConn(conn, d.config, d.logger), nil
}
