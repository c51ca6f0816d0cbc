// Package websocket carries replication messages as binary websocket frames.
// Delivery is ordered and reliable.
package websocket

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/zeusync/framesync/internal/core/observability/log"
	"github.com/zeusync/framesync/internal/core/transport"
)

var (
	_ transport.Conn     = (*Conn)(nil)
	_ transport.Listener = (*Listener)(nil)
	_ transport.Dialer   = (*Dialer)(nil)
)

// Conn is one websocket peer.
type Conn struct {
	id      uuid.UUID
	conn    *websocket.Conn
	config  transport.Config
	writeMu sync.Mutex
	closed  atomic.Bool
	logger  log.Log
}

func newConn(conn *websocket.Conn, config transport.Config, logger log.Log) *Conn {
	conn.SetReadLimit(int64(config.MaxMessageSize))
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

// Send writes data as one binary message.
func (c *Conn) Send(ctx context.Context, data []byte) error {
	if c.closed.Load() {
		return transport.ErrClosed
	}
	if err := transport.CheckSize(data, c.config.MaxMessageSize); err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(c.config.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)

	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return errors.Wrap(err, "failed to write message")
	}
	return nil
}

// Receive blocks for the next binary message. Cancelling ctx closes the
// connection, since gorilla reads cannot be interrupted otherwise.
func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	if c.closed.Load() {
		return nil, transport.ErrClosed
	}
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, transport.ErrClosed
			}
			if errors.Is(err, websocket.ErrReadLimit) {
				return nil, errors.Wrap(transport.ErrMessageTooLarge, err.Error())
			}
			return nil, errors.Wrap(err, "failed to read message")
		}
		if messageType != websocket.BinaryMessage {
			c.logger.Debug("ignoring non-binary message", log.Int("type", messageType))
			continue
		}
		return data, nil
	}
}

// Close sends a close frame and closes the socket.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.writeMu.Lock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "connection closed")
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	c.writeMu.Unlock()

	return c.conn.Close()
}

// Listener serves the websocket endpoint and queues upgraded connections
// for Accept.
type Listener struct {
	config   transport.Config
	listener net.Listener
	server   *http.Server
	upgrader websocket.Upgrader
	accepted chan *Conn
	done     chan struct{}
	once     sync.Once
	logger   log.Log
}

// Listen starts an HTTP server on addr with the websocket endpoint at
// config.Path.
func Listen(addr string, config transport.Config, logger log.Log) (*Listener, error) {
	config = config.WithDefaults()
	logger = log.OrProvide(logger).With(log.String("transport", "websocket"))

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on %s", addr)
	}

	l := &Listener{
		config:   config,
		listener: ln,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		accepted: make(chan *Conn, 16),
		done:     make(chan struct{}),
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(config.Path, l.handleUpgrade)
	l.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.logger.Error("websocket server stopped", log.Error(err))
		}
	}()

	l.logger.Info("websocket listener started", log.String("addr", l.Addr()), log.String("path", config.Path))
	return l, nil
}

func (l *Listener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	ws, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Warn("websocket upgrade failed", log.Error(err))
		return
	}

	conn := newConn(ws, l.config, l.logger)
	select {
	case l.accepted <- conn:
	case <-l.done:
		_ = conn.Close()
	}
}

func (l *Listener) Accept(ctx context.Context) (transport.Conn, error) {
	select {
	case conn := <-l.accepted:
		return conn, nil
	case <-l.done:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Listener) Addr() string { return l.listener.Addr().String() }

func (l *Listener) Close() error {
	var err error
	l.once.Do(func() {
		close(l.done)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		err = l.server.Shutdown(ctx)
		l.logger.Info("websocket listener closed")
	})
	return err
}

// Dialer connects to a websocket Listener.
type Dialer struct {
	config transport.Config
	logger log.Log
}

func NewDialer(config transport.Config, logger log.Log) *Dialer {
	return &Dialer{
		config: config.WithDefaults(),
		logger: log.OrProvide(logger).With(log.String("transport", "websocket")),
	}
}

// Dial connects to host:port at the configured path.
func (d *Dialer) Dial(ctx context.Context, addr string) (transport.Conn, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: d.config.Path}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial %s", u.String())
	}
	return newConn(ws, d.config, d.logger), nil
}
