// Package mem is an in-process transport. It can drop and reorder messages
// to stand in for an unordered, unreliable network.
package mem

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/zeusync/framesync/internal/core/transport"
)

var (
	_ transport.Conn     = (*Conn)(nil)
	_ transport.Listener = (*Listener)(nil)
	_ transport.Dialer   = (*Listener)(nil)
)

// Options shape delivery. Zero value is ordered and lossless.
type Options struct {
	// DropRate is the probability a sent message is silently lost.
	DropRate float64
	// ReorderRate is the probability a sent message is queued ahead of
	// messages still waiting to be received.
	ReorderRate float64
	// Seed makes drop and reorder decisions repeatable.
	Seed uint64
	// MaxMessageSize bounds Send; zero uses transport.DefaultMaxMessageSize.
	MaxMessageSize int
}

// mailbox is one direction of a pipe.
type mailbox struct {
	mu      sync.Mutex
	pending [][]byte
	notify  chan struct{}
	closed  bool
	rng     *rand.Rand
	opts    Options
}

func newMailbox(opts Options, stream uint64) *mailbox {
	return &mailbox{
		notify: make(chan struct{}, 1),
		rng:    rand.New(rand.NewPCG(opts.Seed, stream)),
		opts:   opts,
	}
}

func (m *mailbox) put(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return transport.ErrClosed
	}
	if m.opts.DropRate > 0 && m.rng.Float64() < m.opts.DropRate {
		return nil
	}

	msg := append([]byte(nil), data...)
	if n := len(m.pending); n > 0 && m.opts.ReorderRate > 0 && m.rng.Float64() < m.opts.ReorderRate {
		at := m.rng.IntN(n)
		m.pending = append(m.pending, nil)
		copy(m.pending[at+1:], m.pending[at:])
		m.pending[at] = msg
	} else {
		m.pending = append(m.pending, msg)
	}

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return nil
}

func (m *mailbox) take(ctx context.Context) ([]byte, error) {
	for {
		m.mu.Lock()
		if len(m.pending) > 0 {
			msg := m.pending[0]
			m.pending[0] = nil
			m.pending = m.pending[1:]
			m.mu.Unlock()
			return msg, nil
		}
		if m.closed {
			m.mu.Unlock()
			return nil, transport.ErrClosed
		}
		m.mu.Unlock()

		select {
		case <-m.notify:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (m *mailbox) close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	close(m.notify)
}

// Conn is one end of a pipe.
type Conn struct {
	id       uuid.UUID
	name     string
	in, out  *mailbox
	maxSize  int
	closeOne sync.Once
}

// Pipe returns two connected ends.
func Pipe(opts Options) (*Conn, *Conn) {
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = transport.DefaultMaxMessageSize
	}
	ab := newMailbox(opts, 1)
	ba := newMailbox(opts, 2)
	a := &Conn{id: uuid.New(), name: "mem:a", in: ba, out: ab, maxSize: opts.MaxMessageSize}
	b := &Conn{id: uuid.New(), name: "mem:b", in: ab, out: ba, maxSize: opts.MaxMessageSize}
	return a, b
}

func (c *Conn) ID() uuid.UUID { return c.id }

func (c *Conn) RemoteAddr() string { return c.name }

func (c *Conn) Send(_ context.Context, data []byte) error {
	if err := transport.CheckSize(data, c.maxSize); err != nil {
		return err
	}
	return c.out.put(data)
}

func (c *Conn) Receive(ctx context.Context) ([]byte, error) {
	return c.in.take(ctx)
}

// Close shuts both directions. The peer drains what was already sent.
func (c *Conn) Close() error {
	c.closeOne.Do(func() {
		c.out.close()
		c.in.close()
	})
	return nil
}

// Listener hands out the server ends of pipes created by Dial.
type Listener struct {
	opts     Options
	dials    atomic.Uint64
	accepted chan *Conn
	done     chan struct{}
	once     sync.Once
}

func NewListener(opts Options) *Listener {
	return &Listener{
		opts:     opts,
		accepted: make(chan *Conn),
		done:     make(chan struct{}),
	}
}

// Dial creates a pipe and blocks until the server end is accepted.
func (l *Listener) Dial(ctx context.Context, _ string) (transport.Conn, error) {
	opts := l.opts
	opts.Seed += l.dials.Add(1)
	client, server := Pipe(opts)
	select {
	case l.accepted <- server:
		return client, nil
	case <-l.done:
		return nil, transport.ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
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

func (l *Listener) Addr() string { return "mem" }

func (l *Listener) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}
