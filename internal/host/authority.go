// Package host runs replication over a transport. The simulation goroutine,
// the network goroutine that owns replication state, and the per-connection
// I/O goroutines only talk through bounded queues.
package host

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/framesync/internal/core/observability/log"
	"github.com/zeusync/framesync/internal/core/replication"
	"github.com/zeusync/framesync/internal/core/snapshot"
	"github.com/zeusync/framesync/internal/core/transport"
	"github.com/zeusync/framesync/pkg/queue"
)

type AuthorityConfig struct {
	// History is the number of frames retained for delta bases.
	History int
	// QueueSize bounds the event queue and every per-observer send queue.
	QueueSize int
}

type eventKind uint8

const (
	eventFrame eventKind = iota + 1
	eventConnected
	eventDisconnected
	eventAck
	eventResync
)

// event is everything the network loop reacts to.
type event struct {
	kind     eventKind
	observer replication.ObserverID
	conn     transport.Conn
	frame    uint64
	snapshot *snapshot.Snapshot
}

type observerLink struct {
	conn     transport.Conn
	outbound *queue.Bounded[[]byte]
}

// Authority replicates published snapshots to every connected observer.
type Authority struct {
	config   AuthorityConfig
	listener transport.Listener
	sender   *replication.Sender
	events   *queue.Bounded[event]
	links    map[replication.ObserverID]*observerLink
	group    *errgroup.Group

	frame     atomic.Uint64
	observers atomic.Int64
	logger    log.Log
}

func NewAuthority(listener transport.Listener, codec replication.DeltaCodec, config AuthorityConfig, logger log.Log) *Authority {
	if config.QueueSize <= 0 {
		config.QueueSize = 64
	}
	logger = log.OrProvide(logger)

	return &Authority{
		config:   config,
		listener: listener,
		sender:   replication.NewSender(replication.SenderConfig{History: config.History}, codec, logger),
		events:   queue.NewBounded[event](config.QueueSize),
		links:    make(map[replication.ObserverID]*observerLink),
		logger:   logger.With(log.String("component", "authority")),
	}
}

// Publish hands a captured snapshot to the network loop. It never blocks;
// when the queue is full the snapshot is dropped and false is returned.
func (a *Authority) Publish(snap *snapshot.Snapshot) bool {
	ok := a.events.TryPush(event{kind: eventFrame, snapshot: snap})
	if !ok {
		a.logger.Warn("event queue full, dropping frame", log.Uint64("dropped", a.events.Dropped()))
	}
	return ok
}

// CurrentFrame returns the newest frame index the network loop has recorded.
func (a *Authority) CurrentFrame() uint64 { return a.frame.Load() }

// Observers returns the number of connected observers.
func (a *Authority) Observers() int { return int(a.observers.Load()) }

// Dropped returns the number of snapshots Publish could not queue.
func (a *Authority) Dropped() uint64 { return a.events.Dropped() }

// Run serves observers until ctx is cancelled or the listener fails.
func (a *Authority) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	a.group = g

	g.Go(func() error { return a.acceptLoop(gctx) })
	g.Go(func() error { return a.networkLoop(gctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *Authority) acceptLoop(ctx context.Context) error {
	defer func() { _ = a.listener.Close() }()
	stop := context.AfterFunc(ctx, func() { _ = a.listener.Close() })
	defer stop()

	for {
		conn, err := a.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "accept")
		}

		a.logger.Info("observer connected", log.Stringer("observer", conn.ID()), log.String("remote_addr", conn.RemoteAddr()))
		if err = a.events.Push(ctx, event{kind: eventConnected, observer: conn.ID(), conn: conn}); err != nil {
			_ = conn.Close()
			return err
		}
		a.group.Go(func() error { return a.readLoop(ctx, conn) })
	}
}

// readLoop turns inbound control messages into events.
func (a *Authority) readLoop(ctx context.Context, conn transport.Conn) error {
	id := conn.ID()
	logger := a.logger.With(log.Stringer("observer", id))

	for {
		data, err := conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Info("observer read ended", log.Error(err))
			_ = a.events.Push(ctx, event{kind: eventDisconnected, observer: id})
			return nil
		}

		msg, err := replication.Decode(data)
		if err != nil {
			logger.Warn("malformed control message", log.Error(err))
			continue
		}

		var ev event
		switch msg.Kind {
		case replication.KindAck:
			ev = event{kind: eventAck, observer: id, frame: msg.Frame}
		case replication.KindResync:
			ev = event{kind: eventResync, observer: id}
		default:
			logger.Warn("unexpected message from observer", log.Stringer("kind", msg.Kind))
			continue
		}
		if err = a.events.Push(ctx, ev); err != nil {
			return nil
		}
	}
}

// networkLoop is the only goroutine that touches the Sender.
func (a *Authority) networkLoop(ctx context.Context) error {
	defer func() {
		for id := range a.links {
			a.drop(id)
		}
	}()

	for {
		ev, err := a.events.Pop(ctx)
		if err != nil {
			return err
		}

		switch ev.kind {
		case eventFrame:
			a.frame.Store(a.sender.AddFrame(ev.snapshot))
			for id := range a.links {
				a.transmit(id)
			}
		case eventConnected:
			a.connect(ctx, ev.observer, ev.conn)
		case eventDisconnected:
			a.drop(ev.observer)
		case eventAck:
			if _, ok := a.links[ev.observer]; !ok {
				continue
			}
			if err = a.sender.NotifyAcknowledgement(ev.observer, ev.frame); err != nil {
				a.logger.Debug("acknowledgement ignored", log.Stringer("observer", ev.observer), log.Error(err))
			}
		case eventResync:
			if _, ok := a.links[ev.observer]; !ok {
				continue
			}
			if err = a.sender.NotifyResyncRequested(ev.observer); err == nil {
				a.logger.Debug("resync requested", log.Stringer("observer", ev.observer))
				a.transmit(ev.observer)
			}
		}
	}
}

func (a *Authority) connect(ctx context.Context, id replication.ObserverID, conn transport.Conn) {
	if _, ok := a.links[id]; ok {
		a.drop(id)
	}

	link := &observerLink{conn: conn, outbound: queue.NewBounded[[]byte](a.config.QueueSize)}
	a.links[id] = link
	a.sender.NotifyObserverConnected(id)
	a.observers.Add(1)

	a.group.Go(func() error { return a.writeLoop(ctx, id, link) })

	// catch up straight away rather than waiting for the next tick
	if a.sender.CurrentFrame() > 0 {
		a.transmit(id)
	}
}

func (a *Authority) drop(id replication.ObserverID) {
	link, ok := a.links[id]
	if !ok {
		return
	}
	delete(a.links, id)
	link.outbound.Close()
	_ = link.conn.Close()
	a.sender.NotifyObserverDisconnected(id)
	a.observers.Add(-1)
	a.logger.Info("observer disconnected", log.Stringer("observer", id))
}

func (a *Authority) transmit(id replication.ObserverID) {
	data, err := a.sender.BuildTransmission(id)
	if err != nil {
		a.logger.Error("failed to build transmission", log.Stringer("observer", id), log.Error(err))
		return
	}
	if !a.links[id].outbound.TryPush(data) {
		a.logger.Debug("observer send queue full, dropping transmission", log.Stringer("observer", id))
	}
}

func (a *Authority) writeLoop(ctx context.Context, id replication.ObserverID, link *observerLink) error {
	for {
		data, err := link.outbound.Pop(ctx)
		if err != nil {
			return nil
		}
		if err = link.conn.Send(ctx, data); err != nil {
			if ctx.Err() == nil {
				a.logger.Info("observer write failed", log.Stringer("observer", id), log.Error(err))
				_ = a.events.Push(ctx, event{kind: eventDisconnected, observer: id})
			}
			return nil
		}
	}
}
