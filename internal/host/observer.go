package host

import (
	"context"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/framesync/internal/core/observability/log"
	"github.com/zeusync/framesync/internal/core/replication"
	"github.com/zeusync/framesync/internal/core/snapshot"
	"github.com/zeusync/framesync/internal/core/storage/component"
	"github.com/zeusync/framesync/internal/core/transport"
	"github.com/zeusync/framesync/pkg/queue"
)

type ObserverConfig struct {
	// History is the number of applied frames the receiver keeps.
	History int
	// QueueSize bounds the inbound transmission queue.
	QueueSize int
	// ResyncAfter is how many consecutive rejected transmissions trigger a
	// request for a full frame.
	ResyncAfter int
	// Sink receives every applied snapshot on the apply goroutine.
	Sink replication.StateSink
}

// Observer mirrors an authority's state over one connection.
type Observer struct {
	config   ObserverConfig
	conn     transport.Conn
	receiver *replication.Receiver
	inbound  *queue.Bounded[[]byte]
	rejected int

	applied  atomic.Pointer[replication.FrameRecord]
	resyncs  atomic.Uint64
	failures atomic.Uint64
	logger   log.Log
}

func NewObserver(conn transport.Conn, reg *component.Registry, codec replication.DeltaCodec, config ObserverConfig, logger log.Log) *Observer {
	if config.QueueSize <= 0 {
		config.QueueSize = 64
	}
	if config.ResyncAfter <= 0 {
		config.ResyncAfter = 3
	}
	logger = log.OrProvide(logger)

	o := &Observer{
		config:  config,
		conn:    conn,
		inbound: queue.NewBounded[[]byte](config.QueueSize),
		logger:  logger.With(log.String("component", "observer")),
	}
	o.receiver = replication.NewReceiver(reg, codec, replication.ReceiverConfig{
		History: config.History,
		Sink:    o.onApplied,
	}, logger)
	return o
}

func (o *Observer) onApplied(frame uint64, snap *snapshot.Snapshot) {
	o.applied.Store(&replication.FrameRecord{Index: frame, Snapshot: snap})
	if o.config.Sink != nil {
		o.config.Sink(frame, snap)
	}
}

// Latest returns the most recently applied frame.
func (o *Observer) Latest() (replication.FrameRecord, bool) {
	rec := o.applied.Load()
	if rec == nil {
		return replication.FrameRecord{Index: replication.InvalidFrame}, false
	}
	return *rec, true
}

// Resyncs returns how many full-frame requests were sent.
func (o *Observer) Resyncs() uint64 { return o.resyncs.Load() }

// Rejected returns how many transmissions failed to apply.
func (o *Observer) Rejected() uint64 { return o.failures.Load() }

// Run receives and applies transmissions until ctx is cancelled or the
// connection closes.
func (o *Observer) Run(ctx context.Context) error {
	defer func() { _ = o.conn.Close() }()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.readLoop(gctx) })
	g.Go(func() error { return o.applyLoop(gctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (o *Observer) readLoop(ctx context.Context) error {
	defer o.inbound.Close()
	for {
		data, err := o.conn.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "receive")
		}
		if !o.inbound.TryPush(data) {
			o.logger.Debug("inbound queue full, dropping transmission")
		}
	}
}

// applyLoop is the only goroutine that touches the Receiver.
func (o *Observer) applyLoop(ctx context.Context) error {
	for {
		data, err := o.inbound.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				return nil
			}
			return err
		}

		frame, err := o.receiver.ReceiveTransmission(data)
		if err == nil {
			o.rejected = 0
			o.acknowledge(ctx)
			o.logger.Debug("frame applied", log.Uint64("frame", frame))
			continue
		}

		o.failures.Add(1)
		o.logger.Debug("transmission rejected",
			log.Stringer("status", replication.StatusOf(err)),
			log.Uint64("high_water_mark", o.receiver.HighWaterMark()),
			log.Error(err),
		)
		if !replication.RequiresResync(err) {
			continue
		}

		// the authority may have missed our last ack
		o.acknowledge(ctx)

		o.rejected++
		if o.rejected >= o.config.ResyncAfter {
			o.rejected = 0
			o.resyncs.Add(1)
			o.logger.Info("requesting full frame", log.Uint64("high_water_mark", o.receiver.HighWaterMark()))
			o.send(ctx, replication.EncodeResync())
		}
	}
}

func (o *Observer) acknowledge(ctx context.Context) {
	if ack, ok := o.receiver.Acknowledgement(); ok {
		o.send(ctx, ack)
	}
}

func (o *Observer) send(ctx context.Context, data []byte) {
	if err := o.conn.Send(ctx, data); err != nil && ctx.Err() == nil {
		o.logger.Warn("failed to send control message", log.Error(err))
	}
}
