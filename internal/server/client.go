package server

import (
	"context"

	"github.com/zeusync/framesync/internal/config"
	"github.com/zeusync/framesync/internal/core/observability/log"
	"github.com/zeusync/framesync/internal/core/replication/delta"
	"github.com/zeusync/framesync/internal/core/storage/component"
	"github.com/zeusync/framesync/internal/core/transport"
	"github.com/zeusync/framesync/internal/host"
)

// Client connects to a server and mirrors its world.
type Client struct {
	config   config.Config
	registry *component.Registry
	mirror   *Mirror
	logger   log.Log
}

func NewClient(cfg config.Config, reg *component.Registry, logger log.Log) *Client {
	logger = log.OrProvide(logger)
	return &Client{
		config:   cfg,
		registry: reg,
		mirror:   NewMirror(reg, storeConfig(cfg), logger),
		logger:   logger.With(log.String("component", "client")),
	}
}

// Mirror returns the local copy of the world.
func (c *Client) Mirror() *Mirror { return c.mirror }

// Run dials the configured address and mirrors until ctx ends or the
// connection drops.
func (c *Client) Run(ctx context.Context) error {
	conn, err := Dial(ctx, c.config, c.logger)
	if err != nil {
		return err
	}
	return c.RunConn(ctx, conn)
}

// RunConn mirrors over an established connection. Every call starts from an
// empty receiver, so a restarted server is picked up with a full frame.
func (c *Client) RunConn(ctx context.Context, conn transport.Conn) error {
	c.logger.Info("connected", log.String("remote_addr", conn.RemoteAddr()))

	observer := host.NewObserver(conn, c.registry, delta.NewCodec(c.registry), host.ObserverConfig{
		History:     c.config.Replication.History,
		QueueSize:   c.config.Replication.QueueSize,
		ResyncAfter: c.config.Replication.ResyncAfter,
		Sink:        c.mirror.Apply,
	}, c.logger)
	return observer.Run(ctx)
}

func (c *Client) Close() {
	c.mirror.Close()
}
