package server

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/framesync/internal/config"
	"github.com/zeusync/framesync/internal/core/observability/log"
	"github.com/zeusync/framesync/internal/core/transport/mem"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Replication.TickRate = 200
	cfg.Transport.Address = "127.0.0.1:0"
	return cfg
}

func waitMirrored(t *testing.T, c *Client) {
	t.Helper()
	require.Eventually(t, func() bool {
		return c.Mirror().Frame() > 5 && len(c.Mirror().Entities()) == InitialEntities
	}, 5*time.Second, 5*time.Millisecond)
}

func TestServer_ReplicatesToClientInMemory(t *testing.T) {
	cfg := testConfig()
	reg := NewRegistry(log.NewNop())
	srv := NewServer(cfg, reg, log.NewNop())
	t.Cleanup(func() { _ = srv.Close() })

	listener := mem.NewListener(mem.Options{ReorderRate: 0.1, Seed: 3})
	require.NoError(t, srv.StartWithListener(context.Background(), listener))
	assert.ErrorIs(t, srv.StartWithListener(context.Background(), mem.NewListener(mem.Options{})), ErrServerAlreadyRunning)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn, err := listener.Dial(ctx, listener.Addr())
	require.NoError(t, err)

	client := NewClient(cfg, NewRegistry(log.NewNop()), log.NewNop())
	t.Cleanup(client.Close)
	done := make(chan error, 1)
	go func() { done <- client.RunConn(ctx, conn) }()

	waitMirrored(t, client)
	assert.Equal(t, 1, srv.Authority().Observers())

	require.NoError(t, srv.Stop())
	assert.ErrorIs(t, srv.Stop(), ErrServerNotRunning)
	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("client did not notice the server stopping")
	}
}

func TestServer_ReplicatesOverWebsocket(t *testing.T) {
	cfg := testConfig()
	srv := NewServer(cfg, NewRegistry(log.NewNop()), log.NewNop())
	t.Cleanup(func() { _ = srv.Close() })
	require.NoError(t, srv.Start(context.Background()))

	clientCfg := cfg
	clientCfg.Transport.Address = srv.Addr()
	client := NewClient(clientCfg, NewRegistry(log.NewNop()), log.NewNop())
	t.Cleanup(client.Close)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	waitMirrored(t, client)
	cancel()
	assert.NoError(t, <-done)
}

func TestServer_Closed(t *testing.T) {
	srv := NewServer(testConfig(), NewRegistry(log.NewNop()), log.NewNop())
	require.NoError(t, srv.Close())
	require.NoError(t, srv.Close())
	assert.ErrorIs(t, srv.StartWithListener(context.Background(), mem.NewListener(mem.Options{})), ErrServerClosed)
}
