package mem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/framesync/internal/core/transport"
)

func recvAll(t *testing.T, c *Conn, n int) [][]byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		msg, err := c.Receive(ctx)
		require.NoError(t, err)
		out = append(out, msg)
	}
	return out
}

func TestPipe_OrderedByDefault(t *testing.T) {
	a, b := Pipe(Options{})
	ctx := context.Background()

	for i := byte(0); i < 10; i++ {
		require.NoError(t, a.Send(ctx, []byte{i}))
	}
	got := recvAll(t, b, 10)
	for i, msg := range got {
		assert.Equal(t, []byte{byte(i)}, msg)
	}

	require.NoError(t, b.Send(ctx, []byte("pong")))
	assert.Equal(t, [][]byte{[]byte("pong")}, recvAll(t, a, 1))
}

func TestPipe_SendCopiesBuffer(t *testing.T) {
	a, b := Pipe(Options{})
	buf := []byte{1, 2, 3}
	require.NoError(t, a.Send(context.Background(), buf))
	buf[0] = 9
	assert.Equal(t, []byte{1, 2, 3}, recvAll(t, b, 1)[0])
}

func TestPipe_Reorder(t *testing.T) {
	a, b := Pipe(Options{ReorderRate: 0.5, Seed: 42})
	ctx := context.Background()

	const n = 64
	for i := byte(0); i < n; i++ {
		require.NoError(t, a.Send(ctx, []byte{i}))
	}

	got := recvAll(t, b, n)
	inOrder := true
	seen := make(map[byte]bool)
	for i, msg := range got {
		seen[msg[0]] = true
		if msg[0] != byte(i) {
			inOrder = false
		}
	}
	assert.Len(t, seen, n)
	assert.False(t, inOrder)
}

func TestPipe_Drop(t *testing.T) {
	a, b := Pipe(Options{DropRate: 1})
	require.NoError(t, a.Send(context.Background(), []byte{1}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPipe_CloseAndLimits(t *testing.T) {
	a, b := Pipe(Options{MaxMessageSize: 4})
	ctx := context.Background()

	assert.ErrorIs(t, a.Send(ctx, make([]byte, 5)), transport.ErrMessageTooLarge)
	require.NoError(t, a.Send(ctx, []byte{1}))
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	// already queued messages still arrive
	msg, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, msg)

	_, err = b.Receive(ctx)
	assert.ErrorIs(t, err, transport.ErrClosed)
	assert.ErrorIs(t, b.Send(ctx, []byte{1}), transport.ErrClosed)
}

func TestListener_DialAccept(t *testing.T) {
	l := NewListener(Options{})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	accepted := make(chan transport.Conn, 1)
	go func() {
		conn, err := l.Accept(ctx)
		assert.NoError(t, err)
		accepted <- conn
	}()

	client, err := l.Dial(ctx, l.Addr())
	require.NoError(t, err)
	server := <-accepted

	require.NoError(t, client.Send(ctx, []byte("hi")))
	msg, err := server.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("hi"), msg)

	require.NoError(t, l.Close())
	_, err = l.Accept(ctx)
	assert.ErrorIs(t, err, transport.ErrClosed)
	_, err = l.Dial(ctx, "")
	assert.ErrorIs(t, err, transport.ErrClosed)
}
