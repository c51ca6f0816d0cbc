package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBounded_TryPushFailsFast(t *testing.T) {
	q := NewBounded[int](2)
	assert.True(t, q.TryPush(1))
	assert.True(t, q.TryPush(2))
	assert.False(t, q.TryPush(3))
	assert.Equal(t, uint64(1), q.Dropped())
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, 2, q.Cap())

	v, ok := q.TryPop()
	require.True(t, ok)
	assert.Equal(t, 1, v)
	v, ok = q.TryPop()
	require.True(t, ok)
	assert.Equal(t, 2, v)
	_, ok = q.TryPop()
	assert.False(t, ok)
}

func TestBounded_PopRespectsContext(t *testing.T) {
	q := NewBounded[string](1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.True(t, q.TryPush("a"))
	err = q.Push(ctx, "b")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBounded_CloseDrains(t *testing.T) {
	q := NewBounded[int](4)
	require.True(t, q.TryPush(7))
	q.Close()
	q.Close()

	assert.False(t, q.TryPush(8))
	assert.ErrorIs(t, q.Push(context.Background(), 8), ErrClosed)

	v, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	_, err = q.Pop(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}

func TestBounded_SingleProducerSingleConsumer(t *testing.T) {
	const n = 1000
	q := NewBounded[int](8)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			assert.NoError(t, q.Push(ctx, i))
		}
	}()

	for i := 0; i < n; i++ {
		v, err := q.Pop(ctx)
		require.NoError(t, err)
		require.Equal(t, i, v)
	}
	wg.Wait()
	assert.Zero(t, q.Dropped())
}
