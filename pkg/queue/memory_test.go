package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryQueue_order(t *testing.T) {
	q := NewInMemoryQueue(4)
	for i := 1; i <= 3; i++ {
		require.NoError(t, q.Enqueue(i))
	}
	assert.Equal(t, 3, q.Size())

	ctx := context.Background()
	for i := 1; i <= 3; i++ {
		item, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, i, item)
	}
	assert.Equal(t, 0, q.Size())
}

func TestInMemoryQueue_full(t *testing.T) {
	q := NewInMemoryQueue(1)
	require.NoError(t, q.Enqueue("a"))
	assert.ErrorIs(t, q.Enqueue("b"), ErrQueueFull)
}

func TestInMemoryQueue_ReadAllMessages(t *testing.T) {
	q := NewInMemoryQueue(4)
	require.NoError(t, q.Enqueue("a"))
	require.NoError(t, q.Enqueue("b"))

	assert.Equal(t, []interface{}{"a", "b"}, q.ReadAllMessages())
	assert.Empty(t, q.ReadAllMessages())

	require.NoError(t, q.Enqueue("c"))
	q.ClearQueue()
	assert.Equal(t, 0, q.Size())
}

func TestInMemoryQueue_Close(t *testing.T) {
	q := NewInMemoryQueue(1)

	errs := make(chan error, 1)
	go func() {
		_, err := q.Dequeue(context.Background())
		errs <- err
	}()

	q.Close()
	q.Close()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("Dequeue did not return after Close")
	}
	assert.ErrorIs(t, q.Enqueue("a"), ErrQueueClosed)
}

func TestInMemoryQueue_Dequeue_context(t *testing.T) {
	q := NewInMemoryQueue(1)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
