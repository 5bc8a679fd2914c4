package queue

import (
	"context"
	"errors"
)

var (
	ErrQueueFull   = errors.New("queue is full")
	ErrQueueClosed = errors.New("queue is closed")
)

// Queue represents a bounded FIFO queue.
type Queue interface {
	// Enqueue never blocks. It returns ErrQueueFull when there is no room.
	Enqueue(item interface{}) error
	// Dequeue blocks until an item is available, ctx is done or the queue is closed.
	Dequeue(ctx context.Context) (interface{}, error)
	Size() int
	ReadAllMessages() []interface{}
	ClearQueue()
	// Close wakes blocked readers and rejects further items.
	Close()
}
