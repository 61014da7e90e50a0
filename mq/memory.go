package mq

import (
	"sync"

	"github.com/JellyTony/poolboard/events"
)

// MemoryQueue is an in-process update bus. Publish never blocks: when the
// buffer is full the update is dropped, since the next poll supersedes it.
type MemoryQueue struct {
	mu     sync.RWMutex
	ch     chan events.Update
	closed bool
}

func NewMemoryQueue(size int) *MemoryQueue {
	return &MemoryQueue{ch: make(chan events.Update, size)}
}

func (q *MemoryQueue) Publish(evt events.Update) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return nil
	}
	select {
	case q.ch <- evt:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Subscribe() <-chan events.Update {
	return q.ch
}

func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.ch)
	}
	return nil
}
