package mq

import (
	"testing"

	"github.com/JellyTony/poolboard/events"
)

func TestMemoryQueuePubSub(t *testing.T) {
	q := NewMemoryQueue(2)
	ch := q.Subscribe()
	_ = q.Publish(events.Update{Kind: events.KindNetwork})
	_ = q.Publish(events.Update{Kind: events.KindMiner, MinerID: 3})
	e1 := <-ch
	e2 := <-ch
	if e1.Kind != events.KindNetwork || e2.MinerID != 3 {
		t.Fatal("event")
	}
	_ = q.Close()
	if err := q.Publish(events.Update{}); err != nil {
		t.Fatal("publish after close is a no-op")
	}
}

func TestMemoryQueueFull(t *testing.T) {
	q := NewMemoryQueue(1)
	_ = q.Publish(events.Update{})
	if err := q.Publish(events.Update{}); err != ErrQueueFull {
		t.Fatal("expect queue full")
	}
	_ = q.Close()
}
