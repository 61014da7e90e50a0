package mq

import (
	"os"
	"testing"
	"time"

	"github.com/JellyTony/poolboard/events"
)

func TestRabbit(t *testing.T) {
	url := os.Getenv("PB_MQ_URL")
	if url == "" {
		t.Skip("MQ URL not provided")
	}
	r, err := NewRabbitMQ(url, "poolboard_test")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	ch := r.Subscribe()
	_ = r.Publish(events.Update{Kind: events.KindPool, Time: time.Now()})
	select {
	case evt := <-ch:
		if evt.Kind != events.KindPool {
			t.Fatal("kind")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timeout")
	}
}
