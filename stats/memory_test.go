package stats

import (
	"testing"
	"time"

	"github.com/JellyTony/poolboard/protocol"
)

func TestMemoryStoreIncrementGet(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now()
	_ = s.Increment("fetch_error:unavailable", now)
	_ = s.Increment("fetch_error:unavailable", now.Add(10*time.Second))
	v, _ := s.Get("fetch_error:unavailable", now)
	if v != 2 {
		t.Fatal("aggregate by minute")
	}
	v2, _ := s.Get("fetch_error:unavailable", now.Add(time.Minute))
	if v2 != 0 {
		t.Fatal("next minute should be 0")
	}
}

func TestMemoryStoreWindowCopy(t *testing.T) {
	s := NewMemoryStore()
	w := []protocol.BlockRecord{{Height: 1}, {Height: 2}}
	_ = s.SaveWindow("network", w)
	w[0].Height = 99
	got, _ := s.LoadWindow("network")
	if len(got) != 2 || got[0].Height != 1 {
		t.Fatal("saved window must be a copy")
	}
	empty, _ := s.LoadWindow("pool")
	if len(empty) != 0 {
		t.Fatal("unknown series should be empty")
	}
}
