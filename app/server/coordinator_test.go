package server

import (
	"context"
	"testing"
	"time"

	"github.com/JellyTony/poolboard/apiclient"
	"github.com/JellyTony/poolboard/events"
	"github.com/JellyTony/poolboard/mq"
	"github.com/JellyTony/poolboard/protocol"
	"github.com/JellyTony/poolboard/series"
	"github.com/JellyTony/poolboard/stats"
)

func newTestCoordinator(api PoolAPI, store *stats.MemoryStore, q MessageQueue) *Coordinator {
	return NewCoordinator(api, store, store, q, time.Minute, 5*time.Second)
}

func TestCycleFillsWindows(t *testing.T) {
	api := newFakeAPI(500)
	q := mq.NewMemoryQueue(16)
	c := newTestCoordinator(api, stats.NewMemoryStore(), q)
	c.Watch(apiclient.Credentials{ID: 7, Username: "alice"})
	c.Cycle(context.Background())

	net, st := c.Network()
	if !st.Loaded || len(net) != series.BlockRange {
		t.Fatalf("network window: loaded=%v len=%d", st.Loaded, len(net))
	}
	if net[0].Height != 301 || net[len(net)-1].Height != 500 {
		t.Fatalf("network span %d..%d", net[0].Height, net[len(net)-1].Height)
	}
	if got := len(c.PoolShares()); got != series.RewardWindow {
		t.Fatalf("pool shares window %d", got)
	}
	blocks, _ := c.Blocks()
	if len(blocks) != 2 || blocks[0].Height != 497 {
		t.Fatalf("blocks should be newest first: %+v", blocks)
	}
	w, ok := c.Miner(7)
	if !ok || !w.Loaded {
		t.Fatal("miner should be loaded")
	}
	if len(w.Stats) != series.BlockRange || len(w.Shares) != series.RewardWindow || len(w.Rigs) != 5 {
		t.Fatalf("miner windows stats=%d shares=%d rigs=%d", len(w.Stats), len(w.Shares), len(w.Rigs))
	}

	want := []events.Kind{events.KindNetwork, events.KindPool, events.KindBlocks, events.KindMiner}
	for _, k := range want {
		select {
		case evt := <-q.Subscribe():
			if evt.Kind != k {
				t.Fatalf("event order: got %s want %s", evt.Kind, k)
			}
		default:
			t.Fatalf("missing %s event", k)
		}
	}
}

func TestCycleFetchesOnlyDelta(t *testing.T) {
	api := newFakeAPI(500)
	c := newTestCoordinator(api, stats.NewMemoryStore(), nil)
	c.Cycle(context.Background())
	api.setHeight(503)
	c.Cycle(context.Background())

	if n, last := api.count("network"); n != 2 || last != 3 {
		t.Fatalf("network calls=%d last count=%d", n, last)
	}
	net, _ := c.Network()
	if len(net) != series.BlockRange || net[len(net)-1].Height != 503 || net[0].Height != 304 {
		t.Fatalf("window should slide: %d..%d", net[0].Height, net[len(net)-1].Height)
	}
	// no miners watched, so the pool share window is not polled
	if n, _ := api.count("pool_shares"); n != 0 {
		t.Fatalf("pool shares fetched %d times", n)
	}

	c.Cycle(context.Background())
	if n, _ := api.count("network"); n != 2 {
		t.Fatal("an up to date window should not be fetched")
	}
}

func TestFetchErrorKeepsWindow(t *testing.T) {
	api := newFakeAPI(500)
	store := stats.NewMemoryStore()
	c := newTestCoordinator(api, store, nil)
	c.Cycle(context.Background())

	api.mu.Lock()
	api.failPool = &apiclient.FetchError{Kind: apiclient.KindUnavailable, Endpoint: "pool/stats"}
	api.mu.Unlock()
	api.setHeight(510)
	c.Cycle(context.Background())

	pool, st := c.Pool()
	if pool[len(pool)-1].Height != 500 {
		t.Fatal("failed fetch must leave the window unchanged")
	}
	if !st.Loaded || st.LastError != "" {
		t.Fatalf("loaded domain should hide later errors: %+v", st)
	}
	net, _ := c.Network()
	if net[len(net)-1].Height != 510 {
		t.Fatal("other domains should still advance")
	}
	if v, _ := store.Get("fetch_error:unavailable", time.Now()); v != 1 {
		t.Fatalf("failure count %d", v)
	}
}

func TestErrorBeforeFirstLoadIsReported(t *testing.T) {
	api := newFakeAPI(500)
	api.failLatest = &apiclient.FetchError{Kind: apiclient.KindStatus, Endpoint: "grin/block", Status: 500}
	c := newTestCoordinator(api, stats.NewMemoryStore(), nil)
	c.Cycle(context.Background())

	_, st := c.Network()
	if st.Loaded || st.LastError == "" {
		t.Fatalf("expected an unloaded domain with an error: %+v", st)
	}
	if n, _ := api.count("pool"); n != 0 {
		t.Fatal("cycle should stop without a latest block")
	}
}

func TestCommitDiscardsSupersededGeneration(t *testing.T) {
	c := NewCoordinator(newFakeAPI(1), nil, nil, nil, time.Minute, time.Second)
	applied := 0
	if !c.commit("network", 5, func() { applied++ }) {
		t.Fatal("first commit should apply")
	}
	if c.commit("network", 4, func() { applied++ }) {
		t.Fatal("older generation should be discarded")
	}
	if !c.commit("pool", 4, func() { applied++ }) {
		t.Fatal("generations are tracked per domain")
	}
	if applied != 2 {
		t.Fatalf("applied %d", applied)
	}
}

func TestSlowRefreshLosesToNewerCycle(t *testing.T) {
	api := newFakeAPI(500)
	api.rigsGate = make(chan struct{})
	c := newTestCoordinator(api, stats.NewMemoryStore(), nil)
	c.Watch(apiclient.Credentials{ID: 7, Username: "alice"})

	done := make(chan struct{})
	go func() {
		c.RefreshMiner(context.Background(), 7)
		close(done)
	}()
	for {
		if n, _ := api.count("worker_rigs"); n == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	c.Cycle(context.Background())
	close(api.rigsGate)
	<-done

	w, _ := c.Miner(7)
	for h, rigs := range w.Rigs {
		if _, ok := rigs["rig-late"]; ok {
			t.Fatalf("superseded rig data committed at height %d", h)
		}
	}
	if len(w.Rigs) == 0 {
		t.Fatal("newer cycle should have committed rigs")
	}
}

func TestRestoreWarmsWindows(t *testing.T) {
	store := stats.NewMemoryStore()
	var recs []protocol.BlockRecord
	for h := int64(10); h >= 1; h-- {
		recs = append(recs, protocol.BlockRecord{Height: h})
	}
	_ = store.SaveWindow(seriesNetwork, recs)
	c := newTestCoordinator(newFakeAPI(10), store, nil)
	c.restore()

	net, st := c.Network()
	if !st.Loaded || len(net) != 10 || net[0].Height != 1 {
		t.Fatalf("restore: loaded=%v len=%d", st.Loaded, len(net))
	}
	if _, st := c.Pool(); st.Loaded {
		t.Fatal("empty series should stay unloaded")
	}
}

func TestCyclePersistsWindows(t *testing.T) {
	store := stats.NewMemoryStore()
	c := newTestCoordinator(newFakeAPI(300), store, nil)
	c.Cycle(context.Background())
	got, _ := store.LoadWindow(seriesPool)
	if len(got) != series.BlockRange {
		t.Fatalf("persisted %d records", len(got))
	}
}

func TestUnwatch(t *testing.T) {
	c := NewCoordinator(newFakeAPI(1), nil, nil, nil, time.Minute, time.Second)
	c.Watch(apiclient.Credentials{ID: 1})
	c.Watch(apiclient.Credentials{ID: 2})
	c.Unwatch(1)
	if c.Watching() != 1 {
		t.Fatal("unwatch")
	}
	if _, ok := c.Miner(1); ok {
		t.Fatal("unwatched miner still visible")
	}
}

func TestStartStop(t *testing.T) {
	api := newFakeAPI(100)
	c := NewCoordinator(api, nil, nil, nil, 10*time.Millisecond, 5*time.Millisecond)
	c.Start(context.Background())
	deadline := time.Now().Add(time.Second)
	for {
		if n, _ := api.count("latest"); n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("loop did not poll")
		}
		time.Sleep(5 * time.Millisecond)
	}
	c.Stop()
}

func TestLatestFailureMarksUnloadedDomains(t *testing.T) {
	api := newFakeAPI(500)
	api.failLatest = &apiclient.FetchError{Kind: apiclient.KindUnavailable, Endpoint: "grin/block"}
	c := newTestCoordinator(api, stats.NewMemoryStore(), nil)
	c.Watch(apiclient.Credentials{ID: 7, Username: "alice"})
	c.Cycle(context.Background())

	_, netSt := c.Network()
	_, poolSt := c.Pool()
	_, blockSt := c.Blocks()
	for name, st := range map[string]DomainStatus{"network": netSt, "pool": poolSt, "blocks": blockSt} {
		if st.Loaded || st.LastError == "" {
			t.Fatalf("%s should report the failure: %+v", name, st)
		}
	}
	if w, _ := c.Miner(7); w.LastError == "" {
		t.Fatal("watched miner should report the failure")
	}

	c.Watch(apiclient.Credentials{ID: 8, Username: "bob"})
	c.RefreshMiner(context.Background(), 8)
	if w, _ := c.Miner(8); w.Loaded || w.LastError == "" {
		t.Fatalf("refresh failure should reach the miner: %+v", w)
	}
}
