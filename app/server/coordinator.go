package server

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/JellyTony/poolboard/apiclient"
	"github.com/JellyTony/poolboard/events"
	"github.com/JellyTony/poolboard/logger"
	"github.com/JellyTony/poolboard/protocol"
	"github.com/JellyTony/poolboard/series"
)

const (
	seriesNetwork    = "network"
	seriesPool       = "pool"
	seriesPoolShares = "pool_shares"

	// RecentBlocksCount is how many pool-found blocks the blocks view lists.
	RecentBlocksCount = 20
)

var poolShareFields = []string{"height", "timestamp", "shares_processed"}

func minerKey(id int64) string { return fmt.Sprintf("miner:%d", id) }

// Coordinator is the single owner of upstream polling. Each cycle fetches
// network stats, pool stats, recent blocks and then every watched miner, in
// that order. Every fetch is stamped with a generation and a commit from a
// generation older than the last committed one for the same domain is
// dropped.
type Coordinator struct {
	mu         sync.RWMutex
	api        PoolAPI
	store      StatsStore
	windows    WindowStore
	mq         MessageQueue
	interval   time.Duration
	timeout    time.Duration
	latest     protocol.LatestBlock
	network    []protocol.BlockRecord
	pool       []protocol.BlockRecord
	poolShares []protocol.BlockRecord
	blocks     []protocol.PoolBlock
	miners     map[int64]*MinerWatch
	domains    map[string]*domainState
	committed  map[string]uint64
	gen        atomic.Uint64
	refreshCh  chan int64
	stopCh     chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

func NewCoordinator(api PoolAPI, store StatsStore, windows WindowStore, mq MessageQueue, interval, timeout time.Duration) *Coordinator {
	if timeout <= 0 || timeout > interval {
		timeout = interval
	}
	return &Coordinator{
		api:       api,
		store:     store,
		windows:   windows,
		mq:        mq,
		interval:  interval,
		timeout:   timeout,
		miners:    make(map[int64]*MinerWatch),
		domains:   make(map[string]*domainState),
		committed: make(map[string]uint64),
		refreshCh: make(chan int64, 64),
		stopCh:    make(chan struct{}),
	}
}

// Watch starts polling a miner and requests an immediate refresh.
func (c *Coordinator) Watch(cred apiclient.Credentials) {
	c.mu.Lock()
	if w, ok := c.miners[cred.ID]; ok {
		w.Cred = cred
	} else {
		c.miners[cred.ID] = &MinerWatch{Cred: cred, Rigs: make(protocol.RigShareMap)}
	}
	c.mu.Unlock()
	select {
	case c.refreshCh <- cred.ID:
	default:
	}
}

func (c *Coordinator) Unwatch(id int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.miners, id)
	delete(c.committed, minerKey(id))
}

func (c *Coordinator) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.loop(ctx)
}

func (c *Coordinator) loop(ctx context.Context) {
	defer c.wg.Done()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()
	c.restore()
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		c.Cycle(ctx)
		for waiting := true; waiting; {
			select {
			case <-ticker.C:
				waiting = false
			case id := <-c.refreshCh:
				c.wg.Add(1)
				go func() {
					defer c.wg.Done()
					c.RefreshMiner(ctx, id)
				}()
			case <-ctx.Done():
				return
			}
		}
	}
}

// Stop cancels in-flight fetches and waits for the loop to exit.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.wg.Wait()
}

func (c *Coordinator) nextGen() uint64 { return c.gen.Add(1) }

// commit runs apply under the write lock unless a newer generation already
// committed for key. It reports whether apply ran.
func (c *Coordinator) commit(key string, gen uint64, apply func()) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen < c.committed[key] {
		logger.WithFields(logger.Fields{"module": "app.coordinator", "domain": key, "generation": gen, "committed": c.committed[key]}).Debug("discard superseded result")
		return false
	}
	c.committed[key] = gen
	apply()
	return true
}

// Cycle runs one full polling pass.
func (c *Coordinator) Cycle(ctx context.Context) {
	gen := c.nextGen()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	cycleID := ksuid.New().String()
	start := time.Now()

	latest, err := c.api.LatestBlock(ctx)
	if err != nil {
		c.failUnloaded(err)
		return
	}
	c.mu.Lock()
	c.latest = latest
	c.mu.Unlock()

	c.refreshNetwork(ctx, gen, latest.Height)
	c.refreshPool(ctx, gen, latest.Height)
	c.refreshBlocks(ctx, gen, latest.Height)
	for _, id := range c.minerIDs() {
		if ctx.Err() != nil {
			break
		}
		c.refreshMiner(ctx, gen, id, latest.Height)
	}
	logger.WithFields(logger.Fields{"module": "app.coordinator", "cycle_id": cycleID, "generation": gen, "height": latest.Height, "elapsed": time.Since(start)}).Info("poll cycle done")
}

// RefreshMiner polls one miner outside the regular cycle.
func (c *Coordinator) RefreshMiner(ctx context.Context, id int64) {
	gen := c.nextGen()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	c.mu.RLock()
	height := c.latest.Height
	c.mu.RUnlock()
	if height == 0 {
		latest, err := c.api.LatestBlock(ctx)
		if err != nil {
			c.failMiner(id, err)
			return
		}
		height = latest.Height
	}
	c.refreshMiner(ctx, gen, id, height)
}

func (c *Coordinator) minerIDs() []int64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]int64, 0, len(c.miners))
	for id := range c.miners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// newer keeps records above have, ascending, so a flat merge never sees a
// height twice.
func newer(recs []protocol.BlockRecord, have int64) []protocol.BlockRecord {
	out := make([]protocol.BlockRecord, 0, len(recs))
	for _, r := range recs {
		if r.Height > have {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Height < out[j].Height })
	return out
}

// fetchWindow fetches whatever window is missing below latest and merges it
// into *dst at commit time. It returns false when nothing was committed.
func (c *Coordinator) fetchWindow(ctx context.Context, gen uint64, key string, dst *[]protocol.BlockRecord, capacity int, latest int64,
	fetch func(ctx context.Context, height, count int64) ([]protocol.BlockRecord, error)) bool {
	c.mu.RLock()
	have := series.MaxHeight(*dst)
	c.mu.RUnlock()
	delta := series.FetchDelta(latest, have, capacity)
	if delta == 0 {
		return false
	}
	recs, err := fetch(ctx, latest, delta)
	if err != nil {
		c.fail(key, err)
		return false
	}
	var snapshot []protocol.BlockRecord
	ok := c.commit(key, gen, func() {
		*dst = series.Merge(*dst, newer(recs, series.MaxHeight(*dst)), capacity)
		snapshot = append([]protocol.BlockRecord(nil), *dst...)
		c.markLoaded(key)
	})
	if ok {
		c.persist(key, snapshot)
	}
	return ok
}

func (c *Coordinator) refreshNetwork(ctx context.Context, gen uint64, latest int64) {
	fetch := func(ctx context.Context, h, n int64) ([]protocol.BlockRecord, error) {
		return c.api.NetworkStats(ctx, h, n)
	}
	if c.fetchWindow(ctx, gen, seriesNetwork, &c.network, series.BlockRange, latest, fetch) {
		c.publish(events.KindNetwork, 0, gen, latest)
	}
}

func (c *Coordinator) refreshPool(ctx context.Context, gen uint64, latest int64) {
	fetch := func(ctx context.Context, h, n int64) ([]protocol.BlockRecord, error) {
		return c.api.PoolStats(ctx, h, n)
	}
	changed := c.fetchWindow(ctx, gen, seriesPool, &c.pool, series.BlockRange, latest, fetch)
	if len(c.minerIDs()) > 0 {
		shares := func(ctx context.Context, h, n int64) ([]protocol.BlockRecord, error) {
			return c.api.PoolStats(ctx, h, n, poolShareFields...)
		}
		if c.fetchWindow(ctx, gen, seriesPoolShares, &c.poolShares, series.RewardWindow, latest, shares) {
			changed = true
		}
	}
	if changed {
		c.publish(events.KindPool, 0, gen, latest)
	}
}

func (c *Coordinator) refreshBlocks(ctx context.Context, gen uint64, latest int64) {
	blocks, err := c.api.RecentBlocks(ctx, latest, RecentBlocksCount)
	if err != nil {
		c.fail(string(events.KindBlocks), err)
		return
	}
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Height > blocks[j].Height })
	if c.commit(string(events.KindBlocks), gen, func() {
		c.blocks = blocks
		c.markLoaded(string(events.KindBlocks))
	}) {
		c.publish(events.KindBlocks, 0, gen, latest)
	}
}

func (c *Coordinator) refreshMiner(ctx context.Context, gen uint64, id int64, latest int64) {
	key := minerKey(id)
	c.mu.RLock()
	w, ok := c.miners[id]
	if !ok {
		c.mu.RUnlock()
		return
	}
	cred := w.Cred
	haveStats := series.MaxHeight(w.Stats)
	haveShares := series.MaxHeight(w.Shares)
	var haveRigs int64
	for h := range w.Rigs {
		if h > haveRigs {
			haveRigs = h
		}
	}
	c.mu.RUnlock()

	var stats, shares []protocol.BlockRecord
	var rigs protocol.RigShareMap
	var err error
	if d := series.FetchDelta(latest, haveStats, series.BlockRange); d > 0 {
		if stats, err = c.api.WorkerStats(ctx, cred, latest, d); err != nil {
			c.failMiner(id, err)
			return
		}
	}
	if d := series.FetchDelta(latest, haveShares, series.RewardWindow); d > 0 {
		if shares, err = c.api.WorkerShares(ctx, cred, latest, d); err != nil {
			c.failMiner(id, err)
			return
		}
	}
	if d := series.FetchDelta(latest, haveRigs, series.LongRange); d > 0 {
		if rigs, err = c.api.WorkerRigs(ctx, cred, latest, d); err != nil {
			c.failMiner(id, err)
			return
		}
	}

	ok = c.commit(key, gen, func() {
		w, ok := c.miners[id]
		if !ok {
			return
		}
		w.Stats = series.Merge(w.Stats, newer(stats, series.MaxHeight(w.Stats)), series.BlockRange)
		w.Shares = series.Merge(w.Shares, newer(shares, series.MaxHeight(w.Shares)), series.RewardWindow)
		w.Rigs = series.MergeRigShares(w.Rigs, rigs, series.LongRange)
		w.UpdatedAt = time.Now()
		w.Loaded = true
		w.LastError = ""
	})
	if ok {
		c.publish(events.KindMiner, id, gen, latest)
	}
}

func (c *Coordinator) markLoaded(key string) {
	d := c.domain(key)
	d.loaded = true
	d.lastError = ""
	d.updatedAt = time.Now()
}

// domain must be called with c.mu held.
func (c *Coordinator) domain(key string) *domainState {
	d, ok := c.domains[key]
	if !ok {
		d = &domainState{}
		c.domains[key] = d
	}
	return d
}

func (c *Coordinator) fail(key string, err error) {
	kind, _ := apiclient.KindOf(err)
	c.mu.Lock()
	c.domain(key).lastError = err.Error()
	c.mu.Unlock()
	c.countFailure(kind, err)
	logger.WithFields(logger.Fields{"module": "app.coordinator", "domain": key, "kind": kind.String()}).WithError(err).Warn("fetch failed")
}

// failUnloaded records a cycle-wide failure, such as no latest block, on
// every domain and miner that has not loaded yet.
func (c *Coordinator) failUnloaded(err error) {
	kind, _ := apiclient.KindOf(err)
	c.mu.Lock()
	for _, key := range []string{seriesNetwork, seriesPool, seriesPoolShares, string(events.KindBlocks)} {
		if d := c.domain(key); !d.loaded {
			d.lastError = err.Error()
		}
	}
	for _, w := range c.miners {
		if !w.Loaded {
			w.LastError = err.Error()
		}
	}
	c.mu.Unlock()
	c.countFailure(kind, err)
	logger.WithFields(logger.Fields{"module": "app.coordinator", "kind": kind.String()}).WithError(err).Warn("latest block fetch failed")
}

func (c *Coordinator) failMiner(id int64, err error) {
	kind, _ := apiclient.KindOf(err)
	c.mu.Lock()
	if w, ok := c.miners[id]; ok {
		w.LastError = err.Error()
	}
	c.mu.Unlock()
	c.countFailure(kind, err)
	logger.WithFields(logger.Fields{"module": "app.coordinator", "miner_id": id, "kind": kind.String()}).WithError(err).Warn("miner fetch failed")
}

func (c *Coordinator) countFailure(kind apiclient.ErrorKind, err error) {
	if c.store == nil {
		return
	}
	key := "fetch_error:" + kind.String()
	if _, ok := apiclient.KindOf(err); !ok {
		key = "fetch_error:other"
	}
	if err := c.store.Increment(key, time.Now()); err != nil {
		logger.WithFields(logger.Fields{"module": "app.coordinator", "key": key}).WithError(err).Error("stats increment failed")
	}
}

func (c *Coordinator) persist(key string, recs []protocol.BlockRecord) {
	if c.windows == nil {
		return
	}
	if err := c.windows.SaveWindow(key, recs); err != nil {
		logger.WithFields(logger.Fields{"module": "app.coordinator", "series": key}).WithError(err).Error("save window failed")
	}
}

func (c *Coordinator) publish(kind events.Kind, minerID int64, gen uint64, height int64) {
	if c.mq == nil {
		return
	}
	evt := events.Update{Kind: kind, MinerID: minerID, Generation: gen, Height: height, Time: time.Now()}
	if err := c.mq.Publish(evt); err != nil {
		logger.WithFields(logger.Fields{"module": "app.coordinator", "kind": kind}).WithError(err).Warn("publish update failed")
	}
}

// restore warms the shared windows from the window store.
func (c *Coordinator) restore() {
	if c.windows == nil {
		return
	}
	targets := []struct {
		key      string
		dst      *[]protocol.BlockRecord
		capacity int
	}{
		{seriesNetwork, &c.network, series.BlockRange},
		{seriesPool, &c.pool, series.BlockRange},
		{seriesPoolShares, &c.poolShares, series.RewardWindow},
	}
	for _, t := range targets {
		recs, err := c.windows.LoadWindow(t.key)
		if err != nil {
			logger.WithFields(logger.Fields{"module": "app.coordinator", "series": t.key}).WithError(err).Warn("restore window failed")
			continue
		}
		if len(recs) == 0 {
			continue
		}
		sort.Slice(recs, func(i, j int) bool { return recs[i].Height < recs[j].Height })
		c.mu.Lock()
		*t.dst = series.Merge(nil, recs, t.capacity)
		c.markLoaded(t.key)
		c.mu.Unlock()
		logger.WithFields(logger.Fields{"module": "app.coordinator", "series": t.key, "records": len(recs)}).Info("window restored")
	}
}
