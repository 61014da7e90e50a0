package server

import (
	"github.com/JellyTony/poolboard/protocol"
)

// DomainStatus is what handlers report about a polled domain. LastError is
// only surfaced until the first successful load; later failures keep the
// stale data on screen.
type DomainStatus struct {
	Loaded    bool   `json:"loaded"`
	LastError string `json:"last_error,omitempty"`
	UpdatedAt int64  `json:"updated_at,omitempty"`
}

func (c *Coordinator) statusLocked(key string) DomainStatus {
	d, ok := c.domains[key]
	if !ok {
		return DomainStatus{}
	}
	st := DomainStatus{Loaded: d.loaded}
	if !d.updatedAt.IsZero() {
		st.UpdatedAt = d.updatedAt.Unix()
	}
	if !d.loaded {
		st.LastError = d.lastError
	}
	return st
}

func (c *Coordinator) Latest() protocol.LatestBlock {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest
}

func (c *Coordinator) Network() ([]protocol.BlockRecord, DomainStatus) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]protocol.BlockRecord(nil), c.network...), c.statusLocked(seriesNetwork)
}

func (c *Coordinator) Pool() ([]protocol.BlockRecord, DomainStatus) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]protocol.BlockRecord(nil), c.pool...), c.statusLocked(seriesPool)
}

func (c *Coordinator) PoolShares() []protocol.BlockRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]protocol.BlockRecord(nil), c.poolShares...)
}

func (c *Coordinator) Blocks() ([]protocol.PoolBlock, DomainStatus) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]protocol.PoolBlock(nil), c.blocks...), c.statusLocked("blocks")
}

// Miner returns a copy of a watched miner's state. Rigs is shared with the
// coordinator but never mutated after commit, only replaced.
func (c *Coordinator) Miner(id int64) (MinerWatch, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w, ok := c.miners[id]
	if !ok {
		return MinerWatch{}, false
	}
	cp := *w
	cp.Stats = append([]protocol.BlockRecord(nil), w.Stats...)
	cp.Shares = append([]protocol.BlockRecord(nil), w.Shares...)
	if cp.Loaded {
		cp.LastError = ""
	}
	return cp, true
}

func (c *Coordinator) Watching() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.miners)
}
