// Package series reshapes raw API batches into chart-ready series: sliding
// block windows, per-rig hash rate, rolling averages, aligned timestamps and
// reward estimates. Everything here is pure; callers own the state.
package series

import (
	"github.com/JellyTony/poolboard/protocol"
)

const (
	// BlockRange is the capacity of every sliding block window.
	BlockRange = 200
	// LongRange is how far back rig/worker discovery looks.
	LongRange = 1000
)

// Point is one chart sample. A nil Value means no data, never zero.
type Point struct {
	Timestamp  int64    `json:"timestamp"`
	Value      *float64 `json:"value"`
	Height     int64    `json:"height,omitempty"`
	Difficulty *float64 `json:"difficulty,omitempty"`
}

func floatPtr(v float64) *float64 { return &v }

// Merge appends incoming after existing and drops the oldest entries past
// capacity. Heights are not deduplicated here; keyed data goes through
// MergeRigShares instead.
func Merge(existing, incoming []protocol.BlockRecord, capacity int) []protocol.BlockRecord {
	if capacity <= 0 {
		return nil
	}
	out := make([]protocol.BlockRecord, 0, len(existing)+len(incoming))
	out = append(out, existing...)
	out = append(out, incoming...)
	if drop := len(out) - capacity; drop > 0 {
		out = append([]protocol.BlockRecord(nil), out[drop:]...)
	}
	return out
}

// MaxHeight returns the newest height held, 0 when empty.
func MaxHeight(window []protocol.BlockRecord) int64 {
	var max int64
	for _, r := range window {
		if r.Height > max {
			max = r.Height
		}
	}
	return max
}

// FetchDelta is how many blocks to request so the window catches up to
// latest. With no local data it asks for a full window.
func FetchDelta(latest, existingMax int64, capacity int) int64 {
	floor := latest - int64(capacity)
	if existingMax > floor {
		floor = existingMax
	}
	if d := latest - floor; d > 0 {
		return d
	}
	return 0
}

// MergeRigShares overlays incoming on existing keyed by height, incoming
// winning, and prunes heights older than lookback below the newest height.
// The result is a new map; neither input is modified.
func MergeRigShares(existing, incoming protocol.RigShareMap, lookback int64) protocol.RigShareMap {
	out := make(protocol.RigShareMap, len(existing)+len(incoming))
	var max int64
	for h, v := range existing {
		out[h] = v
		if h > max {
			max = h
		}
	}
	for h, v := range incoming {
		out[h] = v
		if h > max {
			max = h
		}
	}
	if lookback > 0 {
		cutoff := max - lookback
		for h := range out {
			if h <= cutoff {
				delete(out, h)
			}
		}
	}
	return out
}

// ByHeight indexes a window for joins.
func ByHeight(window []protocol.BlockRecord) map[int64]protocol.BlockRecord {
	out := make(map[int64]protocol.BlockRecord, len(window))
	for _, r := range window {
		out[r.Height] = r
	}
	return out
}

// GPSSeries extracts the rate for edgeBits as chart points. Records without
// that edge size produce a null point.
func GPSSeries(window []protocol.BlockRecord, edgeBits int) []Point {
	out := make([]Point, 0, len(window))
	for _, r := range window {
		p := Point{Timestamp: r.Timestamp, Height: r.Height, Difficulty: r.Difficulty}
		if g, ok := r.GPSFor(edgeBits); ok {
			p.Value = floatPtr(g)
		}
		out = append(out, p)
	}
	return out
}
