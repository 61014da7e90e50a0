package series

import (
	"sort"

	"github.com/JellyTony/poolboard/protocol"
)

// GPSPerShare converts one accepted C31 share into graphs.
const GPSPerShare = 42

// RigPoint is the derived hash rate of one rig at one height.
type RigPoint struct {
	Point
	SecondaryScaling *float64 `json:"secondary_scaling,omitempty"`
	Accepted         int64    `json:"accepted"`
	Rejected         int64    `json:"rejected"`
	Stale            int64    `json:"stale"`
}

// TransformRigs turns per-worker share counts into a hash-rate series per
// rig. Only heights present in both inputs are used, and a point is emitted
// for a height only when the period since the previous joined height is
// positive.
func TransformRigs(shares protocol.RigShareMap, blocks map[int64]protocol.BlockRecord) map[string][]RigPoint {
	heights := make([]int64, 0, len(shares))
	for _, h := range shares.Heights() {
		if _, ok := blocks[h]; ok {
			heights = append(heights, h)
		}
	}

	out := make(map[string][]RigPoint)
	for i := 1; i < len(heights); i++ {
		h, prev := heights[i], heights[i-1]
		blk := blocks[h]
		period := blk.Timestamp - blocks[prev].Timestamp
		if period <= 0 {
			continue
		}
		for rig, workers := range shares[h] {
			var acc, rej, stale int64
			for _, algos := range workers {
				c, ok := algos[protocol.AlgoC31]
				if !ok {
					continue
				}
				acc += c.Accepted
				rej += c.Rejected
				stale += c.Stale
			}
			gps := float64(acc) * GPSPerShare / float64(period)
			out[rig] = append(out[rig], RigPoint{
				Point: Point{
					Timestamp:  blk.Timestamp,
					Value:      floatPtr(gps),
					Height:     h,
					Difficulty: blk.Difficulty,
				},
				SecondaryScaling: blk.SecondaryScaling,
				Accepted:         acc,
				Rejected:         rej,
				Stale:            stale,
			})
		}
	}
	return out
}

// RigWorkers lists the workers seen under each rig, sorted.
func RigWorkers(shares protocol.RigShareMap) map[string][]string {
	seen := make(map[string]map[string]struct{})
	for _, rigs := range shares {
		for rig, workers := range rigs {
			m, ok := seen[rig]
			if !ok {
				m = make(map[string]struct{})
				seen[rig] = m
			}
			for w := range workers {
				m[w] = struct{}{}
			}
		}
	}
	out := make(map[string][]string, len(seen))
	for rig, m := range seen {
		ws := make([]string, 0, len(m))
		for w := range m {
			ws = append(ws, w)
		}
		sort.Strings(ws)
		out[rig] = ws
	}
	return out
}

// RigValues strips a rig series down to chart points.
func RigValues(points []RigPoint) []Point {
	out := make([]Point, len(points))
	for i, p := range points {
		out[i] = p.Point
	}
	return out
}
