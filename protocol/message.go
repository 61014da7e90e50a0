package protocol

import (
	"encoding/json"
	"sort"
	"strconv"

	"github.com/pkg/errors"
)

// AlgoC31 is the algorithm id the pool reports rig shares under.
const AlgoC31 = "31"

type GPSEntry struct {
	EdgeBits int     `json:"edge_bits"`
	GPS      float64 `json:"gps"`
}

// BlockRecord is one height of network, pool or worker stats. Which optional
// fields are set depends on the fields requested from the API.
type BlockRecord struct {
	Height           int64      `json:"height"`
	Timestamp        int64      `json:"timestamp"`
	GPS              []GPSEntry `json:"gps,omitempty"`
	Difficulty       *float64   `json:"difficulty,omitempty"`
	SecondaryScaling *float64   `json:"secondary_scaling,omitempty"`
	ActiveMiners     *int64     `json:"active_miners,omitempty"`
	TotalBlocksFound *int64     `json:"total_blocks_found,omitempty"`
	SharesProcessed  *int64     `json:"shares_processed,omitempty"`
	ValidShares      *int64     `json:"valid_shares,omitempty"`
	State            string     `json:"state,omitempty"`
}

// GPSFor returns the rate reported for edgeBits.
func (b BlockRecord) GPSFor(edgeBits int) (float64, bool) {
	for _, g := range b.GPS {
		if g.EdgeBits == edgeBits {
			return g.GPS, true
		}
	}
	return 0, false
}

type LatestBlock struct {
	Height    int64  `json:"height"`
	Hash      string `json:"hash"`
	Timestamp int64  `json:"timestamp"`
}

// PoolBlock is a block found by the pool.
type PoolBlock struct {
	Height    int64  `json:"height"`
	Hash      string `json:"hash"`
	Timestamp int64  `json:"timestamp"`
	State     string `json:"state"`
	Nonce     string `json:"nonce,omitempty"`
}

// ShareCounts are the per-algorithm counters of one worker at one height.
type ShareCounts struct {
	Accepted   int64    `json:"accepted"`
	Rejected   int64    `json:"rejected"`
	Stale      int64    `json:"stale"`
	Agent      string   `json:"agent,omitempty"`
	Difficulty *float64 `json:"difficulty,omitempty"`
}

// WorkerShares maps algorithm id to counters.
type WorkerShares map[string]ShareCounts

// RigShares maps worker id to its shares.
type RigShares map[string]WorkerShares

// HeightShares maps rig name to its workers.
type HeightShares map[string]RigShares

// RigShareMap is height -> rig -> worker -> algorithm -> counters.
type RigShareMap map[int64]HeightShares

// Heights returns the keys in ascending order.
func (m RigShareMap) Heights() []int64 {
	hs := make([]int64, 0, len(m))
	for h := range m {
		hs = append(hs, h)
	}
	sort.Slice(hs, func(i, j int) bool { return hs[i] < hs[j] })
	return hs
}

// DecodeRigShares parses the API's stringly keyed rig payload. Heights that
// are not integers and workers with unparseable counters are dropped instead
// of failing the whole batch.
func DecodeRigShares(data []byte) (RigShareMap, error) {
	var raw map[string]map[string]map[string]json.RawMessage
	if err := Decode(data, &raw); err != nil {
		return nil, errors.Wrap(err, "decode rig shares")
	}
	out := make(RigShareMap, len(raw))
	for hk, rigs := range raw {
		h, err := strconv.ParseInt(hk, 10, 64)
		if err != nil || h < 0 {
			continue
		}
		hs := make(HeightShares, len(rigs))
		for rig, workers := range rigs {
			rs := make(RigShares, len(workers))
			for worker, body := range workers {
				var ws WorkerShares
				if err := Decode(body, &ws); err != nil {
					continue
				}
				for algo, c := range ws {
					if c.Accepted < 0 || c.Rejected < 0 || c.Stale < 0 {
						delete(ws, algo)
					}
				}
				rs[worker] = ws
			}
			hs[rig] = rs
		}
		out[h] = hs
	}
	return out, nil
}

type LoginResponse struct {
	Token string `json:"token"`
	ID    int64  `json:"id"`
}

type SlateResponse struct {
	Slate string `json:"slate"`
}

type SlateRequest struct {
	Slate string `json:"slate"`
}

type PaymentRequest struct {
	Amount  float64 `json:"amount,omitempty"`
	Address string  `json:"address,omitempty"`
}
