package series

import (
	"math"

	"github.com/JellyTony/poolboard/protocol"
)

const (
	// RewardWindow is the PPLNS look-back in blocks.
	RewardWindow = 240
	// EdgeBits is the graph size the pool credits.
	EdgeBits = 31
	// BlocksPerDay assumes a one minute block interval.
	BlocksPerDay = 60 * 24
	// DefaultCoinsPerBlock is the subsidy the estimates are scaled by.
	DefaultCoinsPerBlock = 0.05
)

// CreditWeight is the credit one share (or one graph per second) of the
// given edge size is worth: 2^(1+edgeBits-24) * edgeBits.
func CreditWeight(edgeBits int) float64 {
	return math.Pow(2, float64(1+edgeBits-24)) * float64(edgeBits)
}

// ShareWindowEntry holds the valid share counts of one height.
type ShareWindowEntry struct {
	MinerShares int64 `json:"miner_shares"`
	PoolShares  int64 `json:"pool_shares"`
}

type CreditAggregate struct {
	PoolCredit float64 `json:"pool_credit"`
	UserCredit float64 `json:"user_credit"`
	UserReward float64 `json:"user_reward"`
}

// Estimator turns share and rate windows into reward figures. Every method
// reports ok=false when the inputs cannot support a result.
type Estimator struct {
	CoinsPerBlock float64
}

func NewEstimator(coinsPerBlock float64) *Estimator {
	if coinsPerBlock <= 0 {
		coinsPerBlock = DefaultCoinsPerBlock
	}
	return &Estimator{CoinsPerBlock: coinsPerBlock}
}

// EstimateBlockReward computes the miner's share of one block reward over a
// full PPLNS window. Windows without exactly RewardWindow entries, or with
// no pool credit, give ok=false.
func (e *Estimator) EstimateBlockReward(window map[int64]ShareWindowEntry) (CreditAggregate, bool) {
	if len(window) != RewardWindow {
		return CreditAggregate{}, false
	}
	weight := CreditWeight(EdgeBits)
	var agg CreditAggregate
	for _, entry := range window {
		agg.UserCredit += float64(entry.MinerShares) * weight
		agg.PoolCredit += float64(entry.PoolShares) * weight
	}
	if agg.PoolCredit == 0 {
		return CreditAggregate{}, false
	}
	agg.UserReward = e.CoinsPerBlock * (agg.UserCredit / agg.PoolCredit)
	return agg, true
}

// DailyEarningFromGpsRange estimates coins per day from the miner's average
// rate relative to the network's over heights [from, to]. A miner without
// samples earns 0; a network without rate gives ok=false.
func (e *Estimator) DailyEarningFromGpsRange(miner, network []protocol.BlockRecord, from, to int64) (float64, bool) {
	if to < from {
		return 0, false
	}
	networkAvg, n := averageGPS(network, from, to)
	if n == 0 {
		return 0, false
	}
	minerAvg, _ := averageGPS(miner, from, to)
	weight := CreditWeight(EdgeBits)
	networkCredit := networkAvg * weight
	if networkCredit == 0 {
		return 0, false
	}
	minerCredit := minerAvg * weight
	return minerCredit / networkCredit * e.CoinsPerBlock * BlocksPerDay, true
}

func averageGPS(records []protocol.BlockRecord, from, to int64) (float64, int) {
	var sum float64
	var n int
	for _, r := range records {
		if r.Height < from || r.Height > to {
			continue
		}
		g, ok := r.GPSFor(EdgeBits)
		if !ok || math.IsNaN(g) {
			continue
		}
		sum += g
		n++
	}
	if n == 0 {
		return 0, 0
	}
	return sum / float64(n), n
}

// ShareWindow joins miner and pool share records over the RewardWindow
// heights ending at latest. A height counts once the pool reports its share
// total; a miner absent at that height contributed 0.
func ShareWindow(miner, pool []protocol.BlockRecord, latest int64) map[int64]ShareWindowEntry {
	from := latest - RewardWindow + 1
	out := make(map[int64]ShareWindowEntry, RewardWindow)
	for _, r := range pool {
		if r.Height < from || r.Height > latest || r.SharesProcessed == nil {
			continue
		}
		out[r.Height] = ShareWindowEntry{PoolShares: *r.SharesProcessed}
	}
	for _, r := range miner {
		entry, ok := out[r.Height]
		if !ok || r.ValidShares == nil {
			continue
		}
		entry.MinerShares = *r.ValidShares
		out[r.Height] = entry
	}
	return out
}
