package server

import (
	"context"
	"sync"

	"github.com/JellyTony/poolboard/apiclient"
	"github.com/JellyTony/poolboard/protocol"
)

// fakeAPI serves synthetic windows ending at height. Network rate is 100 and
// worker rate 1 at every height; the pool processes 100 shares per height of
// which the worker found 10.
type fakeAPI struct {
	mu         sync.Mutex
	height     int64
	calls      map[string]int
	lastCount  map[string]int64
	failPool   error
	failLatest error
	loginErr   error
	slateErr   error
	submitted  []string
	rigsGate   chan struct{}
	rigsCalls  int
	oldRig     bool
}

func newFakeAPI(height int64) *fakeAPI {
	return &fakeAPI{height: height, calls: make(map[string]int), lastCount: make(map[string]int64)}
}

func i64(v int64) *int64 { return &v }

func f64(v float64) *float64 { return &v }

func (f *fakeAPI) record(name string, count int64) {
	f.mu.Lock()
	f.calls[name]++
	f.lastCount[name] = count
	f.mu.Unlock()
}

func (f *fakeAPI) setHeight(h int64) {
	f.mu.Lock()
	f.height = h
	f.mu.Unlock()
}

func (f *fakeAPI) count(name string) (int, int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name], f.lastCount[name]
}

func span(height, count int64, gps float64) []protocol.BlockRecord {
	var out []protocol.BlockRecord
	for h := height - count + 1; h <= height; h++ {
		if h < 1 {
			continue
		}
		out = append(out, protocol.BlockRecord{
			Height:           h,
			Timestamp:        1_600_000_000 + h*60,
			GPS:              []protocol.GPSEntry{{EdgeBits: 31, GPS: gps}},
			Difficulty:       f64(1000),
			SecondaryScaling: f64(500),
			SharesProcessed:  i64(100),
			ValidShares:      i64(10),
		})
	}
	return out
}

func (f *fakeAPI) LatestBlock(ctx context.Context) (protocol.LatestBlock, error) {
	f.record("latest", 0)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLatest != nil {
		return protocol.LatestBlock{}, f.failLatest
	}
	return protocol.LatestBlock{Height: f.height, Timestamp: 1_600_000_000 + f.height*60}, nil
}

func (f *fakeAPI) NetworkStats(ctx context.Context, height, count int64, fields ...string) ([]protocol.BlockRecord, error) {
	f.record("network", count)
	return span(height, count, 100), nil
}

func (f *fakeAPI) PoolStats(ctx context.Context, height, count int64, fields ...string) ([]protocol.BlockRecord, error) {
	name := "pool"
	if len(fields) > 0 {
		name = "pool_shares"
	}
	f.record(name, count)
	f.mu.Lock()
	err := f.failPool
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return span(height, count, 40), nil
}

func (f *fakeAPI) RecentBlocks(ctx context.Context, height, count int64) ([]protocol.PoolBlock, error) {
	f.record("blocks", count)
	return []protocol.PoolBlock{{Height: height - 10, State: "new"}, {Height: height - 3, State: "new"}}, nil
}

func (f *fakeAPI) WorkerStats(ctx context.Context, cred apiclient.Credentials, height, count int64, fields ...string) ([]protocol.BlockRecord, error) {
	f.record("worker_stats", count)
	return span(height, count, 1), nil
}

func (f *fakeAPI) WorkerShares(ctx context.Context, cred apiclient.Credentials, height, count int64) ([]protocol.BlockRecord, error) {
	f.record("worker_shares", count)
	return span(height, count, 1), nil
}

// WorkerRigs names its rig after the call number so tests can tell which
// fetch a commit came from. The first call waits on rigsGate when set.
func (f *fakeAPI) WorkerRigs(ctx context.Context, cred apiclient.Credentials, height, count int64) (protocol.RigShareMap, error) {
	f.record("worker_rigs", count)
	f.mu.Lock()
	f.rigsCalls++
	call := f.rigsCalls
	gate := f.rigsGate
	f.mu.Unlock()
	if call == 1 && gate != nil {
		<-gate
	}
	rig := "rig-late"
	if call > 1 || gate == nil {
		rig = "rig-a"
	}
	out := make(protocol.RigShareMap)
	for h := height - 4; h <= height; h++ {
		out[h] = protocol.HeightShares{rig: protocol.RigShares{"w1": protocol.WorkerShares{protocol.AlgoC31: {Accepted: 6}}}}
	}
	if f.oldRig {
		out[height-500] = protocol.HeightShares{"rig-old": protocol.RigShares{"w9": protocol.WorkerShares{protocol.AlgoC31: {Accepted: 2}}}}
	}
	return out, nil
}

func (f *fakeAPI) Login(ctx context.Context, username, password string) (apiclient.Credentials, error) {
	f.record("login", 0)
	if f.loginErr != nil {
		return apiclient.Credentials{}, f.loginErr
	}
	return apiclient.Credentials{ID: 7, Username: username, Token: "tok-" + username, LegacyToken: "legacy-" + username}, nil
}

func (f *fakeAPI) Signup(ctx context.Context, username, password string) error {
	f.record("signup", 0)
	return nil
}

func (f *fakeAPI) PaymentSlate(ctx context.Context, cred apiclient.Credentials, req protocol.PaymentRequest) (string, error) {
	f.record("slate", 0)
	if f.slateErr != nil {
		return "", f.slateErr
	}
	return "slate-for-" + cred.Username, nil
}

func (f *fakeAPI) SubmitSlate(ctx context.Context, cred apiclient.Credentials, slate string) error {
	f.record("submit", 0)
	f.mu.Lock()
	f.submitted = append(f.submitted, slate)
	f.mu.Unlock()
	return nil
}
