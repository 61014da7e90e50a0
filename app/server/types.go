package server

import (
	"context"
	"net/http"
	"time"

	"github.com/JellyTony/poolboard/apiclient"
	"github.com/JellyTony/poolboard/events"
	"github.com/JellyTony/poolboard/protocol"
)

// PoolAPI is the upstream pool API; *apiclient.Client implements it.
type PoolAPI interface {
	LatestBlock(ctx context.Context) (protocol.LatestBlock, error)
	NetworkStats(ctx context.Context, height, count int64, fields ...string) ([]protocol.BlockRecord, error)
	PoolStats(ctx context.Context, height, count int64, fields ...string) ([]protocol.BlockRecord, error)
	RecentBlocks(ctx context.Context, height, count int64) ([]protocol.PoolBlock, error)
	WorkerStats(ctx context.Context, cred apiclient.Credentials, height, count int64, fields ...string) ([]protocol.BlockRecord, error)
	WorkerShares(ctx context.Context, cred apiclient.Credentials, height, count int64) ([]protocol.BlockRecord, error)
	WorkerRigs(ctx context.Context, cred apiclient.Credentials, height, count int64) (protocol.RigShareMap, error)
	Login(ctx context.Context, username, password string) (apiclient.Credentials, error)
	Signup(ctx context.Context, username, password string) error
	PaymentSlate(ctx context.Context, cred apiclient.Credentials, req protocol.PaymentRequest) (string, error)
	SubmitSlate(ctx context.Context, cred apiclient.Credentials, slate string) error
}

// StatsStore counts poll outcomes per minute.
type StatsStore interface {
	Increment(key string, minute time.Time) error
	Get(key string, minute time.Time) (int, error)
	Close() error
}

// WindowStore persists committed windows so a restart starts warm.
type WindowStore interface {
	SaveWindow(series string, recs []protocol.BlockRecord) error
	LoadWindow(series string) ([]protocol.BlockRecord, error)
	Close() error
}

type MessageQueue interface {
	Publish(evt events.Update) error
	Subscribe() <-chan events.Update
	Close() error
}

// Feed is the websocket update feed; *websocket.Hub implements it.
type Feed interface {
	Upgrade(w http.ResponseWriter, r *http.Request, minerID int64) (string, error)
	Broadcast(data []byte, match func(minerID int64) bool) int
	Count() int
	Close()
}

// MinerWatch is the polled state of one logged-in miner.
type MinerWatch struct {
	Cred      apiclient.Credentials
	Stats     []protocol.BlockRecord
	Shares    []protocol.BlockRecord
	Rigs      protocol.RigShareMap
	UpdatedAt time.Time
	LastError string
	Loaded    bool
}

// domainState tracks load status of one polled domain.
type domainState struct {
	loaded    bool
	lastError string
	updatedAt time.Time
}
