package events

import "time"

// Kind names the data domain an update refers to.
type Kind string

const (
	KindNetwork Kind = "network"
	KindPool    Kind = "pool"
	KindBlocks  Kind = "blocks"
	KindMiner   Kind = "miner"
)

// Update is published after the coordinator commits fresh data.
type Update struct {
	Kind       Kind      `json:"kind"`
	MinerID    int64     `json:"miner_id,omitempty"`
	Generation uint64    `json:"generation"`
	Height     int64     `json:"height,omitempty"`
	Time       time.Time `json:"time"`
}
