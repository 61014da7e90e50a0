package websocket

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/pkg/errors"
	"github.com/remeh/sizedwaitgroup"
	"github.com/segmentio/ksuid"

	poolboard "github.com/JellyTony/poolboard"
	"github.com/JellyTony/poolboard/logger"
)

var ErrNoSubscriber = errors.New("subscriber not found")

type subscriber struct {
	id      string
	minerID int64
	conn    poolboard.Conn
}

// Hub keeps the open dashboard feeds and pushes encoded updates to them.
type Hub struct {
	mu           sync.RWMutex
	subs         map[string]*subscriber
	fanout       int
	writeTimeout time.Duration
}

func NewHub(fanout int, writeTimeout time.Duration) *Hub {
	if fanout <= 0 {
		fanout = 16
	}
	return &Hub{subs: make(map[string]*subscriber), fanout: fanout, writeTimeout: writeTimeout}
}

// Upgrade completes the websocket handshake and starts serving the feed.
// minerID 0 subscribes to public updates only.
func (h *Hub) Upgrade(w http.ResponseWriter, r *http.Request, minerID int64) (string, error) {
	raw, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return "", errors.Wrap(err, "upgrade")
	}
	return h.Attach(raw, minerID), nil
}

// Attach registers an already upgraded connection.
func (h *Hub) Attach(raw net.Conn, minerID int64) string {
	s := &subscriber{id: ksuid.New().String(), minerID: minerID, conn: NewConn(raw, h.writeTimeout)}
	h.mu.Lock()
	h.subs[s.id] = s
	h.mu.Unlock()
	logger.WithFields(logger.Fields{"module": "websocket.hub", "channel_id": s.id, "miner_id": minerID}).Info("subscriber attached")
	go h.readLoop(s)
	return s.id
}

func (h *Hub) readLoop(s *subscriber) {
	defer h.remove(s.id)
	for {
		f, err := s.conn.ReadFrame()
		if err != nil {
			return
		}
		switch f.GetOpCode() {
		case poolboard.OpClose:
			_ = s.conn.WriteFrame(poolboard.OpClose, nil)
			return
		case poolboard.OpPing:
			_ = s.conn.WriteFrame(poolboard.OpPong, f.GetPayload())
		}
	}
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	s, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()
	if ok {
		_ = s.conn.Close()
		logger.WithFields(logger.Fields{"module": "websocket.hub", "channel_id": id}).Debug("subscriber removed")
	}
}

// Push sends data to one subscriber.
func (h *Hub) Push(id string, data []byte) error {
	h.mu.RLock()
	s, ok := h.subs[id]
	h.mu.RUnlock()
	if !ok {
		return ErrNoSubscriber
	}
	if err := s.conn.WriteFrame(poolboard.OpText, data); err != nil {
		h.remove(id)
		return err
	}
	return nil
}

// Broadcast pushes data to every subscriber accepted by match, at most
// fanout writes in flight. It returns how many deliveries succeeded.
func (h *Hub) Broadcast(data []byte, match func(minerID int64) bool) int {
	h.mu.RLock()
	targets := make([]string, 0, len(h.subs))
	for id, s := range h.subs {
		if match == nil || match(s.minerID) {
			targets = append(targets, id)
		}
	}
	h.mu.RUnlock()

	var mu sync.Mutex
	sent := 0
	swg := sizedwaitgroup.New(h.fanout)
	for _, id := range targets {
		swg.Add()
		go func(id string) {
			defer swg.Done()
			if err := h.Push(id, data); err == nil {
				mu.Lock()
				sent++
				mu.Unlock()
			}
		}(id)
	}
	swg.Wait()
	return sent
}

func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[string]*subscriber)
	h.mu.Unlock()
	for _, s := range subs {
		_ = s.conn.Close()
	}
}
