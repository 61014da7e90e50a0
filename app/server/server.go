package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/JellyTony/poolboard/events"
	"github.com/JellyTony/poolboard/logger"
	"github.com/JellyTony/poolboard/protocol"
	"github.com/JellyTony/poolboard/series"
)

type ShutdownStatus struct {
	StartAt      time.Time
	EndAt        time.Time
	MQStopped    bool
	MQErrors     int
	StoreClosed  bool
	FeedClosed   bool
	ServerClosed bool
	Duration     time.Duration
}

// Options wires the AppServer's collaborators.
type Options struct {
	Addr          string
	AdminAddr     string
	API           PoolAPI
	Stats         StatsStore
	Windows       WindowStore
	MQ            MessageQueue
	Feed          Feed
	Sessions      *Sessions
	PollInterval  time.Duration
	PollTimeout   time.Duration
	APITimeout    time.Duration
	CoinsPerBlock float64
	SmoothWindow  int
}

type AppServer struct {
	opts        Options
	coord       *Coordinator
	handlers    *handlers
	srv         *http.Server
	admin       *http.Server
	stopConsume chan struct{}
	stopOnce    sync.Once
	stopErr     error
	mqWG        sync.WaitGroup
	mu          sync.Mutex
	status      ShutdownStatus
}

func NewAppServer(opts Options) *AppServer {
	if opts.APITimeout <= 0 {
		opts.APITimeout = opts.PollTimeout
	}
	coord := NewCoordinator(opts.API, opts.Stats, opts.Windows, opts.MQ, opts.PollInterval, opts.PollTimeout)
	h := &handlers{
		coord:     coord,
		api:       opts.API,
		sessions:  opts.Sessions,
		feed:      opts.Feed,
		estimator: series.NewEstimator(opts.CoinsPerBlock),
		smooth:    opts.SmoothWindow,
		timeout:   opts.APITimeout,
	}
	a := &AppServer{opts: opts, coord: coord, handlers: h, stopConsume: make(chan struct{})}
	a.srv = &http.Server{Addr: opts.Addr, Handler: h.routes(), ReadHeaderTimeout: 10 * time.Second}
	if opts.AdminAddr != "" {
		a.admin = &http.Server{Addr: opts.AdminAddr, Handler: a.AdminHandler(), ReadHeaderTimeout: 10 * time.Second}
	}
	return a
}

func (a *AppServer) Coordinator() *Coordinator { return a.coord }

// Handler is the public HTTP surface.
func (a *AppServer) Handler() http.Handler { return a.srv.Handler }

// Start begins polling, relays bus updates to websocket subscribers and
// serves HTTP until Shutdown. It returns the first listener error.
func (a *AppServer) Start(ctx context.Context) error {
	a.mqWG.Add(1)
	go a.consume(ctx)
	a.coord.Start(ctx)

	errCh := make(chan error, 2)
	serve := func(s *http.Server) {
		logger.WithFields(logger.Fields{"module": "server", "addr": s.Addr}).Info("listening")
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}
	go serve(a.srv)
	if a.admin != nil {
		go serve(a.admin)
	}
	return <-errCh
}

func (a *AppServer) consume(ctx context.Context) {
	defer a.mqWG.Done()
	if a.opts.MQ == nil {
		return
	}
	ch := a.opts.MQ.Subscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopConsume:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			a.relay(evt)
		}
	}
}

// relay pushes one update to the subscribers it concerns: miner updates
// only reach that miner's sockets, everything else reaches all of them.
func (a *AppServer) relay(evt events.Update) {
	if a.opts.Feed == nil {
		return
	}
	data, err := protocol.Encode(evt)
	if err != nil {
		a.mu.Lock()
		a.status.MQErrors++
		a.mu.Unlock()
		logger.WithFields(logger.Fields{"module": "server", "kind": evt.Kind}).WithError(err).Error("encode update failed")
		return
	}
	match := func(int64) bool { return true }
	if evt.Kind == events.KindMiner {
		match = func(id int64) bool { return id == evt.MinerID }
	}
	n := a.opts.Feed.Broadcast(data, match)
	logger.WithFields(logger.Fields{"module": "server", "kind": evt.Kind, "generation": evt.Generation, "delivered": n}).Debug("update relayed")
}

// AdminHandler serves health, poll counters and shutdown progress.
func (a *AppServer) AdminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/stats", func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("key")
		m := time.Now()
		if ms := r.URL.Query().Get("minute"); ms != "" {
			if t, err := time.Parse(time.RFC3339, ms); err == nil {
				m = t
			}
		}
		if a.opts.Stats == nil {
			writeError(w, http.StatusServiceUnavailable, "no stats store")
			return
		}
		cnt, err := a.opts.Stats.Get(key, m)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"key": key, "minute": m.Truncate(time.Minute).Format(time.RFC3339), "count": cnt})
	})
	mux.HandleFunc("/shutdown/status", func(w http.ResponseWriter, r *http.Request) {
		st := a.Status()
		writeJSON(w, http.StatusOK, map[string]any{
			"start_at":      st.StartAt.Format(time.RFC3339),
			"end_at":        st.EndAt.Format(time.RFC3339),
			"mq_stopped":    st.MQStopped,
			"mq_errors":     st.MQErrors,
			"store_closed":  st.StoreClosed,
			"feed_closed":   st.FeedClosed,
			"server_closed": st.ServerClosed,
			"duration":      st.Duration.String(),
		})
	})
	return mux
}

// Shutdown stops everything once; later calls return the first result.
func (a *AppServer) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() { a.stopErr = a.shutdown(ctx) })
	return a.stopErr
}

func (a *AppServer) shutdown(ctx context.Context) error {
	a.setStatus(func(s *ShutdownStatus) { s.StartAt = time.Now() })
	close(a.stopConsume)
	done := make(chan struct{})
	go func() { a.mqWG.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
	}
	a.setStatus(func(s *ShutdownStatus) { s.MQStopped = true })

	a.coord.Stop()

	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	var firstErr error
	if err := a.srv.Shutdown(cctx); err != nil {
		logger.WithError(err).Error("server shutdown failed")
		firstErr = err
	} else {
		a.setStatus(func(s *ShutdownStatus) { s.ServerClosed = true })
	}
	if a.admin != nil {
		if err := a.admin.Shutdown(cctx); err != nil {
			logger.WithError(err).Error("admin shutdown failed")
		}
	}
	if a.opts.Feed != nil {
		a.opts.Feed.Close()
		a.setStatus(func(s *ShutdownStatus) { s.FeedClosed = true })
	}
	if a.opts.MQ != nil {
		if err := retry(3, 2*time.Second, a.opts.MQ.Close); err != nil {
			logger.WithError(err).Error("mq close failed")
		}
	}
	if err := a.closeStores(); err != nil {
		logger.WithError(err).Error("store close failed")
	} else {
		a.setStatus(func(s *ShutdownStatus) { s.StoreClosed = true })
	}
	a.setStatus(func(s *ShutdownStatus) {
		s.EndAt = time.Now()
		s.Duration = s.EndAt.Sub(s.StartAt)
	})
	logger.WithFields(logger.Fields{"module": "server", "duration": a.Status().Duration}).Info("shutdown done")
	return firstErr
}

// closeStores closes the stats and window stores once each; they are often
// the same value.
func (a *AppServer) closeStores() error {
	var err error
	if a.opts.Stats != nil {
		err = retry(3, 2*time.Second, a.opts.Stats.Close)
	}
	if a.opts.Windows != nil && any(a.opts.Windows) != any(a.opts.Stats) {
		if werr := retry(3, 2*time.Second, a.opts.Windows.Close); err == nil {
			err = werr
		}
	}
	return err
}

func retry(n int, backoff time.Duration, f func() error) error {
	var err error
	for i := 0; i < n; i++ {
		if err = f(); err == nil {
			return nil
		}
		time.Sleep(backoff)
	}
	return err
}

func (a *AppServer) setStatus(f func(*ShutdownStatus)) {
	a.mu.Lock()
	f(&a.status)
	a.mu.Unlock()
}

func (a *AppServer) Status() ShutdownStatus {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.status
}
