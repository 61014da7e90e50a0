package server

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/JellyTony/poolboard/apiclient"
	"github.com/JellyTony/poolboard/logger"
	"github.com/JellyTony/poolboard/protocol"
	"github.com/JellyTony/poolboard/series"
)

// protectedPrefixes need a valid session; anything else is public.
var protectedPrefixes = []string{"/miners", "/rigs", "/payout"}

const loginPath = "/login"

type handlers struct {
	coord     *Coordinator
	api       PoolAPI
	sessions  *Sessions
	feed      Feed
	estimator *series.Estimator
	smooth    int
	timeout   time.Duration
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := protocol.Encode(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

// writeFetchError maps upstream failures onto our status codes.
func writeFetchError(w http.ResponseWriter, err error) {
	if apiclient.IsUnauthorized(err) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	writeError(w, http.StatusBadGateway, err.Error())
}

func isProtected(path string) bool {
	for _, p := range protectedPrefixes {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// guard redirects unauthenticated requests for protected paths to the
// login page, carrying the original target in next.
func (h *handlers) guard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isProtected(r.URL.Path) {
			if _, ok := h.sessions.FromRequest(r); !ok {
				target := loginPath + "?next=" + url.QueryEscape(r.URL.RequestURI())
				http.Redirect(w, r, target, http.StatusFound)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handlers) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/login", h.login)
	mux.HandleFunc("POST /api/logout", h.logout)
	mux.HandleFunc("POST /api/signup", h.signup)
	mux.HandleFunc("GET /api/network", h.network)
	mux.HandleFunc("GET /api/pool", h.pool)
	mux.HandleFunc("GET /api/blocks", h.blocks)
	mux.HandleFunc("GET /miners/stats", h.minerStats)
	mux.HandleFunc("GET /rigs", h.rigs)
	mux.HandleFunc("POST /payout/slate", h.payoutSlate)
	mux.HandleFunc("POST /payout/submit", h.payoutSubmit)
	mux.HandleFunc("GET /ws", h.ws)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	return h.guard(mux)
}

func (h *handlers) upstreamCtx(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), h.timeout)
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// readCredentials accepts Basic auth, a JSON body or a form.
func readCredentials(r *http.Request) (loginRequest, bool) {
	if u, p, ok := r.BasicAuth(); ok {
		return loginRequest{Username: u, Password: p}, u != "" && p != ""
	}
	var req loginRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
		if err != nil || protocol.Decode(body, &req) != nil {
			return req, false
		}
	} else {
		req.Username = r.PostFormValue("username")
		req.Password = r.PostFormValue("password")
	}
	return req, req.Username != "" && req.Password != ""
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	req, ok := readCredentials(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "username and password required")
		return
	}
	ctx, cancel := h.upstreamCtx(r)
	defer cancel()
	cred, err := h.api.Login(ctx, req.Username, req.Password)
	if err != nil {
		logger.WithFields(logger.Fields{"module": "app.routes", "username": req.Username}).WithError(err).Warn("login failed")
		writeFetchError(w, err)
		return
	}
	exp, err := h.sessions.Issue(w, cred)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.coord.Watch(cred)
	logger.WithFields(logger.Fields{"module": "app.routes", "username": cred.Username, "miner_id": cred.ID}).Info("login")
	writeJSON(w, http.StatusOK, map[string]any{"id": cred.ID, "username": cred.Username, "expiration": exp.Unix()})
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	if cred, ok := h.sessions.FromRequest(r); ok {
		h.coord.Unwatch(cred.ID)
		logger.WithFields(logger.Fields{"module": "app.routes", "miner_id": cred.ID}).Info("logout")
	}
	h.sessions.Clear(w)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *handlers) signup(w http.ResponseWriter, r *http.Request) {
	req, ok := readCredentials(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "username and password required")
		return
	}
	ctx, cancel := h.upstreamCtx(r)
	defer cancel()
	if err := h.api.Signup(ctx, req.Username, req.Password); err != nil {
		writeFetchError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"username": req.Username})
}

func latestOf(recs []protocol.BlockRecord) *protocol.BlockRecord {
	if len(recs) == 0 {
		return nil
	}
	r := recs[len(recs)-1]
	return &r
}

func (h *handlers) network(w http.ResponseWriter, r *http.Request) {
	recs, st := h.coord.Network()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        st,
		"latest_height": h.coord.Latest().Height,
		"latest":        latestOf(recs),
		"gps":           series.Smooth(series.GPSSeries(recs, series.EdgeBits), h.smooth),
	})
}

func (h *handlers) pool(w http.ResponseWriter, r *http.Request) {
	poolRecs, st := h.coord.Pool()
	netRecs, _ := h.coord.Network()
	// align first: smoothing moves points to window midpoints, which can
	// repeat a timestamp
	poolGPS, netGPS := series.Unify(series.GPSSeries(poolRecs, series.EdgeBits), series.GPSSeries(netRecs, series.EdgeBits))
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      st,
		"latest":      latestOf(poolRecs),
		"pool_gps":    series.Smooth(poolGPS, h.smooth),
		"network_gps": series.Smooth(netGPS, h.smooth),
	})
}

func (h *handlers) blocks(w http.ResponseWriter, r *http.Request) {
	blocks, st := h.coord.Blocks()
	writeJSON(w, http.StatusOK, map[string]any{"status": st, "blocks": blocks})
}

// session returns the caller's credentials and watched state, starting a
// watch when the process has not seen this miner yet.
func (h *handlers) session(w http.ResponseWriter, r *http.Request) (apiclient.Credentials, MinerWatch, bool) {
	cred, ok := h.sessions.FromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return cred, MinerWatch{}, false
	}
	mw, ok := h.coord.Miner(cred.ID)
	if !ok {
		h.coord.Watch(cred)
		writeJSON(w, http.StatusAccepted, map[string]any{"status": DomainStatus{}})
		return cred, MinerWatch{}, false
	}
	return cred, mw, true
}

func queryHeight(r *http.Request, name string, def int64) int64 {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func (h *handlers) minerStats(w http.ResponseWriter, r *http.Request) {
	_, mw, ok := h.session(w, r)
	if !ok {
		return
	}
	latest := h.coord.Latest().Height
	netRecs, _ := h.coord.Network()
	to := queryHeight(r, "to", latest)
	from := queryHeight(r, "from", to-series.BlockRange+1)

	resp := map[string]any{
		"status": DomainStatus{Loaded: mw.Loaded, LastError: mw.LastError, UpdatedAt: unixOrZero(mw.UpdatedAt)},
		"gps":    series.Smooth(series.GPSSeries(mw.Stats, series.EdgeBits), h.smooth),
		"reward": nil,
		"daily":  nil,
	}
	if agg, ok := h.estimator.EstimateBlockReward(series.ShareWindow(mw.Shares, h.coord.PoolShares(), latest)); ok {
		resp["reward"] = agg
	}
	if daily, ok := h.estimator.DailyEarningFromGpsRange(mw.Stats, netRecs, from, to); ok {
		resp["daily"] = daily
	}
	writeJSON(w, http.StatusOK, resp)
}

type rigView struct {
	Workers  []string          `json:"workers"`
	Points   []series.RigPoint `json:"points"`
	Smoothed []series.Point    `json:"smoothed"`
}

func (h *handlers) rigs(w http.ResponseWriter, r *http.Request) {
	_, mw, ok := h.session(w, r)
	if !ok {
		return
	}
	netRecs, _ := h.coord.Network()
	recent := series.MergeRigShares(nil, mw.Rigs, series.BlockRange)
	points := series.TransformRigs(recent, series.ByHeight(netRecs))
	out := make(map[string]rigView)
	for rig, workers := range series.RigWorkers(mw.Rigs) {
		pts := points[rig]
		if pts == nil {
			pts = []series.RigPoint{}
		}
		out[rig] = rigView{Workers: workers, Points: pts, Smoothed: series.Smooth(series.RigValues(pts), h.smooth)}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": DomainStatus{Loaded: mw.Loaded, LastError: mw.LastError}, "rigs": out})
}

func decodeBody(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	return protocol.Decode(body, v)
}

func (h *handlers) payoutSlate(w http.ResponseWriter, r *http.Request) {
	cred, ok := h.sessions.FromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req protocol.PaymentRequest
	if r.ContentLength != 0 {
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payment request")
			return
		}
	}
	ctx, cancel := h.upstreamCtx(r)
	defer cancel()
	slate, err := h.api.PaymentSlate(ctx, cred, req)
	if err != nil {
		writeFetchError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, protocol.SlateResponse{Slate: slate})
}

func (h *handlers) payoutSubmit(w http.ResponseWriter, r *http.Request) {
	cred, ok := h.sessions.FromRequest(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req protocol.SlateRequest
	if err := decodeBody(r, &req); err != nil || strings.TrimSpace(req.Slate) == "" {
		writeError(w, http.StatusBadRequest, "slate required")
		return
	}
	ctx, cancel := h.upstreamCtx(r)
	defer cancel()
	if err := h.api.SubmitSlate(ctx, cred, req.Slate); err != nil {
		writeFetchError(w, err)
		return
	}
	logger.WithFields(logger.Fields{"module": "app.routes", "miner_id": cred.ID}).Info("slate submitted")
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *handlers) ws(w http.ResponseWriter, r *http.Request) {
	var minerID int64
	if cred, ok := h.sessions.FromRequest(r); ok {
		minerID = cred.ID
	}
	if _, err := h.feed.Upgrade(w, r, minerID); err != nil {
		logger.WithFields(logger.Fields{"module": "app.routes"}).WithError(err).Warn("websocket upgrade failed")
	}
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}
