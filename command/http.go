package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/consowatch/history"
	"github.com/hazyhaar/consowatch/reading"
	"github.com/hazyhaar/consowatch/shield"
	"github.com/hazyhaar/consowatch/sink"
	"github.com/hazyhaar/consowatch/syncconfig"
)

// SnapshotCache reads the cached latest snapshot.
type SnapshotCache interface {
	Lookup(ctx context.Context) (reading.Snapshot, bool, error)
}

// ConfigStore persists the sync settings.
type ConfigStore interface {
	SyncConfig(ctx context.Context) (syncconfig.SyncConfig, error)
	SaveSyncConfig(ctx context.Context, cfg syncconfig.SyncConfig) error
}

// HistoryReader reads the per-device reading history.
type HistoryReader interface {
	Query(ctx context.Context, device string, limit int) ([]history.Point, error)
}

// Sender delivers a snapshot to the remote endpoint once.
type Sender interface {
	Deliver(ctx context.Context, url string, snap reading.Snapshot) error
}

// BadgeReader exposes the status renderer's state.
type BadgeReader interface {
	State() sink.BadgeState
}

// API serves the control surface over HTTP.
type API struct {
	ctrl   *Controller
	cache  SnapshotCache
	config ConfigStore
	badge  BadgeReader
	hist   HistoryReader
	sender Sender
	logger *slog.Logger
}

// APIOption configures an API.
type APIOption func(*API)

// WithCache enables GET /api/data/latest.
func WithCache(c SnapshotCache) APIOption {
	return func(a *API) { a.cache = c }
}

// WithConfigStore enables GET and PUT /api/config.
func WithConfigStore(s ConfigStore) APIOption {
	return func(a *API) { a.config = s }
}

// WithBadge adds the badge state to GET /api/status.
func WithBadge(b BadgeReader) APIOption {
	return func(a *API) { a.badge = b }
}

// WithHistory enables GET /api/history/{name}.
func WithHistory(h HistoryReader) APIOption {
	return func(a *API) { a.hist = h }
}

// WithSender enables POST /api/data/latest/send. It needs WithCache and
// WithConfigStore too.
func WithSender(s Sender) APIOption {
	return func(a *API) { a.sender = s }
}

// WithAPILogger sets a custom logger.
func WithAPILogger(l *slog.Logger) APIOption {
	return func(a *API) { a.logger = l }
}

// NewAPI creates an API around ctrl.
func NewAPI(ctrl *Controller, opts ...APIOption) *API {
	a := &API{ctrl: ctrl, logger: ctrl.logger}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Router returns a chi router with the shield middleware and every route
// registered.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	for _, mw := range shield.Stack(a.logger) {
		r.Use(mw)
	}
	a.RegisterHTTP(r)
	return r
}

// RegisterHTTP registers the endpoints on r.
func (a *API) RegisterHTTP(r chi.Router) {
	r.Post("/api/messages", a.handleMessage)
	r.Post("/api/extraction/start", a.handleStart)
	r.Post("/api/extraction/stop", a.handleStop)
	r.Get("/api/data", a.handleGetData)
	r.Get("/api/data/latest", a.handleLatest)
	r.Post("/api/data/latest/send", a.handleSendLatest)
	r.Get("/api/data/{name}", a.handleNamed)
	r.Get("/api/history/{name}", a.handleHistory)
	r.Get("/api/status", a.handleStatus)
	r.Get("/api/config", a.handleGetConfig)
	r.Put("/api/config", a.handlePutConfig)
}

// POST /api/messages
func (a *API) handleMessage(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cmd, err := Decode(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	a.run(w, r, cmd)
}

// POST /api/extraction/start
func (a *API) handleStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Interval int `json:"interval"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if req.Interval < 1 {
		req.Interval = syncconfig.DefaultInterval
	}
	a.run(w, r, StartExtraction{Interval: req.Interval})
}

// POST /api/extraction/stop
func (a *API) handleStop(w http.ResponseWriter, r *http.Request) {
	a.run(w, r, StopExtraction{})
}

// GET /api/data
func (a *API) handleGetData(w http.ResponseWriter, r *http.Request) {
	a.run(w, r, GetData{})
}

func (a *API) run(w http.ResponseWriter, r *http.Request, cmd Command) {
	resp, err := a.ctrl.Handle(r.Context(), cmd)
	if err != nil {
		shield.Logger(r.Context(), a.logger).Warn("command: request failed", "action", cmd.Action(), "error", err)
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GET /api/data/latest
func (a *API) handleLatest(w http.ResponseWriter, r *http.Request) {
	if a.cache == nil {
		writeError(w, http.StatusNotFound, errors.New("no cache"))
		return
	}
	snap, ok, err := a.cache.Lookup(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("no snapshot yet"))
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// SendResult is the POST /api/data/latest/send body.
type SendResult struct {
	Status  string `json:"status"`
	URL     string `json:"url,omitempty"`
	Devices int    `json:"devices,omitempty"`
	Failure string `json:"failure,omitempty"` // "server" or "connection"
	Code    int    `json:"code,omitempty"`
	Error   string `json:"error,omitempty"`
}

// POST /api/data/latest/send posts the cached snapshot to serverUrl now,
// whatever autoSend says.
func (a *API) handleSendLatest(w http.ResponseWriter, r *http.Request) {
	if a.sender == nil || a.cache == nil || a.config == nil {
		writeError(w, http.StatusNotFound, errors.New("remote send not configured"))
		return
	}
	cfg, err := a.config.SyncConfig(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if cfg.ServerURL == "" {
		writeError(w, http.StatusConflict, errors.New("no server url configured"))
		return
	}
	snap, ok, err := a.cache.Lookup(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !ok {
		writeError(w, http.StatusConflict, errors.New("no snapshot yet"))
		return
	}

	res := SendResult{URL: cfg.ServerURL, Devices: len(snap.Devices)}
	err = a.sender.Deliver(r.Context(), cfg.ServerURL, snap)
	if err == nil {
		res.Status = "sent"
		writeJSON(w, http.StatusOK, res)
		return
	}
	res.Status = "failed"
	res.Error = err.Error()
	var se *sink.StatusError
	if errors.As(err, &se) {
		res.Failure = "server"
		res.Code = se.Code
	} else {
		res.Failure = "connection"
	}
	writeJSON(w, http.StatusBadGateway, res)
}

// GET /api/data/{name}
func (a *API) handleNamed(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	rd, ok, err := a.ctrl.ext.FindNamed(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, errors.New("no reading named "+name))
		return
	}
	writeJSON(w, http.StatusOK, rd)
}

// GET /api/history/{name}?limit=n
func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	if a.hist == nil {
		writeError(w, http.StatusNotFound, errors.New("history disabled"))
		return
	}
	limit := 100
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit: %w", err))
			return
		}
		limit = n
	}
	points, err := a.hist.Query(r.Context(), chi.URLParam(r, "name"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, points)
}

// Status is the GET /api/status body.
type Status struct {
	State    string           `json:"state"`
	Interval int              `json:"interval"`
	Badge    *sink.BadgeState `json:"badge,omitempty"`
}

// GET /api/status
func (a *API) handleStatus(w http.ResponseWriter, _ *http.Request) {
	st := Status{
		State:    a.ctrl.sched.State().String(),
		Interval: int(a.ctrl.sched.Interval().Seconds()),
	}
	if a.badge != nil {
		b := a.badge.State()
		st.Badge = &b
	}
	writeJSON(w, http.StatusOK, st)
}

// GET /api/config
func (a *API) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if a.config == nil {
		writeError(w, http.StatusNotFound, errors.New("no config store"))
		return
	}
	cfg, err := a.config.SyncConfig(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// PUT /api/config replaces the sync settings. Remote delivery picks them
// up on the next cycle; the interval applies on the next start.
func (a *API) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	if a.config == nil {
		writeError(w, http.StatusNotFound, errors.New("no config store"))
		return
	}
	var cfg syncconfig.SyncConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := a.config.SaveSyncConfig(r.Context(), cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	shield.Logger(r.Context(), a.logger).Info("command: sync config saved", "server_url", cfg.ServerURL, "auto_send", cfg.AutoSend, "interval", cfg.Interval)
	writeJSON(w, http.StatusOK, cfg)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
