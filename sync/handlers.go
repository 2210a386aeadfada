package sync

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

// StatsResponse holds aggregate indexer statistics.
type StatsResponse struct {
	IndexSize    int        `json:"indexSize"`
	QueueLen     int        `json:"queueLen"`
	Targets      int        `json:"targets"`
	Batch        Status     `json:"batch"`
	Queue        Status     `json:"queue"`
	RecentErrors []LogEntry `json:"recentErrors"`
}

// IDsRequest is the body of enqueue and target mutations.
type IDsRequest struct {
	IDs []string `json:"ids"`
}

// IntervalBody is the body of interval get and set.
type IntervalBody struct {
	Interval string `json:"interval"`
}

// Handlers holds the HTTP handlers for the control API.
type Handlers struct {
	daemon *Daemon
	auth   *Authorizer
}

// NewHandlers creates the control API handlers.
func NewHandlers(daemon *Daemon, auth *Authorizer) *Handlers {
	return &Handlers{daemon: daemon, auth: auth}
}

// Router mounts the control API under /api and, when lookup is non-nil,
// the name and pickcode redirects on every other path.
func (h *Handlers) Router(lookup *Lookup) *mux.Router {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	a := h.auth

	api.HandleFunc("/queue", a.Require(OpEnqueue, h.HandleEnqueue)).Methods(http.MethodPost)
	api.HandleFunc("/queue", a.Require(OpQueueStatus, h.HandleQueueStatus)).Methods(http.MethodGet)
	api.HandleFunc("/queue/skip", a.Require(OpQueueSkip, h.HandleQueueSkip)).Methods(http.MethodPost)
	api.HandleFunc("/batch", a.Require(OpBatchStatus, h.HandleBatchStatus)).Methods(http.MethodGet)
	api.HandleFunc("/batch/run", a.Require(OpBatchRun, h.HandleBatchRun)).Methods(http.MethodPost)
	api.HandleFunc("/batch/sleep", a.Require(OpBatchSleep, h.HandleBatchSleep)).Methods(http.MethodPost)
	api.HandleFunc("/batch/skip", a.Require(OpBatchSkip, h.HandleBatchSkip)).Methods(http.MethodPost)
	api.HandleFunc("/interval", a.Require(OpIntervalGet, h.HandleGetInterval)).Methods(http.MethodGet)
	api.HandleFunc("/interval", a.Require(OpIntervalSet, h.HandleSetInterval)).Methods(http.MethodPut)
	api.HandleFunc("/targets", a.Require(OpTargetsGet, h.HandleGetTargets)).Methods(http.MethodGet)
	api.HandleFunc("/targets", a.Require(OpTargetsAdd, h.HandleAddTargets)).Methods(http.MethodPost)
	api.HandleFunc("/targets", a.Require(OpTargetsRemove, h.HandleRemoveTargets)).Methods(http.MethodDelete)
	api.HandleFunc("/watermarks", a.Require(OpWatermarks, h.HandleWatermarks)).Methods(http.MethodGet)
	api.HandleFunc("/stats", a.Require(OpStats, h.HandleStats)).Methods(http.MethodGet)
	api.HandleFunc("/events", a.Require(OpEvents, h.HandleSSE)).Methods(http.MethodGet)
	api.HandleFunc("/shutdown", a.Require(OpShutdown, h.HandleShutdown)).Methods(http.MethodPost)

	if lookup != nil {
		r.PathPrefix("/").Handler(lookup).Methods(http.MethodGet, http.MethodHead)
	}
	return r
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeOutcome(w http.ResponseWriter, out Outcome) {
	writeJSON(w, map[string]Outcome{"outcome": out})
}

func decodeIDs(w http.ResponseWriter, r *http.Request, op string) ([]string, bool) {
	var req IDsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sub("handlers").Warn(op+": bad body", "err", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return nil, false
	}
	return req.IDs, true
}

// HandleEnqueue handles POST /api/queue
func (h *Handlers) HandleEnqueue(w http.ResponseWriter, r *http.Request) {
	ids, ok := decodeIDs(w, r, "enqueue")
	if !ok {
		return
	}
	n := h.daemon.Control().Enqueue(ids...)
	sub("handlers").Info("HTTP enqueue", "ids", ids, "queued", n)
	writeJSON(w, map[string]int{"queued": n})
}

// HandleQueueStatus handles GET /api/queue
func (h *Handlers) HandleQueueStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.daemon.Control().QueueStatus())
}

// HandleQueueSkip handles POST /api/queue/skip?id=<cid>
func (h *Handlers) HandleQueueSkip(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	out := h.daemon.Control().QueueSkip(id)
	sub("handlers").Info("HTTP queue skip", "id", id, "outcome", out)
	writeOutcome(w, out)
}

// HandleBatchStatus handles GET /api/batch
func (h *Handlers) HandleBatchStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.daemon.Control().BatchStatus())
}

// HandleBatchRun handles POST /api/batch/run
func (h *Handlers) HandleBatchRun(w http.ResponseWriter, r *http.Request) {
	out := h.daemon.Control().BatchRun()
	sub("handlers").Info("HTTP batch run", "outcome", out)
	writeOutcome(w, out)
}

// HandleBatchSleep handles POST /api/batch/sleep
func (h *Handlers) HandleBatchSleep(w http.ResponseWriter, r *http.Request) {
	out := h.daemon.Control().BatchSleep()
	sub("handlers").Info("HTTP batch sleep", "outcome", out)
	writeOutcome(w, out)
}

// HandleBatchSkip handles POST /api/batch/skip?id=<cid>
func (h *Handlers) HandleBatchSkip(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	out := h.daemon.Control().BatchSkip(id)
	sub("handlers").Info("HTTP batch skip", "id", id, "outcome", out)
	writeOutcome(w, out)
}

// HandleGetInterval handles GET /api/interval
func (h *Handlers) HandleGetInterval(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, IntervalBody{Interval: FormatInterval(h.daemon.Control().Interval())})
}

// HandleSetInterval handles PUT /api/interval
func (h *Handlers) HandleSetInterval(w http.ResponseWriter, r *http.Request) {
	l := sub("handlers")
	var req IntervalBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		l.Warn("set interval: bad body", "err", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	d, err := ParseInterval(req.Interval)
	if err != nil {
		l.Warn("set interval: bad value", "interval", req.Interval, "err", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	out := h.daemon.Control().SetInterval(d)
	l.Info("HTTP set interval", "interval", FormatInterval(d), "outcome", out)
	writeJSON(w, map[string]string{
		"interval": FormatInterval(d),
		"outcome":  string(out),
	})
}

// HandleGetTargets handles GET /api/targets
func (h *Handlers) HandleGetTargets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string][]string{"ids": h.daemon.Control().Targets()})
}

// HandleAddTargets handles POST /api/targets
func (h *Handlers) HandleAddTargets(w http.ResponseWriter, r *http.Request) {
	ids, ok := decodeIDs(w, r, "add targets")
	if !ok {
		return
	}
	added := h.daemon.Control().AddTargets(ids...)
	sub("handlers").Info("HTTP add targets", "ids", ids, "added", len(added))
	writeJSON(w, map[string][]string{"added": nonNil(added)})
}

// HandleRemoveTargets handles DELETE /api/targets
func (h *Handlers) HandleRemoveTargets(w http.ResponseWriter, r *http.Request) {
	ids, ok := decodeIDs(w, r, "remove targets")
	if !ok {
		return
	}
	removed := h.daemon.Control().RemoveTargets(ids...)
	sub("handlers").Info("HTTP remove targets", "ids", ids, "removed", len(removed))
	writeJSON(w, map[string][]string{"removed": nonNil(removed)})
}

// HandleWatermarks handles GET /api/watermarks
func (h *Handlers) HandleWatermarks(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.daemon.Control().Watermarks())
}

// HandleStats handles GET /api/stats
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	l := sub("handlers")
	l.Debug("HTTP stats")

	size, err := h.daemon.Index().Len(r.Context())
	if err != nil {
		l.Error("stats failed", "err", err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	c := h.daemon.Control()
	writeJSON(w, StatsResponse{
		IndexSize:    size,
		QueueLen:     h.daemon.Queue().Len(),
		Targets:      len(c.Targets()),
		Batch:        c.BatchStatus(),
		Queue:        c.QueueStatus(),
		RecentErrors: RecentErrors(),
	})
}

// HandleShutdown handles POST /api/shutdown
func (h *Handlers) HandleShutdown(w http.ResponseWriter, r *http.Request) {
	batch, queue := h.daemon.Control().Shutdown()
	sub("handlers").Info("HTTP shutdown", "batch", batch, "queue", queue)
	writeJSON(w, map[string]Outcome{"batch": batch, "queue": queue})
}

// HandleSSE handles GET /api/events (Server-Sent Events stream).
func (h *Handlers) HandleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := h.daemon.Events().Subscribe()
	defer h.daemon.Events().Unsubscribe(ch)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-ch:
			data, _ := json.Marshal(event)
			fmt.Fprintf(w, "data: %s\n\n", data) //nolint:errcheck
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n") //nolint:errcheck
			flusher.Flush()
		}
	}
}

// ParseInterval reads a Go duration, a plain number of seconds, or
// "inf"/"forever" for Forever.
func ParseInterval(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "inf", "infinity", "forever":
		return Forever, nil
	case "":
		return 0, fmt.Errorf("empty interval")
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(s, 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return 0, fmt.Errorf("invalid interval %q", s)
	}
	// Out of range parses to ±Inf, or ±0 for underflow.
	nanos := secs * float64(time.Second)
	switch {
	case math.IsNaN(secs):
		return 0, fmt.Errorf("invalid interval %q", s)
	case nanos >= float64(Forever):
		return Forever, nil
	case nanos <= math.MinInt64:
		return 0, fmt.Errorf("interval %q out of range", s)
	}
	return time.Duration(nanos), nil
}

// FormatInterval is the inverse of ParseInterval.
func FormatInterval(d time.Duration) string {
	return formatInterval(d)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
