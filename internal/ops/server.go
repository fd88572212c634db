// Package ops serves the operational HTTP surface: health, Prometheus
// metrics, and a small admin API over the collector, the cooldown
// coordinator and the channel registry.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"skyalert/internal/cooldown"
	"skyalert/internal/metrics"
	"skyalert/pkg/logx"
)

// ChannelTester sends a throwaway payload to one configured channel so an
// operator can verify the endpoint end to end.
type ChannelTester interface {
	TestChannel(ctx context.Context, channelID string) error
}

// Reloader re-reads configuration from disk on demand.
type Reloader interface {
	Reload(ctx context.Context) error
}

type Server struct {
	log       logx.Logger
	addr      string
	collector *metrics.Collector
	cooldowns *cooldown.Coordinator
	tester    ChannelTester
	reloader  Reloader

	summaryWindow time.Duration

	srv *http.Server
}

func NewServer(log logx.Logger, addr string, collector *metrics.Collector, cooldowns *cooldown.Coordinator, tester ChannelTester, reloader Reloader, summaryWindow time.Duration) *Server {
	if addr == "" {
		addr = "127.0.0.1:8077"
	}
	if summaryWindow <= 0 {
		summaryWindow = 15 * time.Minute
	}
	return &Server{
		log:           log,
		addr:          addr,
		collector:     collector,
		cooldowns:     cooldowns,
		tester:        tester,
		reloader:      reloader,
		summaryWindow: summaryWindow,
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/metrics/summary", s.handleSummary)
	mux.HandleFunc("GET /api/metrics/rules", s.handleRuleMetrics)
	mux.HandleFunc("GET /api/metrics/histogram", s.handleHistogram)
	mux.HandleFunc("POST /api/metrics/reset", s.handleReset)

	mux.HandleFunc("GET /api/cooldowns/count", s.handleCooldownCount)
	mux.HandleFunc("POST /api/cooldowns/clear", s.handleCooldownClear)

	mux.HandleFunc("POST /api/channels/reload", s.handleChannelReload)
	mux.HandleFunc("POST /api/channels/test", s.handleChannelTest)

	s.srv = &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.ListenAndServe() }()
	s.log.Info("ops server listening", logx.String("addr", s.addr))

	select {
	case <-ctx.Done():
		shctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.srv.Shutdown(shctx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":            "ok",
		"cooldown_degraded": s.cooldowns.Degraded(),
	})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	window := s.summaryWindow
	if q := r.URL.Query().Get("window"); q != "" {
		if d, err := time.ParseDuration(q); err == nil && d > 0 {
			window = d
		}
	}
	writeJSON(w, http.StatusOK, s.collector.Summary(window))
}

func (s *Server) handleRuleMetrics(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if q := r.URL.Query().Get("limit"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, s.collector.RuleMetrics(limit))
}

func (s *Server) handleHistogram(w http.ResponseWriter, r *http.Request) {
	buckets := 10
	if q := r.URL.Query().Get("buckets"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			buckets = n
		}
	}
	writeJSON(w, http.StatusOK, s.collector.TimingHistogram(buckets))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.collector.Reset()
	s.log.Info("metrics reset via admin api")
	writeJSON(w, http.StatusOK, map[string]any{"reset": true})
}

func (s *Server) handleCooldownCount(w http.ResponseWriter, r *http.Request) {
	n, err := s.cooldowns.Count(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":    n,
		"degraded": s.cooldowns.Degraded(),
	})
}

// handleCooldownClear clears by rule_id, by hex, or everything when the
// all=true flag is set. Exactly one selector is required.
func (s *Server) handleCooldownClear(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	ruleID, hex, all := q.Get("rule_id"), q.Get("hex"), q.Get("all") == "true"

	var (
		cleared int64
		err     error
	)
	switch {
	case ruleID != "" && hex == "" && !all:
		cleared, err = s.cooldowns.ClearRule(r.Context(), ruleID)
	case hex != "" && ruleID == "" && !all:
		cleared, err = s.cooldowns.ClearAircraft(r.Context(), hex)
	case all && ruleID == "" && hex == "":
		cleared, err = s.cooldowns.ClearAll(r.Context())
	default:
		writeError(w, http.StatusBadRequest,
			errors.New("specify exactly one of rule_id, hex, all=true"))
		return
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	s.log.Info("cooldowns cleared via admin api",
		logx.String("rule_id", ruleID),
		logx.String("hex", hex),
		logx.Int64("cleared", cleared))
	writeJSON(w, http.StatusOK, map[string]any{"cleared": cleared})
}

func (s *Server) handleChannelReload(w http.ResponseWriter, r *http.Request) {
	if s.reloader == nil {
		writeError(w, http.StatusNotImplemented, errors.New("reload not wired"))
		return
	}
	if err := s.reloader.Reload(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reloaded": true})
}

func (s *Server) handleChannelTest(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, errors.New("id is required"))
		return
	}
	if s.tester == nil {
		writeError(w, http.StatusNotImplemented, errors.New("channel test not wired"))
		return
	}
	if err := s.tester.TestChannel(r.Context(), id); err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sent": true})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"error": err.Error()})
}
