package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"flightcheck/internal/config"
	"flightcheck/internal/engine"
	"flightcheck/internal/model"
	"flightcheck/internal/recording"
	"flightcheck/internal/report"
	"flightcheck/internal/service"
	"flightcheck/internal/storage"
)

const maxRecordingBytes = 64 << 20

type Server struct {
	cfg      *config.Manager
	svc      *service.Service
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	version  string
}

type statusResponse struct {
	Status     string       `json:"status"`
	Time       string       `json:"time"`
	Version    string       `json:"version"`
	ConfigPath string       `json:"config_path"`
	Engine     engineStatus `json:"engine"`
	Storage    bool         `json:"storage"`
	Sinks      sinkStatus   `json:"sinks"`
	API        apiStatus    `json:"api"`
	Reports    int          `json:"reports"`
}

type engineStatus struct {
	Workers int      `json:"workers"`
	Rules   int      `json:"rules"`
	Topics  []string `json:"topics"`
}

type sinkStatus struct {
	Kafka bool `json:"kafka"`
	NATS  bool `json:"nats"`
}

type apiStatus struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
}

type reportSummary struct {
	RunID       string         `json:"run_id"`
	Recording   string         `json:"recording"`
	GeneratedAt string         `json:"generated_at"`
	Worst       model.Severity `json:"worst"`
	Results     int            `json:"results"`
	Cancelled   int            `json:"cancelled,omitempty"`
}

func NewServer(cfg *config.Manager, svc *service.Service, gatherer prometheus.Gatherer, logger *slog.Logger, version string) *Server {
	return &Server{cfg: cfg, svc: svc, gatherer: gatherer, logger: logger, version: version}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/rules", s.handleRules)
	mux.HandleFunc("/evaluate", s.handleEvaluate)
	mux.HandleFunc("/reports", s.handleReports)
	mux.HandleFunc("/reports/", s.handleReport)
	mux.HandleFunc("/stored", s.handleStored)
	mux.HandleFunc("/outcomes", s.handleOutcomes)
	mux.HandleFunc("/outcomes/", s.handleOutcomes)
	mux.HandleFunc("/admin/clear", s.handleClear)
	mux.HandleFunc("/admin/reload", s.handleReload)
	if s.gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return mux
}

func Start(ctx context.Context, cfg *config.Manager, svc *service.Service, gatherer prometheus.Gatherer, logger *slog.Logger, version string) *http.Server {
	if cfg == nil || svc == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := NewServer(cfg, svc, gatherer, logger, version)
	httpServer := &http.Server{Addr: current.Addr, Handler: server.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	catalog := s.svc.Catalog()
	resp := statusResponse{
		Status:     "ok",
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Version:    s.version,
		ConfigPath: s.cfg.Path(),
		Engine: engineStatus{
			Workers: s.svc.Engine().Workers(),
			Rules:   catalog.Len(),
			Topics:  catalog.Topics(),
		},
		Storage: s.svc.Storage() != nil,
		Sinks:   sinkStatus{Kafka: cfg.Sinks.Kafka.Enabled, NATS: cfg.Sinks.NATS.Enabled},
		API:     apiStatus{Enabled: cfg.API.Enabled, Addr: cfg.API.Addr},
		Reports: s.svc.History().Len(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRules(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rules := service.DescribeRules(s.svc.Catalog(), s.cfg.Get().RulePreferences())
	if topic := r.URL.Query().Get("topic"); topic != "" {
		filtered := rules[:0]
		for _, info := range rules {
			if strings.EqualFold(info.Topic, topic) {
				filtered = append(filtered, info)
			}
		}
		rules = filtered
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"rules": rules,
		"count": len(rules),
	})
}

// handleEvaluate accepts a recording document (JSON, JSON Lines or YAML) and
// answers with the encoded report.
func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	opts, err := s.reportOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRecordingBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, err)
		return
	}
	q := r.URL.Query()
	input, err := recording.ParseFormat(q.Get("input"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, err := recording.Decode(bytes.NewReader(body), recording.DecodeOptions{
		Name:     q.Get("name"),
		Format:   input,
		Location: s.cfg.Get().Location(),
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rep, err := s.svc.Evaluate(r.Context(), rec)
	if rep == nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if err != nil {
		if errors.Is(err, engine.ErrCancelled) {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
		if s.logger != nil {
			s.logger.Warn("report delivery failed", "run_id", rep.RunID(), "error", err)
		}
	}
	s.writeReports(w, opts, rep)
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	var list []*model.Report
	if sinceStr := r.URL.Query().Get("since"); sinceStr != "" {
		ts, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		list = s.svc.History().Since(ts)
	} else {
		list = s.svc.History().List(limit)
	}
	out := make([]reportSummary, 0, len(list))
	for _, rep := range list {
		out = append(out, summarize(rep))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reports": out,
		"count":   len(out),
	})
}

// handleReport serves one report from memory, falling back to storage.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/reports/"), "/")
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	opts, err := s.reportOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rep, ok := s.svc.History().Get(id)
	if !ok && s.svc.Storage() != nil {
		stored, err := s.svc.Storage().LoadReport(r.Context(), id)
		switch {
		case err == nil:
			rep, ok = stored, true
		case !errors.Is(err, storage.ErrNotFound):
			writeError(w, http.StatusInternalServerError, err)
			return
		}
	}
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	s.writeReports(w, opts, rep)
}

func (s *Server) handleStored(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	store := s.svc.Storage()
	if store == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	list, err := store.ListReports(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reports": list,
		"count":   len(list),
	})
}

func (s *Server) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/outcomes")
	name = strings.TrimPrefix(name, "/")
	if name != "" {
		outcomes, updated, ok := s.svc.Outcomes().Get(name)
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"recording":  name,
			"updated_at": updated.Format(time.RFC3339Nano),
			"outcomes":   outcomes,
		})
		return
	}
	all := s.svc.Outcomes().GetAll()
	writeJSON(w, http.StatusOK, map[string]any{
		"outcomes": all,
		"count":    len(all),
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var req struct {
		Target string `json:"target"`
	}
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid clear request: %w", err))
			return
		}
	}
	target := strings.ToLower(strings.TrimSpace(req.Target))
	if err := s.svc.Clear(target); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleReload rereads the config file. Preferences apply to the next evaluation;
// catalog, storage and sink changes need a restart.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, err := s.cfg.Reload(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) reportOptions(r *http.Request) (report.Options, error) {
	q := r.URL.Query()
	format := report.FormatJSON
	if v := q.Get("format"); v != "" {
		f, err := report.ParseFormat(v)
		if err != nil {
			return report.Options{}, err
		}
		format = f
	}
	min, err := config.ParseMinSeverity(q.Get("min"))
	if err != nil {
		return report.Options{}, err
	}
	verbose, _ := strconv.ParseBool(q.Get("verbose"))
	return report.Options{Format: format, MinSeverity: min, Verbose: verbose, Run: true}, nil
}

func (s *Server) writeReports(w http.ResponseWriter, opts report.Options, reps ...*model.Report) {
	var buf bytes.Buffer
	if err := report.Encode(&buf, opts, reps...); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	switch opts.Format {
	case report.FormatJSON:
		w.Header().Set("Content-Type", "application/json")
	case report.FormatYAML:
		w.Header().Set("Content-Type", "application/yaml")
	default:
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func summarize(rep *model.Report) reportSummary {
	return reportSummary{
		RunID:       rep.RunID(),
		Recording:   rep.Recording().Name,
		GeneratedAt: rep.GeneratedAt().UTC().Format(time.RFC3339Nano),
		Worst:       rep.Worst(),
		Results:     rep.Len(),
		Cancelled:   len(rep.Cancelled()),
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
