// Package server is the operator-facing control plane: HTTP endpoints
// for replacing and validating rule sets plus event ingest, and the
// single consumer loop that evaluates events against the active
// generation.
package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sentra-hq/sentra/internal/metrics"
	"github.com/sentra-hq/sentra/pkg/engine"
	"github.com/sentra-hq/sentra/pkg/engine/swap"
	"github.com/sentra-hq/sentra/pkg/rules"
)

// AppServer wires the generation swap to HTTP handlers and the consumer
// loop. db may be nil; persistence is then skipped.
type AppServer struct {
	db      *sql.DB
	swap    *swap.Swappable
	logger  *slog.Logger
	metrics *metrics.Metrics

	events chan inboundEvent
}

type inboundEvent struct {
	Source string
	Fields map[string]any
}

func NewAppServer(db *sql.DB, sw *swap.Swappable, logger *slog.Logger, m *metrics.Metrics) *AppServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &AppServer{
		db:      db,
		swap:    sw,
		logger:  logger,
		metrics: m,
		events:  make(chan inboundEvent, 1024),
	}
}

// RegisterRoutes wires HTTP handlers.
func (s *AppServer) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/rules", s.handleRules)
	mux.HandleFunc("/api/v1/rules/validate", s.handleValidate)
	mux.HandleFunc("/api/v1/events", s.handleIngest)
	mux.HandleFunc("/api/v1/detections", s.handleListDetections)
}

// Run is the designated consumer goroutine. Every drain observes the
// newest promoted generation via Current, so a rule replace takes
// effect between events without ever pausing ingest.
func (s *AppServer) Run(ctx context.Context) error {
	var lastGen string
	var lastSuperseded int64
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-s.events:
			eng, err := s.swap.Current()
			if err != nil {
				// Contract violation: Initialize must run before the loop.
				return err
			}
			if id := eng.ID().String(); id != lastGen {
				if lastGen != "" {
					s.logger.Info("switched to new engine generation",
						"generation", id, "rules", eng.RuleCount())
				}
				if s.metrics != nil {
					s.metrics.SetActiveGeneration(eng.RuleCount(), eng.EnabledRuleCount())
					_, _, superseded := s.swap.Stats()
					if d := superseded - lastSuperseded; d > 0 {
						s.metrics.AddSuperseded(int(d))
						lastSuperseded = superseded
					}
				}
				lastGen = id
			}
			s.evaluate(ctx, eng, ev)
		}
	}
}

func (s *AppServer) evaluate(ctx context.Context, eng *engine.Engine, ev inboundEvent) {
	if s.metrics != nil {
		s.metrics.EventEvaluated()
	}
	matches, err := eng.Evaluate(ev.Source, ev.Fields)
	if err != nil {
		s.logger.Error("evaluate failed", "source", ev.Source, "error", err)
		return
	}
	for _, m := range matches {
		s.logger.Warn("detection",
			"rule", m.Rule,
			"priority", m.Level,
			"source", m.Source,
			"output", m.Output,
		)
		if s.metrics != nil {
			s.metrics.Detection(m.Level)
		}
		if s.db != nil {
			if err := s.insertDetection(ctx, eng, m, ev.Fields); err != nil {
				s.logger.Error("persist detection failed", "rule", m.Rule, "error", err)
			}
		}
	}
}

// ---- Handlers ----

func (s *AppServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (s *AppServer) handleStats(w http.ResponseWriter, r *http.Request) {
	promoted, swaps, superseded := s.swap.Stats()
	resp := map[string]any{
		"generations_promoted":   promoted,
		"generation_swaps":       swaps,
		"generations_superseded": superseded,
		"queued_events":          len(s.events),
	}
	writeJSON(w, http.StatusOK, resp)
}

type ruleFilePayload struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

func decodeRuleFiles(r *http.Request) ([]rules.RuleFile, error) {
	var req struct {
		Files []ruleFilePayload `json:"files"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	files := make([]rules.RuleFile, 0, len(req.Files))
	for i, f := range req.Files {
		name := f.Name
		if name == "" {
			name = fmt.Sprintf("inline-%d", i)
		}
		files = append(files, rules.RuleFile{Name: name, Content: []byte(f.Content)})
	}
	return files, nil
}

// handleRules supports GET (current generation summary) and POST
// (replace the entire rule set).
func (s *AppServer) handleRules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		// Peeking at the swap from a handler goroutine would break the
		// consumer-only contract, so report handoff stats instead.
		promoted, swaps, _ := s.swap.Stats()
		writeJSON(w, http.StatusOK, map[string]any{
			"generations_promoted": promoted,
			"generation_swaps":     swaps,
		})
	case http.MethodPost:
		files, err := decodeRuleFiles(r)
		if err != nil {
			writeErr(w, http.StatusBadRequest, err)
			return
		}
		start := time.Now()
		err = s.swap.Replace(files)
		s.observeBuild(err, time.Since(start))
		if err != nil {
			writeErr(w, http.StatusUnprocessableEntity, err)
			return
		}
		if s.db != nil {
			if derr := s.insertGenerationAudit(r.Context(), len(files)); derr != nil {
				s.logger.Error("record generation failed", "error", derr)
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "files": len(files)})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleValidate dry-runs a build without promoting anything.
func (s *AppServer) handleValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	files, err := decodeRuleFiles(r)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	if err := s.swap.Validate(files); err != nil {
		resp := map[string]any{"valid": false, "report": err.Error()}
		var loadErr *engine.RuleLoadError
		if errors.As(err, &loadErr) {
			resp["files"] = loadErr.Diagnostics
		}
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

// handleIngest accepts a JSON object or array of objects. Each object
// may carry a "source" field; events without one are treated as syscall
// events. Events are queued to the consumer loop, never evaluated on
// the handler goroutine.
func (s *AppServer) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var payload any
	if err := dec.Decode(&payload); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	var objs []map[string]any
	switch t := payload.(type) {
	case map[string]any:
		objs = []map[string]any{t}
	case []any:
		objs = make([]map[string]any, 0, len(t))
		for _, it := range t {
			if m, ok := it.(map[string]any); ok {
				objs = append(objs, m)
			}
		}
	default:
		writeErr(w, http.StatusBadRequest, fmt.Errorf("payload must be object or array of objects"))
		return
	}

	accepted := 0
	for _, obj := range objs {
		source := engine.SyscallSource
		if v, ok := obj["source"].(string); ok && v != "" {
			source = v
		}
		select {
		case s.events <- inboundEvent{Source: source, Fields: obj}:
			accepted++
		default:
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"accepted": accepted,
				"error":    "event queue full",
			})
			return
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": accepted})
}

func (s *AppServer) observeBuild(err error, d time.Duration) {
	if s.metrics == nil {
		return
	}
	result := "ok"
	switch {
	case err == nil:
	case errors.Is(err, engine.ErrNotReady):
		result = "not_ready"
	default:
		var loadErr *engine.RuleLoadError
		var pluginErr *engine.PluginIncompatibleError
		if errors.As(err, &loadErr) {
			result = "rule_load_failed"
		} else if errors.As(err, &pluginErr) {
			result = "plugin_incompatible"
		} else {
			result = "error"
		}
	}
	s.metrics.ObserveBuild(result, d)
}

// ---- Helpers ----

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("writeJSON failed", "error", err)
	}
}

func writeErr(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]any{"error": err.Error()})
}
