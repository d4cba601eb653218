package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/sentra-hq/sentra/pkg/engine"
)

const schema = `
CREATE TABLE IF NOT EXISTS detections (
	id          BIGSERIAL PRIMARY KEY,
	occurred_at TIMESTAMPTZ NOT NULL,
	generation  UUID        NOT NULL,
	rule_name   TEXT        NOT NULL,
	source      TEXT        NOT NULL,
	priority    TEXT        NOT NULL,
	output      TEXT        NOT NULL,
	event       JSONB       NOT NULL
);
CREATE INDEX IF NOT EXISTS detections_occurred_at_idx ON detections (occurred_at DESC);

CREATE TABLE IF NOT EXISTS rule_generations (
	id          BIGSERIAL PRIMARY KEY,
	promoted_at TIMESTAMPTZ NOT NULL,
	file_count  INT         NOT NULL
);
`

// InitSchema creates the persistence tables. No-op without a database.
func (s *AppServer) InitSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *AppServer) insertDetection(ctx context.Context, eng *engine.Engine, m engine.Match, event map[string]any) error {
	b, _ := json.Marshal(event)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO detections(occurred_at, generation, rule_name, source, priority, output, event)
		 VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		m.Time, eng.ID(), m.Rule, m.Source, m.Level, m.Output, string(b),
	)
	return err
}

func (s *AppServer) insertGenerationAudit(ctx context.Context, fileCount int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO rule_generations(promoted_at, file_count) VALUES ($1,$2)`,
		time.Now().UTC(), fileCount,
	)
	return err
}

func (s *AppServer) handleListDetections(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}
	limit := 200
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	rows, err := s.db.QueryContext(r.Context(),
		`SELECT id, occurred_at, generation, rule_name, source, priority, output, event
		 FROM detections ORDER BY id DESC LIMIT $1`, limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	defer rows.Close()

	type det struct {
		ID         int64           `json:"id"`
		OccurredAt time.Time       `json:"occurred_at"`
		Generation string          `json:"generation"`
		RuleName   string          `json:"rule_name"`
		Source     string          `json:"source"`
		Priority   string          `json:"priority"`
		Output     string          `json:"output"`
		Event      json.RawMessage `json:"event"`
	}
	out := []det{}
	for rows.Next() {
		var d det
		var event []byte
		if err := rows.Scan(&d.ID, &d.OccurredAt, &d.Generation, &d.RuleName, &d.Source, &d.Priority, &d.Output, &event); err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		d.Event = json.RawMessage(event)
		out = append(out, d)
	}
	if err := rows.Err(); err != nil && err != sql.ErrNoRows {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
