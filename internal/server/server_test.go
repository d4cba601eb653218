package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/sentra-hq/sentra/pkg/capture"
	"github.com/sentra-hq/sentra/pkg/engine"
	"github.com/sentra-hq/sentra/pkg/engine/swap"
	"github.com/sentra-hq/sentra/pkg/rules"
)

const testRules = `
rules:
  - rule: Netcat remote shell
    condition: proc.name = netcat
    output: "reverse shell (proc=%proc.name)"
    priority: CRITICAL
`

const brokenRules = `
rules:
  - rule: Broken
    condition: proc.name = and or
    output: "nope"
`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, db *sql.DB) *AppServer {
	t.Helper()
	b := engine.NewBuilder(engine.NewConfig(), capture.New("test"), nil, quietLogger())
	sw := swap.New(b, quietLogger())
	if err := sw.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return NewAppServer(db, sw, quietLogger(), nil)
}

func doJSON(t *testing.T, s *AppServer, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func rulesPayload(content string) string {
	b, _ := json.Marshal(map[string]any{
		"files": []map[string]string{{"name": "r.yaml", "content": content}},
	})
	return string(b)
}

func TestHandleHealth(t *testing.T) {
	rec := doJSON(t, newTestServer(t, nil), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestReplaceEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/rules", rulesPayload(testRules))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	// Initialize plus the replace above.
	rec = doJSON(t, s, http.MethodGet, "/api/v1/rules", "")
	var resp map[string]float64
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp["generations_promoted"] != 2 {
		t.Errorf("generations_promoted = %v", resp["generations_promoted"])
	}
}

func TestReplaceEndpointBuildFailure(t *testing.T) {
	s := newTestServer(t, nil)
	rec := doJSON(t, s, http.MethodPost, "/api/v1/rules", rulesPayload(brokenRules))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "error") {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestReplaceEndpointBadJSON(t *testing.T) {
	s := newTestServer(t, nil)
	rec := doJSON(t, s, http.MethodPost, "/api/v1/rules", "{not json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestValidateEndpoint(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/rules/validate", rulesPayload(testRules))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, s, http.MethodPost, "/api/v1/rules/validate", rulesPayload(brokenRules))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Valid bool                    `json:"valid"`
		Files []rules.FileDiagnostics `json:"files"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Valid {
		t.Error("valid = true for broken rules")
	}
	if len(resp.Files) != 1 || resp.Files[0].OK {
		t.Errorf("diagnostics = %+v", resp.Files)
	}

	// A dry run never promotes.
	promoted, _, _ := s.swap.Stats()
	if promoted != 1 {
		t.Errorf("promoted = %d after validate, want the initial 1", promoted)
	}
}

func TestIngestQueuesEvents(t *testing.T) {
	s := newTestServer(t, nil)

	rec := doJSON(t, s, http.MethodPost, "/api/v1/events", `{"proc.name":"bash"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	ev := <-s.events
	if ev.Source != engine.SyscallSource {
		t.Errorf("default source = %q", ev.Source)
	}

	rec = doJSON(t, s, http.MethodPost, "/api/v1/events",
		`[{"source":"k8s_audit","ka.verb":"update"},{"proc.name":"ls"}]`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d", rec.Code)
	}
	if ev := <-s.events; ev.Source != engine.K8sAuditSource {
		t.Errorf("source = %q", ev.Source)
	}
	<-s.events

	rec = doJSON(t, s, http.MethodPost, "/api/v1/events", `"just a string"`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d for scalar payload", rec.Code)
	}
}

func TestRunConsumesAndEvaluates(t *testing.T) {
	s := newTestServer(t, nil)
	if err := s.swap.Replace([]rules.RuleFile{{Name: "r.yaml", Content: []byte(testRules)}}); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	s.events <- inboundEvent{Source: engine.SyscallSource, Fields: map[string]any{"proc.name": "netcat"}}
	s.events <- inboundEvent{Source: engine.SyscallSource, Fields: map[string]any{"proc.name": "ls"}}

	deadline := time.After(2 * time.Second)
	for len(s.events) > 0 {
		select {
		case <-deadline:
			t.Fatal("consumer did not drain the queue")
		case <-time.After(10 * time.Millisecond):
		}
	}
	time.Sleep(20 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}

	// The consumer has exited; it is safe to observe the active engine.
	eng, err := s.swap.Current()
	if err != nil {
		t.Fatal(err)
	}
	evals, matched := eng.Stats()
	if evals != 2 || matched != 1 {
		t.Errorf("stats = %d evals, %d matches", evals, matched)
	}
}

func TestRunFailsWithoutInitialize(t *testing.T) {
	b := engine.NewBuilder(engine.NewConfig(), capture.New("test"), nil, quietLogger())
	s := NewAppServer(nil, swap.New(b, quietLogger()), quietLogger(), nil)

	s.events <- inboundEvent{Source: engine.SyscallSource, Fields: map[string]any{}}
	if err := s.Run(context.Background()); err == nil {
		t.Fatal("expected uninitialized swap to abort the consumer")
	}
}

// ---- Persistence ----

func TestInitSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	mock.ExpectExec("CREATE TABLE").WillReturnResult(sqlmock.NewResult(0, 0))

	s := newTestServer(t, db)
	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("init schema: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestInitSchemaNilDB(t *testing.T) {
	s := newTestServer(t, nil)
	if err := s.InitSchema(context.Background()); err != nil {
		t.Fatalf("nil db should be a no-op: %v", err)
	}
}

func TestInsertDetection(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	mock.ExpectExec("INSERT INTO detections").
		WillReturnResult(sqlmock.NewResult(1, 1))

	s := newTestServer(t, db)
	b := engine.NewBuilder(engine.NewConfig(), capture.New("test"), nil, quietLogger())
	eng, err := b.Build(nil)
	if err != nil {
		t.Fatal(err)
	}
	m := engine.Match{
		Rule:   "Netcat remote shell",
		Source: engine.SyscallSource,
		Level:  "Critical",
		Output: "reverse shell",
		Time:   time.Now().UTC(),
	}
	if err := s.insertDetection(context.Background(), eng, m, map[string]any{"proc.name": "netcat"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestInsertGenerationAudit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	mock.ExpectExec("INSERT INTO rule_generations").
		WillReturnResult(sqlmock.NewResult(1, 1))

	s := newTestServer(t, db)
	if err := s.insertGenerationAudit(context.Background(), 3); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestListDetections(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "occurred_at", "generation", "rule_name", "source", "priority", "output", "event"}).
		AddRow(int64(7), now, "8b32f36e-1111-2222-3333-444455556666", "Netcat remote shell", "syscall", "Critical", "reverse shell", []byte(`{"proc.name":"netcat"}`))
	mock.ExpectQuery("SELECT .* FROM detections").
		WithArgs(50).
		WillReturnRows(rows)

	s := newTestServer(t, db)
	rec := doJSON(t, s, http.MethodGet, "/api/v1/detections?limit=50", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var out []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0]["rule_name"] != "Netcat remote shell" {
		t.Errorf("detections = %v", out)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestListDetectionsNilDB(t *testing.T) {
	s := newTestServer(t, nil)
	rec := doJSON(t, s, http.MethodGet, "/api/v1/detections", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("body = %s", rec.Body.String())
	}
}
