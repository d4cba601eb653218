package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/sentra-hq/sentra/internal/metrics"
	"github.com/sentra-hq/sentra/internal/server"
	"github.com/sentra-hq/sentra/internal/watch"
	"github.com/sentra-hq/sentra/pkg/capture"
	"github.com/sentra-hq/sentra/pkg/engine"
	"github.com/sentra-hq/sentra/pkg/engine/swap"
	"github.com/sentra-hq/sentra/pkg/rules"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes":
		return true
	}
	return false
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	addr := getenv("SENTRA_ADDR", ":8080")
	dsn := os.Getenv("SENTRA_DB_DSN")
	rulesDir := getenv("SENTRA_RULES_DIR", "./rules")
	rescanSpec := os.Getenv("SENTRA_RESCAN_CRON")

	cfg := engine.NewConfig()
	cfg.JSONOutput = getenvBool("SENTRA_JSON_OUTPUT")
	cfg.Verbose = getenvBool("SENTRA_VERBOSE")
	cfg.OutputFormat = os.Getenv("SENTRA_OUTPUT_FORMAT")
	cfg.ReplaceContainerInfo = getenvBool("SENTRA_REPLACE_CONTAINER_INFO")
	cfg.DisabledRuleSubstrings = splitList(os.Getenv("SENTRA_DISABLED_RULES"))
	cfg.DisabledRuleTags = splitList(os.Getenv("SENTRA_DISABLED_TAGS"))
	cfg.EnabledRuleTags = splitList(os.Getenv("SENTRA_ENABLED_TAGS"))
	if v := os.Getenv("SENTRA_MIN_PRIORITY"); v != "" {
		p, err := rules.ParseSeverity(v)
		if err != nil {
			logger.Error("bad SENTRA_MIN_PRIORITY", "error", err)
			os.Exit(1)
		}
		cfg.MinPriority = p
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var db *sql.DB
	if dsn != "" {
		var err error
		db, err = sql.Open("postgres", dsn)
		if err != nil {
			logger.Error("open db", "error", err)
			os.Exit(1)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
		if err := db.PingContext(ctx); err != nil {
			logger.Error("ping db", "error", err)
			os.Exit(1)
		}
	}

	inspector := capture.New(getenv("SENTRA_CAPTURE_DRIVER", "live"))
	if err := inspector.Open(); err != nil {
		logger.Error("open inspector", "error", err)
		os.Exit(1)
	}
	defer inspector.Close()

	builder := engine.NewBuilder(cfg, inspector, nil, logger)
	sw := swap.New(builder, logger)

	// Start with a valid no-rules generation so evaluation can begin
	// before the first rule load completes.
	if err := sw.Initialize(); err != nil {
		logger.Error("initialize engine", "error", err)
		os.Exit(1)
	}

	if st, err := os.Stat(rulesDir); err == nil && st.IsDir() {
		files, err := rules.LoadDir(rulesDir)
		if err != nil {
			logger.Error("load rules", "dir", rulesDir, "error", err)
			os.Exit(1)
		}
		if err := sw.Replace(files); err != nil {
			logger.Error("initial rule build failed", "report", err.Error())
			os.Exit(1)
		}
		logger.Info("rules loaded", "dir", rulesDir, "files", len(files))
	} else {
		logger.Warn("no rules directory, starting with empty rule set", "dir", rulesDir)
	}

	m := metrics.New()
	app := server.NewAppServer(db, sw, logger, m)
	if err := app.InitSchema(ctx); err != nil {
		logger.Error("init schema", "error", err)
		os.Exit(1)
	}

	if st, err := os.Stat(rulesDir); err == nil && st.IsDir() {
		opts := []watch.Option{}
		if rescanSpec != "" {
			opts = append(opts, watch.WithRescanSchedule(rescanSpec))
		}
		w := watch.New(rulesDir, sw, logger, opts...)
		go func() {
			if err := w.Run(ctx); err != nil {
				logger.Error("watcher stopped", "error", err)
			}
		}()
	}

	// Consumer loop: the one goroutine allowed to call Current.
	go func() {
		if err := app.Run(ctx); err != nil {
			logger.Error("consumer loop stopped", "error", err)
			stop()
		}
	}()

	mux := http.NewServeMux()
	app.RegisterRoutes(mux)

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	logger.Info("sentra listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("listen", "error", err)
		os.Exit(1)
	}
}
