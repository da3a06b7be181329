package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/gnemet/datatable"
	"github.com/gnemet/datatable/database"
	"github.com/gnemet/datatable/database/sqlsource"
	"github.com/gnemet/datatable/database/viewstore"
	"github.com/gnemet/datatable/internal/config"
	"github.com/gnemet/datatable/internal/logging"
)

func main() {
	configPath := flag.String("config", "config.yaml", "YAML or TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, closeLog := logging.Setup(cfg.Logging.Level, cfg.Logging.SeqURL)
	defer closeLog()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Server stopped", "error", err)
		closeLog()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	dbCfg, err := cfg.DefaultDatabase()
	if err != nil {
		return err
	}
	dialect, err := database.ParseDialect(dbCfg.DriverName())
	if err != nil {
		return err
	}
	idle, err := config.Duration(cfg.CursorPool.IdleTimeout, 5*time.Minute)
	if err != nil {
		return err
	}
	abs, err := config.Duration(cfg.CursorPool.AbsTimeout, 30*time.Minute)
	if err != nil {
		return err
	}
	db, err := database.Open(ctx, database.Config{
		Dialect:     dialect,
		DSN:         dbCfg.DSN(),
		MaxConns:    dbCfg.MaxConns,
		IdleTimeout: idle,
		AbsTimeout:  abs,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	store, err := openStore(ctx, cfg.Table.ViewStore, db, dialect)
	if err != nil {
		return err
	}

	var cursors *sqlsource.CursorPool
	if cfg.CursorPool.Enabled && dialect == database.Postgres {
		cursors = sqlsource.NewCursorPool(db, cfg.CursorPool.MaxCursors, idle, abs, logger)
		defer cursors.Close()
	}

	autoReload, err := config.Duration(cfg.Table.AutoReload, 0)
	if err != nil {
		return err
	}
	debounce, err := config.Duration(cfg.Table.Debounce, datatable.DefaultDebounce)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := datatable.NewMetrics(reg)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	// catalog discovery: one table per catalog file
	files, err := filepath.Glob(filepath.Join(cfg.Catalog.Path, "*.json"))
	if err != nil {
		return err
	}
	tables := make(map[string]*datatable.Table)
	for _, path := range files {
		name := strings.TrimSuffix(filepath.Base(path), ".json")
		def, err := datatable.LoadCatalog(ctx, path, cfg.Application.Lang, db)
		if err != nil {
			logger.Warn("Skipping catalog", "catalog", name, "error", err)
			continue
		}
		opts := []sqlsource.Option{sqlsource.WithLogger(logger)}
		if cursors != nil {
			opts = append(opts, sqlsource.WithCursors(cursors))
		}
		if cfg.Table.RateLimit > 0 {
			opts = append(opts, sqlsource.WithRateLimit(rate.Limit(cfg.Table.RateLimit), 1))
		}
		src, err := sqlsource.FromDef(db, dialect, def, opts...)
		if err != nil {
			logger.Warn("Skipping catalog", "catalog", name, "error", err)
			continue
		}

		tableOpts := def.Options
		tableOpts.Store = store
		tableOpts.Logger = logger.With("catalog", name)
		tableOpts.Metrics = metrics
		tableOpts.DebounceWindow = debounce
		if tableOpts.AutoReload == 0 {
			tableOpts.AutoReload = autoReload
		}
		tableOpts.Fetcher = src
		if !tableOpts.ServerSide {
			tableOpts.Fetcher = src.All()
		}

		table, err := datatable.New(tableOpts)
		if err != nil {
			return fmt.Errorf("catalog %s: %w", name, err)
		}
		if err := table.Start(ctx); err != nil {
			logger.Warn("Table start failed", "catalog", name, "error", err)
		}
		defer table.Close()
		tables[name] = table
		logger.Info("Catalog loaded", "catalog", name, "object", def.Object, "server_side", tableOpts.ServerSide)
	}

	mux.HandleFunc("/list", func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("config")
		table, ok := tables[name]
		if !ok {
			http.Error(w, fmt.Sprintf("unknown catalog %q", name), http.StatusNotFound)
			return
		}
		datatable.NewHandler(table).ServeHTTP(w, r)
	})
	mux.HandleFunc("/refresh", func(w http.ResponseWriter, r *http.Request) {
		table, ok := tables[r.URL.Query().Get("config")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		if err := table.Sync(r.Context()); err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()

	logger.Info("Server starting", "addr", srv.Addr, "tables", len(tables))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func openStore(ctx context.Context, kind string, db *sql.DB, dialect database.Dialect) (datatable.ViewStore, error) {
	switch {
	case kind == "memory":
		return viewstore.NewMemory(), nil
	case kind == "sql":
		s := viewstore.NewSQL(db, dialect)
		if err := s.Init(ctx); err != nil {
			return nil, err
		}
		return s, nil
	case strings.HasPrefix(kind, "files:"):
		return viewstore.NewFiles(strings.TrimPrefix(kind, "files:"))
	}
	return nil, fmt.Errorf("unknown view store %q", kind)
}
