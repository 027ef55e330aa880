package main

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/abelbrown/waitwiki/internal/app"
	"github.com/abelbrown/waitwiki/internal/config"
	"github.com/abelbrown/waitwiki/internal/fetch"
	"github.com/abelbrown/waitwiki/internal/logging"
	"github.com/abelbrown/waitwiki/internal/model"
	"github.com/abelbrown/waitwiki/internal/otel"
	"github.com/abelbrown/waitwiki/internal/store"
)

// warmDelay postpones the start-up fetch pass so the first card renders
// from local data before the network is touched.
const warmDelay = 2 * time.Second

// eventLogPath returns the JSONL event log location.
func eventLogPath() string {
	return filepath.Join(config.DataDir(), "waitwiki.events.jsonl")
}

type runtimeOptions struct {
	// fileLog sends logs to the data dir instead of stderr. The TUI owns
	// the terminal, so it cannot log to stderr.
	fileLog bool
	// ephemeral keeps all state in memory.
	ephemeral bool
}

// runtime is a started engine plus everything it owns.
type runtime struct {
	cfg     *config.Config
	cfgPath string
	engine  *app.Engine
	events  *otel.Logger
	ring    *otel.RingBuffer
	closeDB func() error
}

func setup(ctx context.Context, flags *rootFlags, opts runtimeOptions) (*runtime, error) {
	if opts.fileLog {
		if err := logging.Init(config.DataDir()); err != nil {
			return nil, err
		}
	} else {
		logging.InitWriter(os.Stderr, flags.logLevel)
	}

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}

	events, err := otel.OpenFile(eventLogPath())
	if err != nil {
		logging.Warn("Event log unavailable, events stay in memory", "error", err)
		events = otel.NewNullLogger()
	}
	ring := otel.NewRingBuffer(otel.DefaultRingSize)
	events.SetRingBuffer(ring)

	var (
		st      app.Store
		closeDB = func() error { return nil }
	)
	if opts.ephemeral {
		st = store.NewMemory()
	} else {
		db, err := store.Open(config.DBPath())
		if err != nil {
			// The engine still works; nothing survives a restart.
			logging.Warn("Store unavailable, running in memory", "error", err)
			events.Error(otel.KindStoreError, "main", err)
			st = store.NewMemory()
		} else {
			st = db
			closeDB = db.Close
		}
	}

	var detector fetch.Detector
	if cfg.Fetch.DetectLanguage {
		detector = fetch.NewDetector()
	}
	gw := fetch.NewGateway(fetch.Options{
		Language:     cfg.Language,
		Timeout:      cfg.Fetch.Timeout,
		APINinjasKey: cfg.APINinjasKey,
		MinInterval:  cfg.Fetch.MinInterval,
		Detector:     detector,
		Events:       events,
	})
	if missing := unsupported(cfg.EnabledCategories(), gw.Categories()); len(missing) > 0 {
		logging.Warn("Enabled categories have no source and will only show cached items", "categories", missing)
	}

	engine := app.New(app.Options{
		Config:  cfg,
		Gateway: gw,
		Store:   st,
		Events:  events,
	})
	engine.Start(ctx)

	return &runtime{
		cfg:     cfg,
		cfgPath: flags.configPath,
		engine:  engine,
		events:  events,
		ring:    ring,
		closeDB: closeDB,
	}, nil
}

// unsupported returns the enabled categories missing from wired.
func unsupported(enabled, wired []model.Category) []model.Category {
	var out []model.Category
	for _, c := range enabled {
		if !slices.Contains(wired, c) {
			out = append(out, c)
		}
	}
	return out
}

// warmLater runs the start-up fetch pass after warmDelay unless ctx ends.
func (r *runtime) warmLater(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(warmDelay):
		}
		n := r.engine.Warm(ctx)
		logging.Info("Warm-up finished", "added", n)
	}()
}

// saveCategories writes a settings change back to the config file.
func (r *runtime) saveCategories(cats []model.Category) error {
	r.cfg.SetCategories(cats)
	return r.cfg.Save(r.cfgPath)
}

// close shuts the engine down and releases files. Persist gets its own
// deadline because ctx is usually already cancelled by then.
func (r *runtime) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	r.engine.Shutdown(ctx)
	if err := r.closeDB(); err != nil {
		logging.Warn("Closing store failed", "error", err)
	}
	r.events.Close()
	logging.Close()
}
