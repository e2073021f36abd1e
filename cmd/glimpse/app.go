package main

import (
	"log/slog"

	"github.com/use-agent/glimpse/browser"
	"github.com/use-agent/glimpse/cache"
	"github.com/use-agent/glimpse/cleaner"
	"github.com/use-agent/glimpse/config"
	"github.com/use-agent/glimpse/orchestrator"
	"github.com/use-agent/glimpse/stability"
	"github.com/use-agent/glimpse/video"
)

// app holds the wired pipeline shared by every command.
type app struct {
	cfg          *config.Config
	session      *browser.Session
	store        *cache.Store
	orchestrator *orchestrator.Orchestrator
}

// newApp builds the pipeline leaf-first. The browser is launched lazily on
// the first URL.
func newApp(cfg *config.Config) *app {
	store := cache.New(cfg.Cache.Dir)

	detector := stability.NewDetector(stability.Options{
		Threshold: cfg.Stability.Threshold,
		Interval:  cfg.Stability.Interval,
		StableFor: cfg.Stability.StableFor,
		Timeout:   cfg.Stability.Timeout,
	})

	session := browser.NewSession(cfg.Browser, cfg.Scraper, detector, cleaner.NewCleaner())

	videos := video.NewExtractor(video.NewYtDlp(cfg.Video.YtDlpPath), store, cfg.Video)

	orch := orchestrator.New(session, videos, store,
		orchestrator.WithTTL(cfg.Cache.TTL),
		orchestrator.WithScreenshots(cfg.Scraper.Screenshots),
		orchestrator.WithMaxConcurrent(cfg.Browser.MaxPages),
	)

	return &app{
		cfg:          cfg,
		session:      session,
		store:        store,
		orchestrator: orch,
	}
}

func (a *app) close() {
	if err := a.session.Close(); err != nil {
		slog.Warn("browser close failed", "error", err)
	}
}
