// Package browser owns the single shared Chromium session used to resolve
// and capture pages.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/use-agent/glimpse/cleaner"
	"github.com/use-agent/glimpse/config"
	"github.com/use-agent/glimpse/models"
	"github.com/use-agent/glimpse/retry"
	"github.com/use-agent/glimpse/stability"
)

// singletonArtifacts are the files Chromium leaves in a profile to mark it
// in use. After an unclean shutdown they block the next launch.
var singletonArtifacts = []string{"SingletonLock", "SingletonSocket", "SingletonCookie"}

// Session is one persistent browser context shared process-wide. Start and
// shutdown are serialized by mu; tabs are owned by the caller that opened
// them and need no cross-tab locking.
type Session struct {
	browserCfg config.BrowserConfig
	scraperCfg config.ScraperConfig
	detector   *stability.Detector
	cleaner    *cleaner.Cleaner

	mu       sync.Mutex
	launcher *launcher.Launcher
	browser  *rod.Browser

	activePages atomic.Int32
}

// NewSession prepares a session. Chromium is not launched until the first
// EnsureStarted, Resolve or Capture call.
func NewSession(browserCfg config.BrowserConfig, scraperCfg config.ScraperConfig, detector *stability.Detector, cl *cleaner.Cleaner) *Session {
	if detector == nil {
		detector = stability.NewDetector(stability.DefaultOptions())
	}
	if cl == nil {
		cl = cleaner.NewCleaner()
	}
	return &Session{
		browserCfg: browserCfg,
		scraperCfg: scraperCfg,
		detector:   detector,
		cleaner:    cl,
	}
}

// EnsureStarted launches Chromium exactly once. Concurrent callers block on
// the first launch and then share its result.
func (s *Session) EnsureStarted(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return categorizeError(err, "browser start canceled")
	}

	profileDir, err := filepath.Abs(s.browserCfg.ProfileDir)
	if err != nil {
		return models.NewScrapeError(models.ErrCodeBrowserCrash, "invalid profile directory", err)
	}
	if err := os.MkdirAll(profileDir, 0o755); err != nil {
		return models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to create profile directory", err)
	}
	removeStaleLocks(profileDir)

	l := s.newLauncher(profileDir)

	controlURL, err := l.Launch()
	if err != nil {
		return models.NewScrapeError(
			models.ErrCodeBrowserCrash,
			"failed to launch browser",
			err,
		)
	}
	slog.Info("browser launched", "controlURL", controlURL, "profile", profileDir)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return models.NewScrapeError(
			models.ErrCodeBrowserCrash,
			"failed to connect to browser",
			err,
		)
	}

	s.launcher = l
	s.browser = browser
	return nil
}

// newLauncher assembles the Chromium command line for the persistent profile.
func (s *Session) newLauncher(profileDir string) *launcher.Launcher {
	cfg := s.browserCfg

	l := launcher.New().
		UserDataDir(profileDir).
		Headless(false).
		NoSandbox(cfg.NoSandbox)

	if cfg.Headless {
		l.Set(flags.Headless, "new")
	}
	if cfg.BrowserBin != "" {
		l = l.Bin(cfg.BrowserBin)
	}
	if cfg.DefaultProxy != "" {
		l = l.Proxy(cfg.DefaultProxy)
	}
	if cfg.UserAgent != "" {
		l.Set(flags.Flag("user-agent"), cfg.UserAgent)
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-ipc-flooding-protection"))
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("no-first-run"))

	// ── Extensions ───────────────────────────────────────────────────
	if exts := discoverExtensions(cfg.ExtensionsDir); len(exts) > 0 {
		joined := strings.Join(exts, ",")
		l.Set(flags.Flag("disable-extensions-except"), joined)
		l.Set(flags.Flag("load-extension"), joined)
		slog.Info("loading browser extensions", "count", len(exts), "dir", cfg.ExtensionsDir)
	} else {
		l.Set(flags.Flag("disable-extensions"))
	}

	return l
}

// current returns the connected browser, or an error once closed.
func (s *Session) current() (*rod.Browser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.browser == nil {
		return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "browser session is not running", nil)
	}
	return s.browser, nil
}

// Stats returns a snapshot of the session state.
func (s *Session) Stats() models.BrowserStats {
	s.mu.Lock()
	started := s.browser != nil
	s.mu.Unlock()
	return models.BrowserStats{
		Started:     started,
		MaxPages:    s.browserCfg.MaxPages,
		ActivePages: int(s.activePages.Load()),
	}
}

// Close shuts the browser down. It is safe to call more than once; calls
// after the first are no-ops. The profile directory is kept.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.browser == nil {
		return nil
	}

	slog.Info("browser session shutting down", "activePages", s.activePages.Load())
	err := s.browser.Close()
	if s.launcher != nil {
		s.launcher.Kill()
	}
	s.browser = nil
	s.launcher = nil

	if err != nil {
		return fmt.Errorf("close browser: %w", err)
	}
	slog.Info("browser session shutdown complete")
	return nil
}

// removeStaleLocks deletes single-instance markers left in the profile by
// a browser that did not shut down cleanly.
func removeStaleLocks(profileDir string) {
	for _, name := range singletonArtifacts {
		p := filepath.Join(profileDir, name)
		if _, err := os.Lstat(p); err != nil {
			continue
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to remove stale profile lock", "path", p, "error", err)
			continue
		}
		slog.Info("removed stale profile lock", "path", p)
	}
}

// discoverExtensions returns absolute paths of the unpacked extensions under
// dir: every direct subdirectory holding a manifest.json.
func discoverExtensions(dir string) []string {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Warn("failed to read extensions directory", "dir", dir, "error", err)
		}
		return nil
	}

	var out []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		extDir := filepath.Join(dir, e.Name())
		if _, err := os.Stat(filepath.Join(extDir, "manifest.json")); err != nil {
			continue
		}
		if abs, err := filepath.Abs(extDir); err == nil {
			out = append(out, abs)
		}
	}
	return out
}

// policy builds the retry policy for one call site.
func (s *Session) policy(operation, url string) retry.Policy {
	return retry.Policy{
		MaxAttempts: s.scraperCfg.RetryAttempts,
		BaseDelay:   s.scraperCfg.RetryBaseDelay,
		Multiplier:  2,
		OnRetry:     retry.Logger(operation, "url", url),
	}
}
