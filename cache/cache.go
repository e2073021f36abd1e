// Package cache is the durable, content-addressed store for scraped pages.
//
// Layout on disk:
//
//	<root>/<host-or-"misc">/<md5(resolved)>.json   record with expiry
//	<root>/<host-or-"misc">/<md5(resolved)>.png    screenshot blob
//	<root>/<host-or-"misc">/<md5(resolved)>.<ext>  downloaded video
//
// Entries are never swept; an expired or unreadable record is removed the
// next time it is read.
package cache

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/use-agent/glimpse/models"
)

const (
	recordExt     = ".json"
	screenshotExt = ".png"
	miscDomain    = "misc"
)

// Extensions that share the key stem but are never a finished video.
var nonVideoExts = map[string]struct{}{
	recordExt:     {},
	screenshotExt: {},
	".part":       {},
	".ytdl":       {},
	".tmp":        {},
}

// Store is a file-backed cache keyed by resolved URL. It is safe for
// concurrent use: every file lands through a rename, so readers see either
// the previous file or the new one.
type Store struct {
	fs   afero.Fs
	root string
	now  func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithFs replaces the OS filesystem, mainly for tests.
func WithFs(fs afero.Fs) Option {
	return func(s *Store) { s.fs = fs }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a store rooted at root. The directory is created lazily.
func New(root string, opts ...Option) *Store {
	s := &Store{
		fs:   afero.NewOsFs(),
		root: root,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Key returns the hex md5 of the resolved URL.
func Key(resolvedURL string) string {
	sum := md5.Sum([]byte(resolvedURL))
	return hex.EncodeToString(sum[:])
}

// domainDir picks the shard directory for a URL: its host (port included)
// or "misc" when the URL has none.
func (s *Store) domainDir(resolvedURL string) string {
	domain := miscDomain
	if u, err := url.Parse(resolvedURL); err == nil && u.Host != "" {
		domain = u.Host
	}
	if domain == "." || domain == ".." || strings.ContainsAny(domain, `/\`) {
		domain = miscDomain
	}
	return filepath.Join(s.root, domain)
}

// BasePathFor returns the extension-less path every artifact for the URL
// is anchored to.
func (s *Store) BasePathFor(resolvedURL string) string {
	return filepath.Join(s.domainDir(resolvedURL), Key(resolvedURL))
}

// RecordPath returns the JSON record path for the URL.
func (s *Store) RecordPath(resolvedURL string) string {
	return s.BasePathFor(resolvedURL) + recordExt
}

// ScreenshotPath returns the sibling screenshot path for the URL.
func (s *Store) ScreenshotPath(resolvedURL string) string {
	return s.BasePathFor(resolvedURL) + screenshotExt
}

// Get returns the live cached content for the URL. Any read failure, an
// expired record, or a record that does not decode is reported as a miss,
// and the record plus its screenshot are removed.
func (s *Store) Get(resolvedURL string) (*models.ScrapedContent, bool) {
	path := s.RecordPath(resolvedURL)

	raw, err := afero.ReadFile(s.fs, path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("cache: read failed", "url", resolvedURL, "path", path, "error", err)
		}
		return nil, false
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil || entry.Data == nil {
		slog.Warn("cache: corrupt entry, removing", "url", resolvedURL, "path", path, "error", err)
		s.Delete(resolvedURL)
		return nil, false
	}

	if models.UnixSeconds(s.now()) >= entry.ExpiresAt {
		slog.Debug("cache: entry expired, removing", "url", resolvedURL, "expires", entry.ExpiresAt)
		s.Delete(resolvedURL)
		return nil, false
	}

	content := entry.Data
	if content.ScreenshotPath != "" {
		shot, err := afero.ReadFile(s.fs, content.ScreenshotPath)
		if err != nil {
			slog.Warn("cache: screenshot missing", "url", resolvedURL, "path", content.ScreenshotPath, "error", err)
			content.ScreenshotPath = ""
		} else {
			content.Screenshot = shot
		}
	}
	if content.Media == nil {
		content.Media = []models.ScrapedMedia{}
	}

	slog.Debug("cache: hit", "url", resolvedURL)
	return content, true
}

// Put stores content under its resolved URL with expiry now+ttl. The
// screenshot goes to a sibling file; the record only carries its path.
// A failure leaves any previous entry untouched.
func (s *Store) Put(content *models.ScrapedContent, ttl time.Duration) error {
	if content == nil || content.URL.Resolved == "" {
		return fmt.Errorf("cache: content has no resolved URL")
	}
	resolvedURL := content.URL.Resolved

	if err := s.fs.MkdirAll(s.domainDir(resolvedURL), 0o755); err != nil {
		return fmt.Errorf("cache: create shard dir: %w", err)
	}

	// Shallow copy so the caller's in-memory result keeps its bytes.
	record := *content
	record.Screenshot = nil
	record.ScreenshotPath = ""

	if len(content.Screenshot) > 0 {
		shotPath := s.ScreenshotPath(resolvedURL)
		if err := s.writeAtomic(shotPath, content.Screenshot); err != nil {
			slog.Warn("cache: screenshot write failed, caching without it",
				"url", resolvedURL, "error", err)
		} else {
			record.ScreenshotPath = shotPath
		}
	}

	entry := models.CacheEntry{
		Data:      &record,
		ExpiresAt: models.UnixSeconds(s.now().Add(ttl)),
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		slog.Error("cache: serialization failed, not caching", "url", resolvedURL, "error", err)
		return fmt.Errorf("cache: marshal entry: %w", err)
	}

	if err := s.writeAtomic(s.RecordPath(resolvedURL), raw); err != nil {
		slog.Error("cache: write failed, not caching", "url", resolvedURL, "error", err)
		return err
	}

	slog.Debug("cache: stored", "url", resolvedURL, "expires", entry.ExpiresAt)
	return nil
}

// Delete removes the record and screenshot for the URL. Downloaded videos
// are kept so the video branch can reuse them.
func (s *Store) Delete(resolvedURL string) {
	for _, p := range []string{s.RecordPath(resolvedURL), s.ScreenshotPath(resolvedURL)} {
		if err := s.fs.Remove(p); err != nil && !os.IsNotExist(err) {
			slog.Warn("cache: delete failed", "path", p, "error", err)
		}
	}
}

// VideoPathFor returns a previously downloaded video for the URL, whatever
// its extension, or "" when there is none.
func (s *Store) VideoPathFor(resolvedURL string) string {
	dir := s.domainDir(resolvedURL)
	key := Key(resolvedURL)

	entries, err := afero.ReadDir(s.fs, dir)
	if err != nil {
		return ""
	}
	for _, fi := range entries {
		if fi.IsDir() {
			continue
		}
		name := fi.Name()
		ext := filepath.Ext(name)
		if strings.TrimSuffix(name, ext) != key {
			continue
		}
		if _, skip := nonVideoExts[strings.ToLower(ext)]; skip {
			continue
		}
		return filepath.Join(dir, name)
	}
	return ""
}

// writeAtomic writes data to a temp file in the target directory and
// renames it into place.
func (s *Store) writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := afero.TempFile(s.fs, dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("cache: create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("cache: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("cache: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("cache: close temp file: %w", err)
	}
	if err := s.fs.Rename(tmpName, path); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("cache: rename into place: %w", err)
	}
	return nil
}
