package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Scraper   ScraperConfig
	Stability StabilityConfig
	Video     VideoConfig
	Cache     CacheConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the shared Rod browser session.
type BrowserConfig struct {
	// ProfileDir is the persistent Chromium user data directory.
	ProfileDir string // default: "data/browser_profile"

	// ExtensionsDir holds unpacked extensions, one per subdirectory.
	ExtensionsDir string // default: "data/extensions"

	// Headless controls whether the browser runs headless (new headless mode).
	Headless bool // default: true

	// MaxPages bounds how many tabs the orchestrator keeps open at once.
	MaxPages int // default: 8

	// UserAgent overrides the browser's user agent string.
	UserAgent string

	// DefaultProxy is the proxy URL for all browser traffic.
	DefaultProxy string

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string
}

// ScraperConfig controls navigation and capture.
type ScraperConfig struct {
	// NavigationTimeout bounds a single resolve attempt.
	NavigationTimeout time.Duration // default: 30s

	// CaptureTimeout bounds a single capture attempt, stability wait included.
	CaptureTimeout time.Duration // default: 90s

	// RetryAttempts is the total number of attempts for resolve and capture.
	RetryAttempts int // default: 3

	// RetryBaseDelay is the backoff base; attempt n waits base × 2^n.
	RetryBaseDelay time.Duration // default: 1s

	// Screenshots toggles full-page screenshots on capture.
	Screenshots bool // default: true

	// MaxScreenshotHeight caps the viewport height used for screenshots.
	MaxScreenshotHeight int // default: 16384

	// BlockAds blocks requests to known ad and tracking domains.
	BlockAds bool // default: true

	// BlockedResourceTypes lists resource types to block. Empty by default
	// because screenshots need images and stylesheets.
	BlockedResourceTypes []string
}

// StabilityConfig tunes the visual stability wait.
type StabilityConfig struct {
	Threshold float64       // default: 0.95
	Interval  time.Duration // default: 1s
	StableFor time.Duration // default: 2s
	Timeout   time.Duration // default: 30s
}

// VideoConfig controls the yt-dlp video branch.
type VideoConfig struct {
	// Enabled toggles the video branch entirely.
	Enabled bool // default: true

	// YtDlpPath is the yt-dlp binary.
	YtDlpPath string // default: "yt-dlp"

	// Workers bounds concurrent yt-dlp processes.
	Workers int // default: 4

	// Timeout bounds one yt-dlp invocation.
	Timeout time.Duration // default: 5m

	// Format is the yt-dlp format selector for downloads.
	Format string // default: "bestvideo+bestaudio/best"

	// ForceGeneric forces the generic extractor for non-platform URLs.
	ForceGeneric bool // default: false
}

// CacheConfig controls the file-backed content cache.
type CacheConfig struct {
	// Dir is the cache root.
	Dir string // default: "data/cache"

	// TTL is how long a cached entry stays live.
	TTL time.Duration // default: 1h
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 5

	// Burst is the maximum burst size per API key.
	Burst int // default: 10
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
// A .env file in the working directory, if present, is loaded first and
// never overrides variables already set in the environment.
func Load() *Config {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("config: failed to read .env", "error", err)
	}

	return &Config{
		Server: ServerConfig{
			Host: envOr("GLIMPSE_HOST", "0.0.0.0"),
			Port: envIntOr("GLIMPSE_PORT", 8080),
			Mode: envOr("GLIMPSE_MODE", "release"),
		},
		Browser: BrowserConfig{
			ProfileDir:    envOr("GLIMPSE_PROFILE_DIR", "data/browser_profile"),
			ExtensionsDir: envOr("GLIMPSE_EXTENSIONS_DIR", "data/extensions"),
			Headless:      envBoolOr("GLIMPSE_HEADLESS", true),
			MaxPages:      envIntOr("GLIMPSE_MAX_PAGES", 8),
			UserAgent:     envOr("GLIMPSE_USER_AGENT", defaultUserAgent),
			DefaultProxy:  os.Getenv("GLIMPSE_PROXY"),
			NoSandbox:     envBoolOr("GLIMPSE_NO_SANDBOX", false),
			BrowserBin:    os.Getenv("GLIMPSE_BROWSER_BIN"),
		},
		Scraper: ScraperConfig{
			NavigationTimeout:    envDurationOr("GLIMPSE_NAV_TIMEOUT", envSecondsOr("TOOL_TIMEOUT_SECONDS", 30*time.Second)),
			CaptureTimeout:       envDurationOr("GLIMPSE_CAPTURE_TIMEOUT", 90*time.Second),
			RetryAttempts:        envIntOr("GLIMPSE_RETRY_ATTEMPTS", 3),
			RetryBaseDelay:       envDurationOr("GLIMPSE_RETRY_BASE_DELAY", time.Second),
			Screenshots:          envBoolOr("GLIMPSE_SCREENSHOTS", true),
			MaxScreenshotHeight:  envIntOr("GLIMPSE_MAX_SCREENSHOT_HEIGHT", 16384),
			BlockAds:             envBoolOr("GLIMPSE_BLOCK_ADS", true),
			BlockedResourceTypes: envSliceOr("GLIMPSE_BLOCKED_RESOURCES", nil),
		},
		Stability: StabilityConfig{
			Threshold: envFloatOr("GLIMPSE_STABILITY_THRESHOLD", 0.95),
			Interval:  envDurationOr("GLIMPSE_STABILITY_INTERVAL", time.Second),
			StableFor: envDurationOr("GLIMPSE_STABILITY_DURATION", 2*time.Second),
			Timeout:   envDurationOr("GLIMPSE_STABILITY_TIMEOUT", 30*time.Second),
		},
		Video: VideoConfig{
			Enabled:      envBoolOr("GLIMPSE_VIDEO_ENABLED", true),
			YtDlpPath:    envOr("YTDLP_PATH", "yt-dlp"),
			Workers:      envIntOr("GLIMPSE_VIDEO_WORKERS", 4),
			Timeout:      envDurationOr("GLIMPSE_VIDEO_TIMEOUT", 5*time.Minute),
			Format:       envOr("GLIMPSE_VIDEO_FORMAT", "bestvideo+bestaudio/best"),
			ForceGeneric: envBoolOr("GLIMPSE_VIDEO_FORCE_GENERIC", false),
		},
		Cache: CacheConfig{
			Dir: envOr("GLIMPSE_CACHE_DIR", "data/cache"),
			TTL: envDurationOr("GLIMPSE_CACHE_TTL", time.Hour),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("GLIMPSE_AUTH_ENABLED", true),
			APIKeys: envSliceOr("GLIMPSE_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("GLIMPSE_RATE_RPS", 5.0),
			Burst:             envIntOr("GLIMPSE_RATE_BURST", 10),
		},
		Log: LogConfig{
			Level:  envOr("GLIMPSE_LOG_LEVEL", "info"),
			Format: envOr("GLIMPSE_LOG_FORMAT", "json"),
		},
	}
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envSecondsOr reads a plain integer number of seconds.
func envSecondsOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
