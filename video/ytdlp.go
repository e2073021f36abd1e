package video

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// ExtractOptions selects what one yt-dlp run does.
type ExtractOptions struct {
	// Download fetches the media; otherwise only metadata is read.
	Download bool

	// OutputTemplate is the yt-dlp -o template used when downloading.
	OutputTemplate string

	// Format is the yt-dlp format selector used when downloading.
	Format string

	// ForceGeneric makes yt-dlp use its generic extractor.
	ForceGeneric bool
}

// Tool extracts video information for a URL. A nil map with a nil error
// means the URL holds no extractable video.
type Tool interface {
	ExtractInfo(ctx context.Context, url string, opts ExtractOptions) (map[string]any, error)
}

// YtDlp runs the yt-dlp binary.
type YtDlp struct {
	binaryPath string
}

// NewYtDlp creates a runner for the given binary ("yt-dlp" when empty).
func NewYtDlp(binaryPath string) *YtDlp {
	if binaryPath == "" {
		binaryPath = "yt-dlp"
	}
	return &YtDlp{binaryPath: binaryPath}
}

// ExtractInfo runs yt-dlp once and decodes the single JSON document it
// prints. Live streams are filtered out by yt-dlp itself and come back as
// no result.
func (y *YtDlp) ExtractInfo(ctx context.Context, url string, opts ExtractOptions) (map[string]any, error) {
	cmd := exec.CommandContext(ctx, y.binaryPath, buildArgs(url, opts)...)

	var out bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if ctx.Err() != nil {
		return nil, fmt.Errorf("yt-dlp: %w", ctx.Err())
	}

	info, parseErr := parseInfo(out.Bytes())
	if parseErr != nil {
		if runErr != nil {
			return nil, fmt.Errorf("yt-dlp failed: %w, stderr: %s", runErr, lastLine(stderr.String()))
		}
		return nil, parseErr
	}
	// --ignore-errors lets yt-dlp exit non-zero after printing usable info.
	return info, nil
}

// buildArgs assembles the yt-dlp command line.
func buildArgs(url string, opts ExtractOptions) []string {
	args := []string{
		"--dump-single-json",
		"--no-playlist",
		"--no-warnings",
		"--no-progress",
		"--ignore-errors",
		"--match-filter", "!is_live",
	}
	if opts.Download {
		args = append(args, "--no-simulate")
		if opts.Format != "" {
			args = append(args, "-f", opts.Format)
		}
		if opts.OutputTemplate != "" {
			args = append(args, "-o", opts.OutputTemplate)
		}
	} else {
		args = append(args, "--skip-download")
	}
	if opts.ForceGeneric {
		args = append(args, "--force-generic-extractor")
	}
	return append(args, "--", url)
}

// parseInfo decodes yt-dlp's JSON output. Empty output or a JSON null is
// "no result", not an error.
func parseInfo(raw []byte) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	// With --ignore-errors a failed entry may leave log lines ahead of the
	// JSON; the document is always the last line.
	if i := bytes.LastIndexByte(raw, '\n'); i >= 0 {
		raw = raw[i+1:]
	}
	var info map[string]any
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("yt-dlp: decode info: %w", err)
	}
	return info, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
