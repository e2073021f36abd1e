// Package stability waits for a rendering page to stop changing visually.
//
// Pages keep mutating after the load event (lazy images, client-side
// rendering, animated banners). The detector compares successive
// screenshots and reports the page settled once they have stayed nearly
// identical for a sustained window.
package stability

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"time"
)

// ScreenshotFunc captures the current rendering as an encoded PNG.
type ScreenshotFunc func(ctx context.Context) ([]byte, error)

// Options tunes one wait.
type Options struct {
	// Threshold is the minimum similarity (0..1) counted as "unchanged".
	Threshold float64

	// Interval is the pause between screenshots.
	Interval time.Duration

	// StableFor is how long similarity must hold before returning.
	StableFor time.Duration

	// Timeout bounds the whole wait.
	Timeout time.Duration
}

// DefaultOptions returns the tuning used for page capture.
func DefaultOptions() Options {
	return Options{
		Threshold: 0.95,
		Interval:  time.Second,
		StableFor: 2 * time.Second,
		Timeout:   30 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.Threshold <= 0 || o.Threshold > 1 {
		o.Threshold = d.Threshold
	}
	if o.Interval <= 0 {
		o.Interval = d.Interval
	}
	if o.StableFor <= 0 {
		o.StableFor = d.StableFor
	}
	if o.Timeout <= 0 {
		o.Timeout = d.Timeout
	}
	return o
}

// Detector runs stability waits with a fixed tuning.
type Detector struct {
	opts Options
	now  func() time.Time
}

// NewDetector creates a detector; zero fields in opts take defaults.
func NewDetector(opts Options) *Detector {
	return &Detector{opts: opts.withDefaults(), now: time.Now}
}

// Options returns the effective tuning.
func (d *Detector) Options() Options { return d.opts }

// Wait blocks until the page is visually stable or the timeout elapses.
// When ctx carries a deadline the timeout is shortened so the wait ends
// before it. It reports true when a stable window was observed. Timing out
// is not an error: it logs a warning and returns false so capture can
// proceed. A failed screenshot or a cancelled ctx is returned as an error.
func (d *Detector) Wait(ctx context.Context, shoot ScreenshotFunc) (bool, error) {
	opts := d.opts
	start := d.now()
	deadline := start.Add(opts.Timeout)
	// A quarter of the caller's remaining budget is kept for the work that
	// follows the wait.
	if outer, ok := ctx.Deadline(); ok {
		if limit := outer.Add(-outer.Sub(start) / 4); limit.Before(deadline) {
			deadline = limit
		}
	}

	prev, err := capture(ctx, shoot)
	if err != nil {
		return false, err
	}

	var stableSince time.Time
	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for d.now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}

		cur, err := capture(ctx, shoot)
		if err != nil {
			return false, err
		}

		score := Similarity(prev, cur)
		now := d.now()
		if score >= opts.Threshold {
			if stableSince.IsZero() {
				stableSince = now
			}
			if now.Sub(stableSince) >= opts.StableFor {
				slog.Debug("page stable",
					"similarity", score,
					"elapsed", now.Sub(start).Round(time.Millisecond),
				)
				return true, nil
			}
		} else {
			stableSince = time.Time{}
		}
		prev = cur
	}

	slog.Warn("page did not stabilize before timeout, capturing anyway",
		"timeout", opts.Timeout,
		"threshold", opts.Threshold,
	)
	return false, nil
}

func capture(ctx context.Context, shoot ScreenshotFunc) (image.Image, error) {
	raw, err := shoot(ctx)
	if err != nil {
		return nil, fmt.Errorf("stability screenshot: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("stability screenshot decode: %w", err)
	}
	return img, nil
}

// Similarity returns 1 minus the fraction of differing pixels. Images of
// different sizes are compared over their common top-left region.
func Similarity(a, b image.Image) float64 {
	ab, bb := a.Bounds(), b.Bounds()
	w := min(ab.Dx(), bb.Dx())
	h := min(ab.Dy(), bb.Dy())
	if w <= 0 || h <= 0 {
		if ab.Empty() && bb.Empty() {
			return 1
		}
		return 0
	}

	var diff int
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r1, g1, b1, a1 := a.At(ab.Min.X+x, ab.Min.Y+y).RGBA()
			r2, g2, b2, a2 := b.At(bb.Min.X+x, bb.Min.Y+y).RGBA()
			if r1 != r2 || g1 != g2 || b1 != b2 || a1 != a2 {
				diff++
			}
		}
	}
	return 1 - float64(diff)/float64(w*h)
}
