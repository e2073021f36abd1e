package models

import "encoding/base64"

// ContentResult is the API view of a ScrapedContent.
type ContentResult struct {
	*ScrapedContent

	// Screenshot is the base64-encoded PNG, present only when requested.
	Screenshot string `json:"screenshot,omitempty"`
}

// NewContentResult wraps content for the API, embedding the screenshot
// when withScreenshot is set.
func NewContentResult(content *ScrapedContent, withScreenshot bool) *ContentResult {
	r := &ContentResult{ScrapedContent: content}
	if withScreenshot && len(content.Screenshot) > 0 {
		r.Screenshot = base64.StdEncoding.EncodeToString(content.Screenshot)
	}
	return r
}

// ProcessResponse is the response for POST /api/v1/process.
type ProcessResponse struct {
	Success bool             `json:"success"`
	Results []*ContentResult `json:"results"`

	// Missing lists the requested URLs that produced no content.
	Missing []string `json:"missing,omitempty"`

	Timing TimingInfo   `json:"timing"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

// TimingInfo breaks down the time spent on a request.
type TimingInfo struct {
	TotalMs int64 `json:"total_ms"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status       string       `json:"status"` // "healthy" or "degraded"
	Uptime       string       `json:"uptime"`
	BrowserStats BrowserStats `json:"browser_stats"`
	Version      string       `json:"version"`
}

// BrowserStats reports the state of the shared browser session.
type BrowserStats struct {
	Started     bool `json:"started"`
	MaxPages    int  `json:"max_pages"`
	ActivePages int  `json:"active_pages"`
}
