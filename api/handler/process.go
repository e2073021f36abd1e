package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/glimpse/models"
)

// Processor runs the URL pipeline. *orchestrator.Orchestrator implements it.
type Processor interface {
	// ProcessAll returns one entry per input URL, nil where the URL failed.
	ProcessAll(ctx context.Context, urls []string) []*models.ScrapedContent
}

// Process returns a handler for POST /api/v1/process.
//
// Every URL is processed before the response is written. URLs that produced
// nothing are listed under "missing"; the request only fails outright when
// none of them did.
func Process(proc Processor) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		var req models.ProcessRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.ProcessResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}

		contents := proc.ProcessAll(c.Request.Context(), req.URLs)
		results, missing := collect(req.URLs, contents, req.IncludeScreenshots)
		timing := models.TimingInfo{TotalMs: time.Since(start).Milliseconds()}

		if len(results) == 0 {
			respondError(c, models.NewScrapeError(models.ErrCodeNavigation, "no URL produced content", nil), missing, timing)
			return
		}

		c.JSON(http.StatusOK, models.ProcessResponse{
			Success: true,
			Results: results,
			Missing: missing,
			Timing:  timing,
		})
	}
}

// collect splits index-aligned pipeline output into API results and the
// URLs that produced nothing.
func collect(urls []string, contents []*models.ScrapedContent, withScreenshots bool) ([]*models.ContentResult, []string) {
	results := make([]*models.ContentResult, 0, len(contents))
	var missing []string
	for i, content := range contents {
		if content == nil {
			missing = append(missing, urls[i])
			continue
		}
		results = append(results, models.NewContentResult(content, withScreenshots))
	}
	return results, missing
}

// respondError maps a ScrapeError to the correct HTTP status code and writes
// a structured JSON error response.
func respondError(c *gin.Context, err error, missing []string, timing models.TimingInfo) {
	var scrapeErr *models.ScrapeError
	if !errors.As(err, &scrapeErr) {
		scrapeErr = models.NewScrapeError(models.ErrCodeInternal, err.Error(), err)
	}

	c.JSON(mapErrorToStatus(scrapeErr), models.ProcessResponse{
		Success: false,
		Results: []*models.ContentResult{},
		Missing: missing,
		Error:   scrapeErr.ToDetail(),
		Timing:  timing,
	})
}

// mapErrorToStatus translates error codes to HTTP status codes.
func mapErrorToStatus(e *models.ScrapeError) int {
	switch e.Code {
	case models.ErrCodeTimeout:
		return http.StatusGatewayTimeout // 504
	case models.ErrCodeNavigation, models.ErrCodeCapture:
		return http.StatusBadGateway // 502
	case models.ErrCodeInvalidInput:
		return http.StatusBadRequest // 400
	case models.ErrCodeNotFound:
		return http.StatusNotFound // 404
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized // 401
	default:
		return http.StatusInternalServerError // 500
	}
}
