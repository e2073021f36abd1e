package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/glimpse/models"
)

// GroundingProcessor fetches the sources behind a search-grounded answer.
// *orchestrator.Orchestrator implements it.
type GroundingProcessor interface {
	// ProcessGroundingURLs returns the successful results in input order.
	ProcessGroundingURLs(ctx context.Context, urls []string) []*models.ScrapedContent
}

// Ground returns a handler for POST /api/v1/ground.
//
// Grounding sources are best effort: unreachable URLs are dropped rather
// than reported, and an empty result set is still a 200.
func Ground(proc GroundingProcessor) gin.HandlerFunc {
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

		contents := proc.ProcessGroundingURLs(c.Request.Context(), req.URLs)
		results := make([]*models.ContentResult, 0, len(contents))
		for _, content := range contents {
			results = append(results, models.NewContentResult(content, req.IncludeScreenshots))
		}

		c.JSON(http.StatusOK, models.ProcessResponse{
			Success: true,
			Results: results,
			Timing:  models.TimingInfo{TotalMs: time.Since(start).Milliseconds()},
		})
	}
}
