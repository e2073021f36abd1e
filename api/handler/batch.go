package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/use-agent/glimpse/models"
	"github.com/use-agent/glimpse/webhook"
)

// Notifier delivers batch completion events. *webhook.Sender implements it.
type Notifier interface {
	DeliverAsync(url, secret string, event *webhook.Event) <-chan struct{}
}

// Batches holds all in-flight and completed batch jobs.
type Batches struct {
	ctx      context.Context
	proc     Processor
	notifier Notifier
	jobs     sync.Map
	running  sync.WaitGroup
	maxAge   time.Duration
	now      func() time.Time
}

// NewBatches creates a job store. Jobs run under ctx, not the request that
// submitted them, and are cancelled when it is done. Finished jobs are kept
// for an hour.
func NewBatches(ctx context.Context, proc Processor, notifier Notifier) *Batches {
	return &Batches{
		ctx:      ctx,
		proc:     proc,
		notifier: notifier,
		maxAge:   time.Hour,
		now:      time.Now,
	}
}

// Wait blocks until every running job has finished.
func (b *Batches) Wait() {
	b.running.Wait()
}

// Sweep expires old jobs every interval until ctx is done.
func (b *Batches) Sweep(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.expire()
		}
	}
}

func (b *Batches) expire() {
	cutoff := b.now().Add(-b.maxAge).Unix()
	b.jobs.Range(func(key, value any) bool {
		if value.(*models.BatchJob).Age() < cutoff {
			b.jobs.Delete(key)
		}
		return true
	})
}

// Post returns a handler for POST /api/v1/batch. It registers the job and
// processes it in the background.
func (b *Batches) Post() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.BatchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}

		job := &models.BatchJob{
			ID:        "batch-" + uuid.NewString(),
			Status:    models.BatchProcessing,
			Total:     len(req.URLs),
			CreatedAt: b.now().Unix(),
		}
		b.jobs.Store(job.ID, job)

		b.running.Go(func() { b.run(job, req) })

		c.JSON(http.StatusAccepted, models.BatchResponse{
			ID:     job.ID,
			Status: models.BatchProcessing,
			Total:  job.Total,
		})
	}
}

// Get returns a handler for GET /api/v1/batch/:id.
func (b *Batches) Get() gin.HandlerFunc {
	return func(c *gin.Context) {
		val, ok := b.jobs.Load(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{
				"error": models.ErrorDetail{
					Code:    models.ErrCodeNotFound,
					Message: "batch job not found",
				},
			})
			return
		}
		c.JSON(http.StatusOK, val.(*models.BatchJob).Snapshot())
	}
}

// run processes a job detached from the request that created it.
func (b *Batches) run(job *models.BatchJob, req models.BatchRequest) {
	start := time.Now()
	contents := b.proc.ProcessAll(b.ctx, req.URLs)
	results, missing := collect(req.URLs, contents, req.IncludeScreenshots)
	job.Finish(results, missing)

	snap := job.Snapshot()
	slog.Info("batch job finished",
		"id", snap.ID,
		"status", snap.Status,
		"succeeded", len(results),
		"missing", len(missing),
		"total", snap.Total,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if req.WebhookURL != "" && b.notifier != nil {
		b.notifier.DeliverAsync(req.WebhookURL, req.WebhookSecret, &webhook.Event{
			Type:      "batch." + snap.Status,
			JobID:     snap.ID,
			Timestamp: b.now().Unix(),
			Data:      snap,
		})
	}
}
