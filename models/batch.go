package models

import "sync"

// Batch job states.
const (
	BatchProcessing = "processing"
	BatchCompleted  = "completed"
	BatchPartial    = "partial"
	BatchFailed     = "failed"
)

// BatchResponse is the immediate response for POST /api/v1/batch.
type BatchResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Total  int    `json:"total"`
}

// BatchStatusResponse is the response for GET /api/v1/batch/:id.
type BatchStatusResponse struct {
	ID        string           `json:"id"`
	Status    string           `json:"status"`
	Completed int              `json:"completed"`
	Total     int              `json:"total"`
	Results   []*ContentResult `json:"results,omitempty"`
	Missing   []string         `json:"missing,omitempty"`
}

// BatchJob tracks an asynchronous batch. Fields are guarded by mu because
// the runner writes while pollers read.
type BatchJob struct {
	mu        sync.Mutex
	ID        string
	Status    string
	Total     int
	Completed int
	Results   []*ContentResult
	Missing   []string
	CreatedAt int64 // unix timestamp
}

// Snapshot returns a consistent copy of the job for serialization.
func (j *BatchJob) Snapshot() BatchStatusResponse {
	j.mu.Lock()
	defer j.mu.Unlock()
	return BatchStatusResponse{
		ID:        j.ID,
		Status:    j.Status,
		Completed: j.Completed,
		Total:     j.Total,
		Results:   append([]*ContentResult(nil), j.Results...),
		Missing:   append([]string(nil), j.Missing...),
	}
}

// Finish records the final results and status.
func (j *BatchJob) Finish(results []*ContentResult, missing []string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Results = results
	j.Missing = missing
	j.Completed = j.Total
	switch {
	case len(results) == 0:
		j.Status = BatchFailed
	case len(missing) > 0:
		j.Status = BatchPartial
	default:
		j.Status = BatchCompleted
	}
}

// Age reports the creation time for expiry sweeps.
func (j *BatchJob) Age() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.CreatedAt
}
