package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/glimpse/models"
	"github.com/use-agent/glimpse/webhook"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeProcessor succeeds for every URL not listed in fail.
type fakeProcessor struct {
	fail map[string]bool
}

func (f *fakeProcessor) ProcessAll(_ context.Context, urls []string) []*models.ScrapedContent {
	out := make([]*models.ScrapedContent, len(urls))
	for i, u := range urls {
		if f.fail[u] {
			continue
		}
		out[i] = &models.ScrapedContent{
			URL:         models.ResolvedURL{Original: u, Resolved: u},
			Title:       "T " + u,
			TextContent: "text",
			Screenshot:  []byte{0x89, 'P', 'N', 'G'},
			Media:       []models.ScrapedMedia{},
		}
	}
	return out
}

func (f *fakeProcessor) ProcessGroundingURLs(ctx context.Context, urls []string) []*models.ScrapedContent {
	var out []*models.ScrapedContent
	for _, c := range f.ProcessAll(ctx, urls) {
		if c != nil {
			out = append(out, c)
		}
	}
	return out
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []*webhook.Event
	urls   []string
	done   chan struct{}
}

func (n *fakeNotifier) DeliverAsync(url, _ string, ev *webhook.Event) <-chan struct{} {
	n.mu.Lock()
	n.events = append(n.events, ev)
	n.urls = append(n.urls, url)
	n.mu.Unlock()
	ch := make(chan struct{})
	close(ch)
	if n.done != nil {
		close(n.done)
	}
	return ch
}

func postJSON(t *testing.T, h gin.HandlerFunc, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	r := gin.New()
	r.POST(path, h)
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func TestProcess_PartialSuccess(t *testing.T) {
	proc := &fakeProcessor{fail: map[string]bool{"https://b.test": true}}
	w := postJSON(t, Process(proc), "/process", models.ProcessRequest{
		URLs: []string{"https://a.test", "https://b.test", "https://c.test"},
	})

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Success bool             `json:"success"`
		Results []map[string]any `json:"results"`
		Missing []string         `json:"missing"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "T https://a.test", resp.Results[0]["title"])
	assert.NotContains(t, resp.Results[0], "screenshot")
	assert.Equal(t, []string{"https://b.test"}, resp.Missing)
}

func TestProcess_IncludeScreenshots(t *testing.T) {
	w := postJSON(t, Process(&fakeProcessor{}), "/process", models.ProcessRequest{
		URLs:               []string{"https://a.test"},
		IncludeScreenshots: true,
	})

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Results []map[string]any `json:"results"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "iVBORw==", resp.Results[0]["screenshot"])
}

func TestProcess_AllFailed(t *testing.T) {
	proc := &fakeProcessor{fail: map[string]bool{"https://a.test": true}}
	w := postJSON(t, Process(proc), "/process", models.ProcessRequest{URLs: []string{"https://a.test"}})

	assert.Equal(t, http.StatusBadGateway, w.Code)
	var resp models.ProcessResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	require.NotNil(t, resp.Error)
	assert.Equal(t, models.ErrCodeNavigation, resp.Error.Code)
	assert.Equal(t, []string{"https://a.test"}, resp.Missing)
}

func TestProcess_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		body any
	}{
		{"empty list", map[string]any{"urls": []string{}}},
		{"missing urls", map[string]any{}},
		{"not a url", map[string]any{"urls": []string{"not a url"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(t, Process(&fakeProcessor{}), "/process", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestMapErrorToStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{models.ErrCodeTimeout, http.StatusGatewayTimeout},
		{models.ErrCodeNavigation, http.StatusBadGateway},
		{models.ErrCodeCapture, http.StatusBadGateway},
		{models.ErrCodeInvalidInput, http.StatusBadRequest},
		{models.ErrCodeNotFound, http.StatusNotFound},
		{models.ErrCodeRateLimited, http.StatusTooManyRequests},
		{models.ErrCodeUnauthorized, http.StatusUnauthorized},
		{models.ErrCodeInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, mapErrorToStatus(models.NewScrapeError(tt.code, "x", nil)), tt.code)
	}
}

type fixedStats models.BrowserStats

func (s fixedStats) Stats() models.BrowserStats { return models.BrowserStats(s) }

func TestHealth(t *testing.T) {
	tests := []struct {
		name  string
		stats models.BrowserStats
		want  string
	}{
		{"idle", models.BrowserStats{Started: true, MaxPages: 10, ActivePages: 2}, "healthy"},
		{"busy", models.BrowserStats{Started: true, MaxPages: 10, ActivePages: 9}, "degraded"},
		{"not started", models.BrowserStats{}, "healthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := gin.New()
			r.GET("/health", Health(fixedStats(tt.stats), time.Now()))
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

			require.Equal(t, http.StatusOK, w.Code)
			var resp models.HealthResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.want, resp.Status)
			assert.Equal(t, tt.stats, resp.BrowserStats)
			assert.Equal(t, Version, resp.Version)
		})
	}
}

func newBatchRouter(b *Batches) *gin.Engine {
	r := gin.New()
	r.POST("/batch", b.Post())
	r.GET("/batch/:id", b.Get())
	return r
}

func waitForStatus(t *testing.T, r *gin.Engine, id string) models.BatchStatusResponse {
	t.Helper()
	var snap models.BatchStatusResponse
	require.Eventually(t, func() bool {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/batch/"+id, nil))
		if w.Code != http.StatusOK {
			return false
		}
		if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil {
			return false
		}
		return snap.Status != models.BatchProcessing
	}, 2*time.Second, 10*time.Millisecond)
	return snap
}

func TestBatch_Lifecycle(t *testing.T) {
	notifier := &fakeNotifier{done: make(chan struct{})}
	b := NewBatches(context.Background(), &fakeProcessor{fail: map[string]bool{"https://b.test": true}}, notifier)
	r := newBatchRouter(b)

	raw, _ := json.Marshal(models.BatchRequest{
		URLs:          []string{"https://a.test", "https://b.test"},
		WebhookURL:    "https://hooks.test/glimpse",
		WebhookSecret: "k",
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/batch", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	var created models.BatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	assert.Contains(t, created.ID, "batch-")
	assert.Equal(t, 2, created.Total)

	snap := waitForStatus(t, r, created.ID)
	assert.Equal(t, models.BatchPartial, snap.Status)
	assert.Equal(t, 2, snap.Completed)
	assert.Len(t, snap.Results, 1)
	assert.Equal(t, []string{"https://b.test"}, snap.Missing)

	select {
	case <-notifier.done:
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not sent")
	}
	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.events, 1)
	assert.Equal(t, "batch.partial", notifier.events[0].Type)
	assert.Equal(t, created.ID, notifier.events[0].JobID)
	assert.Equal(t, "https://hooks.test/glimpse", notifier.urls[0])
}

func TestBatch_NoWebhook(t *testing.T) {
	notifier := &fakeNotifier{}
	b := NewBatches(context.Background(), &fakeProcessor{}, notifier)
	r := newBatchRouter(b)

	raw, _ := json.Marshal(models.BatchRequest{URLs: []string{"https://a.test"}})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/batch", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	var created models.BatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	snap := waitForStatus(t, r, created.ID)
	assert.Equal(t, models.BatchCompleted, snap.Status)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	assert.Empty(t, notifier.events)
}

func TestBatch_UnknownID(t *testing.T) {
	r := newBatchRouter(NewBatches(context.Background(), &fakeProcessor{}, nil))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/batch/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestBatch_Expire(t *testing.T) {
	b := NewBatches(context.Background(), &fakeProcessor{}, nil)
	now := time.Unix(10_000, 0)
	b.now = func() time.Time { return now }

	b.jobs.Store("old", &models.BatchJob{ID: "old", CreatedAt: now.Add(-2 * time.Hour).Unix()})
	b.jobs.Store("new", &models.BatchJob{ID: "new", CreatedAt: now.Add(-time.Minute).Unix()})
	b.expire()

	_, oldOK := b.jobs.Load("old")
	_, newOK := b.jobs.Load("new")
	assert.False(t, oldOK)
	assert.True(t, newOK)
}

// blockingProcessor holds every job until its context is done.
type blockingProcessor struct {
	started chan struct{}
}

func (p *blockingProcessor) ProcessAll(ctx context.Context, urls []string) []*models.ScrapedContent {
	close(p.started)
	<-ctx.Done()
	return make([]*models.ScrapedContent, len(urls))
}

func TestBatch_StopsWithOwnerContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc := &blockingProcessor{started: make(chan struct{})}
	b := NewBatches(ctx, proc, nil)
	r := newBatchRouter(b)

	raw, _ := json.Marshal(models.BatchRequest{URLs: []string{"https://a.test"}})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/batch", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusAccepted, w.Code)

	select {
	case <-proc.started:
	case <-time.After(2 * time.Second):
		t.Fatal("job never started")
	}

	cancel()
	done := make(chan struct{})
	go func() {
		b.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("job outlived its context")
	}

	var created models.BatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	snap := waitForStatus(t, r, created.ID)
	assert.Equal(t, models.BatchFailed, snap.Status)
}

func TestGround_DropsUnreachableSources(t *testing.T) {
	proc := &fakeProcessor{fail: map[string]bool{"https://b.test": true}}
	w := postJSON(t, Ground(proc), "/ground", models.ProcessRequest{
		URLs: []string{"https://a.test", "https://b.test", "https://c.test"},
	})

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		Success bool             `json:"success"`
		Results []map[string]any `json:"results"`
		Missing []string         `json:"missing"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "T https://a.test", resp.Results[0]["title"])
	assert.Equal(t, "T https://c.test", resp.Results[1]["title"])
	assert.Empty(t, resp.Missing)
}

func TestGround_NothingReachableIsStillOK(t *testing.T) {
	proc := &fakeProcessor{fail: map[string]bool{"https://a.test": true}}
	w := postJSON(t, Ground(proc), "/ground", models.ProcessRequest{URLs: []string{"https://a.test"}})

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"results":[]`)
}

func TestGround_InvalidInput(t *testing.T) {
	w := postJSON(t, Ground(&fakeProcessor{}), "/ground", map[string]any{"urls": []string{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
