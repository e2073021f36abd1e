package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliver_SignsBody(t *testing.T) {
	var gotSig, gotUA string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotUA = r.Header.Get("User-Agent")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	ev := &Event{Type: "batch.completed", JobID: "b-1", Timestamp: 42, Data: map[string]int{"total": 3}}
	err := NewSender().Deliver(context.Background(), srv.URL, "s3cret", ev)
	require.NoError(t, err)

	assert.Equal(t, Sign("s3cret", gotBody), gotSig)
	assert.Equal(t, "Glimpse-Webhook/1.0", gotUA)

	var decoded Event
	require.NoError(t, json.Unmarshal(gotBody, &decoded))
	assert.Equal(t, "b-1", decoded.JobID)
}

func TestDeliver_NoSecretNoSignature(t *testing.T) {
	var hadSig atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hadSig.Store(r.Header.Get(SignatureHeader) != "")
	}))
	defer srv.Close()

	require.NoError(t, NewSender().Deliver(context.Background(), srv.URL, "", &Event{Type: "batch.completed"}))
	assert.False(t, hadSig.Load())
}

func TestDeliver_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := NewSender().Deliver(context.Background(), srv.URL, "", &Event{})
	assert.ErrorContains(t, err, "status 502")
}

func TestDeliverAsync_RetriesUntilSuccess(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSender()
	s.delays = []time.Duration{0, time.Millisecond, time.Millisecond, time.Millisecond}

	select {
	case <-s.DeliverAsync(srv.URL, "k", &Event{Type: "batch.completed"}):
	case <-time.After(5 * time.Second):
		t.Fatal("delivery did not finish")
	}
	assert.Equal(t, int32(3), hits.Load())
}

func TestSign(t *testing.T) {
	assert.Equal(t,
		"sha256=a777724d943eb48dc69bca8a4a6d57a04db3f9ec7e1de4e581e860265bdf3032",
		Sign("key", []byte("{}")),
	)
}
