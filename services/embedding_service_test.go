package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github/dantive/regbot/models"
)

func TestEmbedRetriesTransientErrorsWithBackoff(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req models.OllamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)

		if hits.Add(1) < 3 {
			http.Error(w, "overloaded", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(models.OllamaEmbedResponse{Embedding: []float32{0.1, 0.2}})
	}))
	defer server.Close()

	var slept []time.Duration
	svc := NewEmbeddingService(server.Client(), server.URL, "nomic-embed-text", RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   10 * time.Millisecond,
		Sleep:       func(d time.Duration) { slept = append(slept, d) },
	})

	vec, err := svc.Embed(context.Background(), "some chunk")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, vec)
	assert.EqualValues(t, 3, hits.Load())
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, slept)
}

func TestEmbedExhaustedRetries(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "still down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	svc := NewEmbeddingService(server.Client(), server.URL, "nomic-embed-text", RetryPolicy{
		MaxAttempts: 2,
		BaseDelay:   time.Millisecond,
		Sleep:       func(time.Duration) {},
	})

	_, err := svc.Embed(context.Background(), "some chunk")
	var embErr *EmbeddingError
	require.ErrorAs(t, err, &embErr)
	assert.Equal(t, 2, embErr.Attempts)
	assert.EqualValues(t, 2, hits.Load())
}

func TestEmbedMalformedSuccessIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"unexpected":"shape"}`))
	}))
	defer server.Close()

	svc := NewEmbeddingService(server.Client(), server.URL, "nomic-embed-text", RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		Sleep:       func(time.Duration) {},
	})

	_, err := svc.Embed(context.Background(), "some chunk")
	var embErr *EmbeddingError
	require.ErrorAs(t, err, &embErr)
	assert.Equal(t, 1, embErr.Attempts, "a malformed success must fail immediately")
	assert.EqualValues(t, 1, hits.Load())
}

func TestEmbedClientErrorIsNotRetried(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "model 'no-such-model' not found", http.StatusNotFound)
	}))
	defer server.Close()

	svc := NewEmbeddingService(server.Client(), server.URL, "no-such-model", RetryPolicy{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		Sleep:       func(time.Duration) {},
	})

	_, err := svc.Embed(context.Background(), "some chunk")
	var embErr *EmbeddingError
	require.ErrorAs(t, err, &embErr)
	assert.Equal(t, 1, embErr.Attempts, "a 4xx must fail immediately")
	assert.EqualValues(t, 1, hits.Load())
}

func TestRetryPolicyBackoffDoubles(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond}
	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 400*time.Millisecond, p.Backoff(3))
}
