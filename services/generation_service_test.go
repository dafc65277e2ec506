package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github/dantive/regbot/models"
)

func generateRequest(prompt string) models.OllamaGenerateRequest {
	return models.OllamaGenerateRequest{
		Model:   "mistral:7b-instruct",
		Prompt:  prompt,
		Options: models.OllamaOptions{Temperature: 0.2, TopP: 0.9},
	}
}

func TestGenerateNonStreaming(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req models.OllamaGenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream, "non-streaming mode must set the flag explicitly")
		fmt.Fprintln(w, `{"response":"Article 57 lists the criteria. [^1]","done":true}`)
	}))
	defer server.Close()

	svc := NewGenerationService(server.Client(), server.URL)
	answer, err := svc.Generate(context.Background(), generateRequest("q"))
	require.NoError(t, err)
	assert.Equal(t, "Article 57 lists the criteria. [^1]", answer)
}

func TestGenerateRejectsMultiLineBody(t *testing.T) {
	// The shape an upstream produces when it streamed anyway.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"Art","done":false}`)
		fmt.Fprintln(w, `{"response":"icle","done":false}`)
		fmt.Fprintln(w, `{"response":"","done":true}`)
	}))
	defer server.Close()

	svc := NewGenerationService(server.Client(), server.URL)
	_, err := svc.Generate(context.Background(), generateRequest("q"))
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestGenerateRejectsGarbageBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html>bad gateway</html>")
	}))
	defer server.Close()

	svc := NewGenerationService(server.Client(), server.URL)
	_, err := svc.Generate(context.Background(), generateRequest("q"))
	require.ErrorIs(t, err, ErrMalformedResponse)
}

func TestGenerateSurfacesTransportStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	svc := NewGenerationService(server.Client(), server.URL)
	_, err := svc.Generate(context.Background(), generateRequest("q"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformedResponse, "a transport failure is not a malformed response")
}

func TestGenerateStreamRelaysFragmentsAndStopsAtDone(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req models.OllamaGenerateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Stream)

		fmt.Fprintln(w, `{"response":"A","done":false}`)
		fmt.Fprintln(w, `{"response":"","done":false}`)
		fmt.Fprintln(w, `{"response":"B","done":true}`)
		// Anything after done must never reach the caller.
		fmt.Fprintln(w, `{"response":"C","done":false}`)
	}))
	defer server.Close()

	svc := NewGenerationService(server.Client(), server.URL)
	var fragments []string
	err := svc.GenerateStream(context.Background(), generateRequest("q"), func(f string) error {
		fragments = append(fragments, f)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, fragments)
}

func TestGenerateStreamPassesUnparsableLinesThrough(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"response":"A","done":false}`)
		fmt.Fprintln(w, `not json at all`)
		fmt.Fprintln(w, `{"response":"B","done":true}`)
	}))
	defer server.Close()

	svc := NewGenerationService(server.Client(), server.URL)
	var fragments []string
	err := svc.GenerateStream(context.Background(), generateRequest("q"), func(f string) error {
		fragments = append(fragments, f)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "not json at all", "B"}, fragments)
}

func TestGenerateStreamSurfacesMidStreamFailureInline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		fmt.Fprintln(w, `{"response":"partial","done":false}`)
		w.(http.Flusher).Flush()
		// Abort the connection without a terminating chunk so the client
		// sees a mid-stream transport failure.
		panic(http.ErrAbortHandler)
	}))
	defer server.Close()

	svc := NewGenerationService(server.Client(), server.URL)
	var fragments []string
	err := svc.GenerateStream(context.Background(), generateRequest("q"), func(f string) error {
		fragments = append(fragments, f)
		return nil
	})
	require.NoError(t, err, "a mid-stream failure terminates the relay gracefully")
	require.NotEmpty(t, fragments)
	assert.Equal(t, "partial", fragments[0])
	assert.Contains(t, fragments[len(fragments)-1], "[stream error:")
}
