package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github/dantive/regbot/models"
)

// Embedder converts text into a fixed-dimension vector. The dimension is
// fixed per model and must match the collection's configured size.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// RetryPolicy bounds the embedding retry loop. Sleep is injectable so tests
// can substitute a recording no-op for real waiting.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Sleep       func(time.Duration)
}

// Backoff returns the exponential delay before the given retry: BaseDelay
// doubled once per completed attempt.
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

func (p RetryPolicy) sleep(d time.Duration) {
	if p.Sleep != nil {
		p.Sleep(d)
		return
	}
	time.Sleep(d)
}

// EmbeddingService calls the Ollama embeddings endpoint with bounded retries.
type EmbeddingService struct {
	httpClient *http.Client
	baseURL    string
	model      string
	retry      RetryPolicy
}

func NewEmbeddingService(client *http.Client, baseURL, model string, retry RetryPolicy) *EmbeddingService {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = 1
	}
	return &EmbeddingService{
		httpClient: client,
		baseURL:    baseURL,
		model:      model,
		retry:      retry,
	}
}

// Embed returns the embedding vector for one text. Transport and server
// errors are retried with exponential backoff; a malformed success body is
// not transient and fails immediately.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	var lastErr error
	for attempt := 1; attempt <= s.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := s.retry.Backoff(attempt - 1)
			log.Printf("EMBED: attempt %d/%d after %s (last error: %v)", attempt, s.retry.MaxAttempts, delay, lastErr)
			s.retry.sleep(delay)
		}

		vec, retryable, err := s.embedOnce(ctx, text)
		if err == nil {
			return vec, nil
		}
		if !retryable {
			return nil, &EmbeddingError{Attempts: attempt, Err: err}
		}
		lastErr = err
	}
	return nil, &EmbeddingError{Attempts: s.retry.MaxAttempts, Err: lastErr}
}

func (s *EmbeddingService) embedOnce(ctx context.Context, text string) (vec []float32, retryable bool, err error) {
	reqBody, err := json.Marshal(models.OllamaEmbedRequest{
		Model:  s.model,
		Prompt: text,
	})
	if err != nil {
		return nil, false, fmt.Errorf("marshal embed request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/embeddings", bytes.NewReader(reqBody))
	if err != nil {
		return nil, false, fmt.Errorf("create embed request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, true, fmt.Errorf("call ollama embeddings api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		// Only server errors are transient; a 4xx (unknown model, bad
		// request) will not heal with retries.
		retryable := resp.StatusCode >= 500
		return nil, retryable, fmt.Errorf("ollama embeddings api status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var embedResp models.OllamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, false, fmt.Errorf("decode embeddings response: %w", err)
	}
	if len(embedResp.Embedding) == 0 {
		return nil, false, fmt.Errorf("embeddings response contained no vector")
	}
	return embedResp.Embedding, false, nil
}

// ModelDimension maps known Ollama embedding models to their vector sizes.
// Unknown models default to 768.
func ModelDimension(model string) int {
	switch model {
	case "nomic-embed-text":
		return 768
	case "mxbai-embed-large", "snowflake-arctic-embed":
		return 1024
	case "bge-small-en":
		return 384
	case "bge-base-en":
		return 768
	default:
		return 768
	}
}
