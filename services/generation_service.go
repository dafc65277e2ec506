package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github/dantive/regbot/models"
)

// Generator produces text from a prompt, either as one response or as a
// relayed stream of fragments.
type Generator interface {
	Generate(ctx context.Context, req models.OllamaGenerateRequest) (string, error)
	GenerateStream(ctx context.Context, req models.OllamaGenerateRequest, emit func(fragment string) error) error
}

// GenerationService calls the Ollama generate endpoint. The injected client
// carries the long read timeout generation needs; it is separate from the
// embedding client on purpose.
type GenerationService struct {
	httpClient *http.Client
	baseURL    string
}

func NewGenerationService(client *http.Client, baseURL string) *GenerationService {
	return &GenerationService{httpClient: client, baseURL: baseURL}
}

// Generate performs a non-streaming call. The response body must be exactly
// one JSON object; a multi-line NDJSON body means the upstream streamed
// anyway and is reported as ErrMalformedResponse, never as partial text.
func (s *GenerationService) Generate(ctx context.Context, req models.OllamaGenerateRequest) (string, error) {
	req.Stream = false
	resp, err := s.post(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	dec := json.NewDecoder(resp.Body)
	var chunk models.OllamaGenerateChunk
	if err := dec.Decode(&chunk); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("%w: body contained more than one object", ErrMalformedResponse)
	}
	return chunk.Response, nil
}

// GenerateStream performs a streaming call and forwards each non-empty
// fragment to emit, one at a time, stopping at the first record with
// done=true. Lines that are not valid chunk records are passed through
// verbatim. A transport failure mid-stream is surfaced as one final inline
// error fragment so the caller's stream ends cleanly instead of hanging.
func (s *GenerationService) GenerateStream(ctx context.Context, req models.OllamaGenerateRequest, emit func(fragment string) error) error {
	req.Stream = true
	resp, err := s.post(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var chunk models.OllamaGenerateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			// Unknown lines reach the caller unmodified.
			if err := emit(string(line)); err != nil {
				return err
			}
			continue
		}
		if chunk.Response != "" {
			if err := emit(chunk.Response); err != nil {
				return err
			}
		}
		if chunk.Done {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		// Closing the body on return releases the upstream connection; the
		// client sees a terminal marker instead of an abrupt disconnect.
		_ = emit(fmt.Sprintf("\n[stream error: %v]", err))
	}
	return nil
}

func (s *GenerationService) post(ctx context.Context, req models.OllamaGenerateRequest) (*http.Response, error) {
	reqBody, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal generate request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/generate", bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create generate request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call ollama generate api: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		return nil, fmt.Errorf("ollama generate api status %d: %s", resp.StatusCode, string(bodyBytes))
	}
	return resp, nil
}
