package services

import (
	"errors"
	"fmt"
)

// ConfigError reports an invalid chunking or retrieval configuration. It is
// fatal at startup.
type ConfigError struct {
	Msg string
}

func (e *ConfigError) Error() string { return "config error: " + e.Msg }

// ExtractError reports an unreadable or unsupported source file. The
// ingestion run skips the file and continues.
type ExtractError struct {
	Path string
	Err  error
}

func (e *ExtractError) Error() string { return fmt.Sprintf("extract %s: %v", e.Path, e.Err) }
func (e *ExtractError) Unwrap() error { return e.Err }

// EmbeddingError reports an embedding call that exhausted its retry budget,
// or returned a malformed success. It aborts the current file only.
type EmbeddingError struct {
	Attempts int
	Err      error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed after %d attempt(s): %v", e.Attempts, e.Err)
}
func (e *EmbeddingError) Unwrap() error { return e.Err }

// ErrMalformedResponse marks a generation response with the wrong shape, as
// opposed to a transport failure. The usual cause is an upstream that
// defaulted to streaming because the stream flag was omitted.
var ErrMalformedResponse = errors.New("malformed upstream response")
