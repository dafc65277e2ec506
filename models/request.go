package models

// AskRequest is the body of POST /ask and POST /ask_stream.
type AskRequest struct {
	Prompt      string   `json:"prompt" binding:"required,min=1"`
	Model       string   `json:"model,omitempty"`
	Temperature *float64 `json:"temperature,omitempty" binding:"omitempty,gte=0,lte=2"`
	TopP        *float64 `json:"top_p,omitempty" binding:"omitempty,gte=0,lte=1"`
	MaxTokens   *int     `json:"max_tokens,omitempty" binding:"omitempty,gte=1"`
}

// ScrollRequest is the body of POST /qdrant_scroll.
type ScrollRequest struct {
	Limit      int    `json:"limit"`
	SourceName string `json:"source_name,omitempty"`
}
