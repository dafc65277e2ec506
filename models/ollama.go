package models

// OllamaEmbedRequest is the body of POST {OLLAMA_URL}/api/embeddings.
type OllamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// OllamaEmbedResponse carries the embedding vector back from Ollama.
type OllamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// OllamaOptions are the generation knobs forwarded to Ollama.
type OllamaOptions struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

// OllamaGenerateRequest is the body of POST {OLLAMA_URL}/api/generate.
// Stream must be set explicitly: Ollama defaults to incremental output, and a
// non-streaming caller that omits the flag gets a multi-line body back.
type OllamaGenerateRequest struct {
	Model   string        `json:"model"`
	Prompt  string        `json:"prompt"`
	Stream  bool          `json:"stream"`
	Options OllamaOptions `json:"options"`
}

// OllamaGenerateChunk is one record of the /api/generate output: the whole
// body when stream=false, or one NDJSON line when stream=true.
type OllamaGenerateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}
