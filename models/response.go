package models

// AnswerPolicy records whether the server produced a generated answer and why.
// It is present on every /ask response, including refusals.
type AnswerPolicy struct {
	Answered bool   `json:"answered"`
	Reason   string `json:"reason"`
}

// Policy reasons understood by the UI.
const (
	ReasonSufficientRetrieval = "sufficient_retrieval"
	ReasonNoRelevantDocuments = "no_relevant_documents_above_threshold"
)

// Citation links one numbered evidence passage back to its source chunk.
// RefNum matches the [n] numbering embedded in the generation prompt.
type Citation struct {
	RefNum     int     `json:"ref_num"`
	SourceName string  `json:"source_name"`
	SourcePath string  `json:"source_path"`
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
	Excerpt    string  `json:"excerpt,omitempty"`
}

// RetrievalInfo summarizes what the retrieval gate saw for this question.
type RetrievalInfo struct {
	TopK       int     `json:"top_k"`
	MinScore   float64 `json:"min_score"`
	Used       int     `json:"used"`
	TotalFound int     `json:"total_found"`
}

// AskResponse is the body of POST /ask.
type AskResponse struct {
	Model     string        `json:"model"`
	Answer    string        `json:"answer"`
	Citations []Citation    `json:"citations"`
	Retrieval RetrievalInfo `json:"retrieval"`
	Policy    AnswerPolicy  `json:"policy"`
}

// SourceCount is one row of POST /qdrant_counts_by_source.
type SourceCount struct {
	SourceName string `json:"source_name"`
	Chunks     int    `json:"chunks"`
}
