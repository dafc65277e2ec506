package models

// RetrievalResult is a read-only projection of a stored point plus the
// similarity score returned by the vector store for one query.
type RetrievalResult struct {
	Score      float64 `json:"score"`
	SourceName string  `json:"source_name"`
	SourcePath string  `json:"source_path"`
	ChunkIndex int     `json:"chunk_index"`
	Text       string  `json:"text"`
}
