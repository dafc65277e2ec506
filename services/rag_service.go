package services

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github/dantive/regbot/models"
	"github/dantive/regbot/vectorstore"
)

// SearchStore is the similarity-search surface the query path needs from the
// vector store.
type SearchStore interface {
	Search(ctx context.Context, vector []float32, limit int) ([]vectorstore.ScoredPoint, error)
}

// GateConfig holds the retrieval-gate thresholds and generation defaults.
type GateConfig struct {
	TopK         int
	MinScore     float64
	MinDocs      int
	DefaultModel string
}

// RAGService answers questions from retrieved passages, refusing when the
// evidence is too thin.
type RAGService interface {
	Ask(ctx context.Context, req models.AskRequest) (*models.AskResponse, error)
	AskStream(ctx context.Context, req models.AskRequest, emit func(fragment string) error) error
	Retrieve(ctx context.Context, question string, topK int) ([]models.RetrievalResult, error)
}

type ragServiceImpl struct {
	embedder  Embedder
	store     SearchStore
	generator Generator
	cfg       GateConfig
}

func NewRAGService(embedder Embedder, store SearchStore, generator Generator, cfg GateConfig) RAGService {
	return &ragServiceImpl{
		embedder:  embedder,
		store:     store,
		generator: generator,
		cfg:       cfg,
	}
}

// Retrieve embeds the question and returns the raw top-K hits, unfiltered.
// Used by the gate and exposed directly on /debug/retrieve.
func (r *ragServiceImpl) Retrieve(ctx context.Context, question string, topK int) ([]models.RetrievalResult, error) {
	if topK <= 0 {
		topK = r.cfg.TopK
	}
	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}
	hits, err := r.store.Search(ctx, vec, topK)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	results := make([]models.RetrievalResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, models.RetrievalResult{
			Score:      h.Score,
			SourceName: h.Payload.SourceName,
			SourcePath: h.Payload.SourcePath,
			ChunkIndex: h.Payload.ChunkIndex,
			Text:       h.Payload.Text,
		})
	}
	return results, nil
}

type gateDecision struct {
	eligible   []models.RetrievalResult
	totalFound int
	proceed    bool
}

// gate applies the score threshold and minimum-documents policy. An error
// here is an upstream failure (embedding or search), never a refusal.
func (r *ragServiceImpl) gate(ctx context.Context, question string) (gateDecision, error) {
	results, err := r.Retrieve(ctx, question, r.cfg.TopK)
	if err != nil {
		return gateDecision{}, err
	}

	eligible := make([]models.RetrievalResult, 0, len(results))
	for _, res := range results {
		if res.Score >= r.cfg.MinScore {
			eligible = append(eligible, res)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool { return eligible[i].Score > eligible[j].Score })
	if len(eligible) > r.cfg.TopK {
		eligible = eligible[:r.cfg.TopK]
	}

	decision := gateDecision{
		eligible:   eligible,
		totalFound: len(results),
		proceed:    len(eligible) >= r.cfg.MinDocs,
	}
	if !decision.proceed {
		log.Printf("GATE: refusing, %d/%d hits above min_score=%.2f (need %d)",
			len(eligible), len(results), r.cfg.MinScore, r.cfg.MinDocs)
	}
	return decision, nil
}

// BuildCitations maps eligible results, already in descending-score order, to
// citations whose ref_num is exactly their 1-based position. The numbering
// matches the [n] evidence block produced by BuildRAGPrompt from the same
// slice.
func BuildCitations(eligible []models.RetrievalResult) []models.Citation {
	citations := make([]models.Citation, 0, len(eligible))
	for i, res := range eligible {
		citations = append(citations, models.Citation{
			RefNum:     i + 1,
			SourceName: res.SourceName,
			SourcePath: res.SourcePath,
			ChunkIndex: res.ChunkIndex,
			Score:      res.Score,
			Excerpt:    res.Text,
		})
	}
	return citations
}

// Ask runs the full gated pipeline: retrieve, decide, generate, cite.
func (r *ragServiceImpl) Ask(ctx context.Context, req models.AskRequest) (*models.AskResponse, error) {
	model, err := r.resolveModel(req)
	if err != nil {
		return nil, err
	}

	decision, err := r.gate(ctx, req.Prompt)
	if err != nil {
		return nil, err
	}

	retrieval := models.RetrievalInfo{
		TopK:       r.cfg.TopK,
		MinScore:   r.cfg.MinScore,
		Used:       len(decision.eligible),
		TotalFound: decision.totalFound,
	}

	if !decision.proceed {
		return &models.AskResponse{
			Model:     model,
			Answer:    RefusalText,
			Citations: []models.Citation{},
			Retrieval: retrieval,
			Policy: models.AnswerPolicy{
				Answered: false,
				Reason:   models.ReasonNoRelevantDocuments,
			},
		}, nil
	}

	prompt := BuildRAGPrompt(req.Prompt, decision.eligible)
	answer, err := r.generator.Generate(ctx, buildGenerateRequest(model, prompt, req))
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	return &models.AskResponse{
		Model:     model,
		Answer:    answer,
		Citations: BuildCitations(decision.eligible),
		Retrieval: retrieval,
		Policy: models.AnswerPolicy{
			Answered: true,
			Reason:   models.ReasonSufficientRetrieval,
		},
	}, nil
}

// AskStream runs the same gate, then relays generation fragments to emit.
// A refusal is delivered as a single fragment.
func (r *ragServiceImpl) AskStream(ctx context.Context, req models.AskRequest, emit func(fragment string) error) error {
	model, err := r.resolveModel(req)
	if err != nil {
		return err
	}

	decision, err := r.gate(ctx, req.Prompt)
	if err != nil {
		return err
	}
	if !decision.proceed {
		return emit(RefusalText)
	}

	prompt := BuildRAGPrompt(req.Prompt, decision.eligible)
	return r.generator.GenerateStream(ctx, buildGenerateRequest(model, prompt, req), emit)
}

func (r *ragServiceImpl) resolveModel(req models.AskRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = r.cfg.DefaultModel
	}
	if model == "" {
		return "", &ConfigError{Msg: "no model specified and no default model configured"}
	}
	return model, nil
}

func buildGenerateRequest(model, prompt string, req models.AskRequest) models.OllamaGenerateRequest {
	options := models.OllamaOptions{Temperature: 0.2, TopP: 0.9}
	if req.Temperature != nil {
		options.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		options.TopP = *req.TopP
	}
	if req.MaxTokens != nil {
		options.NumPredict = *req.MaxTokens
	}
	return models.OllamaGenerateRequest{
		Model:   model,
		Prompt:  prompt,
		Options: options,
	}
}
