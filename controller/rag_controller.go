package controller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"

	"github/dantive/regbot/models"
	"github/dantive/regbot/services"
	"github/dantive/regbot/vectorstore"
)

// StoreInspector is the read-only vector-store surface the inspection
// endpoints need.
type StoreInspector interface {
	Ready(ctx context.Context) error
	Scroll(ctx context.Context, req vectorstore.ScrollRequest) (vectorstore.ScrollPage, error)
	Count(ctx context.Context, exact bool) (int, error)
}

// RAGController handles the HTTP surface: the ask endpoints plus the
// inspection helpers the UI uses.
type RAGController struct {
	ragService  services.RAGService
	store       StoreInspector
	probeClient *http.Client
	ollamaURL   string
}

func NewRAGController(ragService services.RAGService, store StoreInspector, probeClient *http.Client, ollamaURL string) *RAGController {
	return &RAGController{
		ragService:  ragService,
		store:       store,
		probeClient: probeClient,
		ollamaURL:   ollamaURL,
	}
}

// Health reports per-collaborator status. The API itself answering counts as
// "ok"; qdrant and ollama are probed with short timeouts.
func (c *RAGController) Health(ctx *gin.Context) {
	status := gin.H{"api": "ok"}

	if err := c.store.Ready(ctx.Request.Context()); err != nil {
		status["qdrant"] = fmt.Sprintf("err:%v", err)
	} else {
		status["qdrant"] = "ok"
	}

	req, err := http.NewRequestWithContext(ctx.Request.Context(), http.MethodGet, c.ollamaURL+"/api/tags", nil)
	if err == nil {
		resp, probeErr := c.probeClient.Do(req)
		if probeErr != nil {
			status["ollama"] = fmt.Sprintf("err:%v", probeErr)
		} else {
			resp.Body.Close()
			if resp.StatusCode < 300 {
				status["ollama"] = "ok"
			} else {
				status["ollama"] = fmt.Sprintf("err:%d", resp.StatusCode)
			}
		}
	} else {
		status["ollama"] = fmt.Sprintf("err:%v", err)
	}

	ctx.JSON(http.StatusOK, status)
}

// Ask is the handler for POST /ask. A refusal is a successful response with
// policy.answered=false; only upstream failures map to error statuses.
func (c *RAGController) Ask(ctx *gin.Context) {
	var req models.AskRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	response, err := c.ragService.Ask(ctx.Request.Context(), req)
	if err != nil {
		var cfgErr *services.ConfigError
		if errors.As(err, &cfgErr) {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": cfgErr.Error()})
			return
		}
		ctx.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("upstream request failed: %v", err)})
		return
	}
	ctx.JSON(http.StatusOK, response)
}

// AskStream is the handler for POST /ask_stream. It relays plain-text
// fragments as they arrive so clients can render incrementally.
func (c *RAGController) AskStream(ctx *gin.Context) {
	var req models.AskRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	written := false
	emit := func(fragment string) error {
		if !written {
			ctx.Header("Content-Type", "text/plain; charset=utf-8")
			written = true
		}
		if _, err := ctx.Writer.WriteString(fragment); err != nil {
			return err
		}
		ctx.Writer.Flush()
		return nil
	}

	if err := c.ragService.AskStream(ctx.Request.Context(), req, emit); err != nil && !written {
		var cfgErr *services.ConfigError
		if errors.As(err, &cfgErr) {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": cfgErr.Error()})
			return
		}
		ctx.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("upstream request failed: %v", err)})
	}
}

// DebugRetrieve is the handler for GET /debug/retrieve: raw top-K hits with
// no threshold applied, for tuning min_score.
func (c *RAGController) DebugRetrieve(ctx *gin.Context) {
	qtext := ctx.Query("qtext")
	if qtext == "" {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "qtext is required"})
		return
	}
	topK, _ := strconv.Atoi(ctx.DefaultQuery("top_k", "10"))

	results, err := c.ragService.Retrieve(ctx.Request.Context(), qtext, topK)
	if err != nil {
		ctx.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("retrieval failed: %v", err)})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"query": qtext, "top_k": topK, "results": results})
}

// QdrantScroll is the handler for POST /qdrant_scroll: sample stored
// payloads, optionally filtered by source_name.
func (c *RAGController) QdrantScroll(ctx *gin.Context) {
	var req models.ScrollRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}
	if req.Limit <= 0 {
		req.Limit = 5
	}

	scroll := vectorstore.ScrollRequest{Limit: req.Limit}
	if req.SourceName != "" {
		scroll.Filter = vectorstore.MatchValue("source_name", req.SourceName)
	}
	page, err := c.store.Scroll(ctx.Request.Context(), scroll)
	if err != nil {
		ctx.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("scroll failed: %v", err)})
		return
	}

	payloads := make([]vectorstore.Payload, 0, len(page.Points))
	for _, p := range page.Points {
		payloads = append(payloads, p.Payload)
	}
	ctx.JSON(http.StatusOK, gin.H{"count": len(payloads), "payloads": payloads})
}

// CountsBySource is the handler for POST /qdrant_counts_by_source: a full
// cursor scan aggregating chunk counts per source file, top 20 descending.
func (c *RAGController) CountsBySource(ctx *gin.Context) {
	counts := make(map[string]int)
	req := vectorstore.ScrollRequest{Limit: 1000}
	for {
		page, err := c.store.Scroll(ctx.Request.Context(), req)
		if err != nil {
			ctx.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("scroll failed: %v", err)})
			return
		}
		for _, p := range page.Points {
			name := p.Payload.SourceName
			if name == "" {
				name = "<unknown>"
			}
			counts[name]++
		}
		if page.NextOffset == nil {
			break
		}
		req.Offset = page.NextOffset
	}

	rows := make([]models.SourceCount, 0, len(counts))
	for name, n := range counts {
		rows = append(rows, models.SourceCount{SourceName: name, Chunks: n})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Chunks != rows[j].Chunks {
			return rows[i].Chunks > rows[j].Chunks
		}
		return rows[i].SourceName < rows[j].SourceName
	})
	if len(rows) > 20 {
		rows = rows[:20]
	}

	total, err := c.store.Count(ctx.Request.Context(), false)
	if err != nil {
		total = -1
	}
	ctx.JSON(http.StatusOK, gin.H{"total_points": total, "sources": rows})
}
