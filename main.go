package main

import (
	"log"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github/dantive/regbot/config"
	"github/dantive/regbot/controller"
	"github/dantive/regbot/services"
	"github/dantive/regbot/vectorstore"
)

func main() {
	cfg := config.Load()
	services.InitPDFLicense(cfg.UnidocLicenseKey)

	// Embedding and generation get separate clients: embedding calls are
	// short and retried, generation holds a connection open for as long as
	// the model takes to answer.
	embedClient := newHTTPClient(cfg.ConnectTimeout, cfg.EmbedTimeout)
	generateClient := newHTTPClient(cfg.ConnectTimeout, cfg.ReadTimeout)
	probeClient := newHTTPClient(cfg.ConnectTimeout, 3*time.Second)

	store := vectorstore.NewClient(vectorstore.Config{
		URL:        cfg.QdrantURL,
		Collection: cfg.Collection,
		Timeout:    30 * time.Second,
	})

	embedder := services.NewEmbeddingService(embedClient, cfg.OllamaURL, cfg.EmbedModel, services.RetryPolicy{
		MaxAttempts: cfg.EmbedRetries,
		BaseDelay:   cfg.EmbedBackoff,
	})
	generator := services.NewGenerationService(generateClient, cfg.OllamaURL)
	ragService := services.NewRAGService(embedder, store, generator, services.GateConfig{
		TopK:         cfg.TopK,
		MinScore:     cfg.MinScore,
		MinDocs:      cfg.MinDocs,
		DefaultModel: cfg.DefaultModel,
	})
	ragController := controller.NewRAGController(ragService, store, probeClient, cfg.OllamaURL)

	router := gin.Default()

	// CORS + request id middleware.
	router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		requestID := uuid.NewString()
		c.Header("X-Request-ID", requestID)
		c.Set("request_id", requestID)
		c.Next()
	})

	router.GET("/health", ragController.Health)
	router.POST("/ask", ragController.Ask)
	router.POST("/ask_stream", ragController.AskStream)
	router.GET("/debug/retrieve", ragController.DebugRetrieve)
	router.POST("/qdrant_scroll", ragController.QdrantScroll)
	router.POST("/qdrant_counts_by_source", ragController.CountsBySource)

	log.Printf("SERVER: regulatory RAG API listening on :%s (collection=%s, model=%s)",
		cfg.Port, cfg.Collection, cfg.DefaultModel)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatalf("FATAL: server exited: %v", err)
	}
}

// newHTTPClient builds a client with a connect timeout separate from the
// total read timeout.
func newHTTPClient(connectTimeout, readTimeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: readTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout: connectTimeout,
			}).DialContext,
		},
	}
}
