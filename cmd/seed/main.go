package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github/dantive/regbot/config"
	"github/dantive/regbot/services"
	"github/dantive/regbot/vectorstore"
)

// seed is the batch ingestion job: it embeds every supported file under the
// data directory into the vector store, resumably, and prints a run summary.
func main() {
	cfg := config.Load()

	dataDir := flag.String("data-dir", cfg.DataDir, "directory to scan for .pdf/.txt/.md files")
	chunkSize := flag.Int("chunk-size", cfg.ChunkSize, "chunk window size in characters")
	chunkOverlap := flag.Int("chunk-overlap", cfg.ChunkOverlap, "overlap between consecutive chunks")
	batchSize := flag.Int("batch-size", cfg.BatchSize, "points per upsert batch")
	resume := flag.Bool("resume", cfg.Resume, "skip chunks already present for an unchanged file")
	retries := flag.Int("embed-retries", cfg.EmbedRetries, "max embedding attempts per chunk")
	watch := flag.Bool("watch", false, "after the initial run, watch the data directory for changes")
	flag.Parse()

	services.InitPDFLicense(cfg.UnidocLicenseKey)

	store := vectorstore.NewClient(vectorstore.Config{
		URL:        cfg.QdrantURL,
		Collection: cfg.Collection,
		Timeout:    30 * time.Second,
	})
	embedder := services.NewEmbeddingService(
		&http.Client{
			Timeout: cfg.EmbedTimeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
			},
		},
		cfg.OllamaURL, cfg.EmbedModel,
		services.RetryPolicy{MaxAttempts: *retries, BaseDelay: cfg.EmbedBackoff},
	)

	indexer, err := services.NewIndexingService(store, embedder, services.IndexingConfig{
		DataDir:         *dataDir,
		EmbedModel:      cfg.EmbedModel,
		ChunkSize:       *chunkSize,
		ChunkOverlap:    *chunkOverlap,
		BatchSize:       *batchSize,
		ExcerptMaxChars: cfg.ExcerptMaxChars,
		Resume:          *resume,
	})
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	summary, err := indexer.IngestAll(ctx)
	if err != nil {
		log.Fatalf("FATAL: ingestion run failed: %v", err)
	}

	log.Println("INDEXER: done.")
	log.Printf("INDEXER: files scanned=%d skipped=%d failed=%d", summary.FilesScanned, summary.FilesSkipped, summary.FilesFailed)
	log.Printf("INDEXER: chunks planned=%d embedded=%d resumed=%d, points upserted=%d in %s",
		summary.ChunksPlanned, summary.ChunksEmbedded, summary.ChunksResumed, summary.PointsUpserted, summary.Elapsed.Round(time.Second))
	if unresolved := summary.ChunksPlanned - summary.ChunksEmbedded - summary.ChunksResumed; unresolved > 0 {
		log.Printf("INDEXER: warning: %d chunks unprocessed", unresolved)
	}

	if *watch {
		if err := indexer.WatchDirectory(ctx, *dataDir); err != nil && ctx.Err() == nil {
			log.Fatalf("FATAL: watcher failed: %v", err)
		}
	}
}
