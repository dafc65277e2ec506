package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github/dantive/regbot/vectorstore"
)

// IndexStore is the vector-store surface ingestion needs.
type IndexStore interface {
	EnsureCollection(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, points []vectorstore.Point) error
	Scroll(ctx context.Context, req vectorstore.ScrollRequest) (vectorstore.ScrollPage, error)
	DeleteByFilter(ctx context.Context, filter *vectorstore.Filter) error
}

// IndexingConfig drives one ingestion run.
type IndexingConfig struct {
	DataDir         string
	EmbedModel      string
	ChunkSize       int
	ChunkOverlap    int
	BatchSize       int
	ExcerptMaxChars int
	Resume          bool
}

// RunSummary is the final accounting of an ingestion run. ChunksPlanned
// minus ChunksEmbedded minus ChunksResumed is the unresolved count when a run
// is interrupted or files fail mid-way.
type RunSummary struct {
	FilesScanned   int
	FilesSkipped   int
	FilesFailed    int
	ChunksPlanned  int
	ChunksEmbedded int
	ChunksResumed  int
	PointsUpserted int
	Elapsed        time.Duration
}

// IndexingService scans a directory, chunks and embeds its files, and
// upserts the result into the vector store with content-addressed ids.
type IndexingService struct {
	store    IndexStore
	embedder Embedder
	cfg      IndexingConfig

	// Global progress counter. Files are processed sequentially today, but
	// the per-file unit of work is independent; the counter stays atomic so a
	// bounded worker pool can share it.
	processed atomic.Int64
}

func NewIndexingService(store IndexStore, embedder Embedder, cfg IndexingConfig) (*IndexingService, error) {
	// Surface invalid chunk parameters at construction, not file by file.
	if _, err := ChunkText("x", cfg.ChunkSize, cfg.ChunkOverlap); err != nil {
		return nil, err
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	return &IndexingService{store: store, embedder: embedder, cfg: cfg}, nil
}

// ScanFiles returns every supported file under dir, sorted for a stable
// processing order.
func (s *IndexingService) ScanFiles(dir string) ([]string, error) {
	var paths []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && IsSupportedFile(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

type filePlan struct {
	path   string
	chunks []string
}

// IngestAll runs the whole pipeline over the data directory. Per-file
// failures are logged and never abort the run; the summary always reflects an
// accurate processed/planned count.
func (s *IndexingService) IngestAll(ctx context.Context) (*RunSummary, error) {
	if err := s.store.EnsureCollection(ctx, ModelDimension(s.cfg.EmbedModel)); err != nil {
		return nil, fmt.Errorf("ensure collection: %w", err)
	}

	files, err := s.ScanFiles(s.cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", s.cfg.DataDir, err)
	}
	summary := &RunSummary{FilesScanned: len(files)}
	if len(files) == 0 {
		log.Printf("INDEXER: no files found in %s", s.cfg.DataDir)
		return summary, nil
	}
	log.Printf("INDEXER: found %d files under %s, embedding with %s", len(files), s.cfg.DataDir, s.cfg.EmbedModel)

	// First pass: read and chunk everything so the total amount of work is
	// known before the first embedding call.
	var plans []filePlan
	for _, path := range files {
		log.Printf("INDEXER: [READ] %s", path)
		text, err := ExtractTextFromFile(path)
		if err != nil {
			log.Printf("INDEXER: [SKIP] %s: %v", path, err)
			summary.FilesSkipped++
			continue
		}
		chunks, err := ChunkText(NormalizeWhitespace(text), s.cfg.ChunkSize, s.cfg.ChunkOverlap)
		if err != nil {
			return nil, err
		}
		if len(chunks) == 0 {
			log.Printf("INDEXER: [SKIP] %s: no text extracted", path)
			summary.FilesSkipped++
			continue
		}
		plans = append(plans, filePlan{path: path, chunks: chunks})
		summary.ChunksPlanned += len(chunks)
	}
	if summary.ChunksPlanned == 0 {
		log.Println("INDEXER: no chunks to embed")
		return summary, nil
	}
	log.Printf("INDEXER: prepared %d chunks from %d files", summary.ChunksPlanned, len(plans))

	// Second pass: embed and upsert with a global progress/ETA line.
	s.processed.Store(0)
	start := time.Now()
	for _, plan := range plans {
		upserted, embedded, resumed, err := s.ingestPlanned(ctx, plan, summary.ChunksPlanned, start)
		// Partial counts from a failed file still landed and must stay in
		// the accounting.
		summary.PointsUpserted += upserted
		summary.ChunksEmbedded += embedded
		summary.ChunksResumed += resumed
		if err != nil {
			log.Printf("INDEXER: [FAIL] %s: %v", plan.path, err)
			summary.FilesFailed++
		}
	}
	summary.Elapsed = time.Since(start)
	return summary, nil
}

// IngestFile processes a single file end to end. Used by the watcher; resume
// keeps it incremental.
func (s *IndexingService) IngestFile(ctx context.Context, path string) error {
	text, err := ExtractTextFromFile(path)
	if err != nil {
		return err
	}
	chunks, err := ChunkText(NormalizeWhitespace(text), s.cfg.ChunkSize, s.cfg.ChunkOverlap)
	if err != nil {
		return err
	}
	if len(chunks) == 0 {
		return &ExtractError{Path: path, Err: errors.New("no text extracted")}
	}
	_, _, _, err = s.ingestPlanned(ctx, filePlan{path: path, chunks: chunks}, len(chunks), time.Now())
	return err
}

// ingestPlanned embeds the pending chunks of one file and upserts them in
// batches. Chunks already present for this file digest are skipped.
func (s *IndexingService) ingestPlanned(ctx context.Context, plan filePlan, totalPlanned int, globalStart time.Time) (upserted, embedded, resumed int, err error) {
	digest, err := FileSHA1(plan.path)
	if err != nil {
		return 0, 0, 0, &ExtractError{Path: plan.path, Err: err}
	}

	var existing map[int]struct{}
	if s.cfg.Resume {
		existing = s.existingChunkIndexes(ctx, digest)
	}

	fileStart := time.Now()
	now := time.Now().Unix()
	absPath, err := filepath.Abs(plan.path)
	if err != nil {
		absPath = plan.path
	}

	var batch []vectorstore.Point
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := s.store.Upsert(ctx, batch); err != nil {
			return fmt.Errorf("upsert batch: %w", err)
		}
		upserted += len(batch)
		batch = batch[:0]
		return nil
	}

	for idx, chunk := range plan.chunks {
		if _, ok := existing[idx]; ok {
			resumed++
			s.progress(totalPlanned, globalStart)
			continue
		}

		// One outstanding embedding call at a time; the embedding service
		// enforces its own per-attempt timeout and retry budget.
		vec, err := s.embedder.Embed(ctx, chunk)
		if err != nil {
			return upserted, embedded, resumed, err
		}
		embedded++

		batch = append(batch, vectorstore.Point{
			ID:     PointID(digest, idx),
			Vector: vec,
			Payload: vectorstore.Payload{
				SourcePath: absPath,
				SourceName: filepath.Base(plan.path),
				FileSHA1:   digest,
				ChunkIndex: idx,
				CreatedAt:  now,
				Text:       TruncateExcerpt(chunk, s.cfg.ExcerptMaxChars),
			},
		})
		if len(batch) >= s.cfg.BatchSize {
			if err := flush(); err != nil {
				return upserted, embedded, resumed, err
			}
		}
		s.progress(totalPlanned, globalStart)
	}
	if err := flush(); err != nil {
		return upserted, embedded, resumed, err
	}

	fileElapsed := time.Since(fileStart)
	rate := 0.0
	if fileElapsed > 0 {
		rate = float64(embedded) / fileElapsed.Seconds()
	}
	log.Printf("INDEXER: [OK] %s: %d embedded, %d resumed, %d upserted in %s (%.1f ch/s)",
		plan.path, embedded, resumed, upserted, formatDuration(fileElapsed), rate)
	return upserted, embedded, resumed, nil
}

// progress bumps the global counter and logs a throughput/ETA line every 25
// chunks and at completion.
func (s *IndexingService) progress(totalPlanned int, start time.Time) {
	processed := int(s.processed.Add(1))
	if processed%25 != 0 && processed != totalPlanned {
		return
	}
	elapsed := time.Since(start)
	if elapsed <= 0 {
		return
	}
	rate := float64(processed) / elapsed.Seconds()
	remaining := totalPlanned - processed
	eta := time.Duration(0)
	if rate > 0 {
		eta = time.Duration(float64(remaining)/rate) * time.Second
	}
	log.Printf("INDEXER: %d/%d chunks | %.1f ch/s | ETA %s", processed, totalPlanned, rate, formatDuration(eta))
}

// existingChunkIndexes scans the store for chunks already persisted under
// this file digest. A lookup failure degrades to "nothing known": resume is
// an optimization and must never block ingestion.
func (s *IndexingService) existingChunkIndexes(ctx context.Context, digest string) map[int]struct{} {
	existing := make(map[int]struct{})
	req := vectorstore.ScrollRequest{
		Filter: vectorstore.MatchValue("file_sha1", digest),
		Limit:  1000,
	}
	for {
		page, err := s.store.Scroll(ctx, req)
		if err != nil {
			log.Printf("INDEXER: resume lookup failed for %s, re-embedding everything: %v", digest, err)
			return map[int]struct{}{}
		}
		for _, p := range page.Points {
			existing[p.Payload.ChunkIndex] = struct{}{}
		}
		if page.NextOffset == nil {
			return existing
		}
		req.Offset = page.NextOffset
	}
}

// DeleteFile removes every point ingested from the given path.
func (s *IndexingService) DeleteFile(ctx context.Context, path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}
	return s.store.DeleteByFilter(ctx, vectorstore.MatchValue("source_path", absPath))
}

// WatchDirectory keeps the index in sync with the data directory until the
// context is cancelled. Create/write events re-ingest the file (resume skips
// unchanged chunks); remove/rename events drop its points.
func (s *IndexingService) WatchDirectory(ctx context.Context, dirPath string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dirPath); err != nil {
		return fmt.Errorf("watch %s: %w", dirPath, err)
	}
	log.Printf("WATCHER: watching directory %s", dirPath)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !IsSupportedFile(event.Name) {
				continue
			}
			// Editors often write via a temp file and rename, so Create and
			// Write are handled identically.
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				log.Printf("WATCHER: %s changed, re-ingesting", event.Name)
				if err := s.IngestFile(ctx, event.Name); err != nil {
					log.Printf("WATCHER: failed to ingest %s: %v", event.Name, err)
				}
			} else if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				log.Printf("WATCHER: %s removed, dropping its points", event.Name)
				if err := s.DeleteFile(ctx, event.Name); err != nil {
					log.Printf("WATCHER: failed to delete points for %s: %v", event.Name, err)
				}
			}
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("WATCHER: error: %v", werr)
		case <-ctx.Done():
			log.Println("WATCHER: context cancelled, shutting down")
			return ctx.Err()
		}
	}
}

func formatDuration(d time.Duration) string {
	seconds := int(d.Seconds())
	h := seconds / 3600
	m := (seconds % 3600) / 60
	sec := seconds % 60
	if h > 0 {
		return fmt.Sprintf("%dh %dm %ds", h, m, sec)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, sec)
	}
	return fmt.Sprintf("%ds", sec)
}
