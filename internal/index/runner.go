// Package index reads agreement documents and indexes them: normalization,
// structure chunking, persistence to the document store and lexical index,
// and chunk embedding into the vector store.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/JCHanratty/CASearch/internal/chunk"
	"github.com/JCHanratty/CASearch/internal/embed"
	caserrors "github.com/JCHanratty/CASearch/internal/errors"
	"github.com/JCHanratty/CASearch/internal/normalize"
	"github.com/JCHanratty/CASearch/internal/store"
	"github.com/JCHanratty/CASearch/internal/telemetry"
	"github.com/JCHanratty/CASearch/internal/ui"
)

// ErrNilDependency is returned by NewRunner when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// RunnerConfig configures an indexing run.
type RunnerConfig struct {
	// Force re-indexes documents that are unchanged since their last run.
	Force bool

	// Workers bounds concurrent reading and chunking (default: NumCPU).
	Workers int

	// EmbedBatchSize is the number of chunks per embedding request
	// (default: embed.DefaultBatchSize).
	EmbedBatchSize int

	// EmbedWorkers bounds concurrent embedding requests per document (default: 2).
	EmbedWorkers int

	// MaxFileSize skips larger sources (default: DefaultMaxFileSize).
	MaxFileSize int64

	// VectorPath, when set, is where the vector store is saved after the run.
	VectorPath string
}

// DocumentError records a document that could not be indexed.
type DocumentError struct {
	Path string
	Err  error
}

// RunnerResult contains the outcome of an indexing operation.
type RunnerResult struct {
	Documents int // Indexed in this run
	Skipped   int // Unchanged and not forced
	Failed    int
	Pages     int
	Chunks    int
	Vectors   int
	Duration  time.Duration
	Errors    []DocumentError
}

// RunnerDependencies contains the injected dependencies for Runner.
type RunnerDependencies struct {
	// Docs persists documents, pages and chunks (required).
	Docs store.DocumentStore

	// Lexical is a separately maintained lexical index, such as Bleve.
	// Nil when the document store's own FTS tables serve lexical search.
	Lexical store.LexicalWriter

	// Vectors and Embedder enable semantic indexing. Either may be nil,
	// in which case chunks are not embedded.
	Vectors  store.VectorStore
	Embedder embed.Embedder

	// Renderer for progress display (default: ui.NopRenderer).
	Renderer ui.Renderer

	// Metrics records index counters and store gauges (optional).
	Metrics *telemetry.Metrics

	// Normalizer cleans page text (default: normalize.New()).
	Normalizer *normalize.Normalizer

	// Chunker splits normalized pages (default: chunk.NewStructureChunker()).
	Chunker chunk.Chunker
}

// Runner executes indexing operations with progress reporting.
type Runner struct {
	docs       store.DocumentStore
	lexical    store.LexicalWriter
	vectors    store.VectorStore
	embedder   embed.Embedder
	renderer   ui.Renderer
	metrics    *telemetry.Metrics
	normalizer *normalize.Normalizer
	chunker    chunk.Chunker

	semantic atomic.Bool
}

// NewRunner creates a Runner with injected dependencies.
func NewRunner(deps RunnerDependencies) (*Runner, error) {
	if deps.Docs == nil {
		return nil, fmt.Errorf("%w: document store is required", ErrNilDependency)
	}

	r := &Runner{
		docs:       deps.Docs,
		lexical:    deps.Lexical,
		vectors:    deps.Vectors,
		embedder:   deps.Embedder,
		renderer:   deps.Renderer,
		metrics:    deps.Metrics,
		normalizer: deps.Normalizer,
		chunker:    deps.Chunker,
	}
	if r.renderer == nil {
		r.renderer = ui.NopRenderer{}
	}
	if r.normalizer == nil {
		r.normalizer = normalize.New()
	}
	if r.chunker == nil {
		r.chunker = chunk.NewStructureChunker()
	}
	r.semantic.Store(r.vectors != nil && r.embedder != nil)
	return r, nil
}

// stageTiming tracks duration for each indexing stage. Fields are
// nanoseconds, summed across workers.
type stageTiming struct {
	read  atomic.Int64
	chunk atomic.Int64
	store atomic.Int64
	embed atomic.Int64
}

func (t *stageTiming) snapshot() ui.StageTimings {
	return ui.StageTimings{
		Read:  time.Duration(t.read.Load()),
		Chunk: time.Duration(t.chunk.Load()),
		Store: time.Duration(t.store.Load()),
		Embed: time.Duration(t.embed.Load()),
	}
}

// job is one source file moving through the pipeline.
type job struct {
	path     string
	doc      *store.Document
	prepared *Prepared
	err      error
}

// Run indexes the sources found under paths. A document that fails moves
// to the error status and the run continues; Run itself fails only when
// sources cannot be collected or ctx is cancelled.
func (r *Runner) Run(ctx context.Context, paths []string, cfg RunnerConfig) (*RunnerResult, error) {
	start := time.Now()
	cfg = applyRunnerDefaults(cfg)
	var timing stageTiming

	r.renderer.UpdateProgress(ui.ProgressEvent{Stage: ui.StageReading, Message: "Collecting documents..."})
	files, err := CollectSources(paths)
	if err != nil {
		return nil, err
	}
	slog.Info("index_started", slog.Int("sources", len(files)), slog.Bool("force", cfg.Force))

	result := &RunnerResult{}
	jobs, err := r.register(ctx, files, cfg.Force, result)
	if err != nil {
		return nil, err
	}

	// Stage 1: read, normalize and chunk in parallel. Per-document failures
	// are kept on the job so one bad file does not cancel the others.
	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for _, j := range jobs {
		g.Go(func() error {
			if err := r.docs.SetStatus(gctx, j.doc.ID, store.StatusIndexing, ""); err != nil {
				j.err = err
				return nil
			}
			j.prepared, j.err = r.prepare(gctx, j.path, cfg.MaxFileSize, &timing)
			if gctx.Err() != nil {
				return gctx.Err()
			}
			r.renderer.UpdateProgress(ui.ProgressEvent{
				Stage:    ui.StageChunking,
				Current:  int(done.Add(1)),
				Total:    len(jobs),
				Document: filepath.Base(j.path),
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		r.abandon(jobs)
		return nil, fmt.Errorf("indexing interrupted: %w", err)
	}

	// Stage 2: persist and embed, one document at a time.
	for i, j := range jobs {
		if err := ctx.Err(); err != nil {
			r.abandon(jobs[i:])
			return nil, fmt.Errorf("indexing interrupted: %w", err)
		}

		r.renderer.UpdateProgress(ui.ProgressEvent{
			Stage:    ui.StageStoring,
			Current:  i + 1,
			Total:    len(jobs),
			Document: j.doc.Name,
		})

		docStart := time.Now()
		vectors, err := r.commit(ctx, j, cfg, &timing)
		r.metrics.ObserveIndex(time.Since(docStart), err)
		if err != nil {
			if ctx.Err() != nil {
				r.abandon(jobs[i:])
				return nil, fmt.Errorf("indexing interrupted: %w", ctx.Err())
			}
			r.fail(ctx, j.doc, j.path, err, result)
			continue
		}

		result.Documents++
		result.Pages += len(j.prepared.Pages)
		result.Chunks += len(j.prepared.Chunks)
		result.Vectors += vectors
		j.prepared = nil
	}

	if cfg.VectorPath != "" && r.vectors != nil && result.Documents > 0 {
		if err := r.vectors.Save(cfg.VectorPath); err != nil {
			return nil, caserrors.New(caserrors.ErrCodeIndexFailed, "failed to save vector store", err).
				WithDetail("path", cfg.VectorPath)
		}
	}
	r.refreshStoreStats(ctx)

	result.Duration = time.Since(start)
	stats := ui.CompletionStats{
		Documents: result.Documents,
		Skipped:   result.Skipped,
		Failed:    result.Failed,
		Pages:     result.Pages,
		Chunks:    result.Chunks,
		Vectors:   result.Vectors,
		Duration:  result.Duration,
		Stages:    timing.snapshot(),
	}
	if result.Vectors > 0 {
		stats.Embedder = ui.EmbedderInfo{Model: r.embedder.ModelName(), Dimensions: r.embedder.Dimensions()}
	}
	r.renderer.Complete(stats)

	slog.Info("index_complete",
		slog.Int("documents", result.Documents),
		slog.Int("skipped", result.Skipped),
		slog.Int("failed", result.Failed),
		slog.Int("pages", result.Pages),
		slog.Int("chunks", result.Chunks),
		slog.Int("vectors", result.Vectors),
		slog.Int64("duration_total_ms", result.Duration.Milliseconds()),
		slog.Int64("duration_read_ms", stats.Stages.Read.Milliseconds()),
		slog.Int64("duration_chunk_ms", stats.Stages.Chunk.Milliseconds()),
		slog.Int64("duration_store_ms", stats.Stages.Store.Milliseconds()),
		slog.Int64("duration_embed_ms", stats.Stages.Embed.Milliseconds()))

	return result, nil
}

func applyRunnerDefaults(cfg RunnerConfig) RunnerConfig {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = embed.DefaultBatchSize
	}
	if cfg.EmbedBatchSize > embed.MaxBatchSize {
		cfg.EmbedBatchSize = embed.MaxBatchSize
	}
	if cfg.EmbedWorkers <= 0 {
		cfg.EmbedWorkers = 2
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	return cfg
}

// register finds or creates the store document of every file and drops
// the ones that are already indexed and unchanged.
func (r *Runner) register(ctx context.Context, files []string, force bool, result *RunnerResult) ([]*job, error) {
	jobs := make([]*job, 0, len(files))
	for _, path := range files {
		doc, err := r.docs.FindDocumentByPath(ctx, path)
		switch {
		case errors.Is(err, store.ErrNotFound):
			doc, err = r.docs.CreateDocument(ctx, documentName(path), path)
			if err != nil {
				return nil, err
			}
		case err != nil:
			return nil, err
		default:
			if !force && unchanged(doc, path) {
				result.Skipped++
				slog.Debug("index_skip_unchanged", slog.String("path", path), slog.Int64("document_id", doc.ID))
				continue
			}
		}
		jobs = append(jobs, &job{path: path, doc: doc})
	}
	return jobs, nil
}

// unchanged reports whether doc was indexed after path was last modified.
func unchanged(doc *store.Document, path string) bool {
	if doc.Status != store.StatusIndexed {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.ModTime().After(doc.UpdatedAt)
}

func documentName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// fail moves a document to the error status and reports it.
func (r *Runner) fail(ctx context.Context, doc *store.Document, path string, cause error, result *RunnerResult) {
	result.Failed++
	result.Errors = append(result.Errors, DocumentError{Path: path, Err: cause})

	if err := r.docs.SetStatus(ctx, doc.ID, store.StatusError, cause.Error()); err != nil {
		slog.Warn("index_status_update_failed",
			slog.Int64("document_id", doc.ID),
			slog.String("error", err.Error()))
	}
	r.renderer.AddError(ui.ErrorEvent{Document: filepath.Base(path), Err: cause})
	slog.Warn("index_document_failed",
		slog.String("path", path),
		slog.Int64("document_id", doc.ID),
		slog.String("error", cause.Error()))
}

// abandon returns documents left in the indexing status to pending so a
// later run picks them up.
func (r *Runner) abandon(jobs []*job) {
	ctx := context.Background()
	for _, j := range jobs {
		if err := r.docs.SetStatus(ctx, j.doc.ID, store.StatusPending, ""); err != nil {
			slog.Debug("index_abandon_failed", slog.Int64("document_id", j.doc.ID), slog.String("error", err.Error()))
		}
	}
}

// prepare reads, normalizes and chunks one source.
func (r *Runner) prepare(ctx context.Context, path string, maxSize int64, timing *stageTiming) (*Prepared, error) {
	readStart := time.Now()
	src, err := ReadSource(path, maxSize)
	timing.read.Add(int64(time.Since(readStart)))
	if err != nil {
		return nil, err
	}

	chunkStart := time.Now()
	defer func() { timing.chunk.Add(int64(time.Since(chunkStart))) }()
	return Prepare(ctx, src, r.normalizer, r.chunker)
}

// commit writes one prepared document to every store and marks it indexed.
// It returns the number of vectors added.
func (r *Runner) commit(ctx context.Context, j *job, cfg RunnerConfig, timing *stageTiming) (int, error) {
	if j.err != nil {
		return 0, j.err
	}
	p := j.prepared
	id := j.doc.ID

	pages := make([]store.Page, len(p.Pages))
	for i, pg := range p.Pages {
		pg.DocumentID = id
		pages[i] = pg
	}
	chunks := make([]store.Chunk, len(p.Chunks))
	for i, c := range p.Chunks {
		c.DocumentID = id
		chunks[i] = c
	}

	storeStart := time.Now()
	if p.Name != "" && p.Name != j.doc.Name {
		if err := r.docs.RenameDocument(ctx, id, p.Name); err != nil {
			return 0, err
		}
		j.doc.Name = p.Name
	}
	if err := r.docs.ReplaceContent(ctx, id, pages, chunks); err != nil {
		return 0, caserrors.New(caserrors.ErrCodeIndexFailed, "failed to store document", err)
	}
	if r.lexical != nil {
		if err := r.lexical.IndexDocument(ctx, id, pages, chunks); err != nil {
			return 0, caserrors.New(caserrors.ErrCodeIndexFailed, "failed to update lexical index", err)
		}
	}
	if r.vectors != nil {
		if err := deleteDocumentVectors(ctx, r.vectors, id); err != nil {
			return 0, caserrors.New(caserrors.ErrCodeIndexFailed, "failed to remove stale vectors", err)
		}
	}
	timing.store.Add(int64(time.Since(storeStart)))

	vectors := 0
	if r.semantic.Load() && len(chunks) > 0 {
		embedStart := time.Now()
		n, err := r.embedChunks(ctx, j.doc.Name, chunks, cfg)
		timing.embed.Add(int64(time.Since(embedStart)))
		switch {
		case ctx.Err() != nil:
			return 0, ctx.Err()
		case err != nil:
			// Lexical search still covers the document.
			r.degradeSemantic(j.doc, err)
		default:
			vectors = n
		}
	}

	if err := r.docs.SetStatus(ctx, id, store.StatusIndexed, ""); err != nil {
		return 0, err
	}
	slog.Debug("index_document_complete",
		slog.Int64("document_id", id),
		slog.String("name", j.doc.Name),
		slog.Int("pages", len(pages)),
		slog.Int("chunks", len(chunks)),
		slog.Int("vectors", vectors))
	return vectors, nil
}

// degradeSemantic reports a document whose chunks could not be embedded.
// When the embedder is unavailable altogether, semantic indexing is turned
// off for the rest of the run.
func (r *Runner) degradeSemantic(doc *store.Document, err error) {
	r.renderer.AddError(ui.ErrorEvent{
		Document: doc.Name,
		Err:      fmt.Errorf("chunks not embedded, semantic search will miss this document: %w", err),
		IsWarn:   true,
	})
	slog.Warn("index_embedding_failed",
		slog.Int64("document_id", doc.ID),
		slog.String("error", err.Error()))

	if errors.Is(err, embed.ErrUnavailable) || caserrors.GetCode(err) == caserrors.ErrCodeCircuitOpen {
		r.semantic.Store(false)
		slog.Warn("index_semantic_disabled", slog.String("reason", err.Error()))
	}
}

// embedChunks embeds chunks in batches and adds them to the vector store
// keyed by chunk ref. Batches run concurrently up to cfg.EmbedWorkers.
func (r *Runner) embedChunks(ctx context.Context, name string, chunks []store.Chunk, cfg RunnerConfig) (int, error) {
	var embedded atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.EmbedWorkers)

	for start := 0; start < len(chunks); start += cfg.EmbedBatchSize {
		end := min(start+cfg.EmbedBatchSize, len(chunks))
		batch := chunks[start:end]

		g.Go(func() error {
			texts := make([]string, len(batch))
			ids := make([]string, len(batch))
			for i, c := range batch {
				texts[i] = c.Text
				ids[i] = c.Ref().String()
			}

			vecs, err := r.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return fmt.Errorf("failed to embed chunks %d-%d: %w", batch[0].Ordinal, batch[len(batch)-1].Ordinal, err)
			}
			if err := r.vectors.Add(gctx, ids, vecs); err != nil {
				return fmt.Errorf("failed to add vectors: %w", err)
			}

			r.renderer.UpdateProgress(ui.ProgressEvent{
				Stage:    ui.StageEmbedding,
				Current:  int(embedded.Add(int64(len(batch)))),
				Total:    len(chunks),
				Document: name,
			})
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		// Drop the batches that did land so the document has all of its
		// vectors or none.
		if derr := deleteDocumentVectors(context.WithoutCancel(ctx), r.vectors, chunks[0].DocumentID); derr != nil {
			slog.Warn("index_vector_cleanup_failed", slog.String("error", derr.Error()))
		}
		return 0, err
	}
	return len(chunks), nil
}

// documentVectorDeleter is implemented by vector stores that can drop a
// document's vectors directly.
type documentVectorDeleter interface {
	DeleteDocument(ctx context.Context, documentID int64) (int, error)
}

// deleteDocumentVectors removes every vector whose ref belongs to documentID.
func deleteDocumentVectors(ctx context.Context, vs store.VectorStore, documentID int64) error {
	if d, ok := vs.(documentVectorDeleter); ok {
		_, err := d.DeleteDocument(ctx, documentID)
		return err
	}

	accept := store.DocumentFilter(documentID)
	var ids []string
	for _, id := range vs.AllIDs() {
		if accept(id) {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return vs.Delete(ctx, ids)
}

// refreshStoreStats updates the store gauges after a run.
func (r *Runner) refreshStoreStats(ctx context.Context) {
	if r.metrics == nil {
		return
	}
	st, err := r.docs.Stats(ctx)
	if err != nil {
		slog.Debug("index_stats_failed", slog.String("error", err.Error()))
		return
	}
	byStatus := make(map[string]int, len(st.ByStatus))
	for s, n := range st.ByStatus {
		byStatus[string(s)] = n
	}
	vectors := 0
	if r.vectors != nil {
		vectors = r.vectors.Count()
	}
	r.metrics.SetStoreStats(byStatus, st.Pages, st.Chunks, vectors)
}
