// Package indexer transforms an object-store listing into populated
// sparse and dense state for a collection. Files are processed by a
// bounded worker pool; BM25 appends are committed in enumeration order
// through a single writer so two runs over the same listing produce
// byte-identical persisted state.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/alexban14/ai.dok/internal/bm25"
	"github.com/alexban14/ai.dok/internal/domain"
	"github.com/alexban14/ai.dok/internal/metrics"
	"github.com/alexban14/ai.dok/internal/rcp"
	"github.com/alexban14/ai.dok/internal/vecstore"
)

// Options holds the bulk-run parameters.
type Options struct {
	MaxConcurrent      int           // in-flight files, default 20
	BatchSize          int           // vector upsert batch, default 500
	UseSectionChunking bool          // chunk_by_section
	ChunkSize          int           // characters, default 512
	ChunkOverlap       int           // characters, default 100
	FileTimeout        time.Duration // per-file wall clock, default 5m
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 20
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 500
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = 512
	}
	if o.ChunkOverlap <= 0 {
		o.ChunkOverlap = 100
	}
	if o.FileTimeout <= 0 {
		o.FileTimeout = 5 * time.Minute
	}
	return o
}

// Service is the indexing pipeline.
type Service struct {
	bucket    domain.ObjectStore
	extract   domain.Extractor
	parser    *rcp.Parser
	colls     CollectionManager
	store     vecstore.Store
	embedders EmbedderSource
	logger    *zap.Logger
}

// New creates the pipeline.
func New(
	bucket domain.ObjectStore,
	extract domain.Extractor,
	colls CollectionManager,
	store vecstore.Store,
	embedders EmbedderSource,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		bucket:    bucket,
		extract:   extract,
		parser:    rcp.NewParser(),
		colls:     colls,
		store:     store,
		embedders: embedders,
		logger:    logger,
	}
}

// fileResult is one worker's outcome, committed in enumeration order.
type fileResult struct {
	idx      int
	sourceID string
	skipped  bool
	docs     []bm25.Document
	chunks   int
	err      error
}

// ProcessBucket runs the bulk pipeline for a collection. Per-file
// failures are captured and the run continues; errors that break index
// invariants abort it. The progress callback fires on every file
// boundary.
func (s *Service) ProcessBucket(
	ctx context.Context, collectionName string, opts Options, report func(domain.Progress),
) (Report, error) {
	opts = opts.withDefaults()
	if report == nil {
		report = func(domain.Progress) {}
	}

	col, emb, sparse, err := s.open(ctx, collectionName)
	if err != nil {
		return Report{}, err
	}

	sources, err := s.bucket.List(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("%w: list bucket: %v", domain.ErrExternalUnavailable, err)
	}

	rep := Report{Total: len(sources)}
	if len(sources) == 0 {
		return rep, nil
	}

	pool, err := ants.NewPool(opts.MaxConcurrent)
	if err != nil {
		return rep, fmt.Errorf("%w: worker pool: %v", domain.ErrInternal, err)
	}
	defer pool.Release()

	ctx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	results := make(chan fileResult, opts.MaxConcurrent)
	go s.submitAll(ctx, pool, col, emb, opts, sources, results)

	// abort stops the workers and drains the channel so none stay blocked
	abort := func(err error) (Report, error) {
		cancelRun()
		go func() {
			for range results {
			}
		}()
		return rep, err
	}

	saveEvery := max(1, len(sources)/20)
	var pendingMarks []string
	pending := map[int]fileResult{}
	next := 0
	sinceSave := 0
	boundaries := 0

	flush := func() error {
		if err := s.colls.SaveSparse(col.Name); err != nil {
			return err
		}
		// marking only after a successful save keeps the resume-skip set
		// aligned with the persisted sparse state; marks run on a fresh
		// context so a cancelled run still records what it persisted
		for _, src := range pendingMarks {
			if err := s.store.MarkSource(context.Background(), col.Name, src); err != nil {
				return err
			}
		}
		pendingMarks = pendingMarks[:0]
		sinceSave = 0
		return nil
	}

	for res := range results {
		pending[res.idx] = res
		for {
			r, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			boundaries++

			switch {
			case r.err != nil:
				rep.Failed++
				rep.FailedItems = append(rep.FailedItems, domain.FailedItem{ID: r.sourceID, Reason: failReason(r.err)})
				metrics.IndexedFilesTotal.WithLabelValues("failed").Inc()
			case r.skipped:
				rep.Skipped++
				metrics.IndexedFilesTotal.WithLabelValues("skipped").Inc()
			default:
				sparse.AddDocuments(r.docs)
				pendingMarks = append(pendingMarks, r.sourceID)
				rep.ProcessedOK++
				rep.Chunks += r.chunks
				sinceSave++
				metrics.IndexedFilesTotal.WithLabelValues("ok").Inc()
				metrics.IndexedChunksTotal.Add(float64(r.chunks))
			}

			report(domain.Progress{
				Current:         boundaries,
				Total:           rep.Total,
				CurrentItem:     r.sourceID,
				ProcessedOK:     rep.ProcessedOK,
				ProcessedFailed: rep.Failed,
				FailedItems:     rep.FailedItems,
			})

			if sinceSave >= saveEvery {
				if err := flush(); err != nil {
					return abort(err)
				}
			}
			if boundaries%20 == 0 {
				runtime.GC()
			}
		}
	}

	if err := flush(); err != nil {
		return rep, err
	}

	if ctx.Err() != nil {
		return rep, fmt.Errorf("%w: indexing run", domain.ErrCancelled)
	}
	return rep, nil
}

// ProcessSingle runs the per-file pipeline for one document and persists
// the result. Used internally and by tests.
func (s *Service) ProcessSingle(
	ctx context.Context, collectionName, sourceID string, data []byte,
) (PerFileReport, error) {
	col, emb, sparse, err := s.open(ctx, collectionName)
	if err != nil {
		return PerFileReport{}, err
	}

	text, err := s.extract.Extract(ctx, data)
	if err != nil {
		return PerFileReport{}, fmt.Errorf("%w: extract %s: %v", domain.ErrExternalUnavailable, sourceID, err)
	}

	sections, method := s.parser.Parse(text)
	chunker := rcp.NewChunker(rcp.ChunkerConfig{ChunkSize: 512, Overlap: 100, ChunkBySection: true})
	chunks := chunker.Chunk(sourceID, sections, method)

	docs, recs, err := s.encodeChunks(ctx, emb, chunks)
	if err != nil {
		return PerFileReport{}, err
	}
	if err := s.store.Upsert(ctx, col.Name, recs); err != nil {
		return PerFileReport{}, err
	}
	sparse.AddDocuments(docs)
	if err := s.colls.SaveSparse(col.Name); err != nil {
		return PerFileReport{}, err
	}
	if err := s.store.MarkSource(ctx, col.Name, sourceID); err != nil {
		return PerFileReport{}, err
	}

	return PerFileReport{
		SourceID: sourceID,
		Sections: len(sections),
		Chunks:   len(chunks),
		Method:   method,
	}, nil
}

// open resolves the collection, its embedder, the dense collection (with
// dimension validation), and the sparse index for rebuild.
func (s *Service) open(ctx context.Context, name string) (domain.Collection, domain.Embedder, *bm25.Index, error) {
	col, err := s.colls.Get(name)
	if err != nil {
		return domain.Collection{}, nil, nil, err
	}
	if err := col.Validate(); err != nil {
		return domain.Collection{}, nil, nil, err
	}
	emb, err := s.embedders.Get(col.EmbeddingModelID)
	if err != nil {
		return domain.Collection{}, nil, nil, err
	}
	if col.VectorDim != emb.Dimensions() {
		return domain.Collection{}, nil, nil, fmt.Errorf(
			"%w: collection %s is bound to dimension %d, model %s produces %d",
			domain.ErrConfig, name, col.VectorDim, emb.ModelID(), emb.Dimensions())
	}
	if err := s.store.EnsureCollection(ctx, col.Name, emb.Dimensions()); err != nil {
		return domain.Collection{}, nil, nil, err
	}
	sparse, err := s.colls.SparseForRebuild(col.Name)
	if err != nil {
		return domain.Collection{}, nil, nil, err
	}
	return col, emb, sparse, nil
}

// submitAll feeds the worker pool, preserving enumeration indexes so the
// committer can restore order. Once the context is cancelled, remaining
// files are reported failed("cancelled") without starting work.
func (s *Service) submitAll(
	ctx context.Context, pool *ants.Pool,
	col domain.Collection, emb domain.Embedder, opts Options,
	sources []string, results chan<- fileResult,
) {
	var wg sync.WaitGroup
	for i, src := range sources {
		if ctx.Err() != nil {
			results <- fileResult{idx: i, sourceID: src, err: fmt.Errorf("%w: not started", domain.ErrCancelled)}
			continue
		}
		i, src := i, src
		wg.Add(1)
		submitErr := pool.Submit(func() {
			defer wg.Done()
			results <- s.processOne(ctx, col, emb, opts, i, src)
		})
		if submitErr != nil {
			wg.Done()
			results <- fileResult{idx: i, sourceID: src, err: fmt.Errorf("%w: submit: %v", domain.ErrInternal, submitErr)}
		}
	}
	wg.Wait()
	close(results)
}

// processOne runs the per-file pipeline in a worker: download, extract,
// parse, chunk, tokenize and embed, then upsert the dense records. The
// sparse append is handed back to the ordered committer.
func (s *Service) processOne(
	ctx context.Context, col domain.Collection, emb domain.Embedder,
	opts Options, idx int, sourceID string,
) fileResult {
	res := fileResult{idx: idx, sourceID: sourceID}

	if ctx.Err() != nil {
		res.err = fmt.Errorf("%w: at file boundary", domain.ErrCancelled)
		return res
	}

	done, err := s.store.HasSource(ctx, col.Name, sourceID)
	if err != nil {
		res.err = err
		return res
	}
	if done {
		res.skipped = true
		return res
	}

	fctx, cancel := context.WithTimeout(ctx, opts.FileTimeout)
	defer cancel()

	data, err := s.bucket.Get(fctx, sourceID)
	if err != nil {
		res.err = s.fileErr(fctx, fmt.Errorf("%w: download %s: %v", domain.ErrExternalUnavailable, sourceID, err))
		return res
	}

	text, err := s.extract.Extract(fctx, data)
	if err != nil {
		res.err = s.fileErr(fctx, fmt.Errorf("%w: extract %s: %v", domain.ErrExternalUnavailable, sourceID, err))
		return res
	}
	data = nil // release the raw bytes before embedding

	sections, method := s.parser.Parse(text)
	chunker := rcp.NewChunker(rcp.ChunkerConfig{
		ChunkSize:      opts.ChunkSize,
		Overlap:        opts.ChunkOverlap,
		ChunkBySection: opts.UseSectionChunking,
	})
	chunks := chunker.Chunk(sourceID, sections, method)
	if len(chunks) == 0 {
		res.err = fmt.Errorf("%w: %s produced no chunks", domain.ErrParse, sourceID)
		return res
	}

	docs, recs, err := s.encodeChunks(fctx, emb, chunks)
	if err != nil {
		res.err = s.fileErr(fctx, err)
		return res
	}

	for start := 0; start < len(recs); start += opts.BatchSize {
		end := min(start+opts.BatchSize, len(recs))
		if err := s.store.Upsert(fctx, col.Name, recs[start:end]); err != nil {
			res.err = s.fileErr(fctx, err)
			return res
		}
	}

	res.docs = docs
	res.chunks = len(chunks)
	return res
}

// encodeChunks tokenizes and embeds a file's chunks.
func (s *Service) encodeChunks(
	ctx context.Context, emb domain.Embedder, chunks []domain.Chunk,
) ([]bm25.Document, []vecstore.Record, error) {
	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}
	vecs, err := emb.Encode(ctx, texts, true)
	if err != nil {
		return nil, nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vecs) != len(chunks) {
		return nil, nil, fmt.Errorf("%w: encoder returned %d vectors for %d chunks",
			domain.ErrInternal, len(vecs), len(chunks))
	}

	docs := make([]bm25.Document, len(chunks))
	recs := make([]vecstore.Record, len(chunks))
	for i, ch := range chunks {
		docs[i] = bm25.Document{ChunkID: ch.ID, Tokens: rcp.Tokenize(ch.Text)}
		recs[i] = vecstore.Record{Chunk: ch, Vector: vecs[i]}
	}
	return docs, recs, nil
}

// fileErr maps deadline and cancellation to their per-file reasons.
func (s *Service) fileErr(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrTimeout) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("%w: file processing", domain.ErrTimeout)
	case errors.Is(err, domain.ErrCancelled) || errors.Is(ctx.Err(), context.Canceled):
		return fmt.Errorf("%w: file processing", domain.ErrCancelled)
	default:
		return err
	}
}

// failReason renders the captured per-file reason: cancelled and timeout
// use their bare kind strings, everything else keeps the message.
func failReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrCancelled):
		return "cancelled"
	case errors.Is(err, domain.ErrTimeout):
		return "timeout"
	default:
		return err.Error()
	}
}
