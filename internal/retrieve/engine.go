// Package retrieve implements the query side of the index: embed the query,
// search the vector collection under metadata filters, resolve content from
// the relational store, and rank the assembled context.
package retrieve

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/laserpointlabs/ODRAS-sub000/internal/embed"
	odraserrors "github.com/laserpointlabs/ODRAS-sub000/internal/errors"
	"github.com/laserpointlabs/ODRAS-sub000/internal/store"
)

// Retrieval defaults.
const (
	// DefaultTopK is the default number of results.
	DefaultTopK = 10

	// DefaultScoreThreshold discards weak matches.
	DefaultScoreThreshold = 0.3
)

// Options scope a retrieval call. Zero values take defaults; empty filters
// match everything.
type Options struct {
	ProjectID  string
	EntityType store.EntityType

	// Domain restricts the search to one domain. Domains unions searches
	// across several; results are re-sorted by score with no per-domain
	// priority. Setting both is an error.
	Domain  string
	Domains []string

	TopK           int
	ScoreThreshold float32
	thresholdSet   bool
}

// WithThreshold sets an explicit score threshold, including zero.
func (o Options) WithThreshold(t float32) Options {
	o.ScoreThreshold = t
	o.thresholdSet = true
	return o
}

func (o Options) withDefaults() Options {
	if o.TopK <= 0 {
		o.TopK = DefaultTopK
	}
	if !o.thresholdSet && o.ScoreThreshold == 0 {
		o.ScoreThreshold = DefaultScoreThreshold
	}
	return o
}

// Result is one ranked retrieval hit with its source attribution.
type Result struct {
	Content        string
	Score          float32
	ChunkID        string
	IndexID        string
	EntityType     store.EntityType
	EntityID       string
	EntityURI      string
	ProjectID      string
	Domain         string
	SequenceNumber int
}

// Context is the assembled, source-attributed answer to one query.
type Context struct {
	Query     string
	Model     string
	Results   []Result
	ElapsedMS int64
}

// Engine executes retrievals. It is read-only with respect to the index.
type Engine struct {
	store    *store.IndexStore
	embedder embed.Embedder
	logger   *slog.Logger
}

// New creates a retrieval engine.
func New(indexStore *store.IndexStore, embedder embed.Embedder, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: indexStore, embedder: embedder, logger: logger}
}

// Retrieve embeds the query, searches the vector collection under the given
// filters, resolves content relationally, and returns results in descending
// score order with ties broken by ascending sequence number (keeps
// multi-chunk passages in reading order when scores tie).
//
// Degraded entries (indexed with zero chunks) simply contribute no results;
// a retrieval never hard-fails because of them.
func (e *Engine) Retrieve(ctx context.Context, query string, opts Options) (*Context, error) {
	start := time.Now()
	if strings.TrimSpace(query) == "" {
		return nil, odraserrors.New(odraserrors.ErrCodeQueryEmpty, "query text is empty", nil)
	}
	if opts.Domain != "" && len(opts.Domains) > 0 {
		return nil, odraserrors.ValidationError("set either Domain or Domains, not both", nil)
	}
	opts = opts.withDefaults()

	if err := e.checkModel(ctx); err != nil {
		return nil, err
	}

	queryVec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, odraserrors.Wrap(odraserrors.ErrCodeEmbeddingFailed, err)
	}

	hits, err := e.search(ctx, queryVec, opts)
	if err != nil {
		return nil, odraserrors.Wrap(odraserrors.ErrCodeSearchFailed, err)
	}

	results, err := e.resolve(ctx, hits, opts)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].SequenceNumber < results[j].SequenceNumber
	})
	if len(results) > opts.TopK {
		results = results[:opts.TopK]
	}

	elapsed := time.Since(start)
	e.logger.Debug("retrieval_complete",
		slog.Int("results", len(results)),
		slog.Int("candidates", len(hits)),
		slog.Duration("elapsed", elapsed))
	return &Context{
		Query:     query,
		Model:     e.embedder.ModelName(),
		Results:   results,
		ElapsedMS: elapsed.Milliseconds(),
	}, nil
}

// checkModel rejects queries embedded with a different model than the index
// was built with; vector spaces are not comparable across models.
func (e *Engine) checkModel(ctx context.Context) error {
	recorded, err := e.store.IndexModel(ctx)
	if err != nil {
		return err
	}
	if recorded != "" && recorded != e.embedder.ModelName() {
		return odraserrors.New(odraserrors.ErrCodeModelMismatch,
			fmt.Sprintf("index was built with model %q but the query uses %q", recorded, e.embedder.ModelName()), nil).
			WithSuggestion("query with the index model or rebuild the index")
	}
	return nil
}

// search runs one vector search per requested domain and unions the hits.
// Duplicate chunk ids keep their best score.
func (e *Engine) search(ctx context.Context, queryVec []float32, opts Options) ([]*store.VectorResult, error) {
	domains := opts.Domains
	if len(domains) == 0 {
		domains = []string{opts.Domain}
	}

	seen := make(map[string]*store.VectorResult)
	for _, domain := range domains {
		filter := store.VectorFilter{
			EntityType: string(opts.EntityType),
			Domain:     domain,
			ProjectID:  opts.ProjectID,
		}
		hits, err := e.store.Vectors().Search(ctx, queryVec, opts.TopK, filter)
		if err != nil {
			return nil, err
		}
		for _, hit := range hits {
			if prev, ok := seen[hit.ID]; !ok || hit.Score > prev.Score {
				seen[hit.ID] = hit
			}
		}
	}

	union := make([]*store.VectorResult, 0, len(seen))
	for _, hit := range seen {
		union = append(union, hit)
	}
	return union, nil
}

// resolve fetches content for surviving hits from the relational store. The
// vector payload is used only for filtering and re-identification, never for
// content delivery. A hit whose chunk row is missing is a consistency
// divergence: it is logged and skipped, and the operator remedy is a
// rebuild.
func (e *Engine) resolve(ctx context.Context, hits []*store.VectorResult, opts Options) ([]Result, error) {
	entryCache := make(map[string]*store.IndexEntry)

	results := make([]Result, 0, len(hits))
	for _, hit := range hits {
		if hit.Score < opts.ScoreThreshold {
			continue
		}

		chunkRow, err := e.store.Entries().GetChunk(ctx, hit.ID)
		if err != nil {
			if store.IsNotFound(err) {
				e.logger.Warn("vector_hit_without_chunk_row",
					slog.String("chunk_id", hit.ID),
					slog.String("index_id", hit.Payload.IndexID))
				continue
			}
			return nil, err
		}

		entry, ok := entryCache[chunkRow.IndexID]
		if !ok {
			entry, err = e.store.Entries().GetEntry(ctx, chunkRow.IndexID)
			if err != nil {
				if store.IsNotFound(err) {
					continue
				}
				return nil, err
			}
			entryCache[chunkRow.IndexID] = entry
		}

		results = append(results, Result{
			Content:        chunkRow.Content,
			Score:          hit.Score,
			ChunkID:        chunkRow.VectorID,
			IndexID:        entry.IndexID,
			EntityType:     entry.EntityType,
			EntityID:       entry.EntityID,
			EntityURI:      entry.EntityURI,
			ProjectID:      entry.ProjectID,
			Domain:         entry.Domain,
			SequenceNumber: chunkRow.SequenceNumber,
		})
	}
	return results, nil
}
