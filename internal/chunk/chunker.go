package chunk

import (
	"context"
	"fmt"
	"log/slog"
)

// Chunker splits text into ordered segments according to its Config.
// The zero value is not usable; construct with New.
type Chunker struct {
	config Config
	logger *slog.Logger
}

// New creates a Chunker with the given configuration. Zero config fields
// are replaced with defaults.
func New(cfg Config, logger *slog.Logger) *Chunker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Chunker{config: cfg.applyDefaults(), logger: logger}
}

// Config returns the effective configuration.
func (c *Chunker) Config() Config {
	return c.config
}

// Chunk splits text into ordered segments. Empty or whitespace-only input
// returns an empty slice, not an error. Sequence numbers strictly reflect
// original-text order.
func (c *Chunker) Chunk(ctx context.Context, text string) ([]Segment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if isBlank(text) {
		return []Segment{}, nil
	}

	var segments []Segment
	switch c.config.Strategy {
	case StrategyFixed:
		segments = chunkFixed(text, c.config)
	case StrategySemantic:
		segments = chunkSemantic(text, c.config)
	case StrategyHybrid:
		segments = c.chunkHybrid(text)
	default:
		return nil, fmt.Errorf("unknown chunking strategy %q", c.config.Strategy)
	}

	for i := range segments {
		segments[i].Sequence = i
	}
	return segments, nil
}

// chunkHybrid prefers the semantic strategy but falls back to fixed-size
// when the semantic segments cover less than CoverageFloor of the source.
// The floor guards against mis-detected structure producing sparse output.
func (c *Chunker) chunkHybrid(text string) []Segment {
	semantic := chunkSemantic(text, c.config)
	cov := coverage(semantic, len(text))
	if cov >= CoverageFloor {
		return semantic
	}

	c.logger.Debug("semantic_coverage_below_floor",
		slog.Float64("coverage", cov),
		slog.Float64("floor", CoverageFloor),
		slog.Int("segments", len(semantic)))
	return chunkFixed(text, c.config)
}
