// Package chunk splits raw text into bounded, metadata-tagged segments
// for embedding and retrieval.
package chunk

import "strings"

// Chunk size defaults.
const (
	// DefaultMaxTokens is the target token budget per segment.
	DefaultMaxTokens = 512

	// DefaultOverlapTokens is the token overlap carried between
	// consecutive fixed-size segments (~12.5% of the budget).
	DefaultOverlapTokens = 64

	// DefaultMinTokens is the minimum viable segment size. Paragraphs
	// below this are kept standalone at reduced confidence.
	DefaultMinTokens = 100

	// CharsPerToken is the character-based token approximation used when
	// no language tokenizer is available. It is applied consistently for
	// segment sizing and downstream token accounting; callers must not
	// assume exactness.
	CharsPerToken = 4

	// CoverageFloor is the minimum fraction of source characters the
	// semantic strategy must cover before the hybrid strategy accepts it.
	CoverageFloor = 0.80
)

// SegmentType classifies the structural role of a segment.
type SegmentType string

const (
	SegmentTypeText  SegmentType = "text"
	SegmentTypeTitle SegmentType = "title"
	SegmentTypeList  SegmentType = "list"
	SegmentTypeCode  SegmentType = "code"
)

// Strategy selects the segmentation algorithm.
type Strategy string

const (
	// StrategyFixed greedily accumulates sentence-bounded text up to the
	// token budget, with configurable overlap.
	StrategyFixed Strategy = "fixed"

	// StrategySemantic splits on paragraph boundaries and classifies each
	// paragraph by structural markers.
	StrategySemantic Strategy = "semantic"

	// StrategyHybrid runs the semantic strategy and falls back to fixed
	// when structural coverage is below CoverageFloor.
	StrategyHybrid Strategy = "hybrid"
)

// Segment is one bounded piece of the source text.
type Segment struct {
	Content     string
	StartOffset int // character offset into the source text (inclusive)
	EndOffset   int // character offset into the source text (exclusive)
	Type        SegmentType
	TokenCount  int
	Confidence  float64
	Sequence    int // 0-based order within the source
}

// Config controls segmentation behavior.
type Config struct {
	Strategy      Strategy
	MaxTokens     int
	OverlapTokens int
	MinTokens     int
}

// DefaultConfig returns the hybrid strategy with standard budgets.
func DefaultConfig() Config {
	return Config{
		Strategy:      StrategyHybrid,
		MaxTokens:     DefaultMaxTokens,
		OverlapTokens: DefaultOverlapTokens,
		MinTokens:     DefaultMinTokens,
	}
}

// applyDefaults fills zero fields with defaults.
func (c Config) applyDefaults() Config {
	if c.Strategy == "" {
		c.Strategy = StrategyHybrid
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.OverlapTokens < 0 {
		c.OverlapTokens = DefaultOverlapTokens
	}
	if c.MinTokens <= 0 {
		c.MinTokens = DefaultMinTokens
	}
	return c
}

// EstimateTokens approximates the token count of text as len(text)/4.
func EstimateTokens(text string) int {
	return len(text) / CharsPerToken
}

// isBlank reports whether s contains only whitespace.
func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
