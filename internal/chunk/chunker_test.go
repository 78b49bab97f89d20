package chunk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunk_EmptyInput(t *testing.T) {
	c := New(DefaultConfig(), nil)

	for _, input := range []string{"", "   ", "\n\t\n"} {
		segments, err := c.Chunk(context.Background(), input)
		require.NoError(t, err)
		assert.Empty(t, segments)
		assert.NotNil(t, segments)
	}
}

func TestChunk_UnknownStrategy(t *testing.T) {
	c := New(Config{Strategy: Strategy("bogus")}, nil)

	_, err := c.Chunk(context.Background(), "some text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bogus")
}

func TestChunkFixed_RespectsTokenBudget(t *testing.T) {
	// Given: 40 sentences of ~100 chars (~25 tokens each)
	sentence := strings.Repeat("word ", 19) + "end. "
	text := strings.Repeat(sentence, 40)

	cfg := Config{Strategy: StrategyFixed, MaxTokens: 128, OverlapTokens: 0, MinTokens: 10}
	c := New(cfg, nil)

	segments, err := c.Chunk(context.Background(), text)
	require.NoError(t, err)
	require.Greater(t, len(segments), 1)

	// Then: no segment materially exceeds the budget (a single sentence of
	// slack is allowed since boundaries are sentence-aligned)
	for _, s := range segments {
		assert.LessOrEqual(t, s.TokenCount, 128+EstimateTokens(sentence))
		assert.Equal(t, SegmentTypeText, s.Type)
	}
}

func TestChunkFixed_OverlapCarriesTrailingSentences(t *testing.T) {
	sentence := strings.Repeat("alpha ", 16) + "stop. "
	text := strings.Repeat(sentence, 20)

	cfg := Config{Strategy: StrategyFixed, MaxTokens: 100, OverlapTokens: 30, MinTokens: 10}
	c := New(cfg, nil)

	segments, err := c.Chunk(context.Background(), text)
	require.NoError(t, err)
	require.Greater(t, len(segments), 1)

	// Consecutive segments share trailing/leading text when overlap is set.
	for i := 1; i < len(segments); i++ {
		assert.Less(t, segments[i].StartOffset, segments[i-1].EndOffset,
			"segment %d should start inside segment %d", i, i-1)
	}
}

func TestChunkFixed_NoOverlapWhenDisabled(t *testing.T) {
	sentence := strings.Repeat("beta ", 16) + "stop. "
	text := strings.Repeat(sentence, 20)

	cfg := Config{Strategy: StrategyFixed, MaxTokens: 100, OverlapTokens: 0, MinTokens: 10}
	segments, err := New(cfg, nil).Chunk(context.Background(), text)
	require.NoError(t, err)
	require.Greater(t, len(segments), 1)

	for i := 1; i < len(segments); i++ {
		assert.GreaterOrEqual(t, segments[i].StartOffset, segments[i-1].EndOffset)
	}
}

func TestChunkSemantic_ClassifiesStructure(t *testing.T) {
	text := "# Architecture Overview\n\n" +
		"The indexing engine maintains two stores that must stay consistent under concurrent writes from multiple producers.\n\n" +
		"- relational rows hold content\n- vector points hold embeddings\n\n" +
		"```\nfunc main() {}\n```\n"

	cfg := Config{Strategy: StrategySemantic, MaxTokens: 512, OverlapTokens: 0, MinTokens: 2}
	segments, err := New(cfg, nil).Chunk(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, segments, 4)

	assert.Equal(t, SegmentTypeTitle, segments[0].Type)
	assert.Equal(t, SegmentTypeText, segments[1].Type)
	assert.Equal(t, SegmentTypeList, segments[2].Type)
	assert.Equal(t, SegmentTypeCode, segments[3].Type)

	// Structural markers carry higher confidence than plain text.
	assert.Greater(t, segments[0].Confidence, segments[1].Confidence)
	assert.Greater(t, segments[3].Confidence, segments[1].Confidence)
}

func TestChunkSemantic_UndersizedKeptStandalone(t *testing.T) {
	text := "Tiny note.\n\n" + strings.Repeat("A full paragraph with enough words to clear the minimum token threshold comfortably. ", 8)

	cfg := Config{Strategy: StrategySemantic, MaxTokens: 512, OverlapTokens: 0, MinTokens: 100}
	segments, err := New(cfg, nil).Chunk(context.Background(), text)
	require.NoError(t, err)
	require.Len(t, segments, 2)

	assert.Equal(t, "Tiny note.", segments[0].Content)
	assert.Equal(t, undersizeConfidence, segments[0].Confidence)
	assert.Greater(t, segments[1].Confidence, segments[0].Confidence)
}

func TestChunkSemantic_OversizedRecursivelySplit(t *testing.T) {
	// Given: one paragraph far exceeding the budget
	sentence := strings.Repeat("gamma ", 16) + "stop. "
	text := strings.TrimSpace(strings.Repeat(sentence, 30))

	cfg := Config{Strategy: StrategySemantic, MaxTokens: 100, OverlapTokens: 0, MinTokens: 10}
	segments, err := New(cfg, nil).Chunk(context.Background(), text)
	require.NoError(t, err)
	require.Greater(t, len(segments), 1)

	for _, s := range segments {
		assert.Equal(t, splitConfidence, s.Confidence)
		// Offsets must index into the original text.
		assert.Equal(t, text[s.StartOffset:s.EndOffset], s.Content)
	}
}

func TestChunkHybrid_FallsBackOnLowCoverage(t *testing.T) {
	// Given: text that is mostly blank lines, so paragraph spans cover
	// well under 80% of the source characters
	text := "short line\n" + strings.Repeat("\n", 200) + "another short line\n" + strings.Repeat("\n", 200)

	cfg := Config{Strategy: StrategyHybrid, MaxTokens: 512, OverlapTokens: 0, MinTokens: 1}
	segments, err := New(cfg, nil).Chunk(context.Background(), text)
	require.NoError(t, err)
	require.NotEmpty(t, segments)

	// Fallback output is fixed-size, which carries fixedConfidence.
	for _, s := range segments {
		assert.Equal(t, fixedConfidence, s.Confidence)
	}
}

func TestChunkHybrid_TypicalDocument(t *testing.T) {
	// Given: a ~1200 character plain-text document with three paragraphs
	para := strings.Repeat("The requirements analysis pipeline extracts candidate statements from uploaded documents and scores them. ", 4)
	text := para + "\n\n" + para + "\n\n" + para
	require.InDelta(t, 1200, len(text), 150)

	segments, err := New(DefaultConfig(), nil).Chunk(context.Background(), text)
	require.NoError(t, err)

	// Then: paragraph-shaped output in reading order
	assert.GreaterOrEqual(t, len(segments), 2)
	assert.LessOrEqual(t, len(segments), 3)
	for i, s := range segments {
		assert.Equal(t, i, s.Sequence)
		assert.NotEmpty(t, s.Content)
		assert.Positive(t, s.TokenCount)
	}

	// Concatenated segments cover at least the hybrid coverage floor.
	covered := 0
	for _, s := range segments {
		covered += s.EndOffset - s.StartOffset
	}
	assert.GreaterOrEqual(t, float64(covered)/float64(len(text)), CoverageFloor)
}

func TestEstimateTokens(t *testing.T) {
	assert.Equal(t, 0, EstimateTokens(""))
	assert.Equal(t, 1, EstimateTokens("abcd"))
	assert.Equal(t, 25, EstimateTokens(strings.Repeat("x", 100)))
}

func TestSplitSentences_FallbackRegex(t *testing.T) {
	spans := splitSentences("First one. Second one! Third one? trailing fragment")
	require.Len(t, spans, 4)

	text := "First one. Second one! Third one? trailing fragment"
	assert.Equal(t, "First one.", text[spans[0].start:spans[0].end])
	assert.Equal(t, "Second one!", text[spans[1].start:spans[1].end])
	assert.Equal(t, "Third one?", text[spans[2].start:spans[2].end])
	assert.Equal(t, "trailing fragment", text[spans[3].start:spans[3].end])
}
