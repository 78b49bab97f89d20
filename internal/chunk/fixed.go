package chunk

import "regexp"

// Confidence assigned to fixed-size segments. Fixed boundaries are
// sentence-aware but carry no structural signal.
const fixedConfidence = 0.7

// sentenceEndPattern matches a sentence terminator followed by whitespace.
// Fallback boundary detection when no language tokenizer is available.
var sentenceEndPattern = regexp.MustCompile(`[.!?][\s]`)

// span is a half-open character range within the source text.
type span struct {
	start int
	end   int
}

// splitSentences returns sentence spans covering the non-blank portions of
// text. The final sentence extends to the end of the text even without a
// terminator.
func splitSentences(text string) []span {
	var spans []span
	start := 0
	for _, loc := range sentenceEndPattern.FindAllStringIndex(text, -1) {
		// loc[1] is past the whitespace following the terminator; keep the
		// terminator inside the sentence and start the next one after it.
		end := loc[0] + 1
		if end > start {
			spans = append(spans, span{start: start, end: end})
		}
		start = loc[1]
	}
	if start < len(text) && !isBlank(text[start:]) {
		spans = append(spans, span{start: start, end: len(text)})
	}
	return spans
}

// chunkFixed implements the fixed-size strategy: greedily accumulate
// sentences until the token budget is reached, then start a new segment,
// carrying trailing sentences forward to satisfy the overlap budget.
// Offsets are relative to text; callers chunking a sub-range add their own
// base offset.
func chunkFixed(text string, cfg Config) []Segment {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var segments []Segment
	var current []span
	currentTokens := 0

	flush := func() {
		if len(current) == 0 {
			return
		}
		start := current[0].start
		end := current[len(current)-1].end
		content := text[start:end]
		segments = append(segments, Segment{
			Content:     content,
			StartOffset: start,
			EndOffset:   end,
			Type:        SegmentTypeText,
			TokenCount:  EstimateTokens(content),
			Confidence:  fixedConfidence,
		})
	}

	for _, s := range sentences {
		tokens := EstimateTokens(text[s.start:s.end])
		if currentTokens > 0 && currentTokens+tokens > cfg.MaxTokens {
			flush()

			// Carry trailing sentences forward up to the overlap budget.
			var carried []span
			carriedTokens := 0
			for i := len(current) - 1; i >= 0; i-- {
				t := EstimateTokens(text[current[i].start:current[i].end])
				if carriedTokens+t > cfg.OverlapTokens {
					break
				}
				carried = append([]span{current[i]}, carried...)
				carriedTokens += t
			}
			current = carried
			currentTokens = carriedTokens
		}
		current = append(current, s)
		currentTokens += tokens
	}
	flush()

	return segments
}
