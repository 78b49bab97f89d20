package chunk

import (
	"regexp"
	"strings"
)

// Confidence levels for semantic segments. Structural markers raise
// confidence; recursive splits and undersized paragraphs lower it.
const (
	semanticConfidence   = 0.9
	structuralConfidence = 0.95
	splitConfidence      = 0.6
	undersizeConfidence  = 0.5
)

var (
	headingPattern    = regexp.MustCompile(`^#{1,6}\s+\S`)
	listItemPattern   = regexp.MustCompile(`^(\s*)([-*+]|\d+[.)])\s+\S`)
	codeFencePattern  = regexp.MustCompile("^```")
	indentCodePattern = regexp.MustCompile(`^(\t| {4})\S`)
)

// paragraph is a contiguous non-blank block of the source text.
type paragraph struct {
	span
	content string
}

// splitParagraphs splits text on blank-line boundaries, preserving source
// offsets.
func splitParagraphs(text string) []paragraph {
	var paras []paragraph
	start := -1
	lineStart := 0

	flushAt := func(end int) {
		if start < 0 {
			return
		}
		for end > start && isSpaceByte(text[end-1]) {
			end--
		}
		content := text[start:end]
		if !isBlank(content) {
			paras = append(paras, paragraph{span: span{start: start, end: end}, content: content})
		}
		start = -1
	}

	for i := 0; i <= len(text); i++ {
		if i == len(text) || text[i] == '\n' {
			line := text[lineStart:i]
			if isBlank(line) {
				flushAt(lineStart)
			} else if start < 0 {
				start = lineStart
			}
			lineStart = i + 1
		}
	}
	flushAt(len(text))

	return paras
}

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// classifyParagraph assigns a segment type from detected structural markers.
func classifyParagraph(content string) (SegmentType, float64) {
	trimmed := strings.TrimSpace(content)
	firstLine := trimmed
	if idx := strings.IndexByte(trimmed, '\n'); idx >= 0 {
		firstLine = trimmed[:idx]
	}

	switch {
	case codeFencePattern.MatchString(firstLine) || indentCodePattern.MatchString(content):
		return SegmentTypeCode, structuralConfidence
	case headingPattern.MatchString(firstLine):
		return SegmentTypeTitle, structuralConfidence
	case listItemPattern.MatchString(firstLine):
		return SegmentTypeList, semanticConfidence
	default:
		return SegmentTypeText, semanticConfidence
	}
}

// chunkSemantic implements the structural strategy: split on paragraph
// boundaries, classify each paragraph, recursively fixed-split oversized
// paragraphs at reduced confidence, and keep undersized paragraphs
// standalone at reduced confidence.
//
// Undersized paragraphs are not merged with neighbors. Merge direction
// (forward vs backward) affects retrieval quality in ways that have not
// been measured, so the simpler standalone behavior is kept.
func chunkSemantic(text string, cfg Config) []Segment {
	paras := splitParagraphs(text)
	if len(paras) == 0 {
		return nil
	}

	var segments []Segment
	for _, p := range paras {
		tokens := EstimateTokens(p.content)
		segType, confidence := classifyParagraph(p.content)

		switch {
		case tokens > cfg.MaxTokens:
			// Too large for one segment: recursively apply the fixed
			// strategy within the paragraph at reduced confidence.
			for _, sub := range chunkFixed(p.content, cfg) {
				sub.StartOffset += p.start
				sub.EndOffset += p.start
				sub.Type = segType
				sub.Confidence = splitConfidence
				segments = append(segments, sub)
			}
		case tokens < cfg.MinTokens:
			segments = append(segments, Segment{
				Content:     p.content,
				StartOffset: p.start,
				EndOffset:   p.end,
				Type:        segType,
				TokenCount:  tokens,
				Confidence:  undersizeConfidence,
			})
		default:
			segments = append(segments, Segment{
				Content:     p.content,
				StartOffset: p.start,
				EndOffset:   p.end,
				Type:        segType,
				TokenCount:  tokens,
				Confidence:  confidence,
			})
		}
	}

	return segments
}

// coverage returns the fraction of source characters spanned by segments.
// Spans are non-overlapping for semantic output, so a plain sum suffices.
func coverage(segments []Segment, sourceLen int) float64 {
	if sourceLen == 0 {
		return 0
	}
	covered := 0
	for _, s := range segments {
		covered += s.EndOffset - s.StartOffset
	}
	return float64(covered) / float64(sourceLen)
}
