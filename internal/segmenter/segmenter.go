// Package segmenter splits a completed utterance into atomic command strings
// using connector-phrase heuristics. It is advisory pre-processing: a missed
// split is harmless because the model can still extract multiple intents from
// an unsplit sentence.
package segmenter

import "strings"

// MinSegmentLength discards noise fragments left by the split.
const MinSegmentLength = 4

// separator is a control char that never appears in transcripts.
const separator = "\x1f"

// connectors are logical joins that signal a sequential or additional
// instruction. Longest first so "y luego" wins over bare "y". Accent-less
// variants cover recognizers that strip diacritics.
var connectors = []string{
	"y luego",
	"y después",
	"y despues",
	"y también",
	"y tambien",
	"y además",
	"y ademas",
	"después",
	"despues",
	"luego",
	"también",
	"tambien",
	"además",
	"ademas",
	"y",
}

// Split normalizes the utterance and returns its ordered command segments.
// An utterance with no connector yields a single segment equal to the
// normalized input.
func Split(utterance string) []string {
	norm := strings.ToLower(strings.TrimSpace(utterance))
	if norm == "" {
		return nil
	}

	marked := norm
	for _, c := range connectors {
		marked = strings.ReplaceAll(marked, " "+c+" ", separator)
	}

	var segments []string
	for _, part := range strings.Split(marked, separator) {
		part = strings.TrimSpace(part)
		if len([]rune(part)) < MinSegmentLength {
			continue
		}
		segments = append(segments, part)
	}
	if len(segments) == 0 {
		// splitting reduced everything to noise; fall back to the whole
		// normalized utterance so the dispatcher still sees the turn
		if len([]rune(norm)) >= MinSegmentLength {
			return []string{norm}
		}
		return nil
	}
	return segments
}
