// Package chunk implements the sentence/paragraph-aware sliding-window
// chunker used to split extracted memory text before it reaches the search
// index.
package chunk

import "strings"

// Config controls the chunker's window size and carry-over. Zero values are
// replaced with the documented defaults by Split.
type Config struct {
	ChunkSize    int
	ChunkOverlap int
}

const (
	defaultChunkSize    = 1600
	defaultChunkOverlap = 320
)

// Split breaks text into non-empty, trimmed chunks no longer than
// cfg.ChunkSize, carrying roughly cfg.ChunkOverlap characters of trailing
// context into the next chunk. The break point at each step prefers, in
// order, the last ". " at or past the halfway point of the window, the last
// newline at or past the halfway point, the last space, or a hard cut at the
// window end.
func Split(text string, cfg Config) []string {
	size := cfg.ChunkSize
	if size <= 0 {
		size = defaultChunkSize
	}
	overlap := cfg.ChunkOverlap
	if overlap <= 0 {
		overlap = defaultChunkOverlap
	}

	var chunks []string
	start := 0
	n := len(text)

	for start < n {
		remaining := text[start:]
		if len(remaining) <= size {
			appendTrimmed(&chunks, remaining)
			break
		}

		windowEnd := start + size
		breakPoint := findBreakPoint(text, start, windowEnd)

		appendTrimmed(&chunks, text[start:breakPoint])

		next := (breakPoint + 1) - overlap
		if next <= start {
			next = breakPoint
		}
		if next < 0 {
			next = 0
		}
		start = next
	}

	return chunks
}

// findBreakPoint locates the preferred split point within text[start:windowEnd]
// using the priority order documented on Split. The returned index is an
// absolute offset into text, in (start, windowEnd].
func findBreakPoint(text string, start, windowEnd int) int {
	window := text[start:windowEnd]
	halfway := len(window) / 2

	if idx := lastIndexAfter(window, ". ", halfway); idx >= 0 {
		return start + idx + 1 // break after the period, before the space
	}
	if idx := lastIndexAfter(window, "\n", halfway); idx >= 0 {
		return start + idx + 1
	}
	if idx := strings.LastIndex(window, " "); idx >= 0 {
		return start + idx + 1
	}
	return windowEnd
}

// lastIndexAfter returns the last occurrence of sep in s whose start offset
// is >= minStart, or -1 if none qualifies.
func lastIndexAfter(s, sep string, minStart int) int {
	best := -1
	from := 0
	for {
		idx := strings.Index(s[from:], sep)
		if idx < 0 {
			break
		}
		abs := from + idx
		if abs >= minStart {
			best = abs
		}
		from = abs + 1
		if from >= len(s) {
			break
		}
	}
	return best
}

func appendTrimmed(chunks *[]string, s string) {
	trimmed := strings.TrimSpace(s)
	if trimmed != "" {
		*chunks = append(*chunks, trimmed)
	}
}
