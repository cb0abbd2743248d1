// Package vectorize implements the VectorDB worker: it fans a crawled blob
// folder out into text chunks, embeds them and upserts the vectors into the
// external index.
package vectorize

import "strings"

// SplitText splits text into chunks of at most size runes, each overlapping
// the previous chunk by overlap runes. Whitespace-only chunks are dropped
// and the survivors are trimmed.
func SplitText(text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(text)
	var chunks []string
	for start := 0; start < len(runes); {
		end := min(start+size, len(runes))
		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end == len(runes) {
			break
		}
		start = end - overlap
	}
	return chunks
}
