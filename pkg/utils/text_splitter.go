package utils

import "unicode"

// SplitText splits text into chunks of at most chunkSize runes, each
// starting overlap runes before the previous one ended. A chunk ends at
// the last whitespace in its second half when there is one, so words
// are only cut when a single token fills that half.
func SplitText(text string, chunkSize int, overlap int) []string {
	runes := []rune(text)
	if chunkSize <= 0 || len(runes) <= chunkSize {
		return []string{text}
	}
	if overlap < 0 || overlap >= chunkSize {
		overlap = 0
	}

	var chunks []string
	for start := 0; start < len(runes); {
		end := start + chunkSize
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		end = breakAt(runes, start+chunkSize/2, end)
		chunks = append(chunks, string(runes[start:end]))

		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// breakAt returns the index just after the last space in runes[lo:hi], or
// hi when there is none.
func breakAt(runes []rune, lo, hi int) int {
	for i := hi - 1; i >= lo; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return hi
}
