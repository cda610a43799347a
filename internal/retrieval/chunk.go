package retrieval

import "regexp"

// ChunkParams parametrizes both chunking and cache validity: an index built
// with one set of params is invalid for another (see Manifest.Matches).
type ChunkParams struct {
	ChunkSize int `json:"chunk_size"`
	Overlap   int `json:"overlap"`
}

// Chunk is an immutable slice of a document's extracted text.
type Chunk struct {
	ID         string   `json:"id"`
	DocumentID string   `json:"document_id"`
	Ordinal    int      `json:"ordinal"`
	Text       string   `json:"text"`
	CharOffset int      `json:"char_offset"`
	Keywords   []string `json:"keywords,omitempty"`
}

var sentenceBoundary = regexp.MustCompile(`[.!?]+\s+`)

// boundaryTolerance is how far back from the target chunk_size boundary a
// separator match is accepted before falling back to a hard cut.
const boundaryTolerance = 0.25

// ChunkText splits text into chunks of bounded length with a guaranteed
// overlap between adjacent chunks. It is a pure function of (text, params):
// identical inputs always yield identical output, satisfying the chunk
// coverage and determinism invariants.
//
// Algorithm: each chunk's end is the best available separator boundary —
// paragraph, line, sentence, then space — found within
// [target - tolerance, target]; failing that, the window is cut hard at
// chunk_size. The next chunk starts overlap characters before the previous
// chunk's actual end, so the step is chunk_size - overlap only on hard cuts.
func ChunkText(documentID, text string, params ChunkParams) []Chunk {
	if params.ChunkSize <= 0 {
		params.ChunkSize = 1000
	}
	if params.Overlap < 0 || params.Overlap >= params.ChunkSize {
		params.Overlap = 0
	}
	if text == "" {
		return nil
	}

	var chunks []Chunk
	ordinal := 0
	n := len(text)
	for start := 0; start < n; {
		target := start + params.ChunkSize
		if target > n {
			target = n
		}
		end := bestBoundary(text, start, target, n)
		chunks = append(chunks, Chunk{
			DocumentID: documentID,
			Ordinal:    ordinal,
			Text:       text[start:end],
			CharOffset: start,
		})
		ordinal++
		if end >= n {
			break
		}
		// the next window starts from this chunk's actual (possibly
		// boundary-snapped) end, not a fixed stride, so no text ever falls
		// between two chunks; next is only allowed to fall back to end
		// (no overlap) if subtracting overlap wouldn't move it forward.
		next := end - params.Overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// bestBoundary finds the preferred cut point in (low, target], where low is
// target minus a tolerance window. It tries separators in cascade order and
// falls back to target itself (a hard character cut) if none match.
func bestBoundary(text string, start, target, n int) int {
	if target >= n {
		return n
	}
	tolerance := int(float64(target-start) * boundaryTolerance)
	low := target - tolerance
	if low < start {
		low = start
	}
	window := text[low:target]

	if idx := lastIndex(window, "\n\n"); idx >= 0 {
		return low + idx + len("\n\n")
	}
	if idx := lastIndex(window, "\n"); idx >= 0 {
		return low + idx + len("\n")
	}
	if loc := lastSentenceBoundary(window); loc >= 0 {
		return low + loc
	}
	if idx := lastIndex(window, " "); idx >= 0 {
		return low + idx + len(" ")
	}
	return target
}

func lastIndex(s, sub string) int {
	for i := len(s) - len(sub); i >= 0; i-- {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}

func lastSentenceBoundary(s string) int {
	locs := sentenceBoundary.FindAllStringIndex(s, -1)
	if len(locs) == 0 {
		return -1
	}
	return locs[len(locs)-1][1]
}
