package retrieval

import (
	"sort"
	"strings"
)

// stopWords excludes common connective words from keyword candidacy.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "but": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "of": true,
	"with": true, "is": true, "are": true, "was": true, "were": true,
}

// ExtractKeywords returns up to limit frequent non-stop-words from text,
// ordered by descending frequency then first occurrence for determinism.
func ExtractKeywords(text string, limit int) []string {
	words := strings.Fields(strings.ToLower(text))

	freq := make(map[string]int)
	firstSeen := make(map[string]int)
	for i, word := range words {
		word = strings.Trim(word, ".,;:!?()[]{}\"'")
		if len(word) <= 2 || stopWords[word] {
			continue
		}
		if _, ok := firstSeen[word]; !ok {
			firstSeen[word] = i
		}
		freq[word]++
	}

	type candidate struct {
		word  string
		count int
		first int
	}
	candidates := make([]candidate, 0, len(freq))
	for word, count := range freq {
		if count < 2 {
			continue
		}
		candidates = append(candidates, candidate{word, count, firstSeen[word]})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].count != candidates[j].count {
			return candidates[i].count > candidates[j].count
		}
		return candidates[i].first < candidates[j].first
	})

	if limit <= 0 || limit > len(candidates) {
		limit = len(candidates)
	}
	out := make([]string, limit)
	for i := 0; i < limit; i++ {
		out[i] = candidates[i].word
	}
	return out
}
