package ingestion

import (
	"regexp"
	"strings"

	"github.com/54b3r/osdr-rag-go/internal/index"
)

var wordRe = regexp.MustCompile(`[\p{L}\p{N}]+`)

// titleTokens returns the set of lowercase words in title.
func titleTokens(title string) map[string]struct{} {
	words := wordRe.FindAllString(strings.ToLower(title), -1)
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}

// jaccard returns |a∩b| / |a∪b|, or 0 when both sets are empty.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for w := range small {
		if _, ok := large[w]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// crossLink records, on both sides, the ids of every pair whose title
// similarity is strictly above threshold, and returns the number of pairs.
// It compares every pair, so cost grows with len(left)*len(right).
func crossLink(left, right []index.Item, threshold float64) int {
	rightTokens := make([]map[string]struct{}, len(right))
	for j := range right {
		rightTokens[j] = titleTokens(right[j].Meta.Title)
	}

	links := 0
	for i := range left {
		lt := titleTokens(left[i].Meta.Title)
		for j := range right {
			if jaccard(lt, rightTokens[j]) > threshold {
				left[i].Meta.Related = append(left[i].Meta.Related, right[j].ID)
				right[j].Meta.Related = append(right[j].Meta.Related, left[i].ID)
				links++
			}
		}
	}
	return links
}
