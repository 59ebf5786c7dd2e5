package retrieval

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"arbitration-rag/internal/domain"
)

var unicodeWordRe = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)

// lexicalSearch ranks chunks by Ochiai token overlap with the query. Chunks
// sharing no token with the query are dropped.
func lexicalSearch(query string, chunks []domain.Chunk, topK int) []domain.SearchResult {
	qset := toTokenSet(query)
	if len(qset) == 0 || topK <= 0 {
		return nil
	}
	var out []domain.SearchResult
	for _, ch := range chunks {
		if score := overlapOchiai(qset, ch.Content); score > 0 {
			out = append(out, domain.SearchResult{Chunk: ch, Score: score})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK < len(out) {
		out = out[:topK]
	}
	return out
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

// overlapOchiai is |A∩B| / sqrt(|A||B|) over distinct tokens.
func overlapOchiai(qset map[string]struct{}, text string) float64 {
	seen := toTokenSet(text)
	if len(qset) == 0 || len(seen) == 0 {
		return 0
	}
	inter := 0
	for t := range seen {
		if _, ok := qset[t]; ok {
			inter++
		}
	}
	return float64(inter) / math.Sqrt(float64(len(qset))*float64(len(seen)))
}

func allScoresZero(results []domain.SearchResult) bool {
	for _, r := range results {
		if math.Abs(r.Score) > 1e-9 {
			return false
		}
	}
	return true
}
