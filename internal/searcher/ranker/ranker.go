package ranker

import (
	"math"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/hbollon/go-edlib"

	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/indexer/index"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/indexer/normalizer"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/vocabulary"
)

const (
	DefaultTopK     = 10
	DefaultMinScore = 0.3

	overlapWeight = 0.6
	editWeight    = 0.3
	prefixWeight  = 0.1

	// maxPrefixScore caps a code-prefix match below an exact code match.
	maxPrefixScore = 0.99
	// maxSynonymScore keeps an exact synonym match below an exact
	// description match.
	maxSynonymScore = 0.9999
)

// Query is a normalized query with its tokens already expanded against the
// index it will be scored on.
type Query struct {
	Text       normalizer.Text
	Canonical  string
	Expansions []index.Expansion
}

// NewQuery expands text, as produced by normalizer.Normalize, against idx.
func NewQuery(text normalizer.Text, idx *index.Index) Query {
	return Query{
		Text:       text,
		Canonical:  text.String(),
		Expansions: idx.Expand(text),
	}
}

// Breakdown holds the weighted components of a score before rounding.
type Breakdown struct {
	Overlap float64 `json:"overlap"`
	Edit    float64 `json:"edit"`
	Prefix  float64 `json:"prefix"`
}

type ScoredMatch struct {
	ID         int
	Entry      *vocabulary.CodeEntry
	Score      float64
	Components Breakdown
}

// Score rates entry id against q in [0, 1]. Only an entry whose normalized
// description equals the normalized query scores exactly 1.
func Score(q Query, idx *index.Index, id int) (float64, Breakdown) {
	if len(q.Text) == 0 {
		return 0, Breakdown{}
	}
	var parts Breakdown
	parts.Overlap = overlapWeight * overlap(q, idx.Terms(id))

	desc := idx.Description(id)
	best := similarity(q.Canonical, desc)
	prefix := strings.HasPrefix(desc, q.Canonical)
	for _, syn := range idx.Synonyms(id) {
		best = max(best, similarity(q.Canonical, syn))
		prefix = prefix || strings.HasPrefix(syn, q.Canonical)
	}
	parts.Edit = editWeight * best
	if prefix {
		parts.Prefix = prefixWeight
	}
	total := parts.Overlap + parts.Edit + parts.Prefix
	if desc != q.Canonical {
		total = min(total, maxSynonymScore)
	}
	return round(total), parts
}

// overlap is the mean over query tokens of the best credit the token earns
// from any of the entry's terms.
func overlap(q Query, terms []string) float64 {
	var total float64
	for _, exp := range q.Expansions {
		var credit float64
		for _, term := range terms {
			if sim, ok := exp.Similarity(term); ok && sim > credit {
				credit = sim
				if credit == 1 {
					break
				}
			}
		}
		total += credit
	}
	return total / float64(len(q.Expansions))
}

func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	sim, err := edlib.StringsSimilarity(a, b, edlib.Levenshtein)
	if err != nil {
		return 0
	}
	return float64(sim)
}

func round(score float64) float64 {
	score = math.Round(score*10000) / 10000
	return min(max(score, 0), 1)
}

// Rank scores every candidate, drops those under minScore and returns at
// most topK matches, best first.
func Rank(q Query, idx *index.Index, store *vocabulary.Store, candidates map[int]struct{}, topK int, minScore float64) []ScoredMatch {
	if topK <= 0 || len(q.Text) == 0 {
		return []ScoredMatch{}
	}
	result := make([]ScoredMatch, 0, len(candidates))
	for id := range candidates {
		score, parts := Score(q, idx, id)
		if score < minScore {
			continue
		}
		result = append(result, ScoredMatch{
			ID:         id,
			Entry:      store.Entry(id),
			Score:      score,
			Components: parts,
		})
	}
	Sort(result)
	if len(result) > topK {
		result = result[:topK]
	}
	return result
}

// RankCodes scores entries found by code prefix. The entry whose code equals
// the query scores 1; a longer code scores the share of its key the query
// covers, capped at maxPrefixScore.
func RankCodes(query string, store *vocabulary.Store, ids []int, topK int, minScore float64) []ScoredMatch {
	if topK <= 0 {
		return []ScoredMatch{}
	}
	key := vocabulary.CodeKey(query)
	result := make([]ScoredMatch, 0, len(ids))
	for _, id := range ids {
		entry := store.Entry(id)
		score := CodeScore(key, vocabulary.CodeKey(entry.Code))
		if score < minScore {
			continue
		}
		result = append(result, ScoredMatch{ID: id, Entry: entry, Score: score})
	}
	Sort(result)
	if len(result) > topK {
		result = result[:topK]
	}
	return result
}

// CodeScore compares two code keys where query is a prefix of code.
func CodeScore(query, code string) float64 {
	if query == code {
		return 1
	}
	if code == "" || !strings.HasPrefix(code, query) {
		return 0
	}
	return min(round(float64(len(query))/float64(len(code))), maxPrefixScore)
}

// Sort orders matches by score, then shorter description, then code.
func Sort(matches []ScoredMatch) {
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		la, lb := utf8.RuneCountInString(a.Entry.Description), utf8.RuneCountInString(b.Entry.Description)
		if la != lb {
			return la < lb
		}
		return a.Entry.Code < b.Entry.Code
	})
}
