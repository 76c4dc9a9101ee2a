package index

import "sort"

// PostingSet is the ascending, duplicate-free list of entry IDs whose
// indexed text contains a term.
type PostingSet []int

// Contains reports whether id is in the set.
func (p PostingSet) Contains(id int) bool {
	i := sort.SearchInts(p, id)
	return i < len(p) && p[i] == id
}

// add appends id, keeping the set sorted. Build visits entries in ID order
// so the common case is a plain append.
func (p PostingSet) add(id int) PostingSet {
	n := len(p)
	if n > 0 && p[n-1] >= id {
		if p.Contains(id) {
			return p
		}
		i := sort.SearchInts(p, id)
		p = append(p, 0)
		copy(p[i+1:], p[i:])
		p[i] = id
		return p
	}
	return append(p, id)
}

// MatchKind says how an indexed term relates to a query token.
type MatchKind int

const (
	MatchExact MatchKind = iota
	MatchFuzzy
	MatchPrefix
)

func (k MatchKind) String() string {
	switch k {
	case MatchExact:
		return "exact"
	case MatchFuzzy:
		return "fuzzy"
	case MatchPrefix:
		return "prefix"
	default:
		return "unknown"
	}
}

// TermMatch is one indexed term a query token expanded to. Similarity is in
// (0, 1]; an exact match is 1.
type TermMatch struct {
	Term       string
	Kind       MatchKind
	Distance   int
	Similarity float64
}

// Expansion is the set of indexed terms a single query token matched,
// best first.
type Expansion struct {
	Token   string
	Matches []TermMatch

	best map[string]float64
}

// Similarity returns the credit term earns toward the token, or false when
// the token did not expand to it.
func (e Expansion) Similarity(term string) (float64, bool) {
	sim, ok := e.best[term]
	return sim, ok
}

// Matched reports whether the token expanded to any indexed term.
func (e Expansion) Matched() bool { return len(e.Matches) > 0 }
