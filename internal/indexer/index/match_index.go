package index

import (
	"iter"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/hbollon/go-edlib"

	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/indexer/normalizer"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/vocabulary"
)

const (
	// MinExpandLength is the shortest token that may match anything other
	// than itself.
	MinExpandLength = 3
	// shortTokenLength and below tolerate one edit, longer tokens two.
	shortTokenLength = 4
	// maxPrefixMatches bounds how many longer terms a single prefix token
	// expands to; the shortest (most similar) terms are kept.
	maxPrefixMatches = 64
)

// entryText is the normalized content indexed for one entry.
type entryText struct {
	description string
	synonyms    []string
	terms       []string
}

// Index is the immutable match index over a vocabulary. It is safe for
// concurrent use once Build returns.
type Index struct {
	postings map[string]PostingSet
	// terms is the sorted term dictionary, used for prefix lookup.
	terms []string
	// byLength buckets the digit-free terms by rune count for fuzzy lookup.
	byLength     map[int][]fuzzyTerm
	entries      []entryText
	postingCount int
}

type fuzzyTerm struct {
	term string
	sig  letterSignature
}

// Build indexes the description and synonyms of every entry. IDs must be
// the ones the owning store issues.
func Build(entries iter.Seq2[int, *vocabulary.CodeEntry]) *Index {
	idx := &Index{
		postings: make(map[string]PostingSet),
		byLength: make(map[int][]fuzzyTerm),
	}
	for id, entry := range entries {
		for len(idx.entries) <= id {
			idx.entries = append(idx.entries, entryText{})
		}
		text := entryText{description: normalizer.Normalize(entry.Description).String()}
		seen := make(map[string]struct{})
		collect := func(t normalizer.Text) {
			for _, term := range t {
				if _, ok := seen[term]; ok {
					continue
				}
				seen[term] = struct{}{}
				text.terms = append(text.terms, term)
				idx.postings[term] = idx.postings[term].add(id)
			}
		}
		collect(normalizer.Normalize(entry.Description))
		for _, syn := range entry.Synonyms {
			norm := normalizer.Normalize(syn)
			if norm.Empty() {
				continue
			}
			text.synonyms = append(text.synonyms, norm.String())
			collect(norm)
		}
		sort.Strings(text.terms)
		idx.entries[id] = text
	}

	idx.terms = make([]string, 0, len(idx.postings))
	for term, set := range idx.postings {
		idx.terms = append(idx.terms, term)
		idx.postingCount += len(set)
	}
	sort.Strings(idx.terms)
	for _, term := range idx.terms {
		if normalizer.HasDigit(term) {
			continue
		}
		n := utf8.RuneCountInString(term)
		idx.byLength[n] = append(idx.byLength[n], fuzzyTerm{term: term, sig: signatureOf(term)})
	}
	return idx
}

// TermCount is the size of the term dictionary.
func (idx *Index) TermCount() int { return len(idx.terms) }

// PostingCount is the total number of (term, entry) pairs.
func (idx *Index) PostingCount() int { return idx.postingCount }

// Postings returns the entries containing term verbatim.
func (idx *Index) Postings(term string) PostingSet { return idx.postings[term] }

// Description is the normalized canonical description of entry id.
func (idx *Index) Description(id int) string { return idx.entries[id].description }

// Synonyms are the normalized canonical synonyms of entry id.
func (idx *Index) Synonyms(id int) []string { return idx.entries[id].synonyms }

// Terms are the distinct indexed terms of entry id, sorted.
func (idx *Index) Terms(id int) []string { return idx.entries[id].terms }

// Expand resolves every query token to the indexed terms it matches. A token
// always matches itself when indexed. Tokens of at least MinExpandLength
// runes without digits also match terms within the edit threshold and, as
// prefixes, longer terms. The result is parallel to tokens.
func (idx *Index) Expand(tokens []string) []Expansion {
	out := make([]Expansion, len(tokens))
	for i, tok := range tokens {
		out[i] = idx.expand(tok)
	}
	return out
}

func (idx *Index) expand(token string) Expansion {
	exp := Expansion{Token: token, best: make(map[string]float64)}
	record := func(m TermMatch) {
		if prev, ok := exp.best[m.Term]; ok && prev >= m.Similarity {
			return
		}
		exp.best[m.Term] = m.Similarity
		exp.Matches = append(exp.Matches, m)
	}

	if _, ok := idx.postings[token]; ok {
		record(TermMatch{Term: token, Kind: MatchExact, Similarity: 1})
	}
	n := utf8.RuneCountInString(token)
	if n >= MinExpandLength && !normalizer.HasDigit(token) {
		idx.fuzzy(token, n, record)
		idx.prefix(token, n, record)
	}

	// A term recorded twice keeps only its best entry.
	kept := exp.Matches[:0]
	for _, m := range exp.Matches {
		if exp.best[m.Term] == m.Similarity && !containsTerm(kept, m.Term) {
			kept = append(kept, m)
		}
	}
	exp.Matches = kept
	sort.Slice(exp.Matches, func(i, j int) bool {
		a, b := exp.Matches[i], exp.Matches[j]
		if a.Similarity != b.Similarity {
			return a.Similarity > b.Similarity
		}
		return a.Term < b.Term
	})
	return exp
}

func containsTerm(ms []TermMatch, term string) bool {
	for _, m := range ms {
		if m.Term == term {
			return true
		}
	}
	return false
}

// MaxDistance is the edit distance a token of n runes tolerates.
func MaxDistance(n int) int {
	if n <= shortTokenLength {
		return 1
	}
	return 2
}

func (idx *Index) fuzzy(token string, n int, record func(TermMatch)) {
	maxDist := MaxDistance(n)
	sig := signatureOf(token)
	for length := max(n-maxDist, 1); length <= n+maxDist; length++ {
		for _, cand := range idx.byLength[length] {
			if cand.term == token || sig.lowerBound(cand.sig) > maxDist {
				continue
			}
			d := edlib.OSADamerauLevenshteinDistance(token, cand.term)
			if d > maxDist {
				continue
			}
			record(TermMatch{
				Term:       cand.term,
				Kind:       MatchFuzzy,
				Distance:   d,
				Similarity: 1 - float64(d)/float64(max(n, length)),
			})
		}
	}
}

func (idx *Index) prefix(token string, n int, record func(TermMatch)) {
	start := sort.SearchStrings(idx.terms, token)
	var matches []TermMatch
	for i := start; i < len(idx.terms) && strings.HasPrefix(idx.terms[i], token); i++ {
		term := idx.terms[i]
		if term == token || normalizer.HasDigit(term) {
			continue
		}
		length := utf8.RuneCountInString(term)
		matches = append(matches, TermMatch{
			Term:       term,
			Kind:       MatchPrefix,
			Distance:   length - n,
			Similarity: float64(n) / float64(length),
		})
	}
	if len(matches) > maxPrefixMatches {
		sort.SliceStable(matches, func(i, j int) bool {
			return matches[i].Similarity > matches[j].Similarity
		})
		matches = matches[:maxPrefixMatches]
	}
	for _, m := range matches {
		record(m)
	}
}

// Candidates is the union of the postings of every term the tokens expand to.
func (idx *Index) Candidates(tokens []string) map[int]struct{} {
	return idx.CandidatesFor(idx.Expand(tokens))
}

// CandidatesFor is Candidates over already expanded tokens.
func (idx *Index) CandidatesFor(expansions []Expansion) map[int]struct{} {
	out := make(map[int]struct{})
	for _, exp := range expansions {
		for _, m := range exp.Matches {
			for _, id := range idx.postings[m.Term] {
				out[id] = struct{}{}
			}
		}
	}
	return out
}
