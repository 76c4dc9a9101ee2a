package index

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/vocabulary"
)

func testStore(t testing.TB) *vocabulary.Store {
	t.Helper()
	store, err := vocabulary.NewStore("test", []vocabulary.Record{
		{Code: "E11.9", Description: "Type 2 diabetes mellitus without complications"},
		{Code: "E10.9", Description: "Type 1 diabetes mellitus without complications"},
		{Code: "I10", Description: "Essential (primary) hypertension", Synonyms: []string{"High blood pressure"}},
		{Code: "J45.909", Description: "Unspecified asthma, uncomplicated"},
		{Code: "K50.90", Description: "Crohn's disease, unspecified, without complications"},
	})
	require.NoError(t, err)
	return store
}

func TestBuildPostings(t *testing.T) {
	idx := Build(testStore(t).Entries())

	assert.Equal(t, PostingSet{0, 1}, idx.Postings("diabetes"))
	assert.Equal(t, PostingSet{0, 1, 4}, idx.Postings("without"))
	assert.Equal(t, PostingSet{2}, idx.Postings("blood"), "synonym terms are indexed")
	assert.Empty(t, idx.Postings("missing"))
	assert.Equal(t, "type 2 diabetes mellitus without complications", idx.Description(0))
	assert.Equal(t, []string{"high blood pressure"}, idx.Synonyms(2))
	assert.Contains(t, idx.Terms(2), "hypertension")
	assert.Contains(t, idx.Terms(2), "pressure")
}

func TestExpandExact(t *testing.T) {
	idx := Build(testStore(t).Entries())

	exp := idx.Expand([]string{"diabetes"})
	require.Len(t, exp, 1)
	require.NotEmpty(t, exp[0].Matches)
	assert.Equal(t, TermMatch{Term: "diabetes", Kind: MatchExact, Similarity: 1}, exp[0].Matches[0])
}

func TestExpandFuzzy(t *testing.T) {
	idx := Build(testStore(t).Entries())

	exp := idx.Expand([]string{"diabetis"})[0]
	sim, ok := exp.Similarity("diabetes")
	require.True(t, ok)
	assert.InDelta(t, 1-1.0/8, sim, 1e-9)

	// transposition counts as one edit
	exp = idx.Expand([]string{"astmha"})[0]
	sim, ok = exp.Similarity("asthma")
	require.True(t, ok)
	assert.InDelta(t, 1-1.0/6, sim, 1e-9)

	exp = idx.Expand([]string{"tpye"})[0]
	_, ok = exp.Similarity("type")
	assert.True(t, ok, "one transposition")
	exp = idx.Expand([]string{"tye"})[0]
	_, ok = exp.Similarity("type")
	assert.True(t, ok, "one insertion")
	// two edits exceed the short-token threshold
	exp = idx.Expand([]string{"xpyx"})[0]
	_, ok = exp.Similarity("type")
	assert.False(t, ok)
}

func TestExpandPrefix(t *testing.T) {
	idx := Build(testStore(t).Entries())

	exp := idx.Expand([]string{"diab"})[0]
	sim, ok := exp.Similarity("diabetes")
	require.True(t, ok)
	assert.InDelta(t, 0.5, sim, 1e-9)

	for _, m := range exp.Matches {
		if m.Term == "diabetes" {
			assert.Equal(t, MatchPrefix, m.Kind)
		}
	}
}

func TestExpandVerbatimOnly(t *testing.T) {
	idx := Build(testStore(t).Entries())

	exp := idx.Expand([]string{"2"})[0]
	require.Len(t, exp.Matches, 1)
	assert.Equal(t, "2", exp.Matches[0].Term)

	exp = idx.Expand([]string{"3"})[0]
	assert.False(t, exp.Matched(), "digits never match other digits")

	exp = idx.Expand([]string{"ty"})[0]
	assert.False(t, exp.Matched(), "short tokens do not expand by prefix")
}

func TestExpandOrdering(t *testing.T) {
	idx := Build(testStore(t).Entries())

	exp := idx.Expand([]string{"complication"})[0]
	require.NotEmpty(t, exp.Matches)
	for i := 1; i < len(exp.Matches); i++ {
		prev, cur := exp.Matches[i-1], exp.Matches[i]
		assert.True(t, prev.Similarity > cur.Similarity ||
			prev.Similarity == cur.Similarity && prev.Term < cur.Term)
	}
	terms := map[string]bool{}
	for _, m := range exp.Matches {
		assert.False(t, terms[m.Term], "term %q listed twice", m.Term)
		terms[m.Term] = true
	}
}

func TestCandidates(t *testing.T) {
	idx := Build(testStore(t).Entries())

	assert.Equal(t, map[int]struct{}{0: {}, 1: {}}, idx.Candidates([]string{"diabetis"}))
	assert.Equal(t, map[int]struct{}{2: {}}, idx.Candidates([]string{"presure"}))
	assert.Empty(t, idx.Candidates([]string{"zzzz"}))
	assert.Empty(t, idx.Candidates(nil))
}

func TestPostingSetAdd(t *testing.T) {
	var p PostingSet
	for _, id := range []int{3, 1, 3, 2, 5, 1} {
		p = p.add(id)
	}
	assert.Equal(t, PostingSet{1, 2, 3, 5}, p)
	assert.True(t, p.Contains(5))
	assert.False(t, p.Contains(4))
}

func TestLetterSignatureLowerBound(t *testing.T) {
	pairs := [][2]string{
		{"diabetes", "diabetis"},
		{"asthma", "athsma"},
		{"type", "tpy"},
		{"fracture", "fructure"},
		{"kidney", "kidnye"},
	}
	for _, p := range pairs {
		lb := signatureOf(p[0]).lowerBound(signatureOf(p[1]))
		assert.LessOrEqual(t, lb, 1, "%s/%s", p[0], p[1])
	}
	assert.Equal(t, 4, signatureOf("abcd").lowerBound(signatureOf("wxyz")))
}

func BenchmarkExpand(b *testing.B) {
	records := make([]vocabulary.Record, 0, 5000)
	words := []string{"fracture", "shaft", "radius", "ulna", "femur", "displaced", "closed", "open", "initial", "encounter", "sequela", "subsequent"}
	for i := range 5000 {
		records = append(records, vocabulary.Record{
			Code:        fmt.Sprintf("S%05d", i),
			Description: fmt.Sprintf("%s %s of %s %s%d", words[i%12], words[(i+3)%12], words[(i+5)%12], words[(i+7)%12], i%97),
		})
	}
	store, err := vocabulary.NewStore("bench", records)
	require.NoError(b, err)
	idx := Build(store.Entries())

	b.ReportAllocs()
	for b.Loop() {
		_ = idx.Expand([]string{"fractur", "shft", "radi"})
	}
}
