package executor

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/vocabulary"
	apperrors "github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/tracing"
)

var fixtureRecords = []vocabulary.Record{
	{Code: "E11.9", Description: "Type 2 diabetes mellitus without complications"},
	{Code: "E11.21", Description: "Type 2 diabetes mellitus with diabetic nephropathy"},
	{Code: "E11.65", Description: "Type 2 diabetes mellitus with hyperglycemia"},
	{Code: "E10.9", Description: "Type 1 diabetes mellitus without complications"},
	{Code: "I10", Description: "Essential (primary) hypertension", Synonyms: []string{"High blood pressure"}},
	{Code: "J45.909", Description: "Unspecified asthma, uncomplicated"},
	{Code: "J00", Description: "Acute nasopharyngitis [common cold]", Synonyms: []string{"Common cold"}},
	{Code: "N39.0", Description: "Urinary tract infection, site not specified"},
	{Code: "M54.50", Description: "Low back pain, unspecified"},
	{Code: "R51.9", Description: "Headache, unspecified"},
	{Code: "K21.9", Description: "Gastro-esophageal reflux disease without esophagitis", Synonyms: []string{"GERD"}},
	{Code: "F32.9", Description: "Major depressive disorder, single episode, unspecified"},
	{Code: "G43.909", Description: "Migraine, unspecified, not intractable, without status migrainosus"},
	{Code: "U07.1", Description: "COVID-19"},
	{Code: "S52.521A", Description: "Torus fracture of lower end of right radius, initial encounter for closed fracture"},
}

func newTestExecutor(t testing.TB) (*Executor, *indexer.Snapshot) {
	t.Helper()
	store, err := vocabulary.NewStore("fixture", fixtureRecords)
	require.NoError(t, err)
	snap := indexer.NewSnapshot(store, 1)
	return New(snap), snap
}

func codes(r *SearchResult) []string {
	out := make([]string, 0, len(r.Results))
	for _, m := range r.Results {
		out = append(out, m.Code)
	}
	return out
}

func TestSearchMisspelledDiabetes(t *testing.T) {
	store, err := vocabulary.NewStore("scenario", []vocabulary.Record{
		{Code: "E11.21", Description: "Type 2 diabetes mellitus with diabetic nephropathy"},
		{Code: "E10.9", Description: "Type 1 diabetes mellitus without complications"},
		{Code: "E11.9", Description: "Type 2 diabetes mellitus without complications"},
	})
	require.NoError(t, err)
	ex := New(indexer.NewSnapshot(store, 1))

	res, err := ex.Search(context.Background(), "type 2 diabetis", DefaultOptions())
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(res.Results), 2)
	assert.Equal(t, []string{"E11.9", "E11.21"}, codes(res)[:2])
	assert.False(t, res.CodeQuery)
	assert.Equal(t, "type 2 diabetis", res.Normalized)
}

func TestSearchExactDescriptionScoresOne(t *testing.T) {
	ex, _ := newTestExecutor(t)

	for _, rec := range fixtureRecords {
		res, err := ex.Search(context.Background(), rec.Description, DefaultOptions())
		require.NoError(t, err, rec.Code)
		require.NotEmpty(t, res.Results, rec.Code)
		assert.Equal(t, rec.Code, res.Results[0].Code)
		assert.Equal(t, 1.0, res.Results[0].Score, rec.Code)
	}
}

func TestSearchSynonym(t *testing.T) {
	ex, _ := newTestExecutor(t)

	for query, want := range map[string]string{
		"common cold":         "J00",
		"GERD":                "K21.9",
		"high blood pressure": "I10",
	} {
		res, err := ex.Search(context.Background(), query, DefaultOptions())
		require.NoError(t, err)
		require.NotEmpty(t, res.Results, query)
		assert.Equal(t, want, res.Results[0].Code, query)
		assert.Equal(t, 0.9999, res.Results[0].Score, query)
	}

	res, err := ex.Search(context.Background(), "Covid-19", DefaultOptions())
	require.NoError(t, err)
	require.NotEmpty(t, res.Results)
	assert.Equal(t, "U07.1", res.Results[0].Code)
	assert.Equal(t, 1.0, res.Results[0].Score)
}

func TestSearchDescriptionBeatsSynonym(t *testing.T) {
	store, err := vocabulary.NewStore("overlap", []vocabulary.Record{
		{Code: "A01", Description: "Chronic kidney disease"},
		{Code: "B02", Description: "CKD", Synonyms: []string{"Chronic kidney disease"}},
	})
	require.NoError(t, err)
	ex := New(indexer.NewSnapshot(store, 1))

	res, err := ex.Search(context.Background(), "chronic kidney disease", DefaultOptions())
	require.NoError(t, err)
	require.Len(t, res.Results, 2)
	assert.Equal(t, []string{"A01", "B02"}, codes(res))
	assert.Equal(t, 1.0, res.Results[0].Score)
	assert.Less(t, res.Results[1].Score, 1.0)
}

func TestSearchTypoTolerance(t *testing.T) {
	ex, _ := newTestExecutor(t)

	for query, want := range map[string]string{
		"astma":            "J45.909",
		"hypertenshun":     "I10",
		"migrane":          "G43.909",
		"urinary infecton": "N39.0",
		"lower back pain":  "M54.50",
		"headach":          "R51.9",
	} {
		res, err := ex.Search(context.Background(), query, DefaultOptions())
		require.NoError(t, err)
		require.NotEmpty(t, res.Results, query)
		assert.Equal(t, want, res.Results[0].Code, query)
	}
}

func TestSearchEmptyQuery(t *testing.T) {
	ex, _ := newTestExecutor(t)

	for _, q := range []string{"", "   ", "\t\n", "?!;"} {
		res, err := ex.Search(context.Background(), q, DefaultOptions())
		require.NoError(t, err)
		assert.Empty(t, res.Results)
		assert.NotNil(t, res.Results)
		assert.Equal(t, q, res.Query)
	}
}

func TestSearchNoMatch(t *testing.T) {
	ex, _ := newTestExecutor(t)

	res, err := ex.Search(context.Background(), "xylophone quartet", DefaultOptions())
	require.NoError(t, err)
	assert.Empty(t, res.Results)
	assert.Zero(t, res.TotalCandidates)
}

func TestSearchInvalidOptions(t *testing.T) {
	ex, _ := newTestExecutor(t)

	tests := []struct {
		name  string
		opts  Options
		field string
	}{
		{"zero top k", Options{TopK: 0, MinScore: 0.3}, "top_k"},
		{"negative top k", Options{TopK: -3, MinScore: 0.3}, "top_k"},
		{"negative min score", Options{TopK: 10, MinScore: -0.01}, "min_score"},
		{"min score above one", Options{TopK: 10, MinScore: 1.01}, "min_score"},
		{"nan min score", Options{TopK: 10, MinScore: math.NaN()}, "min_score"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ex.Search(context.Background(), "asthma", tt.opts)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, apperrors.ErrInvalidQuery)

			var iqe *InvalidQueryError
			require.ErrorAs(t, err, &iqe)
			assert.Equal(t, tt.field, iqe.Field)
			assert.Equal(t, 400, apperrors.HTTPStatusCode(err))
		})
	}

	// an empty query still validates its options
	_, err := ex.Search(context.Background(), "", Options{TopK: 0})
	assert.ErrorIs(t, err, apperrors.ErrInvalidQuery)
}

func TestSearchBoundaryOptions(t *testing.T) {
	ex, _ := newTestExecutor(t)

	_, err := ex.Search(context.Background(), "asthma", Options{TopK: 1, MinScore: 0})
	assert.NoError(t, err)
	_, err = ex.Search(context.Background(), "asthma", Options{TopK: 1, MinScore: 1})
	assert.NoError(t, err)
}

func TestSearchMinScoreMonotonic(t *testing.T) {
	ex, _ := newTestExecutor(t)

	for _, q := range []string{"diabetes", "type 2 diabetis", "unspecified", "pain", "fracture radius"} {
		prev := math.MaxInt
		for step := 0; step <= 20; step++ {
			opts := Options{TopK: 100, MinScore: float64(step) / 20}
			res, err := ex.Search(context.Background(), q, opts)
			require.NoError(t, err)
			assert.LessOrEqual(t, len(res.Results), prev, "query %q min_score %v", q, opts.MinScore)
			for _, m := range res.Results {
				assert.GreaterOrEqual(t, m.Score, opts.MinScore)
			}
			prev = len(res.Results)
		}
	}
}

func TestSearchNoPadding(t *testing.T) {
	ex, _ := newTestExecutor(t)

	res, err := ex.Search(context.Background(), "diabetes", Options{TopK: 1000, MinScore: 0})
	require.NoError(t, err)
	assert.Len(t, res.Results, res.TotalCandidates)
	assert.Len(t, res.Results, 4)

	res, err = ex.Search(context.Background(), "diabetes", Options{TopK: 2, MinScore: 0})
	require.NoError(t, err)
	assert.Len(t, res.Results, 2)
}

func TestSearchDeterministic(t *testing.T) {
	ex, _ := newTestExecutor(t)
	opts := Options{TopK: 50, MinScore: 0}

	want, err := ex.Search(context.Background(), "unspecified without", opts)
	require.NoError(t, err)
	require.NotEmpty(t, want.Results)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				got, err := ex.Search(context.Background(), "unspecified without", opts)
				if !assert.NoError(t, err) || !assert.Equal(t, want, got) {
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestSearchOrdering(t *testing.T) {
	ex, _ := newTestExecutor(t)

	res, err := ex.Search(context.Background(), "unspecified", Options{TopK: 50, MinScore: 0})
	require.NoError(t, err)
	for i := 1; i < len(res.Results); i++ {
		prev, cur := res.Results[i-1], res.Results[i]
		require.GreaterOrEqual(t, prev.Score, cur.Score)
		if prev.Score == cur.Score {
			pl, cl := len([]rune(prev.Description)), len([]rune(cur.Description))
			assert.True(t, pl < cl || pl == cl && prev.Code < cur.Code, "%s before %s", prev.Code, cur.Code)
		}
	}
}

func TestSearchCodeQuery(t *testing.T) {
	ex, _ := newTestExecutor(t)

	res, err := ex.Search(context.Background(), "E11.9", DefaultOptions())
	require.NoError(t, err)
	assert.True(t, res.CodeQuery)
	require.NotEmpty(t, res.Results)
	assert.Equal(t, "E11.9", res.Results[0].Code)
	assert.Equal(t, 1.0, res.Results[0].Score)

	res, err = ex.Search(context.Background(), "j45909", DefaultOptions())
	require.NoError(t, err)
	assert.True(t, res.CodeQuery)
	assert.Equal(t, []string{"J45.909"}, codes(res))

	res, err = ex.Search(context.Background(), "e11", DefaultOptions())
	require.NoError(t, err)
	assert.True(t, res.CodeQuery)
	assert.Equal(t, []string{"E11.9", "E11.65", "E11.21"}, codes(res))
	assert.Equal(t, 0.75, res.Results[0].Score)
	for _, m := range res.Results {
		assert.Less(t, m.Score, 1.0)
	}
}

func TestSearchUnknownCodeFallsThrough(t *testing.T) {
	ex, _ := newTestExecutor(t)

	res, err := ex.Search(context.Background(), "Z99.9", DefaultOptions())
	require.NoError(t, err)
	assert.False(t, res.CodeQuery)
	assert.Empty(t, res.Results)
}

func TestSearchExplain(t *testing.T) {
	ex, _ := newTestExecutor(t)

	opts := DefaultOptions()
	res, err := ex.Search(context.Background(), "asthma", opts)
	require.NoError(t, err)
	require.NotEmpty(t, res.Results)
	assert.Nil(t, res.Results[0].Components)

	opts.Explain = true
	res, err = ex.Search(context.Background(), "asthma", opts)
	require.NoError(t, err)
	require.NotEmpty(t, res.Results)
	require.NotNil(t, res.Results[0].Components)
	c := res.Results[0].Components
	assert.InDelta(t, res.Results[0].Score, c.Overlap+c.Edit+c.Prefix, 1e-4)
}

type emptySource struct{}

func (emptySource) Current() *indexer.Snapshot { return nil }

func TestSearchNotReady(t *testing.T) {
	ex := New(emptySource{})

	_, err := ex.Search(context.Background(), "asthma", DefaultOptions())
	assert.ErrorIs(t, err, apperrors.ErrNotReady)
	assert.Equal(t, 503, apperrors.HTTPStatusCode(err))

	_, err = ex.Lookup("J45.909")
	assert.ErrorIs(t, err, apperrors.ErrNotReady)
}

func TestLookup(t *testing.T) {
	ex, _ := newTestExecutor(t)

	entry, err := ex.Lookup("j45909")
	require.NoError(t, err)
	assert.Equal(t, "J45.909", entry.Code)

	_, err = ex.Lookup("E11")
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrCodeNotFound))
	assert.Equal(t, 404, apperrors.HTTPStatusCode(err))
}

func TestSearchRecordsStageSpans(t *testing.T) {
	ex, _ := newTestExecutor(t)

	ctx, root := tracing.StartSpan(context.Background(), "search", "req-1")
	_, err := ex.Search(ctx, "E11", DefaultOptions())
	require.NoError(t, err)
	_, err = ex.Search(ctx, "asthma", DefaultOptions())
	require.NoError(t, err)
	root.End()

	children := root.Children()
	require.Len(t, children, 2)
	assert.Equal(t, "code_prefix", children[0].Name)
	assert.Equal(t, "fuzzy_match", children[1].Name)
	assert.Equal(t, "req-1", children[1].TraceID)
}

func BenchmarkSearch(b *testing.B) {
	ex, _ := newTestExecutor(b)
	queries := []string{"type 2 diabetis", "astma", "lower back pain", "E11", "fracture of radius"}
	opts := DefaultOptions()

	b.ReportAllocs()
	i := 0
	for b.Loop() {
		if _, err := ex.Search(context.Background(), queries[i%len(queries)], opts); err != nil {
			b.Fatal(err)
		}
		i++
	}
}
