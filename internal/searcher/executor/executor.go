package executor

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/searcher/ranker"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/vocabulary"
	apperrors "github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/tracing"
)

// Options bound a search. They are used as given; start from DefaultOptions.
type Options struct {
	TopK     int
	MinScore float64
	// Explain attaches the score components to every match.
	Explain bool
}

func DefaultOptions() Options {
	return Options{TopK: ranker.DefaultTopK, MinScore: ranker.DefaultMinScore}
}

// Validate rejects a non-positive TopK and a MinScore outside [0, 1].
func (o Options) Validate() error {
	if o.TopK <= 0 {
		return &InvalidQueryError{Field: "top_k", Reason: fmt.Sprintf("must be positive, got %d", o.TopK)}
	}
	if math.IsNaN(o.MinScore) || o.MinScore < 0 || o.MinScore > 1 {
		return &InvalidQueryError{Field: "min_score", Reason: fmt.Sprintf("must be within [0,1], got %v", o.MinScore)}
	}
	return nil
}

// InvalidQueryError reports unusable search options.
type InvalidQueryError struct {
	Field  string
	Reason string
}

func (e *InvalidQueryError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *InvalidQueryError) Unwrap() error { return apperrors.ErrInvalidQuery }

type Match struct {
	Code        string            `json:"code"`
	Description string            `json:"description"`
	Score       float64           `json:"score"`
	Components  *ranker.Breakdown `json:"components,omitempty"`
}

type SearchResult struct {
	Query             string  `json:"query"`
	Normalized        string  `json:"normalized"`
	CodeQuery         bool    `json:"code_query"`
	TotalCandidates   int     `json:"total_candidates"`
	Results           []Match `json:"results"`
	VocabularyVersion uint64  `json:"vocabulary_version"`
}

// SnapshotSource yields the snapshot a search runs against.
// *indexer.Engine and *indexer.Snapshot both satisfy it.
type SnapshotSource interface {
	Current() *indexer.Snapshot
}

type Executor struct {
	source SnapshotSource
}

func New(source SnapshotSource) *Executor {
	return &Executor{source: source}
}

// Search runs query against the current snapshot. It fails only for invalid
// options or before any vocabulary is loaded; an empty or unmatched query
// yields an empty result.
func (e *Executor) Search(ctx context.Context, query string, opts Options) (*SearchResult, error) {
	return e.Execute(ctx, parser.Parse(query), opts)
}

// Execute is Search over an already parsed query.
func (e *Executor) Execute(ctx context.Context, plan *parser.QueryPlan, opts Options) (*SearchResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	snap := e.source.Current()
	if snap == nil {
		return nil, apperrors.New(apperrors.ErrNotReady, http.StatusServiceUnavailable, "no vocabulary snapshot is loaded")
	}

	start := time.Now()
	result := &SearchResult{
		Query:             plan.RawQuery,
		Normalized:        plan.Canonical(),
		Results:           []Match{},
		VocabularyVersion: snap.Version,
	}
	if plan.Empty() {
		return result, nil
	}

	var ranked []ranker.ScoredMatch
	if plan.CodeQuery {
		_, span := tracing.StartChildSpan(ctx, "code_prefix")
		if ids := snap.Store.WithCodePrefix(plan.Code); len(ids) > 0 {
			result.CodeQuery = true
			result.TotalCandidates = len(ids)
			ranked = ranker.RankCodes(plan.Code, snap.Store, ids, opts.TopK, opts.MinScore)
		}
		span.SetAttr("matches", result.TotalCandidates)
		span.End()
	}
	if !result.CodeQuery {
		_, span := tracing.StartChildSpan(ctx, "fuzzy_match")
		q := ranker.NewQuery(plan.Text, snap.Index)
		candidates := snap.Index.CandidatesFor(q.Expansions)
		result.TotalCandidates = len(candidates)
		ranked = ranker.Rank(q, snap.Index, snap.Store, candidates, opts.TopK, opts.MinScore)
		span.SetAttr("candidates", len(candidates))
		span.SetAttr("ranked", len(ranked))
		span.End()
	}

	for _, m := range ranked {
		match := Match{Code: m.Entry.Code, Description: m.Entry.Description, Score: m.Score}
		if opts.Explain && !result.CodeQuery {
			parts := m.Components
			match.Components = &parts
		}
		result.Results = append(result.Results, match)
	}

	logger.FromContext(ctx).With("component", "query-executor").Debug("query executed",
		"query", plan.RawQuery,
		"normalized", result.Normalized,
		"code_query", result.CodeQuery,
		"candidates", result.TotalCandidates,
		"results", len(result.Results),
		"version", snap.Version,
		"duration_us", time.Since(start).Microseconds(),
	)
	return result, nil
}

// Lookup returns the entry for code in the current snapshot.
func (e *Executor) Lookup(code string) (*vocabulary.CodeEntry, error) {
	snap := e.source.Current()
	if snap == nil {
		return nil, apperrors.New(apperrors.ErrNotReady, http.StatusServiceUnavailable, "no vocabulary snapshot is loaded")
	}
	entry, ok := snap.Store.Get(code)
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrCodeNotFound, http.StatusNotFound, "code %q is not in vocabulary version %d", code, snap.Version)
	}
	return entry, nil
}
