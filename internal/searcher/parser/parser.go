package parser

import (
	"regexp"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/indexer/normalizer"
)

// codeShape matches an ICD-10-CM code or code prefix after normalization:
// a letter, two characters and up to four more after an optional period.
var codeShape = regexp.MustCompile(`^[a-z][0-9][0-9a-z](\.?[0-9a-z]{0,4})?$`)

type QueryPlan struct {
	RawQuery string
	Text     normalizer.Text
	// CodeQuery is set when the query is a single token shaped like a code.
	// Code then holds it upper-cased as a user would write it.
	CodeQuery bool
	Code      string
}

// Empty reports whether the query normalized to no tokens.
func (p *QueryPlan) Empty() bool { return p.Text.Empty() }

// Canonical is the normalized query text.
func (p *QueryPlan) Canonical() string { return p.Text.String() }

func Parse(query string) *QueryPlan {
	plan := &QueryPlan{
		RawQuery: query,
		Text:     normalizer.Normalize(query),
	}
	if len(plan.Text) == 1 && codeShape.MatchString(plan.Text[0]) {
		plan.CodeQuery = true
		plan.Code = strings.ToUpper(plan.Text[0])
	}
	return plan
}

// LooksLikeCode reports whether s, on its own, would be parsed as a code.
func LooksLikeCode(s string) bool {
	return Parse(s).CodeQuery
}
