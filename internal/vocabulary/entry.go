// Package vocabulary holds the immutable table of diagnosis codes the search
// engine is built over, and the loaders that produce it from JSON, YAML,
// ICD-10-CM tabular XML, or PostgreSQL.
package vocabulary

import (
	"fmt"
	"strings"

	apperrors "github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/errors"
)

// CodeEntry is one diagnosis code. Entries are never mutated after the
// store that owns them is built.
type CodeEntry struct {
	Code        string   `json:"code" yaml:"code"`
	Description string   `json:"description" yaml:"description"`
	Synonyms    []string `json:"synonyms,omitempty" yaml:"synonyms,omitempty"`
}

// Record is a dataset row before validation.
type Record struct {
	Code        string   `json:"code" yaml:"code"`
	Description string   `json:"description" yaml:"description"`
	Synonyms    []string `json:"synonyms" yaml:"synonyms"`
}

// CodeKey is the lookup key for a code: lower-cased with periods removed,
// so "E11.9", "e11.9" and "E119" address the same entry.
func CodeKey(code string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(code)), ".", "")
}

// LoadError reports a dataset that cannot be served. Record is the
// zero-based index of the offending record, or -1 when the failure is not
// tied to one record (unreadable file, malformed document).
type LoadError struct {
	Source string
	Record int
	Code   string
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	var b strings.Builder
	b.WriteString("loading vocabulary")
	if e.Source != "" {
		fmt.Fprintf(&b, " from %s", e.Source)
	}
	if e.Record >= 0 {
		fmt.Fprintf(&b, ": record %d", e.Record)
		if e.Code != "" {
			fmt.Fprintf(&b, " (code %q)", e.Code)
		}
	}
	b.WriteString(": ")
	b.WriteString(e.Reason)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *LoadError) Unwrap() []error {
	if e.Err == nil {
		return []error{apperrors.ErrLoad}
	}
	return []error{apperrors.ErrLoad, e.Err}
}
