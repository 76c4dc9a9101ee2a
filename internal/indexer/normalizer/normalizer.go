// Package normalizer turns free text into the token sequence that both the
// match index and incoming queries are expressed in. Indexed content and
// queries must pass through the same Normalize for matching to be sound.
package normalizer

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Text is a normalized token sequence in input order.
type Text []string

// String is the canonical form: tokens joined by single spaces.
// Normalize(t.String()) equals t for every t Normalize produced.
func (t Text) String() string {
	return strings.Join(t, " ")
}

func (t Text) Len() int { return len(t) }

func (t Text) Empty() bool { return len(t) == 0 }

// Equal reports whether two texts hold the same tokens in the same order.
func (t Text) Equal(other Text) bool {
	if len(t) != len(other) {
		return false
	}
	for i := range t {
		if t[i] != other[i] {
			return false
		}
	}
	return true
}

// foldAccents decomposes compatibility characters (ligatures, full-width
// forms) and drops combining marks: "Ménière" -> "Meniere".
var foldAccents = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// apostrophes join possessives so "Crohn's" and "Crohns" normalize alike.
var apostrophes = strings.NewReplacer("'", "", "’", "", "ʼ", "")

// Normalize lower-cases text, folds accents, and splits it into tokens of
// letters, digits, and internal hyphens or periods ("covid-19", "e11.9").
// Leading and trailing hyphens and periods are trimmed from each token and
// empty tokens are dropped. It never fails; blank input yields an empty Text.
func Normalize(text string) Text {
	if text == "" {
		return Text{}
	}
	folded := strings.ToLower(text)
	if out, _, err := transform.String(foldAccents, folded); err == nil {
		folded = strings.ToLower(out)
	}
	// After folding: "ŉ" only decomposes to "ʼn" there.
	folded = apostrophes.Replace(folded)
	fields := strings.FieldsFunc(folded, isSeparator)
	tokens := make(Text, 0, len(fields))
	for _, field := range fields {
		field = strings.Trim(field, "-.")
		if field == "" {
			continue
		}
		tokens = append(tokens, field)
	}
	return tokens
}

func isSeparator(r rune) bool {
	if r == '-' || r == '.' {
		return false
	}
	return !unicode.IsLetter(r) && !unicode.IsDigit(r)
}

// HasDigit reports whether token contains a decimal digit. Such tokens
// ("2" in "type 2", "b12") are matched verbatim only.
func HasDigit(token string) bool {
	return strings.ContainsFunc(token, unicode.IsDigit)
}
