package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/vocabulary"
	apperrors "github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/errors"
)

const dataset = "../../data/icd10cm.json"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	app.ErrWriter = &out
	app.ExitErrHandler = func(*cli.Context, error) {}
	err := app.Run(append([]string{"icdsearch"}, args...))
	return out.String(), err
}

func TestSearch(t *testing.T) {
	out, err := run(t, "search", "--dataset", dataset, "type", "2", "diabetis")
	require.NoError(t, err)
	assert.Contains(t, out, "E11.9")
	assert.Contains(t, out, "Type 2 diabetes mellitus without complications")
}

func TestSearchJSON(t *testing.T) {
	out, err := run(t, "search", "-d", dataset, "--json", "-n", "3", "E11")
	require.NoError(t, err)

	var result executor.SearchResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.True(t, result.CodeQuery)
	assert.Len(t, result.Results, 3)
	for _, m := range result.Results {
		assert.Regexp(t, `^E11\.`, m.Code)
	}
}

func TestSearchExplain(t *testing.T) {
	out, err := run(t, "search", "-d", dataset, "--explain", "common cold")
	require.NoError(t, err)
	assert.Contains(t, out, "J00")
	assert.Contains(t, out, "overlap=")
}

func TestSearchNoMatch(t *testing.T) {
	out, err := run(t, "search", "-d", dataset, "qqqqzzzz")
	require.NoError(t, err)
	assert.Contains(t, out, `no codes match "qqqqzzzz"`)
}

func TestSearchInvalidOptions(t *testing.T) {
	_, err := run(t, "search", "-d", dataset, "--limit", "0", "asthma")
	assert.ErrorIs(t, err, apperrors.ErrInvalidQuery)

	_, err = run(t, "search", "-d", dataset)
	assert.Error(t, err)
}

func TestLookup(t *testing.T) {
	out, err := run(t, "lookup", "-d", dataset, "i10")
	require.NoError(t, err)
	assert.Contains(t, out, "I10  Essential (primary) hypertension")
	assert.Contains(t, out, "also: High blood pressure")

	_, err = run(t, "lookup", "-d", dataset, "Z99.99")
	assert.ErrorIs(t, err, apperrors.ErrCodeNotFound)
}

func TestValidate(t *testing.T) {
	out, err := run(t, "validate", dataset)
	require.NoError(t, err)
	assert.Contains(t, out, "87 codes")

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`[{"code": "I10", "description": ""}]`), 0o644))
	_, err = run(t, "validate", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing description")

	empty := filepath.Join(t.TempDir(), "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`[]`), 0o644))
	_, err = run(t, "validate", empty)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no codes")
}

func TestConvertTabularXML(t *testing.T) {
	out := filepath.Join(t.TempDir(), "codes.json")
	msg, err := run(t, "convert", "../../internal/vocabulary/testdata/tabular.xml", out)
	require.NoError(t, err)
	assert.Contains(t, msg, "wrote 5 codes")

	store, err := vocabulary.LoadFile(out)
	require.NoError(t, err)
	assert.Equal(t, 5, store.Len())
	e, ok := store.Get("S53.4XXA")
	require.True(t, ok)
	assert.Equal(t, []string{"Tennis elbow sprain"}, e.Synonyms)
}
