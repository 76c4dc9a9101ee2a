package vocabulary

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/errors"
)

func TestNewStore(t *testing.T) {
	store, err := NewStore("test", []Record{
		{Code: " E11.9 ", Description: "Type 2 diabetes  mellitus\twithout complications"},
		{Code: "I10", Description: "Essential (primary) hypertension", Synonyms: []string{"High blood pressure", "HIGH BLOOD PRESSURE", "", " Hypertension  NOS "}},
	})
	require.NoError(t, err)

	assert.Equal(t, "test", store.Source())
	assert.Equal(t, 2, store.Len())

	e := store.Entry(0)
	assert.Equal(t, "E11.9", e.Code)
	assert.Equal(t, "Type 2 diabetes mellitus without complications", e.Description)
	assert.Nil(t, e.Synonyms)
	assert.Equal(t, []string{"High blood pressure", "Hypertension NOS"}, store.Entry(1).Synonyms)
}

func TestNewStoreRejects(t *testing.T) {
	tests := []struct {
		name    string
		records []Record
		record  int
		reason  string
	}{
		{
			name:    "missing code",
			records: []Record{{Code: "I10", Description: "Hypertension"}, {Code: " ", Description: "Nothing"}},
			record:  1,
			reason:  "missing code",
		},
		{
			name:    "code of only periods",
			records: []Record{{Code: "..", Description: "Nothing"}},
			record:  0,
			reason:  "missing code",
		},
		{
			name:    "missing description",
			records: []Record{{Code: "I10", Description: " \n "}},
			record:  0,
			reason:  "missing description",
		},
		{
			name:   "no records",
			record: -1,
			reason: "dataset contains no codes",
		},
		{
			name:    "duplicate code",
			records: []Record{{Code: "E11.9", Description: "A"}, {Code: "I10", Description: "B"}, {Code: "e119", Description: "C"}},
			record:  2,
			reason:  "duplicate code, first defined by record 0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := NewStore("test", tt.records)
			require.Error(t, err)
			assert.Nil(t, store)
			assert.ErrorIs(t, err, apperrors.ErrLoad)

			var le *LoadError
			require.ErrorAs(t, err, &le)
			assert.Equal(t, tt.record, le.Record)
			assert.Equal(t, tt.reason, le.Reason)
		})
	}
}

func TestStoreGet(t *testing.T) {
	store, err := NewStore("test", []Record{
		{Code: "E11.9", Description: "Type 2 diabetes mellitus without complications"},
	})
	require.NoError(t, err)

	for _, code := range []string{"E11.9", "e11.9", "E119", " e119 "} {
		e, ok := store.Get(code)
		require.True(t, ok, code)
		assert.Equal(t, "E11.9", e.Code)
	}
	_, ok := store.Get("E11.8")
	assert.False(t, ok)
}

func TestStoreWithCodePrefix(t *testing.T) {
	store, err := NewStore("test", []Record{
		{Code: "E11.9", Description: "a"},
		{Code: "I10", Description: "b"},
		{Code: "E11.21", Description: "c"},
		{Code: "E10.9", Description: "d"},
	})
	require.NoError(t, err)

	assert.Equal(t, []int{2, 0}, store.WithCodePrefix("E11"), "code order: e1121 before e119")
	assert.Equal(t, []int{2, 0}, store.WithCodePrefix("e11."))
	assert.Equal(t, []int{3, 2, 0}, store.WithCodePrefix("E1"))
	assert.Empty(t, store.WithCodePrefix("Z"))
	assert.Empty(t, store.WithCodePrefix(""))
}

func TestStoreIteration(t *testing.T) {
	store, err := NewStore("test", []Record{
		{Code: "B", Description: "second"},
		{Code: "A", Description: "first"},
	})
	require.NoError(t, err)

	var codes []string
	for e := range store.All() {
		codes = append(codes, e.Code)
	}
	assert.Equal(t, []string{"B", "A"}, codes, "load order")
	assert.Len(t, slices.Collect(store.All()), 2, "sequence is reusable")

	var ids []int
	for id := range store.Entries() {
		ids = append(ids, id)
	}
	assert.Equal(t, []int{0, 1}, ids)
}

func TestLoadErrorMessage(t *testing.T) {
	err := &LoadError{Source: "codes.json", Record: 4, Code: "I10", Reason: "duplicate code, first defined by record 1"}
	assert.Equal(t, `loading vocabulary from codes.json: record 4 (code "I10"): duplicate code, first defined by record 1`, err.Error())

	err = &LoadError{Source: "codes.json", Record: -1, Reason: "opening dataset", Err: assert.AnError}
	assert.Contains(t, err.Error(), "opening dataset: "+assert.AnError.Error())
	assert.ErrorIs(t, err, assert.AnError)
	assert.ErrorIs(t, err, apperrors.ErrLoad)
}

func TestCodeKey(t *testing.T) {
	assert.Equal(t, "e119", CodeKey(" E11.9 "))
	assert.Equal(t, "s52521a", CodeKey("S52.521A"))
	assert.Equal(t, "", CodeKey(".."))
}
