package vocabulary

import (
	"fmt"
	"iter"
	"sort"
	"strings"
)

// Store is the immutable code table. An entry's ID is its position in load
// order; IDs are what the match index stores in its postings.
type Store struct {
	source  string
	entries []*CodeEntry
	byKey   map[string]int
	// keys holds every code key in sorted order, ids the matching entry IDs.
	keys []string
	ids  []int
}

// NewStore validates records and builds a store. Any malformed or duplicate
// record aborts the build; a partial store is never returned.
func NewStore(source string, records []Record) (*Store, error) {
	if len(records) == 0 {
		return nil, &LoadError{Source: source, Record: -1, Reason: "dataset contains no codes"}
	}
	s := &Store{
		source:  source,
		entries: make([]*CodeEntry, 0, len(records)),
		byKey:   make(map[string]int, len(records)),
	}
	for i, rec := range records {
		code := strings.TrimSpace(rec.Code)
		desc := strings.Join(strings.Fields(rec.Description), " ")
		switch {
		case CodeKey(code) == "":
			return nil, &LoadError{Source: source, Record: i, Reason: "missing code"}
		case desc == "":
			return nil, &LoadError{Source: source, Record: i, Code: code, Reason: "missing description"}
		}
		key := CodeKey(code)
		if prev, dup := s.byKey[key]; dup {
			return nil, &LoadError{
				Source: source,
				Record: i,
				Code:   code,
				Reason: fmt.Sprintf("duplicate code, first defined by record %d", prev),
			}
		}
		s.byKey[key] = len(s.entries)
		s.entries = append(s.entries, &CodeEntry{
			Code:        code,
			Description: desc,
			Synonyms:    cleanSynonyms(rec.Synonyms),
		})
	}

	s.keys = make([]string, 0, len(s.byKey))
	for key := range s.byKey {
		s.keys = append(s.keys, key)
	}
	sort.Strings(s.keys)
	s.ids = make([]int, len(s.keys))
	for i, key := range s.keys {
		s.ids[i] = s.byKey[key]
	}
	return s, nil
}

// cleanSynonyms collapses whitespace and drops blank and repeated synonyms,
// keeping first-seen order.
func cleanSynonyms(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, syn := range in {
		syn = strings.Join(strings.Fields(syn), " ")
		if syn == "" {
			continue
		}
		folded := strings.ToLower(syn)
		if _, ok := seen[folded]; ok {
			continue
		}
		seen[folded] = struct{}{}
		out = append(out, syn)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Source names where the store was loaded from.
func (s *Store) Source() string { return s.source }

func (s *Store) Len() int { return len(s.entries) }

// Get looks up a code; the dot and letter case are ignored.
func (s *Store) Get(code string) (*CodeEntry, bool) {
	id, ok := s.byKey[CodeKey(code)]
	if !ok {
		return nil, false
	}
	return s.entries[id], true
}

// Entry returns the entry with the given ID. It panics on an ID the store
// did not issue.
func (s *Store) Entry(id int) *CodeEntry {
	return s.entries[id]
}

// All yields every entry in load order. The sequence can be ranged over
// any number of times.
func (s *Store) All() iter.Seq[*CodeEntry] {
	return func(yield func(*CodeEntry) bool) {
		for _, e := range s.entries {
			if !yield(e) {
				return
			}
		}
	}
}

// Entries yields (ID, entry) pairs in load order.
func (s *Store) Entries() iter.Seq2[int, *CodeEntry] {
	return func(yield func(int, *CodeEntry) bool) {
		for id, e := range s.entries {
			if !yield(id, e) {
				return
			}
		}
	}
}

// WithCodePrefix returns the IDs of entries whose code key starts with the
// key of prefix, in code order.
func (s *Store) WithCodePrefix(prefix string) []int {
	key := CodeKey(prefix)
	if key == "" {
		return nil
	}
	start := sort.SearchStrings(s.keys, key)
	var out []int
	for i := start; i < len(s.keys) && strings.HasPrefix(s.keys[i], key); i++ {
		out = append(out, s.ids[i])
	}
	return out
}
