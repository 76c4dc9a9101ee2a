package analytics

import "time"

type EventType string

const (
	EventSearch EventType = "search"
	EventLookup EventType = "lookup"
)

// SearchEvent describes one served search. Normalized is the canonical query
// text, so spelling variants of the same query aggregate together.
type SearchEvent struct {
	Type              EventType `json:"type"`
	Query             string    `json:"query"`
	Normalized        string    `json:"normalized"`
	CodeQuery         bool      `json:"code_query"`
	Candidates        int       `json:"candidates"`
	Returned          int       `json:"returned"`
	TopCode           string    `json:"top_code,omitempty"`
	LatencyMs         int64     `json:"latency_ms"`
	CacheHit          bool      `json:"cache_hit"`
	VocabularyVersion uint64    `json:"vocabulary_version"`
	Timestamp         time.Time `json:"timestamp"`
	RequestID         string    `json:"request_id,omitempty"`
}

// ZeroResult reports a search that returned nothing.
func (e SearchEvent) ZeroResult() bool {
	return e.Type == EventSearch && e.Returned == 0
}
