package analytics

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/kafka"
)

// latencyWindow bounds the samples kept for percentiles.
const latencyWindow = 10000

type AggregatedStats struct {
	TotalSearches     int64        `json:"total_searches"`
	CodeQueries       int64        `json:"code_queries"`
	Lookups           int64        `json:"lookups"`
	CacheHits         int64        `json:"cache_hits"`
	CacheMisses       int64        `json:"cache_misses"`
	ZeroResultCount   int64        `json:"zero_result_count"`
	AvgLatencyMs      float64      `json:"avg_latency_ms"`
	P50LatencyMs      int64        `json:"p50_latency_ms"`
	P95LatencyMs      int64        `json:"p95_latency_ms"`
	P99LatencyMs      int64        `json:"p99_latency_ms"`
	TopQueries        []QueryCount `json:"top_queries"`
	ZeroResultQueries []QueryCount `json:"zero_result_queries"`
	TopCodes          []QueryCount `json:"top_codes"`
	QueriesPerMinute  float64      `json:"queries_per_minute"`
}

type QueryCount struct {
	Query string `json:"query"`
	Count int64  `json:"count"`
}

// Aggregator folds search events into running totals. Zero-result queries
// are the raw material for synonym curation.
type Aggregator struct {
	mu                sync.RWMutex
	totalSearches     int64
	codeQueries       int64
	lookups           int64
	cacheHits         int64
	cacheMisses       int64
	zeroResults       int64
	latencies         []int64
	nextLatency       int
	queryCounts       map[string]int64
	zeroResultQueries map[string]int64
	codeCounts        map[string]int64
	startTime         time.Time
	now               func() time.Time

	logger *slog.Logger
}

func NewAggregator() *Aggregator {
	return &Aggregator{
		latencies:         make([]int64, 0, latencyWindow),
		queryCounts:       make(map[string]int64),
		zeroResultQueries: make(map[string]int64),
		codeCounts:        make(map[string]int64),
		startTime:         time.Now(),
		now:               time.Now,
		logger:            slog.Default().With("component", "analytics-aggregator"),
	}
}

// HandleMessage is a kafka.MessageHandler. Undecodable messages are logged
// and acknowledged so they do not block the partition.
func (a *Aggregator) HandleMessage(_ context.Context, _ []byte, value []byte) error {
	event, err := kafka.DecodeJSON[SearchEvent](value)
	if err != nil {
		a.logger.Error("failed to decode analytics event", "error", err)
		return nil
	}
	a.Record(event)
	return nil
}

func (a *Aggregator) Record(event SearchEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if event.Type == EventLookup {
		a.lookups++
		if event.TopCode != "" {
			a.codeCounts[event.TopCode]++
		}
		return
	}

	a.totalSearches++
	if event.CodeQuery {
		a.codeQueries++
	}
	if event.CacheHit {
		a.cacheHits++
	} else {
		a.cacheMisses++
	}

	if len(a.latencies) < latencyWindow {
		a.latencies = append(a.latencies, event.LatencyMs)
	} else {
		a.latencies[a.nextLatency] = event.LatencyMs
		a.nextLatency = (a.nextLatency + 1) % latencyWindow
	}

	query := strings.TrimSpace(event.Normalized)
	if query == "" {
		query = strings.TrimSpace(event.Query)
	}
	if query != "" {
		a.queryCounts[query]++
	}
	if event.ZeroResult() {
		a.zeroResults++
		if query != "" {
			a.zeroResultQueries[query]++
		}
	}
	if event.TopCode != "" {
		a.codeCounts[event.TopCode]++
	}
}

// Seed restores totals from a persisted snapshot, typically at startup.
// Latency samples are not restored.
func (a *Aggregator) Seed(stats AggregatedStats) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.totalSearches += stats.TotalSearches
	a.codeQueries += stats.CodeQueries
	a.lookups += stats.Lookups
	a.cacheHits += stats.CacheHits
	a.cacheMisses += stats.CacheMisses
	a.zeroResults += stats.ZeroResultCount
	for _, q := range stats.TopQueries {
		a.queryCounts[q.Query] += q.Count
	}
	for _, q := range stats.ZeroResultQueries {
		a.zeroResultQueries[q.Query] += q.Count
	}
	for _, q := range stats.TopCodes {
		a.codeCounts[q.Query] += q.Count
	}
}

func (a *Aggregator) Stats() AggregatedStats {
	a.mu.RLock()
	defer a.mu.RUnlock()

	stats := AggregatedStats{
		TotalSearches:   a.totalSearches,
		CodeQueries:     a.codeQueries,
		Lookups:         a.lookups,
		CacheHits:       a.cacheHits,
		CacheMisses:     a.cacheMisses,
		ZeroResultCount: a.zeroResults,
	}
	if len(a.latencies) > 0 {
		sorted := slices.Clone(a.latencies)
		slices.Sort(sorted)

		var sum int64
		for _, l := range sorted {
			sum += l
		}
		stats.AvgLatencyMs = float64(sum) / float64(len(sorted))
		stats.P50LatencyMs = percentile(sorted, 50)
		stats.P95LatencyMs = percentile(sorted, 95)
		stats.P99LatencyMs = percentile(sorted, 99)
	}
	stats.TopQueries = topN(a.queryCounts, 10)
	stats.ZeroResultQueries = topN(a.zeroResultQueries, 10)
	stats.TopCodes = topN(a.codeCounts, 10)
	if elapsed := a.now().Sub(a.startTime).Minutes(); elapsed > 0 {
		stats.QueriesPerMinute = float64(stats.TotalSearches) / elapsed
	}
	return stats
}

// ZeroResultQueries returns the n queries that most often found nothing.
func (a *Aggregator) ZeroResultQueries(n int) []QueryCount {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return topN(a.zeroResultQueries, n)
}

func percentile(sorted []int64, pct int) int64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := (pct * len(sorted)) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// topN orders by count, breaking ties by query so output is stable.
func topN(counts map[string]int64, n int) []QueryCount {
	result := make([]QueryCount, 0, len(counts))
	for query, count := range counts {
		result = append(result, QueryCount{Query: query, Count: count})
	}
	slices.SortFunc(result, func(a, b QueryCount) int {
		if a.Count != b.Count {
			if a.Count > b.Count {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Query, b.Query)
	})
	if len(result) > n {
		result = result[:n]
	}
	return result
}
