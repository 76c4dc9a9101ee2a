// Command loadtest drives GET /api/v1/search with concurrent workers and
// reports latency percentiles for text and code queries separately.
//
// With -dataset, the query mix is derived from the vocabulary: each
// description is sent once verbatim, once with two letters transposed and
// once truncated to a partial term, alongside a code prefix.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"maps"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"slices"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/vocabulary"
)

// builtinQueries cover misspellings, synonyms and code prefixes when no
// dataset is given.
var builtinQueries = []string{
	"type 2 diabetis",
	"diabetes without complications",
	"high blood pressure",
	"astmha",
	"common cold",
	"urinary tract infection",
	"low back pain",
	"migrane",
	"gastro esophageal reflux",
	"pneumonia",
	"E11",
	"E11.9",
	"j45909",
	"S52.521A",
	"covid-19",
	"depresion",
}

type sample struct {
	kind    string
	latency time.Duration
	status  int
	zero    bool
	err     error
}

// recorder collects samples from every worker.
type recorder struct {
	mu        sync.Mutex
	latencies map[string][]time.Duration
	zero      map[string]int
	statuses  map[int]int
	failures  int
}

func newRecorder() *recorder {
	return &recorder{
		latencies: make(map[string][]time.Duration),
		zero:      make(map[string]int),
		statuses:  make(map[int]int),
	}
}

func (r *recorder) add(s sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.err != nil {
		r.failures++
		return
	}
	r.statuses[s.status]++
	r.latencies[s.kind] = append(r.latencies[s.kind], s.latency)
	if s.zero {
		r.zero[s.kind]++
	}
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "base URL of the search service")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	limit := flag.Int("limit", 10, "results requested per search")
	dataset := flag.String("dataset", "", "vocabulary file to derive queries from")
	seed := flag.Uint64("seed", 1, "seed for typo and ordering choices")
	flag.Parse()

	rng := rand.New(rand.NewPCG(*seed, *seed))
	queries := builtinQueries
	if *dataset != "" {
		store, err := vocabulary.LoadFile(*dataset)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		queries = deriveQueries(store, rng)
	}
	rng.Shuffle(len(queries), func(i, j int) { queries[i], queries[j] = queries[j], queries[i] })

	fmt.Println("=== ICD Code Search Load Test ===")
	fmt.Printf("Target:      %s\n", *baseURL)
	fmt.Printf("Concurrency: %d\n", *concurrency)
	fmt.Printf("Duration:    %s\n", *duration)
	fmt.Printf("Queries:     %d\n\n", len(queries))

	rec := run(*baseURL, queries, *concurrency, *limit, *duration)
	if !report(os.Stdout, rec, *duration) {
		fmt.Println("\nno requests completed; is the service running?")
		os.Exit(1)
	}
}

// deriveQueries turns each entry into clean, misspelled and partial text
// queries, plus its three-character category as a code query.
func deriveQueries(store *vocabulary.Store, rng *rand.Rand) []string {
	var out []string
	categories := make(map[string]struct{})
	for entry := range store.All() {
		desc := strings.ToLower(entry.Description)
		out = append(out, desc, transpose(desc, rng))
		if words := strings.Fields(desc); len(words) > 1 && len(words[len(words)-1]) >= 6 {
			last := words[len(words)-1]
			words[len(words)-1] = last[:len(last)/2]
			out = append(out, strings.Join(words, " "))
		}
		if len(entry.Code) >= 3 {
			categories[entry.Code[:3]] = struct{}{}
		}
	}
	return append(out, slices.Sorted(maps.Keys(categories))...)
}

// transpose swaps two adjacent letters inside one word of at least five
// letters, the most common typing slip.
func transpose(s string, rng *rand.Rand) string {
	words := strings.Fields(s)
	var long []int
	for i, w := range words {
		if len(w) >= 5 {
			long = append(long, i)
		}
	}
	if len(long) == 0 {
		return s
	}
	i := long[rng.IntN(len(long))]
	w := []byte(words[i])
	j := 1 + rng.IntN(len(w)-2)
	w[j], w[j+1] = w[j+1], w[j]
	words[i] = string(w)
	return strings.Join(words, " ")
}

func run(baseURL string, queries []string, concurrency, limit int, duration time.Duration) *recorder {
	rec := newRecorder()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), duration)
	defer cancel()

	var wg sync.WaitGroup
	for worker := range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := worker; ctx.Err() == nil; i++ {
				s := searchOnce(ctx, client, baseURL, queries[i%len(queries)], limit)
				if ctx.Err() != nil {
					return
				}
				rec.add(s)
			}
		}()
	}
	wg.Wait()
	return rec
}

func searchOnce(ctx context.Context, client *http.Client, baseURL, query string, limit int) sample {
	s := sample{kind: "text"}
	if parser.Parse(query).CodeQuery {
		s.kind = "code"
	}
	target := fmt.Sprintf("%s/api/v1/search?q=%s&limit=%d", baseURL, url.QueryEscape(query), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		s.err = err
		return s
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		s.err = err
		return s
	}
	defer resp.Body.Close()

	var body struct {
		Results []json.RawMessage `json:"results"`
	}
	if resp.StatusCode == http.StatusOK && json.NewDecoder(resp.Body).Decode(&body) == nil {
		s.zero = len(body.Results) == 0
	}
	io.Copy(io.Discard, resp.Body)
	s.latency = time.Since(start)
	s.status = resp.StatusCode
	return s
}

// report prints the summary and reports whether any request completed.
func report(w io.Writer, rec *recorder, duration time.Duration) bool {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	total := rec.failures
	for _, n := range rec.statuses {
		total += n
	}
	if total == 0 {
		return false
	}
	fmt.Fprintf(w, "Requests:     %d (%.1f/s)\n", total, float64(total)/duration.Seconds())
	fmt.Fprintf(w, "Failures:     %d\n\n", rec.failures)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "KIND\tREQUESTS\tZERO\tP50\tP95\tP99\tMAX")
	for _, kind := range slices.Sorted(maps.Keys(rec.latencies)) {
		lat := slices.Clone(rec.latencies[kind])
		slices.Sort(lat)
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\t%s\n", kind, len(lat), rec.zero[kind],
			percentile(lat, 50), percentile(lat, 95), percentile(lat, 99), lat[len(lat)-1])
	}
	tw.Flush()

	fmt.Fprintln(w, "\nStatus codes:")
	for _, code := range slices.Sorted(maps.Keys(rec.statuses)) {
		fmt.Fprintf(w, "  %d: %d\n", code, rec.statuses[code])
	}
	return true
}

// percentile uses the nearest-rank method on sorted samples.
func percentile(sorted []time.Duration, p int) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := (p*len(sorted) + 99) / 100
	return sorted[min(max(rank, 1), len(sorted))-1]
}
