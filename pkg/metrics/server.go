package metrics

import (
	"fmt"
	"net/http"
	"time"
)

// NewServer exposes the scrape endpoint on its own port so it stays
// reachable when the API listener is saturated. The caller runs it.
func NewServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", Handler())
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}
