package indexer

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/vocabulary"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/resilience"
)

// Source produces a validated store each time it is loaded.
type Source interface {
	Name() string
	Load(ctx context.Context) (*vocabulary.Store, error)
}

// FileSource reads a JSON, YAML or ICD-10-CM tabular XML file.
type FileSource struct {
	Path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{Path: path}
}

func (s *FileSource) Name() string { return s.Path }

func (s *FileSource) Load(ctx context.Context) (*vocabulary.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return vocabulary.LoadFile(s.Path)
}

// SQLSource reads the diagnosis tables in a read-only transaction, retrying
// connection and query failures. Validation failures are not retried.
type SQLSource struct {
	client *postgres.Client
	retry  resilience.RetryConfig
}

func NewSQLSource(client *postgres.Client, attempts int) *SQLSource {
	return &SQLSource{
		client: client,
		retry: resilience.RetryConfig{
			MaxAttempts:  attempts,
			InitialDelay: 500 * time.Millisecond,
			MaxDelay:     10 * time.Second,
			Retryable:    retryableLoadError,
		},
	}
}

func (s *SQLSource) Name() string { return "postgres" }

func (s *SQLSource) Load(ctx context.Context) (*vocabulary.Store, error) {
	var store *vocabulary.Store
	err := resilience.Retry(ctx, "vocabulary-load", s.retry, func(ctx context.Context) error {
		return s.client.ReadOnly(ctx, func(tx *sql.Tx) error {
			var err error
			store, err = vocabulary.LoadSQL(ctx, tx)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return store, nil
}

func (s *SQLSource) Close() error {
	return s.client.Close()
}

// retryableLoadError is false for records that failed validation, which a
// second read of the same rows would reject again.
func retryableLoadError(err error) bool {
	var le *vocabulary.LoadError
	if errors.As(err, &le) {
		return le.Err != nil
	}
	return true
}

// OpenSource builds the source cfg selects, connecting to Postgres when
// needed.
func OpenSource(ctx context.Context, cfg *config.Config) (Source, error) {
	switch cfg.Vocabulary.Source {
	case "file":
		return NewFileSource(cfg.Vocabulary.Path), nil
	case "postgres":
		client, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, fmt.Errorf("connecting vocabulary database: %w", err)
		}
		return NewSQLSource(client, cfg.Vocabulary.LoadAttempts), nil
	default:
		return nil, fmt.Errorf("unknown vocabulary source %q", cfg.Vocabulary.Source)
	}
}
