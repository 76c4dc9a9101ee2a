package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/internal/vocabulary"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/icd-code-search/pkg/logger"
)

// openEngine loads the vocabulary the command runs against: --dataset when
// given, otherwise the configured source.
func openEngine(c *cli.Context) (*indexer.Engine, error) {
	logger.Setup(c.String("log-level"), "text")

	var source indexer.Source
	if path := c.String("dataset"); path != "" {
		source = indexer.NewFileSource(path)
	} else {
		cfg, err := config.Load(c.String("config"))
		if err != nil {
			return nil, err
		}
		source, err = indexer.OpenSource(c.Context, cfg)
		if err != nil {
			return nil, err
		}
	}
	return indexer.NewEngine(c.Context, source, nil)
}

func searchCommand(c *cli.Context) error {
	if c.NArg() < 1 {
		return errors.New("usage: icdsearch search <query>")
	}
	query := strings.Join(c.Args().Slice(), " ")

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	result, err := executor.New(engine).Search(c.Context, query, executor.Options{
		TopK:     c.Int("limit"),
		MinScore: c.Float64("min-score"),
		Explain:  c.Bool("explain"),
	})
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return writeJSON(c.App.Writer, result)
	}
	printResults(c.App.Writer, result, c.Bool("explain"))
	return nil
}

func printResults(w io.Writer, result *executor.SearchResult, explain bool) {
	if len(result.Results) == 0 {
		fmt.Fprintf(w, "no codes match %q\n", result.Query)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()
	for _, m := range result.Results {
		if explain && m.Components != nil {
			fmt.Fprintf(tw, "%s\t%.4f\t%s\toverlap=%.4f edit=%.4f prefix=%.4f\n",
				m.Code, m.Score, m.Description,
				m.Components.Overlap, m.Components.Edit, m.Components.Prefix)
			continue
		}
		fmt.Fprintf(tw, "%s\t%.4f\t%s\n", m.Code, m.Score, m.Description)
	}
}

func lookupCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: icdsearch lookup <code>")
	}

	engine, err := openEngine(c)
	if err != nil {
		return err
	}
	defer engine.Close()

	entry, err := executor.New(engine).Lookup(c.Args().First())
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return writeJSON(c.App.Writer, entry)
	}
	fmt.Fprintf(c.App.Writer, "%s  %s\n", entry.Code, entry.Description)
	for _, s := range entry.Synonyms {
		fmt.Fprintf(c.App.Writer, "    also: %s\n", s)
	}
	return nil
}

func validateCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("usage: icdsearch validate <dataset>")
	}
	path := c.Args().First()

	store, err := loadDataset(c.Context, path)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	snap := indexer.NewSnapshot(store, 1)
	fmt.Fprintf(c.App.Writer, "%s: %d codes, %d terms, %d postings\n",
		path, store.Len(), snap.Index.TermCount(), snap.Index.PostingCount())
	return nil
}

func convertCommand(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("usage: icdsearch convert <input> <output.json>")
	}
	in, out := c.Args().Get(0), c.Args().Get(1)

	store, err := loadDataset(c.Context, in)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	entries := make([]*vocabulary.CodeEntry, 0, store.Len())
	for e := range store.All() {
		entries = append(entries, e)
	}

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("creating %s: %w", out, err)
	}
	if err := writeJSON(f, entries); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", out, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", out, err)
	}
	fmt.Fprintf(c.App.Writer, "wrote %d codes to %s\n", len(entries), out)
	return nil
}

func loadDataset(ctx context.Context, path string) (*vocabulary.Store, error) {
	return indexer.NewFileSource(path).Load(ctx)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
