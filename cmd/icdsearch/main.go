package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "icdsearch:", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	datasetFlag := &cli.StringFlag{
		Name:    "dataset",
		Aliases: []string{"d"},
		Usage:   "Dataset file to search (overrides the configured vocabulary source)",
	}
	jsonFlag := &cli.BoolFlag{
		Name:    "json",
		Aliases: []string{"j"},
		Usage:   "Output as JSON",
	}

	return &cli.App{
		Name:                   "icdsearch",
		Usage:                  "Fuzzy search over ICD diagnosis codes",
		UseShortOptionHandling: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Config file path",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
				Value: "warn",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "search",
				Aliases:   []string{"s"},
				Usage:     "Rank codes against a free-text query or a code prefix",
				ArgsUsage: "<query>",
				Flags: []cli.Flag{
					datasetFlag,
					jsonFlag,
					&cli.IntFlag{
						Name:    "limit",
						Aliases: []string{"n"},
						Usage:   "Maximum number of results",
						Value:   10,
					},
					&cli.Float64Flag{
						Name:  "min-score",
						Usage: "Drop results scoring below this value",
						Value: 0.3,
					},
					&cli.BoolFlag{
						Name:    "explain",
						Aliases: []string{"e"},
						Usage:   "Show score components",
					},
				},
				Action: searchCommand,
			},
			{
				Name:      "lookup",
				Aliases:   []string{"l"},
				Usage:     "Show the entry for one code",
				ArgsUsage: "<code>",
				Flags:     []cli.Flag{datasetFlag, jsonFlag},
				Action:    lookupCommand,
			},
			{
				Name:      "validate",
				Usage:     "Load a dataset and report its size or the first problem found",
				ArgsUsage: "<dataset>",
				Action:    validateCommand,
			},
			{
				Name:      "convert",
				Usage:     "Rewrite a dataset (for example ICD-10-CM tabular XML) as JSON",
				ArgsUsage: "<input> <output.json>",
				Action:    convertCommand,
			},
		},
	}
}
