package main

import (
	"context"
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"NewsIndexer/internal/app"
	"NewsIndexer/internal/config"
	"NewsIndexer/internal/domain"
	"NewsIndexer/internal/logging"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "newsindexer",
		Short:         "Incremental news crawler, index and relevance scorer",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config (default $NEWSINDEXER_CONFIG)")

	open := func(ctx context.Context) (*app.Application, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)
		return app.New(ctx, cfg, logger)
	}

	root.AddCommand(
		serveCmd(open),
		crawlCmd(open),
		lookupCmd(open),
		searchCmd(open),
		listCmd(open),
		analyzeCmd(open),
		jobsCmd(open),
	)
	return root
}

type opener func(ctx context.Context) (*app.Application, error)

// withApp opens the application for one command and closes it afterwards.
func withApp(cmd *cobra.Command, open opener, fn func(*app.Application) error) error {
	application, err := open(cmd.Context())
	if err != nil {
		return err
	}
	defer func() { _ = application.Close() }()
	return fn(application)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

func serveCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduled jobs until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, open, func(a *app.Application) error {
				return a.Serve(cmd.Context())
			})
		},
	}
}

func crawlCmd(open opener) *cobra.Command {
	var (
		pages int
		mode  string
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawl the listing once and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, open, func(a *app.Application) error {
				report, err := a.Crawl(cmd.Context(), pages, domain.CrawlMode(mode))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().IntVar(&pages, "pages", 0, "listing pages to visit (default from config)")
	cmd.Flags().StringVar(&mode, "mode", "", "summary or full (default from config)")
	return cmd
}

func lookupCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "lookup <url>",
		Short: "Show the index entry for an article URL",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(a *app.Application) error {
				entry, err := a.LookupByURL(args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), entry)
			})
		},
	}
}

func searchCmd(open opener) *cobra.Command {
	var title, department string
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search the index by title substring and/or department",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, open, func(a *app.Application) error {
				entries, err := a.Search(title, department)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), entries)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "case-insensitive title substring")
	cmd.Flags().StringVar(&department, "department", "", "exact department name")
	return cmd
}

func listCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every index entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, open, func(a *app.Application) error {
				entries, err := a.ListAll()
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), entries)
			})
		},
	}
}

func analyzeCmd(open opener) *cobra.Command {
	var (
		articleID string
		batch     int
	)
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Score unanalysed articles, or one article with --article",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cmd, open, func(a *app.Application) error {
				out := struct {
					Report *domain.AnalysisReport `json:"report,omitempty"`
					Record *domain.AnalysisRecord `json:"record,omitempty"`
					Stats  domain.AnalysisStats   `json:"stats"`
				}{}

				if articleID != "" {
					record, err := a.AnalyzeArticle(cmd.Context(), articleID)
					if err != nil {
						return err
					}
					out.Record = &record
				} else {
					report, err := a.Analyze(cmd.Context(), batch)
					if err != nil {
						return err
					}
					out.Report = &report
				}

				stats, err := a.AnalysisStats()
				if err != nil {
					return err
				}
				out.Stats = stats
				return printJSON(cmd.OutOrStdout(), out)
			})
		},
	}
	cmd.Flags().StringVar(&articleID, "article", "", "analyse a single article id")
	cmd.Flags().IntVar(&batch, "batch", 0, "batch size (default from config)")
	return cmd
}

func jobsCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs [id]",
		Short: "Show persisted job state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, open, func(a *app.Application) error {
				if len(args) == 1 {
					run, err := a.JobStatus(args[0])
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), run)
				}
				runs, err := a.JobStatuses()
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), runs)
			})
		},
	}
}
