package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/shiori/internal/cli"
	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/internal/ingest"
	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/storage"
)

// withComponents loads config, builds components, runs fn, and releases everything.
func withComponents(cmd *cobra.Command, g *globals, fn func(ctx context.Context, cfg *config.Config, c *components) error) error {
	cfg, logger, err := g.setup()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := initializeComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, cfg, c)
}

func indexCmd(g *globals) *cobra.Command {
	var recursive bool
	cmd := &cobra.Command{
		Use:   "index <path|uri>...",
		Short: "Index files, directories, or URLs",
		Long: `Index documents from local paths, directories, http(s):// URLs and s3:// objects.
Directories are expanded to files with a configured extension. Unchanged documents are skipped.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := g.outputFormat()
			if err != nil {
				return err
			}
			return withComponents(cmd, g, func(ctx context.Context, cfg *config.Config, c *components) error {
				rec := cfg.Watch.RecursiveOrDefault()
				if cmd.Flags().Changed("recursive") {
					rec = recursive
				}
				uris, err := ingest.Expand(args, cfg.Watch.Extensions, rec)
				if err != nil {
					return err
				}
				report, err := c.pipeline.Run(ctx, g.userFor(cfg), uris)
				if err != nil {
					return err
				}
				if err := writeReport(cmd.OutOrStdout(), report, format); err != nil {
					return err
				}
				if report.Failed > 0 {
					return fmt.Errorf("%d of %d documents failed", report.Failed, len(uris))
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&recursive, "recursive", "r", true, "Descend into subdirectories")
	return cmd
}

func writeReport(w io.Writer, report *ingest.Report, format cli.OutputFormat) error {
	if format == cli.OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}
	fmt.Fprintf(w, "Indexed: %d  Unchanged: %d  Skipped: %d  Failed: %d\n",
		report.Indexed, report.Unchanged, report.Skipped, report.Failed)
	for _, f := range report.Errors {
		fmt.Fprintf(w, "  %s: %s\n", f.URI, f.Error)
	}
	return nil
}

func deleteCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <hash>",
		Short: "Delete a document and its chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withComponents(cmd, g, func(ctx context.Context, cfg *config.Config, c *components) error {
				if err := c.engine.DeleteDocument(ctx, args[0], g.userFor(cfg)); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}
}

// searchFlags are the flags shared by search and similar.
type searchFlags struct {
	class       string
	hash        string
	k           int
	threshold   float64
	tfThreshold float64
}

func (f *searchFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&f.k, "limit", "k", 0, "Maximum number of results (default from config)")
	cmd.Flags().Float64VarP(&f.threshold, "threshold", "t", 0, "Score threshold (default per query class)")
}

func (f *searchFlags) options(cmd *cobra.Command) (models.SearchOptions, error) {
	class, err := models.ParseQueryClass(f.class)
	if err != nil {
		return models.SearchOptions{}, err
	}
	opts := models.SearchOptions{Class: class, Hash: f.hash, K: f.k}
	if cmd.Flags().Changed("threshold") {
		opts.Threshold = models.Float(f.threshold)
	}
	if cmd.Flags().Changed("tf-threshold") {
		opts.TFThreshold = models.Float(f.tfThreshold)
	}
	return opts, nil
}

func searchCmd(g *globals) *cobra.Command {
	var (
		sf          searchFlags
		consolidate bool
		pad         int
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search indexed documents",
		Long: `Search chunks by meaning (CHUNK), chunks by keywords (KEYWORDS), or whole documents
by keywords (FULLTEXT). With --consolidate, hits are stitched into passages.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := g.outputFormat()
			if err != nil {
				return err
			}
			opts, err := sf.options(cmd)
			if err != nil {
				return err
			}
			req := &models.SearchRequest{Query: strings.Join(args, " "), SearchOptions: opts}
			if cmd.Flags().Changed("padding") {
				req.Padding = &pad
			}
			if err := req.Validate(); err != nil {
				return err
			}
			return withComponents(cmd, g, func(ctx context.Context, cfg *config.Config, c *components) error {
				user := g.userFor(cfg)
				if consolidate {
					passages, err := c.engine.Retrieve(ctx, req.Query, user, req.SearchOptions, req.Padding)
					if err != nil {
						return err
					}
					return cli.WritePassages(cmd.OutOrStdout(), passages, format)
				}
				hits, err := c.engine.Search(ctx, req.Query, user, req.SearchOptions)
				if err != nil {
					return err
				}
				return cli.WriteHits(cmd.OutOrStdout(), hits, format)
			})
		},
	}
	sf.register(cmd)
	cmd.Flags().StringVar(&sf.class, "class", string(models.ClassChunk), "Query class: CHUNK, KEYWORDS or FULLTEXT")
	cmd.Flags().StringVar(&sf.hash, "hash", "", "Restrict to one document")
	cmd.Flags().Float64Var(&sf.tfThreshold, "tf-threshold", 0, "Minimum chunk tf weight for KEYWORDS")
	cmd.Flags().BoolVar(&consolidate, "consolidate", false, "Stitch hits into passages")
	cmd.Flags().IntVar(&pad, "padding", 0, "Neighbor chunks added around each hit when consolidating")
	return cmd
}

func similarCmd(g *globals) *cobra.Command {
	var sf searchFlags
	cmd := &cobra.Command{
		Use:   "similar <chunk-id>",
		Short: "Find chunks similar to a chunk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := g.outputFormat()
			if err != nil {
				return err
			}
			opts, err := sf.options(cmd)
			if err != nil {
				return err
			}
			return withComponents(cmd, g, func(ctx context.Context, cfg *config.Config, c *components) error {
				hits, err := c.engine.Similar(ctx, args[0], g.userFor(cfg), opts)
				if err != nil {
					return err
				}
				return cli.WriteHits(cmd.OutOrStdout(), hits, format)
			})
		},
	}
	sf.register(cmd)
	return cmd
}

func showCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "show <hash>",
		Short: "Print the full text of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := g.outputFormat()
			if err != nil {
				return err
			}
			return withComponents(cmd, g, func(ctx context.Context, cfg *config.Config, c *components) error {
				doc, err := c.engine.GetDocument(ctx, args[0], g.userFor(cfg))
				if err != nil {
					return err
				}
				if format == cli.OutputJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(doc)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "# %s\n\n%s\n", doc.Title, doc.Text)
				return nil
			})
		},
	}
}

func chunksCmd(g *globals) *cobra.Command {
	var start, end int
	cmd := &cobra.Command{
		Use:   "chunks <hash>",
		Short: "Print a range of chunks of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := g.outputFormat()
			if err != nil {
				return err
			}
			return withComponents(cmd, g, func(ctx context.Context, cfg *config.Config, c *components) error {
				chunks, err := c.engine.GetChunkRange(ctx, args[0], start, end, g.userFor(cfg))
				if err != nil {
					return err
				}
				return cli.WriteChunks(cmd.OutOrStdout(), chunks, format)
			})
		},
	}
	cmd.Flags().IntVar(&start, "start", 0, "First chunk (0-based)")
	cmd.Flags().IntVar(&end, "end", math.MaxInt32, "Last chunk, inclusive")
	return cmd
}

func topCmd(g *globals) *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "top <hash>",
		Short: "Print the most distinctive chunks of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := g.outputFormat()
			if err != nil {
				return err
			}
			return withComponents(cmd, g, func(ctx context.Context, cfg *config.Config, c *components) error {
				chunks, err := c.engine.TopWeighted(ctx, args[0], g.userFor(cfg), k)
				if err != nil {
					return err
				}
				return cli.WriteChunks(cmd.OutOrStdout(), chunks, format)
			})
		},
	}
	cmd.Flags().IntVarP(&k, "limit", "k", 0, "Number of chunks (default from config)")
	return cmd
}

func statusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show store statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, err := g.outputFormat()
			if err != nil {
				return err
			}
			return withComponents(cmd, g, func(ctx context.Context, cfg *config.Config, c *components) error {
				stats, err := c.engine.Stats(ctx)
				if err != nil {
					return err
				}
				return cli.WriteStats(cmd.OutOrStdout(), stats, format)
			})
		},
	}
}

func migrateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply Postgres schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.setup()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			if cfg.Storage.DatabaseURL == "" {
				return fmt.Errorf("migrate requires a database_url (or SHIORI_DATABASE_URL)")
			}
			ver, err := storage.Migrate(cfg.Storage.DatabaseURL, logger)
			if err != nil {
				return err
			}
			logger.Info("migrations applied", zap.Uint("version", ver))
			fmt.Fprintf(cmd.OutOrStdout(), "Schema at version %d\n", ver)
			return nil
		},
	}
}
