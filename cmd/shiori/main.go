// Package main is the shiori CLI entry point.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/shiori/internal/cli"
	"github.com/hyperjump/shiori/internal/config"
	"github.com/hyperjump/shiori/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/shiori/config.yaml"

// globals are the persistent flags shared by every command.
type globals struct {
	configPath string
	debug      bool
	user       string
	format     string
}

// loadConfig loads config from path. When path is the default, config.yaml in the current
// directory wins if it exists; when neither file exists the configuration comes from the
// environment alone. Returns the config and the path that was loaded ("" for environment only).
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			cfg, envErr := config.LoadFromEnv()
			if envErr != nil {
				return nil, "", envErr
			}
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// setup loads configuration and builds the logger for a command.
func (g *globals) setup() (*config.Config, *zap.Logger, error) {
	cfg, resolved, err := loadConfig(g.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if g.debug {
		cfg.Debug = true
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded",
		zap.String("config_path", resolved),
		zap.String("backend", cfg.Storage.Backend),
		zap.String("embedding", cfg.Embedding.Provider),
	)
	return cfg, logger, nil
}

// userFor returns the --user flag, falling back to the configured ingest user.
func (g *globals) userFor(cfg *config.Config) string {
	if g.user != "" {
		return g.user
	}
	return cfg.Ingest.User
}

func (g *globals) outputFormat() (cli.OutputFormat, error) {
	return cli.ParseOutputFormat(g.format)
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	rootCmd := &cobra.Command{
		Use:   "shiori",
		Short: "shiori - retrieval engine for documents",
		Long: `shiori indexes documents into chunks, searches them by meaning or keywords,
and stitches matching chunks back into readable passages.

Environment variables:
  SHIORI_DATABASE_URL     Postgres URL (storage backend "postgres")
  SHIORI_OPENAI_API_KEY   API key for the openai embedding provider
  SHIORI_S3_*             Credentials and endpoint for s3:// documents
  SHIORI_SENTRY_DSN       Enables error reporting for the server`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", defaultConfigPath, "Path to config file")
	rootCmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&g.user, "user", "u", "", "User namespace (default from config)")
	rootCmd.PersistentFlags().StringVarP(&g.format, "output", "o", "text", "Output format: text or json")

	rootCmd.AddCommand(serveCmd(g))
	rootCmd.AddCommand(watchCmd(g))
	rootCmd.AddCommand(indexCmd(g))
	rootCmd.AddCommand(deleteCmd(g))
	rootCmd.AddCommand(searchCmd(g))
	rootCmd.AddCommand(similarCmd(g))
	rootCmd.AddCommand(showCmd(g))
	rootCmd.AddCommand(chunksCmd(g))
	rootCmd.AddCommand(topCmd(g))
	rootCmd.AddCommand(statusCmd(g))
	rootCmd.AddCommand(migrateCmd(g))
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
