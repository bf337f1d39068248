package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nickcecere/pki/internal/config"
	"github.com/nickcecere/pki/internal/ui"
)

var configShowPath bool

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or manage configuration",
	Long: `Display current configuration settings and config file locations.

Examples:
  # Show current configuration
  pki config

  # Show config file paths
  pki config --path`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configShowPath, "path", false, "show config file paths")
}

func runConfig(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg := config.Get()

	if configShowPath {
		fmt.Fprintln(out, ui.SectionTitle.Render("Configuration Paths"))
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Global config: %s\n", config.GlobalConfigPath())
		fmt.Fprintf(out, "Local config:  %s (searched from cwd upward)\n", config.RCFileName)
		fmt.Fprintf(out, "Active config: %s\n", config.ConfigFilePath())
		fmt.Fprintf(out, "Database:      %s\n", cfg.Database.Path)
		return nil
	}

	fmt.Fprintln(out, ui.SectionTitle.Render("Current Configuration"))
	fmt.Fprintln(out)

	fmt.Fprintln(out, ui.Bold.Render("Embeddings:"))
	fmt.Fprintf(out, "  Provider: %s\n", cfg.Embeddings.Provider)
	fmt.Fprintf(out, "  Ollama URL: %s\n", cfg.Embeddings.Ollama.URL)
	fmt.Fprintf(out, "  Ollama Model: %s\n", cfg.Embeddings.Ollama.Model)
	fmt.Fprintf(out, "  OpenAI Model: %s\n", cfg.Embeddings.OpenAI.Model)
	if cfg.Embeddings.OpenAI.BaseURL != "" {
		fmt.Fprintf(out, "  OpenAI Base URL: %s\n", cfg.Embeddings.OpenAI.BaseURL)
	}
	if cfg.Embeddings.OpenAI.Dimensions > 0 {
		fmt.Fprintf(out, "  OpenAI Dimensions: %d\n", cfg.Embeddings.OpenAI.Dimensions)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, ui.Bold.Render("LLM:"))
	fmt.Fprintf(out, "  Provider: %s\n", cfg.LLM.Provider)
	fmt.Fprintf(out, "  Ollama URL: %s\n", cfg.LLM.Ollama.URL)
	fmt.Fprintf(out, "  Ollama Model: %s\n", cfg.LLM.Ollama.Model)
	fmt.Fprintf(out, "  OpenAI Model: %s\n", cfg.LLM.OpenAI.Model)
	fmt.Fprintf(out, "  Anthropic Model: %s\n", cfg.LLM.Anthropic.Model)
	fmt.Fprintln(out)

	fmt.Fprintln(out, ui.Bold.Render("Database:"))
	fmt.Fprintf(out, "  Path: %s\n", cfg.Database.Path)
	fmt.Fprintf(out, "  Dimension: %s\n", dimensionLabel(cfg.Database.Dimension))
	fmt.Fprintln(out)

	fmt.Fprintln(out, ui.Bold.Render("Search:"))
	fmt.Fprintf(out, "  Backend: %s\n", cfg.Search.Backend)
	fmt.Fprintf(out, "  Top K: %d\n", cfg.Search.TopK)
	fmt.Fprintf(out, "  Min Score: %.2f\n", cfg.Search.MinScore)
	fmt.Fprintf(out, "  Rebuild Attempts: %d\n", cfg.Search.RebuildAttempts)
	fmt.Fprintln(out)

	fmt.Fprintln(out, ui.Bold.Render("Retention:"))
	fmt.Fprintf(out, "  Max Items: %d\n", cfg.Retention.MaxItems)
	fmt.Fprintln(out)

	fmt.Fprintln(out, ui.Bold.Render("Ingest:"))
	fmt.Fprintf(out, "  Extensions: %s\n", strings.Join(cfg.Ingest.Extensions, " "))
	fmt.Fprintf(out, "  Batch Size: %d\n", cfg.Ingest.BatchSize)
	fmt.Fprintf(out, "  Max File Size: %s\n", formatBytes(int64(cfg.Ingest.MaxFileSize)))
	fmt.Fprintf(out, "  Chunk Size: %d lines\n", cfg.Ingest.ChunkSize)
	fmt.Fprintf(out, "  Chunk Overlap: %d lines\n", cfg.Ingest.ChunkOverlap)
	fmt.Fprintln(out)

	if cfg.Metrics.Addr != "" {
		fmt.Fprintln(out, ui.Bold.Render("Metrics:"))
		fmt.Fprintf(out, "  Address: %s\n", cfg.Metrics.Addr)
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, ui.Bold.Render("Ignore Patterns:"))
	fmt.Fprintf(out, "  %d patterns configured\n", len(cfg.Ignore))
	return nil
}
