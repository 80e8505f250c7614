package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/david/grant-matcher/internal/app"
)

var (
	cfgFile string
	force   bool
	limit   int
)

var rootCmd = &cobra.Command{
	Use:   "embed_grants",
	Short: "Compute and store embeddings for active grants",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "optional YAML config file")
	rootCmd.Flags().BoolVar(&force, "force", false, "re-embed grants that already have an embedding")
	rootCmd.Flags().IntVarP(&limit, "limit", "n", 500, "maximum number of grants to embed")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	if limit <= 0 {
		return fmt.Errorf("--limit must be > 0")
	}
	a, err := app.Open(ctx, cfgFile)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.Indexer.Run(ctx, force, limit)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Candidates", "Embedded", "Failed", "Elapsed"})
	t.AppendRow(table.Row{report.Candidates, report.Embedded, report.Failed, report.Elapsed})
	t.Render()
	for _, e := range report.Errors {
		fmt.Fprintln(os.Stderr, "failed:", e)
	}
	return nil
}
