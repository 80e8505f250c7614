package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/david/grant-matcher/internal/app"
	"github.com/david/grant-matcher/internal/ingest"
)

var (
	cfgFile  string
	seedFile string
)

var rootCmd = &cobra.Command{
	Use:   "seed_grants",
	Short: "Load a YAML grant catalog into the database",
	Long:  "Load a YAML grant catalog into the database. Without --file the built-in sample catalog is used.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "optional YAML config file")
	rootCmd.Flags().StringVarP(&seedFile, "file", "f", "", "seed catalog to load (default: built-in sample grants)")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	raws, err := ingest.LoadSeed(seedFile)
	if err != nil {
		return err
	}

	a, err := app.Open(ctx, cfgFile)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := ingest.SeedCatalog(ctx, a.Store, raws, time.Now(), a.Logger)
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Entries", "Inserted", "Updated", "Skipped"})
	t.AppendRow(table.Row{len(raws), report.Inserted, report.Updated, report.Skipped})
	t.Render()
	for _, e := range report.Errors {
		fmt.Fprintln(os.Stderr, "skipped:", e)
	}
	return nil
}
