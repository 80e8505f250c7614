package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/david/grant-matcher/internal/app"
	"github.com/david/grant-matcher/internal/logging"
	"github.com/david/grant-matcher/internal/matching"
	"github.com/david/grant-matcher/internal/models"
	"github.com/david/grant-matcher/internal/website"
)

var (
	cfgFile   string
	siteURL   string
	textFile  string
	budget    float64
	showAll   bool
	showScore bool
)

var rootCmd = &cobra.Command{
	Use:   "match_site",
	Short: "Match an NGO website or text file against the grant catalog",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVar(&cfgFile, "config", "", "optional YAML config file")
	rootCmd.Flags().StringVarP(&siteURL, "url", "u", "", "NGO website URL to fetch")
	rootCmd.Flags().StringVarP(&textFile, "file", "f", "", "file with NGO text (use - for stdin)")
	rootCmd.Flags().Float64VarP(&budget, "budget", "b", 0, "estimated project budget (0 uses the configured default)")
	rootCmd.Flags().BoolVar(&showAll, "all", false, "also list ineligible grants")
	rootCmd.Flags().BoolVar(&showScore, "signals", false, "print the per-signal breakdown")
	rootCmd.MarkFlagsMutuallyExclusive("url", "file")
	rootCmd.MarkFlagsOneRequired("url", "file")
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	a, err := app.Open(ctx, cfgFile)
	if err != nil {
		return err
	}
	defer a.Close()

	text, err := loadText(ctx, a.Extractor)
	if err != nil {
		return err
	}

	opts := matching.Options{RequestID: uuid.NewString()}
	if budget > 0 {
		opts.EstimatedBudget = &budget
	}
	results, msg, err := a.Service.MatchAllGrants(ctx, text, opts)
	if err != nil {
		return err
	}
	if msg != "" {
		fmt.Println(msg)
	}
	render(results)
	return nil
}

func loadText(ctx context.Context, extractor *website.Extractor) (string, error) {
	if siteURL != "" {
		page, err := extractor.Extract(ctx, siteURL)
		if err != nil {
			return "", err
		}
		fmt.Printf("Fetched %s (%d chars%s)\n", page.URL, len(page.Text), truncatedNote(page.Truncated))
		return page.Text, nil
	}

	var (
		data []byte
		err  error
	)
	if textFile == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(textFile)
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %w", textFile, err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", errors.New("input text is empty")
	}
	return text, nil
}

func truncatedNote(truncated bool) string {
	if truncated {
		return ", truncated"
	}
	return ""
}

func render(results []models.MatchResult) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	header := table.Row{"#", "Grant", "Score", "Tier", "Eligible", "Notes"}
	if showScore {
		header = append(header, "Emb", "TF-IDF", "KW", "Sector", "Target", "Geo")
	}
	t.AppendHeader(header)

	for i, r := range results {
		if !r.IsEligible && !showAll {
			continue
		}
		notes := strings.Join(r.SDGTags, ", ")
		if !r.IsEligible {
			notes = strings.Join(r.IneligibilityReasons, " ")
		}
		row := table.Row{i + 1, logging.Truncate(r.Title, 50), fmt.Sprintf("%.2f", r.Score), r.Tier, r.IsEligible, notes}
		if showScore && r.Signals != nil {
			s := r.Signals
			row = append(row, f2(s.EmbeddingSim), f2(s.TFIDFSim), f2(s.KeywordOverlap), f2(s.SectorMatch), f2(s.TargetPopulationMatch), f2(s.GeographicBoost))
		}
		t.AppendRow(row)
	}
	t.Render()
}

func f2(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
