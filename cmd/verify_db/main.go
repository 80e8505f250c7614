package main

import (
	"context"
	"flag"
	"log"
	"os"
	"sort"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/david/grant-matcher/internal/config"
	"github.com/david/grant-matcher/internal/db"
)

func main() {
	configPath := flag.String("config", "", "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	stats, err := db.NewStore(pool).GetStats(ctx)
	if err != nil {
		log.Fatalf("Query failed: %v", err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Metric", "Count"})
	t.AppendRow(table.Row{"Total grants", stats.Total})
	t.AppendRow(table.Row{"Active", stats.Active})
	t.AppendRow(table.Row{"Open (future deadline)", stats.Open})
	t.AppendRow(table.Row{"Missing deadline", stats.MissingDeadline})
	t.AppendRow(table.Row{"With embedding", stats.WithEmbedding})

	sources := make([]string, 0, len(stats.BySource))
	for s := range stats.BySource {
		sources = append(sources, s)
	}
	sort.Strings(sources)
	if len(sources) > 0 {
		t.AppendSeparator()
		for _, s := range sources {
			t.AppendRow(table.Row{"Source: " + s, stats.BySource[s]})
		}
	}
	t.Render()
}
