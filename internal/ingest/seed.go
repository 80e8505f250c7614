package ingest

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/david/grant-matcher/internal/models"
)

//go:embed seeds/grants.yaml
var seedFS embed.FS

// SeedFile is the YAML layout of a grant seed catalog.
type SeedFile struct {
	Grants []RawGrant `yaml:"grants"`
}

// GrantWriter is the write side of the catalog used by seeding.
type GrantWriter interface {
	UpsertGrant(ctx context.Context, g models.Grant) (bool, error)
}

// SeedReport summarizes one seeding run.
type SeedReport struct {
	Inserted int      `json:"inserted"`
	Updated  int      `json:"updated"`
	Skipped  int      `json:"skipped"`
	Errors   []string `json:"errors"`
}

// LoadSeed reads a seed catalog from path, or the embedded default when path
// is empty.
func LoadSeed(path string) ([]RawGrant, error) {
	var (
		data []byte
		err  error
	)
	if path == "" {
		data, err = seedFS.ReadFile("seeds/grants.yaml")
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var seed SeedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	return seed.Grants, nil
}

// SeedCatalog normalizes and upserts each raw grant. Invalid entries are
// skipped and reported; a write failure aborts the run.
func SeedCatalog(ctx context.Context, w GrantWriter, raws []RawGrant, now time.Time, logger *zap.Logger) (SeedReport, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	report := SeedReport{Errors: []string{}}
	for i, raw := range raws {
		g, err := GrantFromRaw(raw, now)
		if err != nil {
			report.Skipped++
			report.Errors = append(report.Errors, fmt.Sprintf("entry %d (%q): %v", i, raw.Title, err))
			logger.Warn("skipping invalid seed grant", zap.Int("index", i), zap.Error(err))
			continue
		}
		inserted, err := w.UpsertGrant(ctx, g)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return report, err
			}
			return report, fmt.Errorf("upsert %q: %w", g.Title, err)
		}
		if inserted {
			report.Inserted++
		} else {
			report.Updated++
		}
	}
	logger.Info("seed complete",
		zap.Int("inserted", report.Inserted),
		zap.Int("updated", report.Updated),
		zap.Int("skipped", report.Skipped),
	)
	return report, nil
}
