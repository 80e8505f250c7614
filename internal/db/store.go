package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/david/grant-matcher/internal/models"
)

var ErrGrantNotFound = errors.New("grant not found")

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

type ListParams struct {
	Query  string
	Source string
	// Status is "active" (default), "inactive" or "all".
	Status string
	// OpenOnly drops grants whose deadline has passed or is missing.
	OpenOnly bool
	SortBy   string
	Limit    int
	Offset   int
}

type ListResult struct {
	Grants []models.Grant `json:"grants"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

// selectCols is the column list shared by every grant query.
const selectCols = `link_hash, link, title, description_short, description_long, application_deadline,
	focus_areas, target_beneficiaries, geographic_eligibility, keywords, sdg_tags,
	min_budget, max_budget, currency, source, is_active, embedding, scraped_at, updated_at`

func scanGrant(scan func(dest ...interface{}) error) (models.Grant, error) {
	var g models.Grant
	var embedding *pgvector.Vector

	err := scan(
		&g.LinkHash, &g.Link, &g.Title, &g.DescriptionShort, &g.DescriptionLong, &g.ApplicationDeadline,
		&g.FocusAreas, &g.TargetBeneficiaries, &g.GeographicEligibility, &g.Keywords, &g.SDGTags,
		&g.MinBudget, &g.MaxBudget, &g.Currency, &g.Source, &g.IsActive, &embedding, &g.ScrapedAt, &g.UpdatedAt,
	)
	if err != nil {
		return g, err
	}
	if embedding != nil {
		g.Embedding = embedding.Slice()
	}
	if g.ApplicationDeadline != nil {
		utc := g.ApplicationDeadline.UTC()
		g.ApplicationDeadline = &utc
	}
	return g, nil
}

func collectGrants(rows pgx.Rows) ([]models.Grant, error) {
	defer rows.Close()

	grants := []models.Grant{}
	for rows.Next() {
		g, err := scanGrant(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration failed: %w", err)
	}
	return grants, nil
}

// FetchAllActiveGrants returns the catalog snapshot the matcher scans.
func (s *Store) FetchAllActiveGrants(ctx context.Context) ([]models.Grant, error) {
	sql := fmt.Sprintf(`
		SELECT %s
		FROM grants
		WHERE is_active = true
		ORDER BY application_deadline DESC NULLS LAST, link_hash
	`, selectCols)
	rows, err := s.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("query active grants: %w", err)
	}
	return collectGrants(rows)
}

// buildListWhere returns the WHERE clause and its positional args.
func buildListWhere(params ListParams) (string, []interface{}) {
	where := "WHERE 1=1"
	var args []interface{}
	argIdx := 1

	switch params.Status {
	case "all":
	case "inactive":
		where += " AND is_active = false"
	default:
		where += " AND is_active = true"
	}

	if params.OpenOnly {
		where += " AND application_deadline IS NOT NULL AND application_deadline >= NOW()"
	}

	if q := strings.TrimSpace(params.Query); q != "" {
		where += fmt.Sprintf(" AND (search_vector @@ plainto_tsquery('english', $%d) OR title ILIKE '%%' || $%d || '%%')", argIdx, argIdx)
		args = append(args, q)
		argIdx++
	}

	if src := strings.TrimSpace(params.Source); src != "" {
		where += fmt.Sprintf(" AND source = $%d", argIdx)
		args = append(args, src)
	}

	return where, args
}

func orderClause(sortBy string) string {
	switch sortBy {
	case "deadline":
		return " ORDER BY application_deadline ASC NULLS LAST, link_hash"
	case "budget_desc":
		return " ORDER BY max_budget DESC NULLS LAST, link_hash"
	case "title":
		return " ORDER BY title ASC, link_hash"
	default:
		return " ORDER BY updated_at DESC, link_hash"
	}
}

func (s *Store) ListGrants(ctx context.Context, params ListParams) (*ListResult, error) {
	if params.Limit <= 0 || params.Limit > 200 {
		params.Limit = 50
	}
	if params.Offset < 0 {
		params.Offset = 0
	}

	where, args := buildListWhere(params)

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM grants "+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count failed: %w", err)
	}

	selectSQL := fmt.Sprintf("SELECT %s FROM grants %s%s LIMIT $%d OFFSET $%d",
		selectCols, where, orderClause(params.SortBy), len(args)+1, len(args)+2)
	args = append(args, params.Limit, params.Offset)

	rows, err := s.pool.Query(ctx, selectSQL, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	grants, err := collectGrants(rows)
	if err != nil {
		return nil, err
	}

	return &ListResult{
		Grants: grants,
		Total:  total,
		Limit:  params.Limit,
		Offset: params.Offset,
	}, nil
}

func (s *Store) GetGrant(ctx context.Context, linkHash string) (*models.Grant, error) {
	sql := fmt.Sprintf(`
		SELECT %s
		FROM grants
		WHERE link_hash = $1
	`, selectCols)
	g, err := scanGrant(s.pool.QueryRow(ctx, sql, linkHash).Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrGrantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get grant %s: %w", linkHash, err)
	}
	return &g, nil
}

// UpsertGrant inserts a grant or refreshes the existing row with the same
// link_hash. A content change clears the stored embedding so the batch job
// recomputes it. Reports whether a new row was created.
func (s *Store) UpsertGrant(ctx context.Context, g models.Grant) (bool, error) {
	var embedding interface{}
	if len(g.Embedding) > 0 {
		embedding = pgvector.NewVector(g.Embedding)
	}
	scrapedAt := g.ScrapedAt
	if scrapedAt.IsZero() {
		scrapedAt = time.Now().UTC()
	}

	var inserted bool
	err := s.pool.QueryRow(ctx, `
		INSERT INTO grants (
			link_hash, link, title, description_short, description_long, application_deadline,
			focus_areas, target_beneficiaries, geographic_eligibility, keywords, sdg_tags,
			min_budget, max_budget, currency, source, is_active, embedding, scraped_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, NOW())
		ON CONFLICT (link_hash) DO UPDATE SET
			link = EXCLUDED.link,
			title = EXCLUDED.title,
			description_short = EXCLUDED.description_short,
			description_long = EXCLUDED.description_long,
			application_deadline = EXCLUDED.application_deadline,
			focus_areas = EXCLUDED.focus_areas,
			target_beneficiaries = EXCLUDED.target_beneficiaries,
			geographic_eligibility = EXCLUDED.geographic_eligibility,
			keywords = EXCLUDED.keywords,
			sdg_tags = EXCLUDED.sdg_tags,
			min_budget = EXCLUDED.min_budget,
			max_budget = EXCLUDED.max_budget,
			currency = EXCLUDED.currency,
			source = EXCLUDED.source,
			is_active = EXCLUDED.is_active,
			embedding = CASE
				WHEN EXCLUDED.embedding IS NOT NULL THEN EXCLUDED.embedding
				WHEN grants.title = EXCLUDED.title
					AND grants.description_short = EXCLUDED.description_short
					AND grants.description_long = EXCLUDED.description_long
					AND grants.focus_areas = EXCLUDED.focus_areas
					AND grants.target_beneficiaries = EXCLUDED.target_beneficiaries
					AND grants.geographic_eligibility = EXCLUDED.geographic_eligibility
					AND grants.keywords = EXCLUDED.keywords
				THEN grants.embedding
				ELSE NULL
			END,
			scraped_at = EXCLUDED.scraped_at,
			updated_at = NOW()
		RETURNING (xmax = 0)
	`,
		g.LinkHash, g.Link, g.Title, g.DescriptionShort, g.DescriptionLong, g.ApplicationDeadline,
		nonNil(g.FocusAreas), nonNil(g.TargetBeneficiaries), nonNil(g.GeographicEligibility), nonNil(g.Keywords), nonNil(g.SDGTags),
		g.MinBudget, g.MaxBudget, g.Currency, g.Source, g.IsActive, embedding, scrapedAt,
	).Scan(&inserted)
	if err != nil {
		return false, fmt.Errorf("upsert grant %s: %w", g.LinkHash, err)
	}
	return inserted, nil
}

func (s *Store) UpdateGrantEmbedding(ctx context.Context, linkHash string, embedding []float32) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE grants SET embedding = $1, updated_at = NOW() WHERE link_hash = $2",
		pgvector.NewVector(embedding), linkHash)
	if err != nil {
		return fmt.Errorf("update embedding %s: %w", linkHash, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrGrantNotFound
	}
	return nil
}

// GrantsMissingEmbeddings returns active grants without a stored embedding,
// oldest first. When force is set every active grant is returned.
func (s *Store) GrantsMissingEmbeddings(ctx context.Context, force bool, limit int) ([]models.Grant, error) {
	if limit <= 0 {
		limit = 500
	}
	where := "WHERE is_active = true AND embedding IS NULL"
	if force {
		where = "WHERE is_active = true"
	}
	sql := fmt.Sprintf("SELECT %s FROM grants %s ORDER BY updated_at ASC, link_hash LIMIT $1", selectCols, where)
	rows, err := s.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, fmt.Errorf("query grants missing embeddings: %w", err)
	}
	return collectGrants(rows)
}

func (s *Store) SetGrantActive(ctx context.Context, linkHash string, active bool) error {
	tag, err := s.pool.Exec(ctx, "UPDATE grants SET is_active = $1, updated_at = NOW() WHERE link_hash = $2", active, linkHash)
	if err != nil {
		return fmt.Errorf("set grant active %s: %w", linkHash, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrGrantNotFound
	}
	return nil
}

func (s *Store) GetSources(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, "SELECT DISTINCT source FROM grants WHERE source <> '' ORDER BY source")
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	sources := []string{}
	for rows.Next() {
		var src string
		if err := rows.Scan(&src); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

type Stats struct {
	Total           int            `json:"total"`
	Active          int            `json:"active"`
	Open            int            `json:"open"`
	MissingDeadline int            `json:"missing_deadline"`
	WithEmbedding   int            `json:"with_embedding"`
	BySource        map[string]int `json:"by_source"`
}

func (s *Store) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{BySource: map[string]int{}}
	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE is_active),
			COUNT(*) FILTER (WHERE is_active AND application_deadline >= NOW()),
			COUNT(*) FILTER (WHERE is_active AND application_deadline IS NULL),
			COUNT(*) FILTER (WHERE embedding IS NOT NULL)
		FROM grants
	`).Scan(&stats.Total, &stats.Active, &stats.Open, &stats.MissingDeadline, &stats.WithEmbedding)
	if err != nil {
		return nil, fmt.Errorf("stats query failed: %w", err)
	}

	rows, err := s.pool.Query(ctx, "SELECT COALESCE(NULLIF(source, ''), 'unknown'), COUNT(*) FROM grants GROUP BY 1")
	if err != nil {
		return nil, fmt.Errorf("source counts failed: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var src string
		var count int
		if err := rows.Scan(&src, &count); err != nil {
			return nil, fmt.Errorf("scan source count: %w", err)
		}
		stats.BySource[src] = count
	}
	return stats, rows.Err()
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
