// Package store persists graded leads, benchmark sites, and prospect links
// in a local SQLite database. The backup tier in internal/backup fronts
// every write here, so a store outage never loses a record.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"go.uber.org/zap"

	"sitegrader/internal/logging"
	"sitegrader/internal/types"
)

// ErrNotFound reports a lookup that matched nothing.
var ErrNotFound = errors.New("store: not found")

// Lead is one persisted analysis outcome.
type Lead struct {
	ID           int64                 `json:"id"`
	CompanyName  string                `json:"company_name"`
	URL          string                `json:"url"`
	Industry     string                `json:"industry"`
	Location     string                `json:"location,omitempty"`
	OverallScore float64               `json:"overall_score"`
	Grade        string                `json:"grade"`
	Report       *types.AnalysisResult `json:"report,omitempty"`
	CreatedAt    time.Time             `json:"created_at"`
}

// Benchmark is a reference site other businesses are compared against.
type Benchmark struct {
	ID          int64                 `json:"id"`
	CompanyName string                `json:"company_name"`
	URL         string                `json:"url"`
	Industry    string                `json:"industry"`
	Tier        string                `json:"tier"` // national, regional, local, manual
	Scores      *types.CategoryScores `json:"scores,omitempty"`
	Strengths   []types.Strength      `json:"strengths,omitempty"`
	CreatedAt   time.Time             `json:"created_at"`
	UpdatedAt   time.Time             `json:"updated_at"`
}

// Prospect links a discovered business to its lead record, if any.
type Prospect struct {
	ID          int64     `json:"id"`
	CompanyName string    `json:"company_name"`
	URL         string    `json:"url"`
	LeadID      *int64    `json:"lead_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// DataStore is the persistence boundary the orchestrator talks to.
type DataStore interface {
	SaveLead(ctx context.Context, lead *Lead) (int64, error)
	SaveBenchmark(ctx context.Context, b *Benchmark) (int64, error)
	UpdateBenchmark(ctx context.Context, b *Benchmark) error
	GetBenchmarkByURL(ctx context.Context, url string) (*Benchmark, error)
	GetBenchmarks(ctx context.Context, tiers []string, limit int) ([]*Benchmark, error)
	GetBenchmarksByIndustry(ctx context.Context, industry string, tiers []string, limit int) ([]*Benchmark, error)
	SaveOrLinkProspect(ctx context.Context, p *Prospect) (int64, error)
	Close() error
}

// SQLiteStore implements DataStore on a local SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	log *zap.SugaredLogger
}

var _ DataStore = (*SQLiteStore)(nil)

// Open opens (creating if needed) the SQLite database and applies the
// schema.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite handles one writer at a time.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, log: logging.Get(logging.CategoryStore)}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
CREATE TABLE IF NOT EXISTS leads (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	company_name TEXT NOT NULL,
	url TEXT NOT NULL,
	industry TEXT NOT NULL DEFAULT '',
	location TEXT NOT NULL DEFAULT '',
	overall_score REAL NOT NULL,
	grade TEXT NOT NULL,
	report TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_leads_url ON leads(url);

CREATE TABLE IF NOT EXISTS benchmarks (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	company_name TEXT NOT NULL,
	url TEXT NOT NULL UNIQUE,
	industry TEXT NOT NULL DEFAULT '',
	tier TEXT NOT NULL DEFAULT 'manual',
	scores TEXT,
	strengths TEXT,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_benchmarks_industry ON benchmarks(industry);
CREATE INDEX IF NOT EXISTS idx_benchmarks_tier ON benchmarks(tier);

CREATE TABLE IF NOT EXISTS prospects (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	company_name TEXT NOT NULL,
	url TEXT NOT NULL UNIQUE,
	lead_id INTEGER REFERENCES leads(id),
	created_at TIMESTAMP NOT NULL
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// SaveLead inserts a lead and returns its id.
func (s *SQLiteStore) SaveLead(ctx context.Context, lead *Lead) (int64, error) {
	report, err := marshalNullable(lead.Report)
	if err != nil {
		return 0, fmt.Errorf("failed to encode report: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO leads (company_name, url, industry, location, overall_score, grade, report, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		lead.CompanyName, lead.URL, lead.Industry, lead.Location,
		lead.OverallScore, lead.Grade, report, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to save lead: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read lead id: %w", err)
	}

	s.log.Infow("lead saved", "id", id, "company", lead.CompanyName, "grade", lead.Grade)
	return id, nil
}

// SaveBenchmark inserts a benchmark and returns its id.
func (s *SQLiteStore) SaveBenchmark(ctx context.Context, b *Benchmark) (int64, error) {
	scores, err := marshalNullable(b.Scores)
	if err != nil {
		return 0, fmt.Errorf("failed to encode scores: %w", err)
	}
	strengths, err := marshalNullable(b.Strengths)
	if err != nil {
		return 0, fmt.Errorf("failed to encode strengths: %w", err)
	}

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO benchmarks (company_name, url, industry, tier, scores, strengths, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.CompanyName, b.URL, b.Industry, b.Tier, scores, strengths, now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to save benchmark: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read benchmark id: %w", err)
	}

	s.log.Infow("benchmark saved", "id", id, "company", b.CompanyName, "tier", b.Tier)
	return id, nil
}

// UpdateBenchmark refreshes an existing benchmark's scores and strengths.
func (s *SQLiteStore) UpdateBenchmark(ctx context.Context, b *Benchmark) error {
	scores, err := marshalNullable(b.Scores)
	if err != nil {
		return fmt.Errorf("failed to encode scores: %w", err)
	}
	strengths, err := marshalNullable(b.Strengths)
	if err != nil {
		return fmt.Errorf("failed to encode strengths: %w", err)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE benchmarks SET company_name = ?, industry = ?, tier = ?, scores = ?, strengths = ?, updated_at = ?
		 WHERE id = ?`,
		b.CompanyName, b.Industry, b.Tier, scores, strengths, time.Now().UTC(), b.ID)
	if err != nil {
		return fmt.Errorf("failed to update benchmark: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update count: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetBenchmarkByURL fetches one benchmark by exact URL.
func (s *SQLiteStore) GetBenchmarkByURL(ctx context.Context, url string) (*Benchmark, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, company_name, url, industry, tier, scores, strengths, created_at, updated_at
		 FROM benchmarks WHERE url = ?`, url)
	return scanBenchmark(row)
}

// GetBenchmarks lists benchmarks in the allowed tiers, newest first.
func (s *SQLiteStore) GetBenchmarks(ctx context.Context, tiers []string, limit int) ([]*Benchmark, error) {
	where, args := tierClause(tiers)
	query := `SELECT id, company_name, url, industry, tier, scores, strengths, created_at, updated_at
		FROM benchmarks` + where + ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limitOrDefault(limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list benchmarks: %w", err)
	}
	defer rows.Close()
	return collectBenchmarks(rows)
}

// GetBenchmarksByIndustry lists benchmarks for one industry in the allowed
// tiers, newest first.
func (s *SQLiteStore) GetBenchmarksByIndustry(ctx context.Context, industry string, tiers []string, limit int) ([]*Benchmark, error) {
	where, args := tierClause(tiers)
	if where == "" {
		where = " WHERE industry = ?"
	} else {
		where += " AND industry = ?"
	}
	args = append(args, industry)

	query := `SELECT id, company_name, url, industry, tier, scores, strengths, created_at, updated_at
		FROM benchmarks` + where + ` ORDER BY updated_at DESC LIMIT ?`
	args = append(args, limitOrDefault(limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list benchmarks by industry: %w", err)
	}
	defer rows.Close()
	return collectBenchmarks(rows)
}

// SaveOrLinkProspect inserts a prospect, or links the lead onto the existing
// prospect row for the same URL.
func (s *SQLiteStore) SaveOrLinkProspect(ctx context.Context, p *Prospect) (int64, error) {
	var existing int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM prospects WHERE url = ?`, p.URL).Scan(&existing)
	switch {
	case err == nil:
		if p.LeadID != nil {
			if _, err := s.db.ExecContext(ctx,
				`UPDATE prospects SET company_name = ?, lead_id = ? WHERE id = ?`,
				p.CompanyName, *p.LeadID, existing); err != nil {
				return 0, fmt.Errorf("failed to link prospect: %w", err)
			}
		}
		return existing, nil
	case errors.Is(err, sql.ErrNoRows):
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO prospects (company_name, url, lead_id, created_at) VALUES (?, ?, ?, ?)`,
			p.CompanyName, p.URL, p.LeadID, time.Now().UTC())
		if err != nil {
			return 0, fmt.Errorf("failed to save prospect: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("failed to read prospect id: %w", err)
		}
		return id, nil
	default:
		return 0, fmt.Errorf("failed to look up prospect: %w", err)
	}
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBenchmark(row rowScanner) (*Benchmark, error) {
	var b Benchmark
	var scores, strengths sql.NullString
	err := row.Scan(&b.ID, &b.CompanyName, &b.URL, &b.Industry, &b.Tier,
		&scores, &strengths, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan benchmark: %w", err)
	}

	if scores.Valid && scores.String != "" {
		b.Scores = &types.CategoryScores{}
		if err := json.Unmarshal([]byte(scores.String), b.Scores); err != nil {
			return nil, fmt.Errorf("failed to decode benchmark scores: %w", err)
		}
	}
	if strengths.Valid && strengths.String != "" {
		if err := json.Unmarshal([]byte(strengths.String), &b.Strengths); err != nil {
			return nil, fmt.Errorf("failed to decode benchmark strengths: %w", err)
		}
	}
	return &b, nil
}

func collectBenchmarks(rows *sql.Rows) ([]*Benchmark, error) {
	var out []*Benchmark
	for rows.Next() {
		b, err := scanBenchmark(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func tierClause(tiers []string) (string, []any) {
	if len(tiers) == 0 {
		return "", nil
	}
	placeholders := make([]string, len(tiers))
	args := make([]any, len(tiers))
	for i, t := range tiers {
		placeholders[i] = "?"
		args[i] = t
	}
	return " WHERE tier IN (" + strings.Join(placeholders, ",") + ")", args
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return 50
	}
	return limit
}

func marshalNullable(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	switch t := v.(type) {
	case *types.AnalysisResult:
		if t == nil {
			return sql.NullString{}, nil
		}
	case *types.CategoryScores:
		if t == nil {
			return sql.NullString{}, nil
		}
	case []types.Strength:
		if len(t) == 0 {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
