// Package dataservice provides the backend queries behind the hexbin layer:
// per-hexbin summaries and the hexbin set itself, over SQLite or Postgres.
package dataservice

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
	_ "modernc.org/sqlite"

	"github.com/dsc-hexbins/server/internal/hexbin"
)

// Supported drivers.
const (
	DriverSQLite = "sqlite"
	DriverPgx    = "pgx"
)

var (
	// ErrInvalidPredicate is returned for filter predicates that could escape
	// the WHERE clause they are embedded in.
	ErrInvalidPredicate = errors.New("dataservice: invalid filter predicate")
	// ErrUnsupportedDriver is returned by Open for unknown drivers.
	ErrUnsupportedDriver = errors.New("dataservice: unsupported driver")
)

// Observation is one sample record.
type Observation struct {
	H3             string  `json:"h3"`
	Depth          float64 `json:"depth"`
	Phylum         string  `json:"phylum"`
	ScientificName string  `json:"scientific_name"`
	CatalogNumber  string  `json:"catalog_number"`
}

// Store runs the hexbin queries against the observations table.
type Store struct {
	db     *sql.DB
	driver string
	mu     sync.Mutex // serialises writes
}

// Open opens the observations database. For sqlite dsn is a file path.
func Open(driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite:
		if dsn != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
				return nil, fmt.Errorf("failed to create directory for sqlite: %w", err)
			}
		}
	case DriverPgx:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", driver, err)
	}

	if driver == DriverSQLite {
		// Enable WAL mode for better concurrency
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
	} else if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS observations (
			h3 TEXT NOT NULL,
			depth DOUBLE PRECISION,
			phylum TEXT NOT NULL DEFAULT '',
			scientific_name TEXT NOT NULL DEFAULT '',
			catalog_number TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_observations_h3 ON observations(h3)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// ValidatePredicate normalises a filter predicate. Empty means unconstrained.
// Statement separators and comments are rejected.
func ValidatePredicate(predicate string) (string, error) {
	p := strings.TrimSpace(predicate)
	if p == "" {
		return hexbin.DefaultPredicate, nil
	}
	for _, bad := range []string{";", "--", "/*", "*/"} {
		if strings.Contains(p, bad) {
			return "", fmt.Errorf("%w: contains %q", ErrInvalidPredicate, bad)
		}
	}
	if strings.Count(p, "'")%2 != 0 {
		return "", fmt.Errorf("%w: unbalanced quotes", ErrInvalidPredicate)
	}
	return p, nil
}

// DepthRange returns the min and max sample depth in a hexbin.
func (s *Store) DepthRange(ctx context.Context, hex hexbin.HexID, predicate string) (hexbin.DepthRange, error) {
	where, err := ValidatePredicate(predicate)
	if err != nil {
		return hexbin.DepthRange{}, err
	}
	q := s.rebind(`SELECT MIN(depth), MAX(depth) FROM observations WHERE h3 = ? AND (` + where + `)`)

	var minDepth, maxDepth sql.NullFloat64
	if err := s.db.QueryRowContext(ctx, q, string(hex)).Scan(&minDepth, &maxDepth); err != nil {
		return hexbin.DepthRange{}, fmt.Errorf("query depth range: %w", err)
	}
	return hexbin.DepthRange{Min: minDepth.Float64, Max: maxDepth.Float64}, nil
}

// PhylumCounts returns the sample count per phylum, largest first.
func (s *Store) PhylumCounts(ctx context.Context, hex hexbin.HexID, predicate string) ([]hexbin.PhylumCount, error) {
	where, err := ValidatePredicate(predicate)
	if err != nil {
		return nil, err
	}
	q := s.rebind(`SELECT phylum, COUNT(*) AS n FROM observations
		WHERE h3 = ? AND (` + where + `)
		GROUP BY phylum ORDER BY n DESC, phylum`)

	rows, err := s.db.QueryContext(ctx, q, string(hex))
	if err != nil {
		return nil, fmt.Errorf("query phylum counts: %w", err)
	}
	defer rows.Close()

	out := []hexbin.PhylumCount{}
	for rows.Next() {
		var pc hexbin.PhylumCount
		if err := rows.Scan(&pc.Phylum, &pc.Count); err != nil {
			return nil, fmt.Errorf("scan phylum count: %w", err)
		}
		out = append(out, pc)
	}
	return out, rows.Err()
}

// ScientificNameCounts returns the sample count per scientific name, largest
// first. Names are unique in the result.
func (s *Store) ScientificNameCounts(ctx context.Context, hex hexbin.HexID, predicate string) ([]hexbin.ScientificNameCount, error) {
	where, err := ValidatePredicate(predicate)
	if err != nil {
		return nil, err
	}
	q := s.rebind(`SELECT scientific_name, COUNT(*) AS n FROM observations
		WHERE h3 = ? AND (` + where + `)
		GROUP BY scientific_name ORDER BY n DESC, scientific_name`)

	rows, err := s.db.QueryContext(ctx, q, string(hex))
	if err != nil {
		return nil, fmt.Errorf("query scientific name counts: %w", err)
	}
	defer rows.Close()

	out := []hexbin.ScientificNameCount{}
	for rows.Next() {
		var nc hexbin.ScientificNameCount
		if err := rows.Scan(&nc.Name, &nc.Count); err != nil {
			return nil, fmt.Errorf("scan scientific name count: %w", err)
		}
		out = append(out, nc)
	}
	return out, rows.Err()
}

// Hexbins returns every hexbin with at least one sample matching predicate.
func (s *Store) Hexbins(ctx context.Context, predicate string) ([]hexbin.Graphic, error) {
	where, err := ValidatePredicate(predicate)
	if err != nil {
		return nil, err
	}
	q := `SELECT h3, COUNT(*) FROM observations WHERE (` + where + `) GROUP BY h3 ORDER BY h3`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query hexbins: %w", err)
	}
	defer rows.Close()

	out := []hexbin.Graphic{}
	for rows.Next() {
		var (
			h3    string
			count int
		)
		if err := rows.Scan(&h3, &count); err != nil {
			return nil, fmt.Errorf("scan hexbin: %w", err)
		}
		out = append(out, hexbin.Graphic{H3: hexbin.HexID(h3), Count: count})
	}
	return out, rows.Err()
}

// Insert adds observations in one transaction and returns how many were written.
func (s *Store) Insert(ctx context.Context, obs []Observation) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO observations (h3, depth, phylum, scientific_name, catalog_number)
		VALUES (?, ?, ?, ?, ?)
	`))
	if err != nil {
		return 0, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, o := range obs {
		if strings.TrimSpace(o.H3) == "" {
			return 0, fmt.Errorf("observation %d: empty h3", i)
		}
		if _, err := stmt.ExecContext(ctx, o.H3, o.Depth, o.Phylum, o.ScientificName, o.CatalogNumber); err != nil {
			return 0, fmt.Errorf("insert observation %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert: %w", err)
	}
	return len(obs), nil
}

// Count returns the number of stored observations.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM observations`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// rebind rewrites '?' placeholders to '$n' for postgres. Placeholders inside
// the embedded predicate's string literals are left alone.
func (s *Store) rebind(q string) string {
	if s.driver != DriverPgx {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	inQuote := false
	for _, r := range q {
		switch {
		case r == '\'':
			inQuote = !inQuote
			b.WriteRune(r)
		case r == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
