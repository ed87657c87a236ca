package state

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	_ "modernc.org/sqlite"             // registers the "sqlite" driver

	"github.com/ajitpratap0/daktela-extractor/pkg/errors"
	"github.com/ajitpratap0/daktela-extractor/pkg/json"
)

// Dialect selects placeholder syntax.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

const createStateTable = `CREATE TABLE IF NOT EXISTS extractor_state (
	table_name TEXT PRIMARY KEY,
	watermark TEXT NOT NULL,
	columns TEXT NOT NULL,
	updated_at TEXT NOT NULL
)`

const upsertState = `INSERT INTO extractor_state (table_name, watermark, columns, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (table_name) DO UPDATE SET
	watermark = excluded.watermark,
	columns = excluded.columns,
	updated_at = excluded.updated_at`

const selectState = `SELECT table_name, watermark, columns, updated_at FROM extractor_state`

// SQLStore keeps one row per table in a SQL database.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	mu      sync.Mutex
}

// OpenSQLite opens (creating if needed) a SQLite state database at path.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeState, "creating state directory")
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeState, "opening sqlite state")
	}
	// SQLite allows one writer.
	db.SetMaxOpenConns(1)
	return newMigratedStore(ctx, db, DialectSQLite)
}

// OpenPostgres connects to a PostgreSQL state database.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeState, "opening postgres state")
	}
	return newMigratedStore(ctx, db, DialectPostgres)
}

func newMigratedStore(ctx context.Context, db *sql.DB, dialect Dialect) (*SQLStore, error) {
	s := NewSQLStore(db, dialect)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an open database. Call Migrate before first use.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{db: db, dialect: dialect}
}

// Migrate creates the state table if it does not exist.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createStateTable); err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "creating state table")
	}
	return nil
}

// Load reads every table's state.
func (s *SQLStore) Load(ctx context.Context) (*Document, error) {
	rows, err := s.db.QueryContext(ctx, selectState)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeState, "querying state")
	}
	defer rows.Close()

	doc := NewDocument()
	for rows.Next() {
		var name, watermark, columns, updated string
		if err := rows.Scan(&name, &watermark, &columns, &updated); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeState, "scanning state row")
		}
		st := TableState{}
		if st.LastWatermark, err = parseStoredTime(watermark); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeState, "parsing watermark").WithDetail("table", name)
		}
		if st.LastUpdated, err = parseStoredTime(updated); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeState, "parsing update time").WithDetail("table", name)
		}
		if err := json.Unmarshal([]byte(columns), &st.KnownColumns); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeState, "parsing columns").WithDetail("table", name)
		}
		doc.Tables[name] = st
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeState, "reading state rows")
	}
	return doc, nil
}

// SaveTable upserts one table's row.
func (s *SQLStore) SaveTable(ctx context.Context, table string, state TableState) error {
	columns, err := json.Marshal(state.KnownColumns)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "encoding columns")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.db.ExecContext(ctx, s.rebind(upsertState),
		table,
		formatStoredTime(state.LastWatermark),
		string(columns),
		formatStoredTime(state.LastUpdated))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "saving table state").WithDetail("table", table)
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders as $n for PostgreSQL.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func formatStoredTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseStoredTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
