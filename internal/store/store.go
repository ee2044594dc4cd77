package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Invocation records one AJAX function call.
type Invocation struct {
	ID         string    `json:"id"`
	Function   string    `json:"function"`
	Success    bool      `json:"success"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"durationMs"`
	RequestID  string    `json:"requestId,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Store wraps the SQL database used for persistence.
type Store struct {
	db     *sql.DB
	driver string
}

// Open initializes the datastore using the supplied DSN/file path and driver.
// Supported drivers are "sqlite" (default) and "postgres".
func Open(dsn string, driver string) (*Store, error) {
	if driver == "" {
		driver = "sqlite"
	}
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("datastore DSN is required")
	}

	var (
		db  *sql.DB
		err error
	)
	switch driver {
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create datastore directory: %w", err)
		}
		conn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", dsn)
		db, err = sql.Open("sqlite", conn)
	case "postgres":
		db, err = sql.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("unsupported datastore driver: %s", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s datastore: %w", driver, err)
	}
	s := &Store{db: db, driver: driver}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS invocations (
			id TEXT PRIMARY KEY,
			function TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			duration_ms BIGINT NOT NULL DEFAULT 0,
			request_id TEXT,
			created_at TIMESTAMP NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_invocations_function ON invocations(function);`,
		`CREATE INDEX IF NOT EXISTS idx_invocations_created ON invocations(created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("schema apply failed: %w", err)
		}
	}
	return nil
}

// Close shuts down the datastore.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendInvocation writes an invocation record, filling ID and CreatedAt when
// unset.
func (s *Store) AppendInvocation(inv *Invocation) error {
	if inv == nil {
		return errors.New("invocation required")
	}
	if inv.Function == "" {
		return errors.New("invocation function required")
	}
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(s.rebind(`INSERT INTO invocations (id, function, success, status, error, duration_ms, request_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		inv.ID, inv.Function, inv.Success, inv.Status, inv.Error, inv.DurationMS, inv.RequestID, inv.CreatedAt,
	)
	return err
}

// ListInvocations returns recent invocations sorted from newest to oldest.
func (s *Store) ListInvocations(limit int) ([]Invocation, error) {
	query := `SELECT id, function, success, status, error, duration_ms, request_id, created_at FROM invocations ORDER BY created_at DESC`
	if limit > 0 {
		query = fmt.Sprintf("%s LIMIT %d", query, limit)
	}
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Invocation
	for rows.Next() {
		var (
			inv       Invocation
			errText   sql.NullString
			requestID sql.NullString
		)
		if err := rows.Scan(&inv.ID, &inv.Function, &inv.Success, &inv.Status, &errText, &inv.DurationMS, &requestID, &inv.CreatedAt); err != nil {
			return nil, err
		}
		inv.Error = errText.String
		inv.RequestID = requestID.String
		out = append(out, inv)
	}
	return out, rows.Err()
}

// rebind rewrites ? placeholders for drivers that use numbered parameters.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
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

// DeleteInvocationsBefore removes records created before cutoff and reports
// how many were deleted.
func (s *Store) DeleteInvocationsBefore(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(s.rebind(`DELETE FROM invocations WHERE created_at < ?`), cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
