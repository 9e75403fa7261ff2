// Package archive mirrors status history rows into a MySQL-compatible
// server. Everything here is best-effort: the monitor logs failures
// and keeps ticking, so a down or slow archive never affects
// supervision.
package archive

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"time"

	_ "github.com/go-sql-driver/mysql" // register the mysql driver

	"github.com/steveyegge/overcode/internal/history"
)

// opTimeout bounds every archive round-trip.
const opTimeout = 5 * time.Second

// DefaultTable is used when config names no table.
const DefaultTable = "status_history"

// identRE accepts plain SQL identifiers; the table name is the only
// piece of the statements not bound as a parameter.
var identRE = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// Archive is an open connection to the history mirror.
type Archive struct {
	db    *sql.DB
	table string
}

// Open connects to dsn and ensures the archive table exists. An empty
// table falls back to [DefaultTable].
func Open(ctx context.Context, dsn, table string) (*Archive, error) {
	if table == "" {
		table = DefaultTable
	}
	if !identRE.MatchString(table) {
		return nil, fmt.Errorf("invalid archive table name %q", table)
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening archive: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging archive: %w", err)
	}

	a := &Archive{db: db, table: table}
	if _, err := db.ExecContext(pingCtx, schemaStmt(table)); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating archive table: %w", err)
	}
	return a, nil
}

// Insert mirrors rows into the archive in one transaction.
func (a *Archive) Insert(rows []history.Row) error {
	if len(rows) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
	defer cancel()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("archive transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, insertStmt(a.table))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing archive insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, r.Timestamp.UTC(), r.Agent, string(r.Status), r.Activity); err != nil {
			tx.Rollback()
			return fmt.Errorf("archiving row for %s: %w", r.Agent, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing archive rows: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (a *Archive) Close() error {
	return a.db.Close()
}

func schemaStmt(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  ts DATETIME NOT NULL,
  agent VARCHAR(255) NOT NULL,
  status VARCHAR(32) NOT NULL,
  activity VARCHAR(100) NOT NULL DEFAULT '',
  INDEX idx_ts (ts),
  INDEX idx_agent (agent)
)`, table)
}

func insertStmt(table string) string {
	return fmt.Sprintf("INSERT INTO %s (ts, agent, status, activity) VALUES (?, ?, ?, ?)", table)
}
