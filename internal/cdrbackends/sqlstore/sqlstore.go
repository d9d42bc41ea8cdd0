// Package sqlstore implements a SQL CDR backend over database/sql, with
// two drivers: an embedded SQLite store (modernc.org/sqlite, WAL mode,
// single-writer pool) for the local case, and a networked Postgres
// store (jackc/pgx/v5/stdlib, pooled connections).
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/flowpbx/cdrengine/internal/cdr"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// Driver names the SQL backend to a concrete engine.
type Driver int

const (
	DriverSQLite Driver = iota
	DriverPostgres
)

// Store wraps a *sql.DB with migration management and a cdr.SinkFunc
// adapter.
type Store struct {
	db     *sql.DB
	driver Driver
	logger *slog.Logger
}

// OpenSQLite opens (creating if needed) a local SQLite-backed store at
// path, in WAL mode with a single writer connection.
func OpenSQLite(logger *slog.Logger, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening cdr sqlite store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging cdr sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, driver: DriverSQLite, logger: logger.With("subsystem", "cdr.sqlstore", "driver", "sqlite")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// OpenPostgres opens a networked Postgres-backed store at dsn.
func OpenPostgres(logger *slog.Logger, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening cdr postgres store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging cdr postgres store: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: db, driver: DriverPostgres, logger: logger.With("subsystem", "cdr.sqlstore", "driver", "postgres")}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// migrate applies every embedded .sql file not yet recorded in
// cdr_schema_migrations, in filename order. Like Sink below, it keeps a
// separate migration set and placeholder style per driver: SQLite and
// Postgres disagree on both DDL (AUTOINCREMENT vs BIGSERIAL, DATETIME
// vs TIMESTAMPTZ) and bind parameter syntax, and pgx's stdlib driver
// does not rewrite "?" to "$1".
func (s *Store) migrate() error {
	migrationsDir := "migrations/sqlite"
	createTable := `CREATE TABLE IF NOT EXISTS cdr_schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`
	checkQuery := "SELECT COUNT(*) FROM cdr_schema_migrations WHERE version = ?"
	insertQuery := "INSERT INTO cdr_schema_migrations (version) VALUES (?)"
	if s.driver == DriverPostgres {
		migrationsDir = "migrations/postgres"
		createTable = `CREATE TABLE IF NOT EXISTS cdr_schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`
		checkQuery = "SELECT COUNT(*) FROM cdr_schema_migrations WHERE version = $1"
		insertQuery = "INSERT INTO cdr_schema_migrations (version) VALUES ($1)"
	}

	if _, err := s.db.Exec(createTable); err != nil {
		return fmt.Errorf("creating cdr_schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, migrationsDir)
	if err != nil {
		return fmt.Errorf("reading cdr migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version := strings.TrimSuffix(entry.Name(), ".sql")

		var count int
		if err := s.db.QueryRow(checkQuery, version).Scan(&count); err != nil {
			return fmt.Errorf("checking cdr migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile(filepath.Join(migrationsDir, entry.Name()))
		if err != nil {
			return fmt.Errorf("reading cdr migration %s: %w", version, err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning cdr migration %s: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing cdr migration %s: %w", version, err)
		}
		if _, err := tx.Exec(insertQuery, version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording cdr migration %s: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing cdr migration %s: %w", version, err)
		}
		s.logger.Info("applied migration", "version", version)
	}
	return nil
}

const insertSQLite = `INSERT INTO cdr
	(accountcode, src, clid, dst, dcontext, channel, dstchannel, lastapp, lastdata,
	 start, answer, "end", duration, billsec, disposition, amaflags, uniqueid, linkedid, userfield, sequence)
	VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`

const insertPostgres = `INSERT INTO cdr
	(accountcode, src, clid, dst, dcontext, channel, dstchannel, lastapp, lastdata,
	 start, answer, "end", duration, billsec, disposition, amaflags, uniqueid, linkedid, userfield, sequence)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`

// Sink implements cdr.SinkFunc, inserting one row per finalized record.
func (s *Store) Sink(r *cdr.ExternalRecord) error {
	q := insertSQLite
	if s.driver == DriverPostgres {
		q = insertPostgres
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, q,
		r.AccountCode, r.Src, r.CallerID, r.Dst, r.DstContext, r.Channel, r.DstChannel,
		r.LastApp, r.LastData, nullableTime(r.Start), nullableTime(r.Answer), nullableTime(r.End),
		r.Duration, r.BillSec, r.Disposition.String(), r.AMAFlags, r.UniqueID, r.LinkedID,
		r.UserField, r.Sequence)
	if err != nil {
		return fmt.Errorf("inserting cdr row: %w", err)
	}
	return nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
