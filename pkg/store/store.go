// Package store wraps the embedded SQLite database every replicated table
// lives in. It owns schema bootstrap, per-company truncation, batched
// bulk-insert, incremental upsert, the _diff/_delete staging tables, and
// cascade-delete — the Go counterpart of database_service.py's
// DatabaseService, rebuilt around database/sql and modernc.org/sqlite
// instead of aiosqlite.
package store

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/blang/semver/v4"
	"github.com/go-logr/logr"
	_ "modernc.org/sqlite"

	"github.com/ledgersync/replicator/internal/syncerr"
)

const component = "store"

//go:embed schema.sql
var embeddedSchema embed.FS

// Config addresses one on-disk database file.
type Config struct {
	Path           string
	BusyTimeout    time.Duration
	SchemaPath     string // overrides the embedded default when set
	MinimumVersion string // compatibility floor checked against the schema-version header
}

// Store is the single writer connection to the embedded database, following
// the spec's single-writer discipline: every write goes through db, reads
// may fan out to their own *sql.DB when a caller needs concurrency.
type Store struct {
	db  *sql.DB
	cfg Config
	log logr.Logger
}

// Open creates the database file's directory if needed, opens a WAL-mode
// connection with the configured busy timeout, and bootstraps the schema.
func Open(cfg Config, log logr.Logger) (*Store, error) {
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 30 * time.Second
	}
	if cfg.Path != ":memory:" {
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, syncerr.Wrap(syncerr.KindConfig, component, err, "create database directory")
			}
		}
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindConfig, component, err, "open database %s", cfg.Path)
	}
	db.SetMaxOpenConns(1) // single-writer discipline

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", cfg.BusyTimeout.Milliseconds()),
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=OFF",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, syncerr.Wrap(syncerr.KindConfig, component, err, "apply %q", p)
		}
	}

	s := &Store{db: db, cfg: cfg, log: log}
	if err := s.bootstrap(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for callers (AuditRecorder, companystate
// repository) that need their own prepared statements against the same
// single-writer connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

var schemaVersionRe = regexp.MustCompile(`(?m)^--\s*schema-version:\s*(\S+)\s*$`)

// bootstrap loads the declarative schema file (embedded by default,
// overridden by cfg.SchemaPath), rewrites it for SQLite, checks its
// version header against cfg.MinimumVersion, and executes every statement
// idempotently.
func (s *Store) bootstrap() error {
	raw, err := s.loadSchemaSource()
	if err != nil {
		return err
	}

	if cfg := s.cfg.MinimumVersion; cfg != "" {
		if err := checkSchemaVersion(raw, cfg); err != nil {
			return err
		}
	}

	rewritten := convertTypes(raw)
	statements := splitStatements(rewritten)
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return syncerr.Wrap(syncerr.KindConfig, component, err, "execute schema statement: %.80s", stmt)
		}
	}
	s.log.Info("schema bootstrapped", "statements", len(statements))
	return nil
}

func (s *Store) loadSchemaSource() ([]byte, error) {
	if s.cfg.SchemaPath != "" {
		raw, err := os.ReadFile(s.cfg.SchemaPath)
		if err != nil {
			return nil, syncerr.Wrap(syncerr.KindConfig, component, err, "read schema file %s", s.cfg.SchemaPath)
		}
		return raw, nil
	}
	raw, err := embeddedSchema.ReadFile("schema.sql")
	if err != nil {
		return nil, syncerr.Wrap(syncerr.KindConfig, component, err, "read embedded schema")
	}
	return raw, nil
}

func checkSchemaVersion(raw []byte, minimum string) error {
	m := schemaVersionRe.FindSubmatch(raw)
	if m == nil {
		return syncerr.New(syncerr.KindConfig, component, "schema file carries no schema-version header")
	}
	got, err := semver.Parse(string(m[1]))
	if err != nil {
		return syncerr.Wrap(syncerr.KindConfig, component, err, "parse schema-version %q", m[1])
	}
	want, err := semver.Parse(minimum)
	if err != nil {
		return syncerr.Wrap(syncerr.KindConfig, component, err, "parse minimum schema version %q", minimum)
	}
	if got.LT(want) {
		return syncerr.New(syncerr.KindConfig, component, "schema version %s older than required %s", got, want)
	}
	return nil
}

var (
	createTableRe = regexp.MustCompile(`(?i)create\s+table\s+(?:if\s+not\s+exists\s+)?`)
	createIndexRe = regexp.MustCompile(`(?i)create\s+index\s+(?:if\s+not\s+exists\s+)?`)
	nvarcharRe    = regexp.MustCompile(`(?i)\bnvarchar\s*\(\d+\)`)
	varcharRe     = regexp.MustCompile(`(?i)\bvarchar\s*\(\d+\)`)
	tinyintRe     = regexp.MustCompile(`(?i)\btinyint\b`)
	decimalRe     = regexp.MustCompile(`(?i)\bdecimal\s*\(\s*\d+\s*,\s*\d+\s*\)`)
	datetimeRe    = regexp.MustCompile(`(?i)\bdatetime\b`)
)

// convertTypes rewrites vendor-neutral SQL type names to SQLite's storage
// classes and makes every CREATE TABLE/INDEX idempotent, mirroring
// database_service.py's _convert_sql_for_sqlite.
func convertTypes(raw []byte) string {
	sql := string(raw)
	sql = createTableRe.ReplaceAllString(sql, "CREATE TABLE IF NOT EXISTS ")
	sql = createIndexRe.ReplaceAllString(sql, "CREATE INDEX IF NOT EXISTS ")
	sql = nvarcharRe.ReplaceAllString(sql, "TEXT")
	sql = varcharRe.ReplaceAllString(sql, "TEXT")
	sql = tinyintRe.ReplaceAllString(sql, "INTEGER")
	sql = decimalRe.ReplaceAllString(sql, "REAL")
	sql = datetimeRe.ReplaceAllString(sql, "TEXT")
	return sql
}

// splitStatements breaks a schema file into individual statements on
// semicolons, dropping comment-only lines and blank statements. Comments
// are stripped from the statement a semicolon ends, not just the line the
// semicolon sits on, so a trailing-comment statement doesn't leave a
// dangling "--" fragment behind.
func splitStatements(sql string) []string {
	lines := strings.Split(sql, "\n")
	var cleaned strings.Builder
	for _, line := range lines {
		if idx := strings.Index(line, "--"); idx >= 0 {
			line = line[:idx]
		}
		cleaned.WriteString(line)
		cleaned.WriteByte('\n')
	}

	parts := strings.Split(cleaned.String(), ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
