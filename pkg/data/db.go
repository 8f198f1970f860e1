package data

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/mchmarny/sejctl/pkg/project"
	_ "modernc.org/sqlite"
)

const (
	DataFileName string = "data.db"

	driverSQLite   = "sqlite"
	driverPostgres = "postgres"
)

var (
	//go:embed sql/*.sql
	f embed.FS

	errDBNotInitialized = errors.New("database not initialized")

	// ErrNotFound is returned when a project or result does not exist.
	ErrNotFound = project.ErrNotFound
)

// driverFor picks the SQL driver from the DSN: postgres URLs and key/value
// strings go to lib/pq, everything else is a SQLite file path.
func driverFor(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") ||
		strings.Contains(dsn, "host=") {
		return driverPostgres
	}
	return driverSQLite
}

// Init opens the database and applies any pending schema migrations.
func Init(dsn string) error {
	if dsn == "" {
		return errors.New("dsn not specified")
	}
	db, err := GetDB(dsn)
	if err != nil {
		return err
	}
	defer db.Close()
	return migrate(db)
}

// GetDB opens the database for the DSN. The caller closes it.
func GetDB(dsn string) (*sql.DB, error) {
	if dsn == "" {
		return nil, errors.New("dsn not specified")
	}
	driver := driverFor(dsn)
	if driver == driverSQLite {
		// concurrent writers on one file fail with SQLITE_BUSY
		dsn = sqliteDSN(dsn)
	}
	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if driver == driverSQLite {
		conn.SetMaxOpenConns(1)
	}
	return conn, nil
}

func sqliteDSN(p string) string {
	if strings.Contains(p, "_pragma=") {
		return p
	}
	sep := "?"
	if strings.Contains(p, "?") {
		sep = "&"
	}
	return p + sep + "_pragma=busy_timeout(5000)"
}

func isPostgres(db *sql.DB) bool {
	_, ok := db.Driver().(*pq.Driver)
	return ok
}

// rebind rewrites ? placeholders into the $n form postgres expects.
func rebind(db *sql.DB, q string) string {
	if !isPostgres(db) {
		return q
	}
	var sb strings.Builder
	n := 0
	for _, r := range q {
		if r != '?' {
			sb.WriteRune(r)
			continue
		}
		n++
		sb.WriteByte('$')
		sb.WriteString(strconv.Itoa(n))
	}
	return sb.String()
}

const (
	createSchemaVersion = `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`
	selectSchemaVersion = `SELECT COALESCE(MAX(version), 0) FROM schema_version`
	insertSchemaVersion = `INSERT INTO schema_version (version, applied_at) VALUES (?, ?)`
)

type migration struct {
	version int
	name    string
}

// migrations lists the embedded sql/NNN_name.sql files in version order.
func migrations() ([]migration, error) {
	entries, err := fs.ReadDir(f, "sql")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	var list []migration
	for _, e := range entries {
		prefix, _, ok := strings.Cut(e.Name(), "_")
		if !ok {
			continue
		}
		v, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("migration %s: invalid version: %w", e.Name(), err)
		}
		list = append(list, migration{version: v, name: e.Name()})
	}
	slices.SortFunc(list, func(a, b migration) int { return a.version - b.version })
	return list, nil
}

func migrate(db *sql.DB) error {
	if db == nil {
		return errDBNotInitialized
	}
	if _, err := db.Exec(createSchemaVersion); err != nil {
		return fmt.Errorf("failed to create schema_version table: %w", err)
	}

	var current int
	if err := db.QueryRow(selectSchemaVersion).Scan(&current); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}

	list, err := migrations()
	if err != nil {
		return err
	}
	for _, m := range list {
		if m.version <= current {
			continue
		}
		b, err := f.ReadFile(path.Join("sql", m.name))
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", m.name, err)
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		for _, stmt := range statements(string(b)) {
			if _, err := tx.Exec(stmt); err != nil {
				return rollback(tx, fmt.Errorf("migration %s: %w", m.name, err))
			}
		}
		if _, err := tx.Exec(rebind(db, insertSchemaVersion), m.version, now()); err != nil {
			return rollback(tx, fmt.Errorf("failed to record migration %s: %w", m.name, err))
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %s: %w", m.name, err)
		}
		slog.Debug("migration applied", "version", m.version, "file", m.name)
	}
	return nil
}

// statements splits a migration file on semicolons, dropping comment-only chunks.
func statements(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ";") {
		var lines []string
		for _, l := range strings.Split(part, "\n") {
			if t := strings.TrimSpace(l); t != "" && !strings.HasPrefix(t, "--") {
				lines = append(lines, l)
			}
		}
		if len(lines) > 0 {
			out = append(out, strings.TrimSpace(strings.Join(lines, "\n")))
		}
	}
	return out
}

func rollback(tx *sql.Tx, err error) error {
	if rerr := tx.Rollback(); rerr != nil {
		return fmt.Errorf("failed to rollback transaction: %w (after: %w)", rerr, err)
	}
	return err
}
