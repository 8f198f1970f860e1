package data

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var stateQueries = map[string]string{
	"project":    "SELECT COUNT(*) FROM project",
	"expert":     "SELECT COUNT(*) FROM expert WHERE role = 'actual'",
	"dm":         "SELECT COUNT(*) FROM expert WHERE role = 'dm'",
	"item":       "SELECT COUNT(*) FROM item",
	"seed":       "SELECT COUNT(*) FROM item WHERE realization IS NOT NULL",
	"assessment": "SELECT COUNT(*) FROM assessment",
	"result":     "SELECT COUNT(*) FROM result",
}

// GetDataState returns row counts across all stored projects.
func GetDataState(db *sql.DB) (map[string]int64, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	state := make(map[string]int64, len(stateQueries))
	for k, q := range stateQueries {
		var count int64
		if err := db.QueryRow(q).Scan(&count); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("error getting %s count: %w", k, err)
		}
		state[k] = count
	}
	return state, nil
}

// Reset deletes every stored project and result, keeping the schema.
func Reset(db *sql.DB) error {
	if db == nil {
		return errDBNotInitialized
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, t := range projectTables {
		if _, err := tx.Exec("DELETE FROM " + t); err != nil {
			return rollback(tx, fmt.Errorf("failed to clear %s: %w", t, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Redact hides the password of a postgres DSN for display.
func Redact(dsn string) string {
	if driverFor(dsn) != driverPostgres {
		return dsn
	}
	if u, err := url.Parse(dsn); err == nil && u.User != nil {
		return u.Redacted()
	}
	fields := strings.Fields(dsn)
	for i, f := range fields {
		if strings.HasPrefix(f, "password=") {
			fields[i] = "password=xxxxx"
		}
	}
	return strings.Join(fields, " ")
}
