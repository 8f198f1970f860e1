package data

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mchmarny/sejctl/pkg/project"
)

const (
	insertResult = `INSERT INTO result (project, id, ord, weight, calibration, info_real, body, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	selectResults = `SELECT body FROM result WHERE project = ? ORDER BY ord`

	selectResult = `SELECT body FROM result WHERE project = ? AND id = ?`

	selectResultSummaries = `SELECT id, weight, calibration, info_real, created_at
		FROM result WHERE project = ? ORDER BY ord`
)

// ResultSummary is the list view of a stored decision maker run.
type ResultSummary struct {
	ID          string             `json:"id" yaml:"id"`
	Weight      project.WeightType `json:"weight" yaml:"weight"`
	Calibration float64            `json:"calibration" yaml:"calibration"`
	InfoReal    float64            `json:"info_real" yaml:"info_real"`
	CreatedAt   time.Time          `json:"created_at" yaml:"created_at"`
}

func insertResults(db *sql.DB, tx *sql.Tx, name string, list []*project.Results) error {
	if len(list) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(rebind(db, insertResult))
	if err != nil {
		return fmt.Errorf("failed to prepare result insert statement: %w", err)
	}
	defer stmt.Close()

	for i, r := range list {
		b, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("failed to marshal result %s: %w", r.Settings.ID, err)
		}
		dm, _ := r.DM()
		if _, err := stmt.Exec(name, r.Settings.ID, i, string(r.Settings.Weight), dm.Calibration,
			dm.InfoReal, string(b), r.CreatedAt.UTC().Format(time.RFC3339Nano)); err != nil {
			return fmt.Errorf("failed to insert result %s: %w", r.Settings.ID, err)
		}
	}
	return nil
}

// ListResults returns every stored result of the project in calculation order.
func ListResults(db *sql.DB, name string) ([]*project.Results, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	rows, err := db.Query(rebind(db, selectResults), name)
	if err != nil {
		return nil, fmt.Errorf("failed to select results: %w", err)
	}
	defer rows.Close()

	var list []*project.Results
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		r := &project.Results{}
		if err := json.Unmarshal([]byte(body), r); err != nil {
			return nil, fmt.Errorf("failed to parse result: %w", err)
		}
		list = append(list, r)
	}
	return list, rows.Err()
}

// GetResults returns one stored decision maker run.
func GetResults(db *sql.DB, name, id string) (*project.Results, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	var body string
	if err := db.QueryRow(rebind(db, selectResult), name, id).Scan(&body); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("result %s/%s: %w", name, id, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to select result %s/%s: %w", name, id, err)
	}
	r := &project.Results{}
	if err := json.Unmarshal([]byte(body), r); err != nil {
		return nil, fmt.Errorf("failed to parse result %s/%s: %w", name, id, err)
	}
	return r, nil
}

// ListResultSummaries returns the decision maker scores of every stored run
// without decoding the result documents.
func ListResultSummaries(db *sql.DB, name string) ([]*ResultSummary, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	rows, err := db.Query(rebind(db, selectResultSummaries), name)
	if err != nil {
		return nil, fmt.Errorf("failed to select results: %w", err)
	}
	defer rows.Close()

	list := make([]*ResultSummary, 0)
	for rows.Next() {
		s := &ResultSummary{}
		var weight, created string
		if err := rows.Scan(&s.ID, &weight, &s.Calibration, &s.InfoReal, &created); err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		s.Weight = project.WeightType(weight)
		if s.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("failed to parse result %s timestamp: %w", s.ID, err)
		}
		list = append(list, s)
	}
	return list, rows.Err()
}
