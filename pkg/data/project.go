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
	upsertProject = `INSERT INTO project (name, quantiles, revision, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET quantiles = excluded.quantiles,
		revision = excluded.revision, updated_at = excluded.updated_at`

	insertExpert = `INSERT INTO expert (project, id, ord, name, role, excluded, user_weight)
		VALUES (?, ?, ?, ?, ?, ?, ?)`

	insertItem = `INSERT INTO item (project, id, ord, question, unit, scale, realization, excluded,
		lower_bound, upper_bound, lower_overshoot, upper_overshoot, quantiles)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	insertAssessment = `INSERT INTO assessment (project, expert, item, vals) VALUES (?, ?, ?, ?)`

	selectProject = `SELECT name, quantiles, revision FROM project WHERE name = ?`

	selectExperts = `SELECT id, name, role, excluded, user_weight
		FROM expert WHERE project = ? ORDER BY ord`

	selectItems = `SELECT id, question, unit, scale, realization, excluded,
		lower_bound, upper_bound, lower_overshoot, upper_overshoot, quantiles
		FROM item WHERE project = ? ORDER BY ord`

	selectAssessments = `SELECT expert, item, vals FROM assessment WHERE project = ?`

	selectProjectList = `SELECT p.name, p.revision, p.updated_at,
		(SELECT COUNT(*) FROM expert e WHERE e.project = p.name AND e.role = 'actual'),
		(SELECT COUNT(*) FROM item i WHERE i.project = p.name),
		(SELECT COUNT(*) FROM item i WHERE i.project = p.name AND i.realization IS NOT NULL),
		(SELECT COUNT(*) FROM result r WHERE r.project = p.name)
		FROM project p ORDER BY p.name`
)

// child tables are cleared before a project is rewritten or deleted
var projectTables = []string{"assessment", "expert", "item", "result", "project"}

// ProjectSummary is the list view of a stored project.
type ProjectSummary struct {
	Name      string    `json:"name" yaml:"name"`
	Experts   int       `json:"experts" yaml:"experts"`
	Items     int       `json:"items" yaml:"items"`
	Seeds     int       `json:"seeds" yaml:"seeds"`
	Results   int       `json:"results" yaml:"results"`
	Revision  uint64    `json:"revision" yaml:"revision"`
	UpdatedAt time.Time `json:"updated_at" yaml:"updated_at"`
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// SaveProject writes the project, replacing any stored project with the same name.
func SaveProject(db *sql.DB, p *project.Project) error {
	if db == nil {
		return errDBNotInitialized
	}
	if p == nil {
		return errors.New("project required")
	}
	d := p.Document()

	quantiles, err := json.Marshal(d.Quantiles)
	if err != nil {
		return fmt.Errorf("failed to marshal quantiles: %w", err)
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	for _, t := range projectTables[:len(projectTables)-1] {
		if _, err := tx.Exec(rebind(db, deleteFrom(t, "project")), d.Name); err != nil {
			return rollback(tx, fmt.Errorf("failed to clear %s: %w", t, err))
		}
	}
	if _, err := tx.Exec(rebind(db, upsertProject), d.Name, string(quantiles), int64(p.Revision()), now()); err != nil {
		return rollback(tx, fmt.Errorf("failed to upsert project %s: %w", d.Name, err))
	}

	expertStmt, err := tx.Prepare(rebind(db, insertExpert))
	if err != nil {
		return rollback(tx, fmt.Errorf("failed to prepare expert insert statement: %w", err))
	}
	defer expertStmt.Close()
	for i, e := range d.Experts {
		if _, err := expertStmt.Exec(d.Name, e.ID, i, e.Name, string(e.Role), e.Excluded, nullFloat(e.UserWeight)); err != nil {
			return rollback(tx, fmt.Errorf("failed to insert expert %s: %w", e.ID, err))
		}
	}

	itemStmt, err := tx.Prepare(rebind(db, insertItem))
	if err != nil {
		return rollback(tx, fmt.Errorf("failed to prepare item insert statement: %w", err))
	}
	defer itemStmt.Close()
	for i, it := range d.Items {
		var levels sql.NullString
		if len(it.Quantiles) > 0 {
			b, err := json.Marshal(it.Quantiles)
			if err != nil {
				return rollback(tx, fmt.Errorf("failed to marshal item %s quantiles: %w", it.ID, err))
			}
			levels = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := itemStmt.Exec(d.Name, it.ID, i, it.Question, it.Unit, string(it.Scale),
			nullFloat(it.Realization), it.Excluded, nullFloat(it.LowerBound), nullFloat(it.UpperBound),
			nullFloat(it.LowerOvershoot), nullFloat(it.UpperOvershoot), levels); err != nil {
			return rollback(tx, fmt.Errorf("failed to insert item %s: %w", it.ID, err))
		}
	}

	valueStmt, err := tx.Prepare(rebind(db, insertAssessment))
	if err != nil {
		return rollback(tx, fmt.Errorf("failed to prepare assessment insert statement: %w", err))
	}
	defer valueStmt.Close()
	for expertID, row := range d.Assessments {
		for itemID, v := range row {
			b, err := json.Marshal(v)
			if err != nil {
				return rollback(tx, fmt.Errorf("failed to marshal assessment %s/%s: %w", expertID, itemID, err))
			}
			if _, err := valueStmt.Exec(d.Name, expertID, itemID, string(b)); err != nil {
				return rollback(tx, fmt.Errorf("failed to insert assessment %s/%s: %w", expertID, itemID, err))
			}
		}
	}

	if err := insertResults(db, tx, d.Name, d.Results); err != nil {
		return rollback(tx, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func deleteFrom(table, column string) string {
	return fmt.Sprintf("DELETE FROM %s WHERE %s = ?", table, column)
}

// GetProject loads a stored project by name.
func GetProject(db *sql.DB, name string) (*project.Project, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	d := &project.Document{Name: name, Assessments: map[string]map[string][]*float64{}}
	var quantiles string
	var rev int64
	err := db.QueryRow(rebind(db, selectProject), name).Scan(&d.Name, &quantiles, &rev)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("project %s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to select project %s: %w", name, err)
	}
	if err := json.Unmarshal([]byte(quantiles), &d.Quantiles); err != nil {
		return nil, fmt.Errorf("failed to parse project %s quantiles: %w", name, err)
	}
	d.Revision = uint64(rev)

	if d.Experts, err = getExperts(db, name); err != nil {
		return nil, err
	}
	if d.Items, err = getItems(db, name); err != nil {
		return nil, err
	}
	if err := getAssessments(db, name, d.Assessments); err != nil {
		return nil, err
	}
	if d.Results, err = ListResults(db, name); err != nil {
		return nil, err
	}

	p, err := project.FromDocument(d)
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild project %s: %w", name, err)
	}
	return p, nil
}

func getExperts(db *sql.DB, name string) ([]project.Expert, error) {
	rows, err := db.Query(rebind(db, selectExperts), name)
	if err != nil {
		return nil, fmt.Errorf("failed to select experts: %w", err)
	}
	defer rows.Close()

	var list []project.Expert
	for rows.Next() {
		var e project.Expert
		var role string
		var w sql.NullFloat64
		if err := rows.Scan(&e.ID, &e.Name, &role, &e.Excluded, &w); err != nil {
			return nil, fmt.Errorf("failed to scan expert row: %w", err)
		}
		e.Role = project.Role(role)
		e.UserWeight = floatPtr(w)
		list = append(list, e)
	}
	return list, rows.Err()
}

func getItems(db *sql.DB, name string) ([]project.Item, error) {
	rows, err := db.Query(rebind(db, selectItems), name)
	if err != nil {
		return nil, fmt.Errorf("failed to select items: %w", err)
	}
	defer rows.Close()

	var list []project.Item
	for rows.Next() {
		var it project.Item
		var scale string
		var rz, lb, ub, lo, uo sql.NullFloat64
		var levels sql.NullString
		if err := rows.Scan(&it.ID, &it.Question, &it.Unit, &scale, &rz, &it.Excluded,
			&lb, &ub, &lo, &uo, &levels); err != nil {
			return nil, fmt.Errorf("failed to scan item row: %w", err)
		}
		it.Scale = project.Scale(scale)
		it.Realization, it.LowerBound, it.UpperBound = floatPtr(rz), floatPtr(lb), floatPtr(ub)
		it.LowerOvershoot, it.UpperOvershoot = floatPtr(lo), floatPtr(uo)
		if levels.Valid {
			if err := json.Unmarshal([]byte(levels.String), &it.Quantiles); err != nil {
				return nil, fmt.Errorf("failed to parse item %s quantiles: %w", it.ID, err)
			}
		}
		list = append(list, it)
	}
	return list, rows.Err()
}

func getAssessments(db *sql.DB, name string, out map[string]map[string][]*float64) error {
	rows, err := db.Query(rebind(db, selectAssessments), name)
	if err != nil {
		return fmt.Errorf("failed to select assessments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var expertID, itemID, vals string
		if err := rows.Scan(&expertID, &itemID, &vals); err != nil {
			return fmt.Errorf("failed to scan assessment row: %w", err)
		}
		var v []*float64
		if err := json.Unmarshal([]byte(vals), &v); err != nil {
			return fmt.Errorf("failed to parse assessment %s/%s: %w", expertID, itemID, err)
		}
		if out[expertID] == nil {
			out[expertID] = map[string][]*float64{}
		}
		out[expertID][itemID] = v
	}
	return rows.Err()
}

// ListProjects returns a summary of every stored project ordered by name.
func ListProjects(db *sql.DB) ([]*ProjectSummary, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	rows, err := db.Query(selectProjectList)
	if err != nil {
		return nil, fmt.Errorf("failed to select projects: %w", err)
	}
	defer rows.Close()

	list := make([]*ProjectSummary, 0)
	for rows.Next() {
		s := &ProjectSummary{}
		var rev int64
		var updated string
		if err := rows.Scan(&s.Name, &rev, &updated, &s.Experts, &s.Items, &s.Seeds, &s.Results); err != nil {
			return nil, fmt.Errorf("failed to scan project row: %w", err)
		}
		s.Revision = uint64(rev)
		if s.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
			return nil, fmt.Errorf("failed to parse project %s timestamp: %w", s.Name, err)
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// DeleteProject removes a project with its panel and results.
func DeleteProject(db *sql.DB, name string) error {
	if db == nil {
		return errDBNotInitialized
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, t := range projectTables {
		col := "project"
		if t == "project" {
			col = "name"
		}
		res, err := tx.Exec(rebind(db, deleteFrom(t, col)), name)
		if err != nil {
			return rollback(tx, fmt.Errorf("failed to delete from %s: %w", t, err))
		}
		if t != "project" {
			continue
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return rollback(tx, fmt.Errorf("project %s: %w", name, ErrNotFound))
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
