package cli

import (
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"

	"github.com/mchmarny/sejctl/pkg/config"
	"github.com/mchmarny/sejctl/pkg/cooke"
	"github.com/mchmarny/sejctl/pkg/data"
	"github.com/mchmarny/sejctl/pkg/project"
)

const maxRequestBytes = 10 << 20

// api serves stored projects over HTTP. Writes load, change and save a
// whole project, so they are serialized by mu.
type api struct {
	db   *sql.DB
	calc config.Calculation
	mu   sync.Mutex
}

func newAPI(cfg *appConfig) *api {
	return &api{db: cfg.DB, calc: cfg.Config.Calculation}
}

func (a *api) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/state", a.stateHandler)
	mux.HandleFunc("GET /api/projects", a.listProjectsHandler)
	mux.HandleFunc("POST /api/projects", a.importProjectHandler)
	mux.HandleFunc("GET /api/projects/{name}", a.getProjectHandler)
	mux.HandleFunc("DELETE /api/projects/{name}", a.deleteProjectHandler)
	mux.HandleFunc("PUT /api/projects/{name}/assessments/{expert}/{item}", a.setAssessmentHandler)
	mux.HandleFunc("GET /api/projects/{name}/scores", a.scoresHandler)
	mux.HandleFunc("GET /api/projects/{name}/results", a.listResultsHandler)
	mux.HandleFunc("GET /api/projects/{name}/results/{id}", a.getResultsHandler)
	mux.HandleFunc("DELETE /api/projects/{name}/results/{id}", a.deleteResultsHandler)
	mux.HandleFunc("POST /api/projects/{name}/dm", a.decisionMakerHandler)
	mux.HandleFunc("POST /api/projects/{name}/robustness/{target}", a.robustnessHandler)

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, project.ErrNotFound), errors.Is(err, data.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, project.ErrDuplicate):
		return http.StatusConflict
	case errors.Is(err, project.ErrInvalid):
		return http.StatusBadRequest
	case cooke.KindOf(err) != "":
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	var ce *cooke.Error
	if errors.As(err, &ce) && ce.ErrBuilder != nil {
		slog.Warn("calculation failed", "kind", ce.Kind, "code", ce.ErrCode(), "op", ce.Op, "item", ce.Item)
	}
	writeError(w, status, err.Error())
}

func decodeBody(r *http.Request, v any) error {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		return err
	}
	if len(b) == 0 {
		return nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return errors.Join(project.ErrInvalid, err)
	}
	return nil
}

func (a *api) stateHandler(w http.ResponseWriter, _ *http.Request) {
	state, err := data.GetDataState(a.db)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (a *api) listProjectsHandler(w http.ResponseWriter, _ *http.Request) {
	list, err := data.ListProjects(a.db)
	if err != nil {
		fail(w, err)
		return
	}
	if list == nil {
		list = []*data.ProjectSummary{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *api) importProjectHandler(w http.ResponseWriter, r *http.Request) {
	p, err := project.Decode(io.LimitReader(r.Body, maxRequestBytes), project.FormatJSON)
	if err != nil {
		fail(w, errors.Join(project.ErrInvalid, err))
		return
	}
	overwrite, _ := strconv.ParseBool(r.URL.Query().Get("overwrite"))

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := data.GetProject(a.db, p.Name()); err == nil && !overwrite {
		writeError(w, http.StatusConflict, "project "+p.Name()+" already exists")
		return
	}
	if err := data.SaveProject(a.db, p); err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p.Document())
}

func (a *api) getProjectHandler(w http.ResponseWriter, r *http.Request) {
	p, err := data.GetProject(a.db, r.PathValue("name"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p.Document())
}

func (a *api) deleteProjectHandler(w http.ResponseWriter, r *http.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := data.DeleteProject(a.db, r.PathValue("name")); err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// update applies fn to the named project and saves it when it changed.
func (a *api) update(name string, fn func(p *project.Project) error) (*project.Project, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	p, err := data.GetProject(a.db, name)
	if err != nil {
		return nil, err
	}
	rev := p.Revision()
	if err := fn(p); err != nil {
		return nil, err
	}
	if p.Revision() != rev {
		if err := data.SaveProject(a.db, p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (a *api) setAssessmentHandler(w http.ResponseWriter, r *http.Request) {
	var raw []*float64
	if err := decodeBody(r, &raw); err != nil {
		fail(w, err)
		return
	}
	values := make([]float64, len(raw))
	for i, v := range raw {
		values[i] = math.NaN()
		if v != nil {
			values[i] = *v
		}
	}
	expertID, itemID := r.PathValue("expert"), r.PathValue("item")
	_, err := a.update(r.PathValue("name"), func(p *project.Project) error {
		return p.SetAssessment(expertID, itemID, values)
	})
	if err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// settings reads calculation settings from the body over the configured defaults.
func (a *api) settings(r *http.Request, id string) (project.Settings, error) {
	s := a.calc.Settings(id)
	if err := decodeBody(r, &s); err != nil {
		return s, err
	}
	if s.ID == "" {
		s.ID = id
	}
	return s, nil
}

func (a *api) scoresHandler(w http.ResponseWriter, r *http.Request) {
	p, err := data.GetProject(a.db, r.PathValue("name"))
	if err != nil {
		fail(w, err)
		return
	}
	s := a.calc.Settings(defaultScoreID)
	if v := r.URL.Query().Get("weight"); v != "" {
		if s.Weight, err = project.ParseWeightType(v); err != nil {
			fail(w, err)
			return
		}
	}
	scores, err := cooke.Score(r.Context(), p, s)
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scores)
}

func (a *api) listResultsHandler(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, err := data.GetProject(a.db, name); err != nil {
		fail(w, err)
		return
	}
	list, err := data.ListResultSummaries(a.db, name)
	if err != nil {
		fail(w, err)
		return
	}
	if list == nil {
		list = []*data.ResultSummary{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *api) getResultsHandler(w http.ResponseWriter, r *http.Request) {
	res, err := data.GetResults(a.db, r.PathValue("name"), r.PathValue("id"))
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *api) deleteResultsHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	_, err := a.update(r.PathValue("name"), func(p *project.Project) error {
		return p.RemoveResults(id)
	})
	if err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) decisionMakerHandler(w http.ResponseWriter, r *http.Request) {
	s, err := a.settings(r, defaultScoreID)
	if err != nil {
		fail(w, err)
		return
	}
	overwrite, _ := strconv.ParseBool(r.URL.Query().Get("overwrite"))

	var res *project.Results
	_, err = a.update(r.PathValue("name"), func(p *project.Project) error {
		res, err = cooke.CalculateDecisionMaker(r.Context(), p, s, overwrite)
		return err
	})
	if err != nil {
		fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (a *api) robustnessHandler(w http.ResponseWriter, r *http.Request) {
	fn, err := robustnessFunc(r.PathValue("target"))
	if err != nil {
		fail(w, err)
		return
	}
	s, err := a.settings(r, defaultScoreID)
	if err != nil {
		fail(w, err)
		return
	}
	lo, hi := queryInt(r, "min", 1), queryInt(r, "max", 1)

	p, err := data.GetProject(a.db, r.PathValue("name"))
	if err != nil {
		fail(w, err)
		return
	}
	entries, err := fn(r.Context(), p, s, lo, hi)
	if err != nil {
		fail(w, err)
		return
	}
	if ok, _ := strconv.ParseBool(r.URL.Query().Get("profile")); ok {
		writeJSON(w, http.StatusOK, cooke.SensitivityProfile(entries))
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return def
	}
	return v
}
