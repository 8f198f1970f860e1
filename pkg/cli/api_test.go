package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mchmarny/sejctl/pkg/config"
	"github.com/mchmarny/sejctl/pkg/cooke"
	"github.com/mchmarny/sejctl/pkg/data"
	"github.com/mchmarny/sejctl/pkg/project"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr(v float64) *float64 {
	return &v
}

func testAPI(t *testing.T) http.Handler {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), data.DataFileName)
	require.NoError(t, data.Init(dsn))
	db, err := data.GetDB(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	p, err := project.New("panel", nil)
	require.NoError(t, err)
	for _, id := range []string{"e1", "e2", "e3"} {
		require.NoError(t, p.AddExpert(id, ""))
	}
	require.NoError(t, p.AddItem("s1", "", project.ScaleUniform))
	require.NoError(t, p.AddItem("s2", "", project.ScaleUniform))
	require.NoError(t, p.AddItem("t1", "", project.ScaleUniform))
	require.NoError(t, p.SetRealization("s1", ptr(10)))
	require.NoError(t, p.SetRealization("s2", ptr(50)))
	values := map[string]map[string][]float64{
		"e1": {"s1": {5, 10, 15}, "s2": {40, 50, 60}, "t1": {1, 2, 3}},
		"e2": {"s1": {8, 12, 20}, "s2": {20, 30, 45}, "t1": {2, 3, 4}},
		"e3": {"s1": {1, 3, 6}, "s2": {45, 55, 100}, "t1": {1, 5, 9}},
	}
	for e, row := range values {
		for i, v := range row {
			require.NoError(t, p.SetAssessment(e, i, v))
		}
	}
	require.NoError(t, data.SaveProject(db, p))

	a := &api{db: db, calc: config.Default().Calculation}
	return a.routes()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestAPI_Projects(t *testing.T) {
	h := testAPI(t)

	w := do(t, h, http.MethodGet, "/api/projects", "")
	require.Equal(t, http.StatusOK, w.Code)
	var list []*data.ProjectSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, "panel", list[0].Name)

	w = do(t, h, http.MethodGet, "/api/projects/panel", "")
	require.Equal(t, http.StatusOK, w.Code)
	var doc project.Document
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	assert.Len(t, doc.Experts, 3)

	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/projects/nope", "").Code)

	// re-posting the same document conflicts unless overwritten
	body := w.Body.String()
	assert.Equal(t, http.StatusConflict, do(t, h, http.MethodPost, "/api/projects", body).Code)
	assert.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/api/projects?overwrite=true", body).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/api/projects", "{").Code)

	w = do(t, h, http.MethodGet, "/api/state", "")
	require.Equal(t, http.StatusOK, w.Code)
	var state map[string]int64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &state))
	assert.Equal(t, int64(1), state["project"])

	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/api/projects/panel", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodDelete, "/api/projects/panel", "").Code)
}

func TestAPI_Assessment(t *testing.T) {
	h := testAPI(t)

	assert.Equal(t, http.StatusNoContent,
		do(t, h, http.MethodPut, "/api/projects/panel/assessments/e3/t1", `[2, null, 8]`).Code)
	assert.Equal(t, http.StatusBadRequest,
		do(t, h, http.MethodPut, "/api/projects/panel/assessments/e3/t1", `[9, 1, 2]`).Code)
	assert.Equal(t, http.StatusNotFound,
		do(t, h, http.MethodPut, "/api/projects/panel/assessments/e9/t1", `[1, 2, 3]`).Code)

	w := do(t, h, http.MethodGet, "/api/projects/panel", "")
	var doc project.Document
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &doc))
	v := doc.Assessments["e3"]["t1"]
	require.Len(t, v, 3)
	assert.Equal(t, 2.0, *v[0])
	assert.Nil(t, v[1])
}

func TestAPI_DecisionMaker(t *testing.T) {
	h := testAPI(t)

	w := do(t, h, http.MethodGet, "/api/projects/panel/scores?weight=equal", "")
	require.Equal(t, http.StatusOK, w.Code)
	var scores []project.ExpertScore
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &scores))
	assert.Len(t, scores, 4)

	w = do(t, h, http.MethodPost, "/api/projects/panel/dm", `{"id":"DM1","weight":"global"}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var r project.Results
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &r))
	assert.Equal(t, "DM1", r.Settings.ID)

	assert.Equal(t, http.StatusConflict,
		do(t, h, http.MethodPost, "/api/projects/panel/dm", `{"id":"DM1"}`).Code)
	assert.Equal(t, http.StatusCreated,
		do(t, h, http.MethodPost, "/api/projects/panel/dm?overwrite=true", `{"id":"DM1"}`).Code)
	assert.Equal(t, http.StatusBadRequest,
		do(t, h, http.MethodPost, "/api/projects/panel/dm", `{"id":"DM2","calpower":2}`).Code)

	w = do(t, h, http.MethodGet, "/api/projects/panel/results", "")
	require.Equal(t, http.StatusOK, w.Code)
	var summaries []*data.ResultSummary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, project.WeightGlobal, summaries[0].Weight)

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/api/projects/panel/results/DM1", "").Code)
	assert.Equal(t, http.StatusNoContent, do(t, h, http.MethodDelete, "/api/projects/panel/results/DM1", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodGet, "/api/projects/panel/results/DM1", "").Code)
}

func TestAPI_Robustness(t *testing.T) {
	h := testAPI(t)

	w := do(t, h, http.MethodPost, "/api/projects/panel/robustness/item", "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var entries []project.RobustnessEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	assert.Len(t, entries, 2)

	w = do(t, h, http.MethodPost, "/api/projects/panel/robustness/expert?min=1&max=2&profile=true", "")
	require.Equal(t, http.StatusOK, w.Code)
	var rows []cooke.ProfileRow
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rows))
	assert.Len(t, rows, 2)

	assert.Equal(t, http.StatusBadRequest,
		do(t, h, http.MethodPost, "/api/projects/panel/robustness/other", "").Code)
	assert.Equal(t, http.StatusUnprocessableEntity,
		do(t, h, http.MethodPost, "/api/projects/panel/robustness/expert?min=2&max=1", "").Code)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", project.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("x: %w", project.ErrDuplicate), http.StatusConflict},
		{fmt.Errorf("x: %w", project.ErrInvalid), http.StatusBadRequest},
		{&cooke.Error{Kind: cooke.KindInsufficientData, Op: "score"}, http.StatusUnprocessableEntity},
		{bytes.ErrTooLarge, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
