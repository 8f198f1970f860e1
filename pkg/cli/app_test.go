package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mchmarny/sejctl/pkg/data"
	"github.com/mchmarny/sejctl/pkg/project"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"
)

func TestMain(m *testing.M) {
	keyring.MockInit()
	os.Exit(m.Run())
}

func runApp(t *testing.T, home, input string, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	app := newApp()
	app.Writer = &buf
	app.ErrWriter = io.Discard
	app.Reader = strings.NewReader(input)
	err := app.Run(t.Context(), append([]string{appName, "--home", home, "--format", "json"}, args...))
	return buf.String(), err
}

func mustRun(t *testing.T, home string, args ...string) string {
	t.Helper()
	out, err := runApp(t, home, "", args...)
	require.NoError(t, err, "sejctl %s", strings.Join(args, " "))
	return out
}

// flag values live in package vars and carry over between runs, so the
// whole workflow runs as one ordered test.
func TestWorkflow(t *testing.T) {
	home := t.TempDir()

	mustRun(t, home, "project", "create", "panel")
	_, err := runApp(t, home, "", "project", "create", "panel")
	assert.ErrorIs(t, err, project.ErrDuplicate)

	for _, id := range []string{"e1", "e2", "e3"} {
		mustRun(t, home, "expert", "-p", "panel", "add", id)
	}
	mustRun(t, home, "item", "-p", "panel", "add", "--question", "How many?", "--unit", "kg", "t1")
	mustRun(t, home, "item", "-p", "panel", "add", "--realization", "10", "s1")
	mustRun(t, home, "item", "-p", "panel", "add", "--realization", "50", "s2")

	values := map[string]map[string][]string{
		"e1": {"s1": {"5", "10", "15"}, "s2": {"40", "50", "60"}, "t1": {"1", "2", "3"}},
		"e2": {"s1": {"8", "12", "20"}, "s2": {"20", "30", "45"}, "t1": {"2", "3", "4"}},
		"e3": {"s1": {"1", "3", "6"}, "s2": {"45", "55", "100"}, "t1": {"-", "-", "-"}},
	}
	for e, row := range values {
		for i, v := range row {
			mustRun(t, home, append([]string{"assess", "-p", "panel", "set", e, i}, v...)...)
		}
	}

	var rows []*AssessmentRow
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, home, "assess", "-p", "panel", "get", "e3", "t1")), &rows))
	require.Len(t, rows, 1)
	assert.Equal(t, []*float64{nil, nil, nil}, rows[0].Values)

	var items []project.Item
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, home, "item", "-p", "panel", "list")), &items))
	require.Len(t, items, 3)
	assert.Equal(t, "kg", items[0].Unit)
	assert.False(t, items[0].IsSeed())
	assert.True(t, items[2].IsSeed())

	var scores []project.ExpertScore
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, home, "calc", "-p", "panel", "score")), &scores))
	require.Len(t, scores, 4)
	assert.Equal(t, project.RoleDM, scores[3].Role)

	var r project.Results
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, home, "calc", "-p", "panel", "dm", "DM1")), &r))
	assert.Equal(t, "DM1", r.Settings.ID)
	_, err = runApp(t, home, "", "calc", "-p", "panel", "dm", "DM1")
	assert.ErrorIs(t, err, project.ErrDuplicate)

	var summaries []*data.ResultSummary
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, home, "results", "-p", "panel", "list")), &summaries))
	require.Len(t, summaries, 1)
	assert.Equal(t, "DM1", summaries[0].ID)

	var entries []project.RobustnessEntry
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, home, "calc", "-p", "panel", "robustness", "expert")), &entries))
	assert.Len(t, entries, 3)
	_, err = runApp(t, home, "", "calc", "-p", "panel", "robustness", "panel")
	assert.ErrorIs(t, err, project.ErrInvalid)

	// export, delete and import back
	file := filepath.Join(home, "panel.yaml")
	mustRun(t, home, "project", "export", "--file", file, "panel")
	mustRun(t, home, "project", "delete", "panel")
	_, err = runApp(t, home, "", "project", "show", "panel")
	assert.ErrorIs(t, err, data.ErrNotFound)
	mustRun(t, home, "project", "import", "--file", file)

	var list []*data.ProjectSummary
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, home, "project", "list")), &list))
	require.Len(t, list, 1)
	assert.Equal(t, 3, list[0].Experts)
	assert.Equal(t, 2, list[0].Seeds)
	assert.Equal(t, 1, list[0].Results)

	mustRun(t, home, "results", "-p", "panel", "delete", "DM1")
	var experts []project.Expert
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, home, "expert", "-p", "panel", "list")), &experts))
	assert.Len(t, experts, 3)

	mustRun(t, home, "quantile", "-p", "panel", "add", "0.25")
	var doc project.Document
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, home, "project", "show", "panel")), &doc))
	assert.Equal(t, []float64{0.05, 0.25, 0.5, 0.95}, doc.Quantiles)

	mustRun(t, home, "config", "set", "weight", "equal")
	assert.Equal(t, "equal\n", mustRun(t, home, "config", "get", "weight"))
	_, err = runApp(t, home, "", "config", "set", "nope", "1")
	assert.Error(t, err)

	out, err := runApp(t, home, "n\n", "reset")
	require.NoError(t, err)
	assert.Contains(t, out, "Aborted.")
	mustRun(t, home, "reset", "--yes")
	assert.NotContains(t, mustRun(t, home, "project", "list"), "panel")
}

func TestParseValues(t *testing.T) {
	v, err := parseValues([]string{"1", "-", "NaN", "2.5"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, v[0])
	assert.True(t, math.IsNaN(v[1]))
	assert.True(t, math.IsNaN(v[2]))
	assert.Equal(t, 2.5, v[3])

	_, err = parseValues([]string{"x"})
	assert.Error(t, err)
}

func TestEncodeTo(t *testing.T) {
	v := map[string]int{"experts": 3}

	var buf bytes.Buffer
	require.NoError(t, encodeTo(&buf, formatJSON, v))
	assert.JSONEq(t, `{"experts":3}`, buf.String())

	buf.Reset()
	require.NoError(t, encodeTo(&buf, formatYAML, v))
	assert.Equal(t, "experts: 3\n", buf.String())
}

func TestFetchToken(t *testing.T) {
	home := t.TempDir()
	keyring.MockInit()

	_, err := getFetchToken(home)
	assert.Error(t, err)

	require.NoError(t, saveFetchToken(home, "tok"))
	tok, err := getFetchToken(home)
	require.NoError(t, err)
	assert.Equal(t, "tok", tok)
	assert.NoFileExists(t, filepath.Join(home, tokenFileName))
}

func TestFetchToken_FileFallback(t *testing.T) {
	home := t.TempDir()
	keyring.MockInitWithError(errors.New("no keychain"))
	t.Cleanup(keyring.MockInit)

	require.NoError(t, saveFetchToken(home, "tok"))
	assert.FileExists(t, filepath.Join(home, tokenFileName))

	tok, err := getFetchToken(home)
	require.NoError(t, err)
	assert.Equal(t, "tok", tok)
}
