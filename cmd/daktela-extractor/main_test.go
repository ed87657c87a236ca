package main

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/daktela-extractor/pkg/config"
	"github.com/ajitpratap0/daktela-extractor/pkg/models"
	"github.com/ajitpratap0/daktela-extractor/pkg/testutil"
)

func writeConfig(t *testing.T, url string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	content := `
connection:
  url: ` + url + `
  username: ` + testutil.FakeUsername + `
  password: ${TEST_DAKTELA_PASSWORD}
data_selection:
  date_from: "2 days ago"
  endpoints: [groups]
destination:
  output_dir: ` + filepath.Join(dir, "tables") + `
state:
  backend: sqlite
  path: ` + filepath.Join(dir, "state.db") + `
observability:
  log_level: error
`
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path, dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestEnvOverridesConnection(t *testing.T) {
	t.Setenv("DAKTELA_URL", "https://acme.daktela.com")
	t.Setenv("DAKTELA_PASSWORD", "from-env")

	cfg := config.New()
	cfg.Connection.URL = "https://other.daktela.com"
	cfg.Connection.Username = "kept"
	applyEnvOverrides(cfg, envSource())

	assert.Equal(t, "https://acme.daktela.com", cfg.Connection.URL)
	assert.Equal(t, "kept", cfg.Connection.Username)
	assert.Equal(t, "from-env", cfg.Connection.Password)
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "daktela-extractor v"+version)
}

func TestTablesCommandListsCatalog(t *testing.T) {
	out, err := execute(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "tables")
	require.NoError(t, err)
	assert.Contains(t, out, "contacts")
	assert.Contains(t, out, "tickets")
}

func TestRunCommandExtractsTables(t *testing.T) {
	api := testutil.NewFakeDaktela(t)
	api.GenerateRecords("groups", 3)
	t.Setenv("TEST_DAKTELA_PASSWORD", testutil.FakePassword)
	path, dir := writeConfig(t, api.URL)

	out, err := execute(t, "--config", path, "run")
	require.NoError(t, err, out)
	assert.Contains(t, out, "SUCCESS")

	data, err := os.ReadFile(filepath.Join(dir, "tables", "127_groups.csv"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 4)
	assert.FileExists(t, filepath.Join(dir, "tables", "127_groups.csv.manifest"))
	assert.FileExists(t, filepath.Join(dir, "state.db"))
}

func TestRunCommandFailsOnRejectedCredentials(t *testing.T) {
	api := testutil.NewFakeDaktela(t)
	t.Setenv("TEST_DAKTELA_PASSWORD", "wrong")
	path, _ := writeConfig(t, api.URL)

	out, err := execute(t, "--config", path, "run")
	require.Error(t, err)
	assert.Contains(t, out, "FAILED")
	assert.Zero(t, api.Logins())
}

func TestRunCommandRejectsInvalidConfig(t *testing.T) {
	path, _ := writeConfig(t, "ftp://nowhere")
	_, err := execute(t, "--config", path, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection.url")
}

func TestRunCommandRejectsBadDateBeforeExtracting(t *testing.T) {
	api := testutil.NewFakeDaktela(t)
	api.GenerateRecords("groups", 3)
	t.Setenv("TEST_DAKTELA_PASSWORD", testutil.FakePassword)
	path, dir := writeConfig(t, api.URL)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data = bytes.Replace(data, []byte(`"2 days ago"`), []byte(`"3 dayz ago"`), 1)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	_, err = execute(t, "--config", path, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data_selection.date_from")
	assert.Zero(t, api.Logins())
	assert.Empty(t, api.AllRequests())
	assert.NoFileExists(t, filepath.Join(dir, "tables", "127_groups.csv"))
}

func TestListFieldsCommand(t *testing.T) {
	api := testutil.NewFakeDaktela(t)
	api.SetRecords("users", models.RecordFrom("name", "jane", "email", "jane@example.com", "title", "Jane"))
	t.Setenv("TEST_DAKTELA_PASSWORD", testutil.FakePassword)
	path, _ := writeConfig(t, api.URL)

	out, err := execute(t, "--config", path, "list-fields", "users")
	require.NoError(t, err)
	assert.Equal(t, "email\nname\ntitle\n", out)
	assert.Len(t, api.Requests("users"), 1)
}

func TestServeMetrics(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	serveMetrics(ctx, addr, testutil.TestLogger(t))

	testutil.AssertEventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/metrics")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, "metrics endpoint not serving")
}
