package scheduler

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/ajitpratap0/daktela-extractor/pkg/clients"
	"github.com/ajitpratap0/daktela-extractor/pkg/daktela"
	"github.com/ajitpratap0/daktela-extractor/pkg/errors"
	"github.com/ajitpratap0/daktela-extractor/pkg/models"
	"github.com/ajitpratap0/daktela-extractor/pkg/schema"
	"github.com/ajitpratap0/daktela-extractor/pkg/sink"
	"github.com/ajitpratap0/daktela-extractor/pkg/state"
	"github.com/ajitpratap0/daktela-extractor/pkg/testutil"
	"github.com/ajitpratap0/daktela-extractor/pkg/transform"
)

var testCatalog = []models.TableSpec{
	{Name: "groups", PrimaryKeys: []string{"name"}, PrefixColumns: []string{"name"}},
	{Name: "users", PrimaryKeys: []string{"name"}, PrefixColumns: []string{"name"}},
	{Name: "contacts", PrimaryKeys: []string{"name"}, PrefixColumns: []string{"name"}, DateFilter: true},
	{Name: "tickets", PrimaryKeys: []string{"name"}, PrefixColumns: []string{"name"}, DateFilter: true},
	{Name: "activities", PrimaryKeys: []string{"name"}, ParentTable: "tickets", ChildEndpoint: "activities"},
	{Name: "activity_notes", PrimaryKeys: []string{"name"}, ParentTable: "activities"},
}

type SchedulerSuite struct {
	suite.Suite
	api    *testutil.FakeDaktela
	store  *state.FileStore
	outDir string
	creds  daktela.Credentials

	maxRequests int
}

func TestSchedulerSuite(t *testing.T) {
	suite.Run(t, new(SchedulerSuite))
}

func (s *SchedulerSuite) SetupTest() {
	s.api = testutil.NewFakeDaktela(s.T())
	dir := s.T().TempDir()
	s.store = state.NewFileStore(filepath.Join(dir, "state.json"))
	s.outDir = filepath.Join(dir, "tables")
	s.creds = daktela.Credentials{Username: testutil.FakeUsername, Password: testutil.FakePassword}
	s.maxRequests = 0
}

func (s *SchedulerSuite) run(requested []string, cfg Config) *Summary {
	t := s.T()
	ctx := testutil.TestContext(t)
	log := testutil.TestLogger(t)

	httpCfg := clients.DefaultHTTPConfig()
	httpCfg.BaseURL = s.api.URL
	httpCfg.EnableHTTP2 = false
	httpCfg.RequestsPerSecond = 1000
	httpCfg.MaxRetries = 0
	httpCfg.RetryBackoff = time.Millisecond
	if s.maxRequests > 0 {
		httpCfg.MaxConcurrentRequests = s.maxRequests
	}
	hc, err := clients.NewHTTPClient(httpCfg, log)
	require.NoError(t, err)
	client := daktela.NewClient(ctx, hc, s.creds, log)

	tracker, err := state.NewTracker(ctx, s.store, schema.NewRegistry(log), time.Now().UTC(), log)
	require.NoError(t, err)
	out, err := sink.NewCSVSink(sink.CSVConfig{OutputDir: s.outDir, Server: "test", Delimiter: ','}, log)
	require.NoError(t, err)

	plan, err := BuildPlan(requested, testCatalog)
	require.NoError(t, err)

	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
	}
	if cfg.RunID == "" {
		cfg.RunID = "test-run"
	}
	return New(cfg, client, transform.New("test"), tracker, out, log).Run(ctx, plan)
}

func (s *SchedulerSuite) output(table string) string {
	return filepath.Join(s.outDir, "test_"+table+".csv")
}

func (s *SchedulerSuite) TestExtractsAndCommitsWatermark() {
	s.api.GenerateRecords("groups", 250)

	summary := s.run([]string{"groups"}, Config{MaxConcurrentEndpoints: 2, Window: state.WindowConfig{DateTo: "today"}})

	s.False(summary.Failed())
	res, ok := summary.Table("groups")
	s.Require().True(ok)
	s.Equal(StatusSuccess, res.Status)
	s.EqualValues(250, res.Rows)
	s.EqualValues(3, res.Pages)
	s.Len(s.api.Requests("groups"), 3)

	s.FileExists(s.output("groups"))
	s.FileExists(s.output("groups") + ".manifest")

	doc, err := s.store.Load(context.Background())
	s.Require().NoError(err)
	st, ok := doc.Tables["groups"]
	s.Require().True(ok)
	s.WithinDuration(summary.Started, st.LastWatermark, 5*time.Second)
	s.Equal([]string{"server", "id", "name", "title"}, st.KnownColumns)
}

func (s *SchedulerSuite) TestMidTableFailureKeepsPreviousWatermark() {
	previous := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.Require().NoError(s.store.SaveTable(context.Background(), "contacts", state.TableState{LastWatermark: previous}))

	s.api.GenerateRecords("contacts", 500)
	s.api.FailAfter("contacts", 2, http.StatusInternalServerError)

	summary := s.run([]string{"contacts"}, Config{
		MaxConcurrentEndpoints: 1,
		Window:                 state.WindowConfig{DateTo: "today", Incremental: true},
	})

	res, _ := summary.Table("contacts")
	s.Equal(StatusFailed, res.Status)
	s.True(errors.IsType(res.Err, errors.ErrorTypeTransient), "got %v", res.Err)
	s.Len(s.api.Requests("contacts"), 3)

	doc, err := s.store.Load(context.Background())
	s.Require().NoError(err)
	s.True(previous.Equal(doc.Tables["contacts"].LastWatermark))

	_, err = os.Stat(s.output("contacts"))
	s.True(os.IsNotExist(err), "partial output must not be published")
}

func (s *SchedulerSuite) TestIncrementalRunStartsAtWatermark() {
	previous := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s.Require().NoError(s.store.SaveTable(context.Background(), "contacts", state.TableState{LastWatermark: previous}))
	s.api.GenerateRecords("contacts", 5)

	summary := s.run([]string{"contacts"}, Config{
		MaxConcurrentEndpoints: 1,
		Window:                 state.WindowConfig{Incremental: true},
	})
	s.False(summary.Failed())

	reqs := s.api.Requests("contacts")
	s.Require().Len(reqs, 1)
	var filter string
	for key, values := range reqs[0].Query {
		if strings.HasPrefix(key, "filter") {
			filter += strings.Join(values, " ")
		}
	}
	s.Contains(filter, "2024-03-01 12:00:00")
}

func (s *SchedulerSuite) TestParentRequestsPrecedeChildRequests() {
	s.api.GenerateRecords("tickets", 3)
	s.api.SetRecords("tickets/1/activities",
		models.RecordFrom("name", "a1", "ticket", "1"),
		models.RecordFrom("name", "a2", "ticket", "1"))
	s.api.SetRecords("tickets/3/activities", models.RecordFrom("name", "a3", "ticket", "3"))

	summary := s.run([]string{"activities"}, Config{MaxConcurrentEndpoints: 2})

	s.False(summary.Failed())
	child, _ := summary.Table("activities")
	s.EqualValues(3, child.Rows)

	all := s.api.AllRequests()
	lastParent, firstChild := -1, len(all)
	for i, r := range all {
		switch {
		case r.Resource == "tickets":
			lastParent = i
		case strings.HasPrefix(r.Resource, "tickets/"):
			firstChild = min(firstChild, i)
		}
	}
	s.Require().GreaterOrEqual(lastParent, 0)
	s.Less(lastParent, firstChild)
	s.Len(s.api.Requests("tickets/2/activities"), 1)

	data, err := os.ReadFile(s.output("activities"))
	s.Require().NoError(err)
	s.Contains(string(data), "a3")
}

func (s *SchedulerSuite) TestFailedParentSkipsDescendants() {
	s.api.GenerateRecords("tickets", 3)
	s.api.FailAfter("tickets", 0, http.StatusBadRequest)
	s.api.GenerateRecords("groups", 2)

	summary := s.run([]string{"activity_notes", "groups"}, Config{MaxConcurrentEndpoints: 2})

	s.True(summary.Failed())
	tickets, _ := summary.Table("tickets")
	s.Equal(StatusFailed, tickets.Status)
	for _, name := range []string{"activities", "activity_notes"} {
		res, ok := summary.Table(name)
		s.Require().True(ok, name)
		s.Equal(StatusSkipped, res.Status, name)
	}
	groups, _ := summary.Table("groups")
	s.Equal(StatusSuccess, groups.Status)

	for _, r := range s.api.AllRequests() {
		s.NotContains(r.Resource, "/", "no child requests expected")
	}
}

func (s *SchedulerSuite) TestAuthenticationFailureAbortsRun() {
	s.creds.Password = "wrong"
	s.api.GenerateRecords("groups", 2)
	s.api.GenerateRecords("users", 2)

	summary := s.run([]string{"groups", "users"}, Config{MaxConcurrentEndpoints: 1})

	s.Equal(2, summary.Count(StatusFailed))
	groups, _ := summary.Table("groups")
	s.True(errors.IsFatalForRun(groups.Err), "got %v", groups.Err)
	s.Empty(s.api.AllRequests())
}

func (s *SchedulerSuite) TestEndpointLimitOfOneRunsTablesInOrder() {
	s.api.GenerateRecords("groups", 150)
	s.api.GenerateRecords("users", 150)

	summary := s.run([]string{"users", "groups"}, Config{MaxConcurrentEndpoints: 1})
	s.False(summary.Failed())

	var order []string
	for _, r := range s.api.AllRequests() {
		if len(order) == 0 || order[len(order)-1] != r.Resource {
			order = append(order, r.Resource)
		}
	}
	s.Equal([]string{"groups", "users"}, order)
}

func (s *SchedulerSuite) TestRequestCeilingHoldsAcrossTables() {
	s.maxRequests = 2
	s.api.Delay = 20 * time.Millisecond
	for _, name := range []string{"groups", "users", "contacts"} {
		s.api.GenerateRecords(name, 300)
	}

	summary := s.run([]string{"groups", "users", "contacts"}, Config{MaxConcurrentEndpoints: 3})

	s.False(summary.Failed())
	s.LessOrEqual(s.api.PeakInFlight(), 2)
	s.Len(s.api.AllRequests(), 12)
}

func TestBuildPlanIncludesParents(t *testing.T) {
	plan, err := BuildPlan([]string{"activity_notes", "groups"}, testCatalog)
	require.NoError(t, err)

	assert.Equal(t, []string{"groups", "tickets"}, plan.Roots)
	assert.Equal(t, []string{"activities", "tickets"}, plan.Added)
	assert.Equal(t, []string{"groups", "tickets", "activities", "activity_notes"}, plan.Order)
	assert.Equal(t, []string{"activities", "activity_notes"}, plan.Descendants("tickets"))
}

func TestBuildPlanRejectsInvalidGraphs(t *testing.T) {
	tests := []struct {
		name     string
		catalog  []models.TableSpec
		table    string
		contains string
	}{
		{
			name:     "unknown table",
			catalog:  testCatalog,
			table:    "missing",
			contains: "unknown table",
		},
		{
			name:     "unknown parent",
			catalog:  []models.TableSpec{{Name: "a", ParentTable: "ghost"}},
			table:    "a",
			contains: "unknown table \"ghost\"",
		},
		{
			name:     "self parent",
			catalog:  []models.TableSpec{{Name: "a", ParentTable: "a"}},
			table:    "a",
			contains: "names itself",
		},
		{
			name: "cycle",
			catalog: []models.TableSpec{
				{Name: "a", ParentTable: "b"},
				{Name: "b", ParentTable: "c"},
				{Name: "c", ParentTable: "a"},
			},
			table:    "a",
			contains: "dependency cycle",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildPlan([]string{tt.table}, tt.catalog)
			require.Error(t, err)
			assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
			assert.Contains(t, err.Error(), tt.contains)
		})
	}
}

func TestSummary(t *testing.T) {
	start := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	summary := &Summary{
		RunID:    "r1",
		Started:  start,
		Finished: start.Add(3 * time.Second),
		Tables: []TableResult{
			{Name: "tickets", Status: StatusFailed, Err: errors.New(errors.ErrorTypeTransient, "boom")},
			{Name: "activities", Status: StatusSkipped, Reason: "parent table tickets did not succeed"},
			{Name: "groups", Status: StatusSuccess, Rows: 4, Output: "out/test_groups.csv"},
		},
	}
	assert.True(t, summary.Failed())
	assert.Equal(t, 1, summary.Count(StatusSkipped))

	var b strings.Builder
	require.NoError(t, summary.Print(&b))
	out := b.String()
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, "parent table tickets did not succeed")
	assert.Contains(t, out, "out/test_groups.csv")
	assert.Contains(t, out, "1 succeeded, 1 failed, 1 skipped")

	ok := &Summary{Tables: []TableResult{{Name: "groups", Status: StatusSuccess}}}
	assert.False(t, ok.Failed())
}
