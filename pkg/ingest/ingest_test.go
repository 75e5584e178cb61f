package ingest

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nam-edi/playwright-analyst/pkg/config"
	"github.com/nam-edi/playwright-analyst/pkg/report"
	"github.com/nam-edi/playwright-analyst/pkg/store"
)

const loginReport = `{
  "config": {
    "configFile": "playwright.config.ts",
    "version": "1.48.2",
    "workers": 2,
    "metadata": {
      "actualWorkers": 2,
      "gitCommit": {
        "hash": "0123456789abcdef0123456789abcdef01234567",
        "shortHash": "0123456",
        "branch": "main",
        "subject": "Fix login redirect",
        "author": {"name": "Dev One", "email": "dev@example.com"}
      }
    }
  },
  "suites": [
    {
      "title": "auth.spec.ts",
      "file": "auth.spec.ts",
      "tags": ["@auth"],
      "specs": [
        {
          "title": "Login works",
          "line": 12,
          "column": 3,
          "tags": ["@smoke"],
          "tests": [
            {
              "projectId": "chromium",
              "projectName": "chromium",
              "timeout": 30000,
              "expectedStatus": "passed",
              "annotations": [
                {"type": "id", "description": "AUTH-1"},
                {"type": "story", "description": "As a user I can log in"}
              ],
              "results": [
                {"status": "failed", "workerIndex": 0, "duration": 900,
                 "retry": 0, "startTime": "2026-05-01T10:00:01.000Z",
                 "errors": [{"message": "boom"}]},
                {"status": "passed", "workerIndex": 1, "duration": 1100,
                 "retry": 1, "startTime": "2026-05-01T10:00:03.000Z"}
              ]
            }
          ]
        }
      ],
      "suites": []
    }
  ],
  "stats": {
    "startTime": "2026-05-01T10:00:00.000Z",
    "duration": 2100.5,
    "expected": 0, "skipped": 0, "unexpected": 0, "flaky": 1
  }
}`

func setupImporter(t *testing.T) (*Importer, store.Store, *store.Project) {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	st := store.NewStore(log, &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: ":memory:"},
	})
	require.NoError(t, st.Start(context.Background()))

	t.Cleanup(func() {
		require.NoError(t, st.Stop())
	})

	project := &store.Project{Name: "web-app", CreatedBy: "admin"}
	require.NoError(t, st.CreateProject(context.Background(), project))

	return NewImporter(log, st), st, project
}

func TestImport(t *testing.T) {
	im, st, project := setupImporter(t)
	ctx := context.Background()

	summary, err := im.Import(ctx, project.ID, []byte(loginReport), Options{CreatedBy: "ci-bot"})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TestsCreated)
	assert.Zero(t, summary.TestsMatched)
	assert.Equal(t, 2, summary.TagsCreated)
	assert.Equal(t, 1, summary.ResultsWritten)

	exec, err := st.GetExecution(ctx, summary.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, "playwright.config.ts", exec.ConfigFile)
	assert.Equal(t, "1.48.2", exec.PlaywrightVersion)
	assert.Equal(t, "main", exec.GitBranch)
	assert.Equal(t, "Dev One", exec.GitAuthorName)
	assert.Equal(t, 1, exec.FlakyTests)
	assert.Equal(t, "ci-bot", exec.CreatedBy)
	assert.JSONEq(t, loginReport, exec.RawJSON)
	assert.Equal(t, time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC), exec.StartTime.UTC())

	tests, err := st.ListTests(ctx, project.ID, store.TestFilter{})
	require.NoError(t, err)
	require.Len(t, tests, 1)
	assert.Equal(t, "AUTH-1", tests[0].TestID)
	assert.Equal(t, "Login works", tests[0].Title)
	assert.Equal(t, "auth.spec.ts", tests[0].FilePath)
	assert.Equal(t, 12, tests[0].Line)
	assert.Equal(t, "As a user I can log in", tests[0].Story)

	tagNames := make([]string, 0, len(tests[0].Tags))
	for _, tag := range tests[0].Tags {
		tagNames = append(tagNames, tag.Name)
	}

	assert.ElementsMatch(t, []string{"@auth", "@smoke"}, tagNames)

	results, err := st.ListResultsByExecution(ctx, summary.ExecutionID)
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.Equal(t, store.StatusPassed, res.Status)
	assert.Equal(t, 1, res.Retry)
	assert.Equal(t, 2000.0, res.Duration)
	assert.Equal(t, 1, res.WorkerIndex)
	assert.Equal(t, "chromium", res.PWProjectName)
	assert.Equal(t, `[{"message":"boom"}]`, res.Errors)
	assert.Equal(t, time.Date(2026, 5, 1, 10, 0, 1, 0, time.UTC), res.StartTime.UTC())

	flaky, err := st.ListFlakyResults(ctx, summary.ExecutionID)
	require.NoError(t, err)
	assert.Len(t, flaky, 1)
}

func TestImportIdempotentTestIdentity(t *testing.T) {
	im, st, project := setupImporter(t)
	ctx := context.Background()

	first, err := im.Import(ctx, project.ID, []byte(loginReport), Options{})
	require.NoError(t, err)

	second, err := im.Import(ctx, project.ID, []byte(loginReport), Options{})
	require.NoError(t, err)

	assert.NotEqual(t, first.ExecutionID, second.ExecutionID)
	assert.Zero(t, second.TestsCreated)
	assert.Equal(t, 1, second.TestsMatched)
	assert.Zero(t, second.TagsCreated)

	count, err := st.CountTests(ctx, project.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)

	for _, execID := range []uint{first.ExecutionID, second.ExecutionID} {
		n, err := st.CountResults(ctx, execID)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	}
}

func TestImportMatchesByTestIDAfterMove(t *testing.T) {
	im, st, project := setupImporter(t)
	ctx := context.Background()

	_, err := im.Import(ctx, project.ID, []byte(loginReport), Options{})
	require.NoError(t, err)

	// Same stable id, different file location.
	moved := specReport("login/auth.spec.ts", "Login works", 40, 5,
		`{"type": "id", "description": "AUTH-1"}`)

	summary, err := im.Import(ctx, project.ID, []byte(moved), Options{})
	require.NoError(t, err)
	assert.Zero(t, summary.TestsCreated)
	assert.Equal(t, 1, summary.TestsMatched)

	tests, err := st.ListTests(ctx, project.ID, store.TestFilter{})
	require.NoError(t, err)
	require.Len(t, tests, 1)

	// The stable id wins: the stored location follows the spec.
	assert.Equal(t, "login/auth.spec.ts", tests[0].FilePath)
	assert.Equal(t, 40, tests[0].Line)
	assert.Equal(t, "AUTH-1", tests[0].TestID)
}

func TestImportBackfillsTestID(t *testing.T) {
	im, st, project := setupImporter(t)
	ctx := context.Background()

	bare := specReport("auth.spec.ts", "Login works", 12, 3, "")
	_, err := im.Import(ctx, project.ID, []byte(bare), Options{})
	require.NoError(t, err)

	tests, err := st.ListTests(ctx, project.ID, store.TestFilter{})
	require.NoError(t, err)
	require.Len(t, tests, 1)
	assert.Empty(t, tests[0].TestID)

	tagged := specReport("auth.spec.ts", "Login works", 12, 3,
		`{"type": "id", "description": "AUTH-1"}`)
	summary, err := im.Import(ctx, project.ID, []byte(tagged), Options{})
	require.NoError(t, err)
	assert.Zero(t, summary.TestsCreated)

	tests, err = st.ListTests(ctx, project.ID, store.TestFilter{})
	require.NoError(t, err)
	require.Len(t, tests, 1)
	assert.Equal(t, "AUTH-1", tests[0].TestID)
}

func TestImportNeverOverwritesStoredTestID(t *testing.T) {
	im, st, project := setupImporter(t)
	ctx := context.Background()

	tagged := specReport("auth.spec.ts", "Login works", 12, 3,
		`{"type": "id", "description": "AUTH-1"}`)
	_, err := im.Import(ctx, project.ID, []byte(tagged), Options{})
	require.NoError(t, err)

	renamed := specReport("auth.spec.ts", "Login works", 12, 3,
		`{"type": "id", "description": "AUTH-99"}`)
	summary, err := im.Import(ctx, project.ID, []byte(renamed), Options{})
	require.NoError(t, err)
	assert.Zero(t, summary.TestsCreated)
	assert.Equal(t, 1, summary.TestsMatched)

	tests, err := st.ListTests(ctx, project.ID, store.TestFilter{})
	require.NoError(t, err)
	require.Len(t, tests, 1)
	assert.Equal(t, "AUTH-1", tests[0].TestID)
}

func TestImportReusedTestIDKeepsSingleOwner(t *testing.T) {
	im, st, project := setupImporter(t)
	ctx := context.Background()

	_, err := im.Import(ctx, project.ID, []byte(loginReport), Options{})
	require.NoError(t, err)

	// A different spec carrying an already claimed id matches the
	// id's durable test; the id never ends up on two rows.
	duplicate := specReport("other.spec.ts", "Logout works", 20, 3,
		`{"type": "id", "description": "AUTH-1"}`)
	summary, err := im.Import(ctx, project.ID, []byte(duplicate), Options{})
	require.NoError(t, err)
	assert.Zero(t, summary.TestsCreated)
	assert.Equal(t, 1, summary.TestsMatched)

	tests, err := st.ListTests(ctx, project.ID, store.TestFilter{})
	require.NoError(t, err)
	require.Len(t, tests, 1)
	assert.Equal(t, "AUTH-1", tests[0].TestID)
	assert.Equal(t, "Logout works", tests[0].Title)
	assert.Equal(t, "other.spec.ts", tests[0].FilePath)
}

// staleStore simulates lookups that ran before a concurrent import
// committed: the first test_id lookup misses and the first claim
// check reports the id free, so the insert hits the database's
// partial unique index instead of the resolver's pre-checks.
type staleStore struct {
	store.Store

	idMisses    *int
	freeReports *int
}

func (s *staleStore) FindTestByTestID(
	ctx context.Context, projectID uint, testID string,
) (*store.Test, error) {
	if *s.idMisses > 0 {
		*s.idMisses--

		return nil, store.ErrNotFound
	}

	return s.Store.FindTestByTestID(ctx, projectID, testID)
}

func (s *staleStore) TestIDTaken(
	ctx context.Context, projectID uint, testID string, excludeID uint,
) (bool, error) {
	if *s.freeReports > 0 {
		*s.freeReports--

		return false, nil
	}

	return s.Store.TestIDTaken(ctx, projectID, testID, excludeID)
}

func (s *staleStore) Transaction(
	ctx context.Context, fn func(tx store.Store) error,
) error {
	return s.Store.Transaction(ctx, func(tx store.Store) error {
		return fn(&staleStore{
			Store:       tx,
			idMisses:    s.idMisses,
			freeReports: s.freeReports,
		})
	})
}

func TestImportRecoversRacedTestID(t *testing.T) {
	_, st, project := setupImporter(t)
	ctx := context.Background()

	existing := &store.Test{
		ProjectID: project.ID,
		Title:     "Login works",
		FilePath:  "auth.spec.ts",
		Line:      12,
		Column:    3,
		TestID:    "AUTH-1",
	}
	require.NoError(t, st.CreateTest(ctx, existing))

	idMisses, freeReports := 1, 1
	log := logrus.New()
	log.SetOutput(io.Discard)
	im := NewImporter(log, &staleStore{
		Store:       st,
		idMisses:    &idMisses,
		freeReports: &freeReports,
	})

	raced := specReport("auth.spec.ts", "Login redirects", 40, 3,
		`{"type": "id", "description": "AUTH-1"}`)
	summary, err := im.Import(ctx, project.ID, []byte(raced), Options{})
	require.NoError(t, err)
	assert.Zero(t, summary.TestsCreated)
	assert.Equal(t, 1, summary.TestsMatched)

	// The result landed on the winner's row, no duplicate id.
	tests, err := st.ListTests(ctx, project.ID, store.TestFilter{})
	require.NoError(t, err)
	require.Len(t, tests, 1)
	assert.Equal(t, "AUTH-1", tests[0].TestID)

	results, err := st.ListResultsByExecution(ctx, summary.ExecutionID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, existing.ID, results[0].TestID)
}

func TestImportEmptyTestIDStaysUnset(t *testing.T) {
	im, st, project := setupImporter(t)
	ctx := context.Background()

	tagged := specReport("auth.spec.ts", "Login works", 12, 3,
		`{"type": "id", "description": "AUTH-1"}`)
	_, err := im.Import(ctx, project.ID, []byte(tagged), Options{})
	require.NoError(t, err)

	// The same spec uploaded without its id annotation keeps the
	// stored identifier.
	bare := specReport("auth.spec.ts", "Login works", 12, 3, "")
	_, err = im.Import(ctx, project.ID, []byte(bare), Options{})
	require.NoError(t, err)

	tests, err := st.ListTests(ctx, project.ID, store.TestFilter{})
	require.NoError(t, err)
	require.Len(t, tests, 1)
	assert.Equal(t, "AUTH-1", tests[0].TestID)
}

func TestImportMissingSuitesWritesNothing(t *testing.T) {
	im, st, project := setupImporter(t)
	ctx := context.Background()

	_, err := im.Import(ctx, project.ID, []byte(`{"config": {}, "stats": {}}`), Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, report.ErrMissingSuites)

	execs, err := st.ListExecutions(ctx, project.ID)
	require.NoError(t, err)
	assert.Empty(t, execs)
}

func TestImportUnknownProject(t *testing.T) {
	im, _, _ := setupImporter(t)

	_, err := im.Import(context.Background(), 9999, []byte(loginReport), Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestImportNestedSuiteTagInheritance(t *testing.T) {
	im, st, project := setupImporter(t)
	ctx := context.Background()

	doc := `{
	  "suites": [
	    {
	      "title": "checkout.spec.ts",
	      "file": "checkout.spec.ts",
	      "tags": ["@checkout"],
	      "specs": [],
	      "suites": [
	        {
	          "title": "guest flow",
	          "file": "checkout.spec.ts",
	          "tags": ["@guest"],
	          "specs": [
	            {
	              "title": "pays with card",
	              "line": 30,
	              "column": 5,
	              "tags": ["@payment", "@checkout"],
	              "tests": [
	                {"projectId": "firefox", "projectName": "firefox",
	                 "expectedStatus": "passed",
	                 "results": [{"status": "passed", "duration": 50, "retry": 0}]}
	              ]
	            }
	          ],
	          "suites": []
	        }
	      ]
	    }
	  ]
	}`

	summary, err := im.Import(ctx, project.ID, []byte(doc), Options{})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.TagsCreated)

	tests, err := st.ListTests(ctx, project.ID, store.TestFilter{})
	require.NoError(t, err)
	require.Len(t, tests, 1)

	names := make([]string, 0, len(tests[0].Tags))
	for _, tag := range tests[0].Tags {
		names = append(names, tag.Name)
	}

	assert.ElementsMatch(t, []string{"@checkout", "@guest", "@payment"}, names)
}

// specReport builds a minimal single-spec report document.
func specReport(file, title string, line, column int, annotation string) string {
	annotations := "[]"
	if annotation != "" {
		annotations = "[" + annotation + "]"
	}

	return fmt.Sprintf(`{
	  "suites": [
	    {
	      "title": %q,
	      "file": %q,
	      "specs": [
	        {
	          "title": %q,
	          "line": %d,
	          "column": %d,
	          "tests": [
	            {"projectId": "chromium", "projectName": "chromium",
	             "expectedStatus": "passed",
	             "annotations": %s,
	             "results": [{"status": "passed", "duration": 100, "retry": 0,
	                          "startTime": "2026-05-01T10:00:01.000Z"}]}
	          ]
	        }
	      ],
	      "suites": []
	    }
	  ],
	  "stats": {"startTime": "2026-05-01T10:00:00.000Z", "duration": 100, "expected": 1}
	}`, file, file, title, line, column, annotations)
}
