package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleReport = `{
  "config": {
    "configFile": "/app/playwright.config.ts",
    "rootDir": "/app/tests",
    "version": "1.48.2",
    "workers": 4,
    "metadata": {
      "actualWorkers": 2,
      "buildHref": "https://ci.example.com/builds/99",
      "gitCommit": {
        "hash": "0123456789abcdef0123456789abcdef01234567",
        "shortHash": "0123456",
        "branch": "main",
        "subject": "Fix login redirect",
        "author": {"name": "Dev One", "email": "dev@example.com"}
      },
      "ci": {"commitHref": "https://git.example.com/commit/0123456"}
    }
  },
  "suites": [
    {
      "title": "auth.spec.ts",
      "file": "auth.spec.ts",
      "tags": ["auth"],
      "specs": [
        {
          "title": "Login works",
          "line": 12,
          "column": 3,
          "tags": ["smoke"],
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
                {"status": "passed", "duration": 1200.5, "retry": 0,
                 "startTime": "2026-05-01T10:00:01.000Z",
                 "errors": [], "stdout": [], "stderr": [],
                 "steps": [], "attachments": []}
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
    "duration": 5300.2,
    "expected": 1,
    "skipped": 0,
    "unexpected": 0,
    "flaky": 0
  }
}`

func TestParse(t *testing.T) {
	r, err := Parse([]byte(sampleReport))
	require.NoError(t, err)

	assert.Equal(t, "/app/playwright.config.ts", r.Meta.ConfigFile)
	assert.Equal(t, "/app/tests", r.Meta.RootDir)
	assert.Equal(t, "1.48.2", r.Meta.PlaywrightVersion)
	assert.Equal(t, 4, r.Meta.Workers)
	assert.Equal(t, 2, r.Meta.ActualWorkers)
	assert.Equal(t, "0123456", r.Meta.GitCommitShortHash)
	assert.Equal(t, "main", r.Meta.GitBranch)
	assert.Equal(t, "Dev One", r.Meta.GitAuthorName)
	assert.Equal(t, "dev@example.com", r.Meta.GitAuthorEmail)
	assert.Equal(t, "https://ci.example.com/builds/99", r.Meta.CIBuildHref)
	assert.Equal(t, "https://git.example.com/commit/0123456", r.Meta.CICommitHref)
	assert.Equal(t, 5300.2, r.Meta.Duration)
	assert.Equal(t, 1, r.Meta.ExpectedTests)

	wantStart := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	assert.Equal(t, wantStart, r.Meta.StartTime)

	require.Len(t, r.Suites, 1)
	require.Len(t, r.Suites[0].Specs, 1)

	spec := r.Suites[0].Specs[0]
	assert.Equal(t, "Login works", spec.Title)
	assert.Equal(t, 12, spec.Line)
	assert.Equal(t, 3, spec.Column)
	assert.Equal(t, []string{"smoke"}, spec.Tags)
	assert.Equal(t, "AUTH-1", spec.TestID())
	assert.Equal(t, "As a user I can log in", spec.Story())

	require.Len(t, spec.Tests, 1)
	assert.Equal(t, "chromium", spec.Tests[0].ProjectID)
	assert.Equal(t, "passed", spec.Tests[0].ExpectedStatus)
	require.Len(t, spec.Tests[0].Results, 1)
	assert.Equal(t, 1200.5, spec.Tests[0].Results[0].Duration)

	assert.Equal(t, []byte(sampleReport), r.Raw)
}

func TestParseMissingSuites(t *testing.T) {
	_, err := Parse([]byte(`{"config": {}, "stats": {}}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingSuites)
}

func TestParseInvalidJSON(t *testing.T) {
	_, err := Parse([]byte(`{not json`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMissingSuites)
}

func TestParseNonObjectRoot(t *testing.T) {
	_, err := Parse([]byte(`[1, 2, 3]`))
	require.Error(t, err)
}

func TestParseMalformedSuites(t *testing.T) {
	_, err := Parse([]byte(`{"suites": "not an array"}`))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMissingSuites)
}

func TestParseToleratesBrokenMetadata(t *testing.T) {
	doc := `{
	  "config": {"workers": "8", "metadata": "not an object"},
	  "stats": 42,
	  "suites": []
	}`

	r, err := Parse([]byte(doc))
	require.NoError(t, err)

	// Weakly typed decode coerces the string worker count.
	assert.Equal(t, 8, r.Meta.Workers)
	assert.Equal(t, 1, r.Meta.ActualWorkers)
	assert.Empty(t, r.Meta.GitCommitHash)
	assert.Empty(t, r.Meta.CIBuildHref)
	assert.Zero(t, r.Meta.Duration)
	assert.False(t, r.Meta.StartTime.IsZero())
}

func TestParseMissingConfigAndStats(t *testing.T) {
	r, err := Parse([]byte(`{"suites": []}`))
	require.NoError(t, err)

	assert.Equal(t, 1, r.Meta.Workers)
	assert.Equal(t, 1, r.Meta.ActualWorkers)
	assert.WithinDuration(t, time.Now().UTC(), r.Meta.StartTime, time.Minute)
}

func TestSpecTestIDFirstNonEmptyWins(t *testing.T) {
	spec := Spec{
		Tests: []TestEntry{
			{Annotations: []Annotation{{Type: "id", Description: "  "}}},
			{Annotations: []Annotation{{Type: "id", Description: "CASE-7"}}},
			{Annotations: []Annotation{{Type: "id", Description: "CASE-8"}}},
		},
	}

	assert.Equal(t, "CASE-7", spec.TestID())
}

func TestSpecTestIDAbsent(t *testing.T) {
	spec := Spec{
		Tests: []TestEntry{
			{Annotations: []Annotation{{Type: "story", Description: "x"}}},
		},
	}

	assert.Empty(t, spec.TestID())
	assert.Equal(t, "x", spec.Story())
}

func TestParseTime(t *testing.T) {
	fallback := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, fallback, ParseTime("", fallback))
	assert.Equal(t, fallback, ParseTime("yesterday", fallback))

	got := ParseTime("2026-05-01T10:00:00.500Z", fallback)
	assert.Equal(t, time.Date(2026, 5, 1, 10, 0, 0, int(500*time.Millisecond), time.UTC), got)
}
