package store

import (
	"time"
)

// User source constants.
const (
	SourceConfig = "config"
	SourceAdmin  = "admin"
)

// Test result status values as emitted by the Playwright JSON reporter.
const (
	StatusPassed   = "passed"
	StatusFailed   = "failed"
	StatusSkipped  = "skipped"
	StatusExpected = "expected"
)

// User represents an authenticated user in the system.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string    `gorm:"not null" json:"-"`
	Role         string    `gorm:"not null" json:"role"`
	Source       string    `gorm:"not null" json:"source"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Session represents an active user session.
type Session struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Token        string     `gorm:"uniqueIndex;not null" json:"-"`
	UserID       uint       `gorm:"not null" json:"user_id"`
	ExpiresAt    time.Time  `gorm:"not null" json:"expires_at"`
	CreatedAt    time.Time  `json:"created_at"`
	LastActiveAt *time.Time `json:"last_active_at"`
}

// APIKey is a bearer token for programmatic access. CanUpload gates the
// report upload endpoint; CanRead gates everything else. An empty
// ProjectIDs list grants access to all projects.
type APIKey struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	Name       string     `gorm:"not null" json:"name"`
	KeyHash    string     `gorm:"uniqueIndex;not null" json:"-"`
	KeyPrefix  string     `gorm:"not null" json:"key_prefix"`
	UserID     uint       `gorm:"not null" json:"user_id"`
	CanUpload  bool       `gorm:"not null;default:true" json:"can_upload"`
	CanRead    bool       `gorm:"not null;default:true" json:"can_read"`
	Projects   []Project  `gorm:"many2many:api_key_projects" json:"-"`
	ExpiresAt  *time.Time `json:"expires_at"`
	LastUsedAt *time.Time `json:"last_used_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Project groups tests, tags and executions.
type Project struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Name        string    `gorm:"not null" json:"name"`
	Description string    `json:"description"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Tags       []Tag           `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Tests      []Test          `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	Executions []TestExecution `gorm:"constraint:OnDelete:CASCADE" json:"-"`
}

// Tag categorizes tests within a project. Both the name and the color
// are unique per project.
type Tag struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ProjectID uint      `gorm:"not null;uniqueIndex:idx_tags_project_name;uniqueIndex:idx_tags_project_color" json:"project_id"`
	Name      string    `gorm:"not null;uniqueIndex:idx_tags_project_name" json:"name"`
	Color     string    `gorm:"not null;uniqueIndex:idx_tags_project_color" json:"color"`
	CreatedAt time.Time `json:"created_at"`
}

// Test is the durable identity of a single logical test case. It is
// matched across report uploads by test_id when present, otherwise by
// the (title, file_path, line, column) tuple.
type Test struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	ProjectID uint   `gorm:"not null;uniqueIndex:idx_tests_identity" json:"project_id"`
	Title     string `gorm:"not null;uniqueIndex:idx_tests_identity" json:"title"`
	FilePath  string `gorm:"not null;uniqueIndex:idx_tests_identity" json:"file_path"`
	Line      int    `gorm:"not null;uniqueIndex:idx_tests_identity" json:"line"`
	Column    int    `gorm:"not null;uniqueIndex:idx_tests_identity" json:"column"`

	// TestID is the stable identifier carried by an "id" annotation.
	// Unique per project when non-empty, backed by a partial unique
	// index created in Start; the gorm tag cannot express the
	// test_id <> '' predicate.
	TestID  string `gorm:"index" json:"test_id"`
	Story   string `json:"story"`
	Comment string `json:"comment"`

	Tags      []Tag        `gorm:"many2many:test_tags" json:"tags,omitempty"`
	Results   []TestResult `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt time.Time    `json:"created_at"`
}

// TestExecution corresponds to one uploaded report.
type TestExecution struct {
	ID        uint `gorm:"primaryKey" json:"id"`
	ProjectID uint `gorm:"not null;index" json:"project_id"`

	ConfigFile        string `json:"config_file"`
	RootDir           string `json:"root_dir"`
	PlaywrightVersion string `json:"playwright_version"`
	Workers           int    `gorm:"default:1" json:"workers"`
	ActualWorkers     int    `gorm:"default:1" json:"actual_workers"`

	GitCommitHash      string `json:"git_commit_hash"`
	GitCommitShortHash string `json:"git_commit_short_hash"`
	GitBranch          string `json:"git_branch"`
	GitCommitSubject   string `json:"git_commit_subject"`
	GitAuthorName      string `json:"git_author_name"`
	GitAuthorEmail     string `json:"git_author_email"`

	CIBuildHref  string `json:"ci_build_href"`
	CICommitHref string `json:"ci_commit_href"`

	StartTime       time.Time `gorm:"not null;index" json:"start_time"`
	Duration        float64   `json:"duration"`
	ExpectedTests   int       `json:"expected_tests"`
	SkippedTests    int       `json:"skipped_tests"`
	UnexpectedTests int       `json:"unexpected_tests"`
	FlakyTests      int       `json:"flaky_tests"`

	CreatedBy string         `json:"created_by"`
	Comment   string         `json:"comment"`
	RawJSON   string         `gorm:"type:text" json:"-"`

	Results   []TestResult `gorm:"constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt time.Time    `json:"created_at"`
}

// TotalTests returns the sum of all stat counters.
func (e *TestExecution) TotalTests() int {
	return e.ExpectedTests + e.SkippedTests + e.UnexpectedTests + e.FlakyTests
}

// SuccessRate returns the expected-test percentage, 0 when empty.
func (e *TestExecution) SuccessRate() float64 {
	total := e.TotalTests()
	if total == 0 {
		return 0
	}

	return float64(e.ExpectedTests) / float64(total) * 100
}

// TestResult is the single reconciled result row for a (test, execution)
// pair. The ingest result writer upserts on that pair so at most one row
// exists per execution and test.
type TestResult struct {
	ID              uint `gorm:"primaryKey" json:"id"`
	TestExecutionID uint `gorm:"not null;uniqueIndex:idx_results_exec_test" json:"execution_id"`
	TestID          uint `gorm:"not null;uniqueIndex:idx_results_exec_test" json:"test_id"`

	PWProjectID    string `json:"pw_project_id"`
	PWProjectName  string `json:"pw_project_name"`
	Timeout        int    `json:"timeout"`
	ExpectedStatus string `json:"expected_status"`
	Status         string `gorm:"not null;index" json:"status"`

	WorkerIndex   int       `json:"worker_index"`
	ParallelIndex int       `json:"parallel_index"`
	Duration      float64   `json:"duration"`
	Retry         int       `gorm:"default:0" json:"retry"`
	StartTime     time.Time `json:"start_time"`

	Errors      string    `gorm:"type:text" json:"errors"`
	Stdout      string    `gorm:"type:text" json:"stdout"`
	Stderr      string    `gorm:"type:text" json:"stderr"`
	Steps       string    `gorm:"type:text" json:"steps"`
	Annotations string    `gorm:"type:text" json:"annotations"`
	Attachments string    `gorm:"type:text" json:"attachments"`

	CreatedAt time.Time `json:"created_at"`
}
