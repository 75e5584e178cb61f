// Package ingest reconciles Playwright JSON reports into the store:
// one execution per upload, durable test identities matched across
// uploads, and one reduced result row per (execution, test) pair.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/nam-edi/playwright-analyst/pkg/report"
	"github.com/nam-edi/playwright-analyst/pkg/store"
)

// Importer turns parsed reports into store rows. All writes for one
// report happen in a single transaction.
type Importer struct {
	log   logrus.FieldLogger
	store store.Store
}

// Options carries caller-supplied execution attributes.
type Options struct {
	CreatedBy string
	Comment   string
}

// Summary reports what one import changed.
type Summary struct {
	ExecutionID    uint
	TestsCreated   int
	TestsMatched   int
	TagsCreated    int
	ResultsWritten int
}

// NewImporter creates an Importer on top of the given store.
func NewImporter(log logrus.FieldLogger, st store.Store) *Importer {
	return &Importer{
		log:   log.WithField("component", "ingest"),
		store: st,
	}
}

// Import parses data and writes the execution, tests, tags and results
// it describes under the given project. The report is validated before
// any row is written; a failure mid-import rolls everything back.
func (im *Importer) Import(ctx context.Context, projectID uint, data []byte, opts Options) (*Summary, error) {
	r, err := report.Parse(data)
	if err != nil {
		return nil, err
	}

	if _, err := im.store.GetProject(ctx, projectID); err != nil {
		return nil, fmt.Errorf("loading project %d: %w", projectID, err)
	}

	summary := &Summary{}

	err = im.store.Transaction(ctx, func(tx store.Store) error {
		exec := newExecution(projectID, r, opts)
		if err := tx.CreateExecution(ctx, exec); err != nil {
			return fmt.Errorf("creating execution: %w", err)
		}

		summary.ExecutionID = exec.ID

		for i := range r.Suites {
			if err := im.walkSuite(ctx, tx, exec, &r.Suites[i], nil, summary); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	im.log.WithFields(logrus.Fields{
		"project":   projectID,
		"execution": summary.ExecutionID,
		"created":   summary.TestsCreated,
		"matched":   summary.TestsMatched,
		"results":   summary.ResultsWritten,
	}).Info("Report imported")

	return summary, nil
}

// newExecution maps report metadata onto an execution row.
func newExecution(projectID uint, r *report.Report, opts Options) *store.TestExecution {
	return &store.TestExecution{
		ProjectID:          projectID,
		ConfigFile:         r.Meta.ConfigFile,
		RootDir:            r.Meta.RootDir,
		PlaywrightVersion:  r.Meta.PlaywrightVersion,
		Workers:            r.Meta.Workers,
		ActualWorkers:      r.Meta.ActualWorkers,
		GitCommitHash:      r.Meta.GitCommitHash,
		GitCommitShortHash: r.Meta.GitCommitShortHash,
		GitBranch:          r.Meta.GitBranch,
		GitCommitSubject:   r.Meta.GitCommitSubject,
		GitAuthorName:      r.Meta.GitAuthorName,
		GitAuthorEmail:     r.Meta.GitAuthorEmail,
		CIBuildHref:        r.Meta.CIBuildHref,
		CICommitHref:       r.Meta.CICommitHref,
		StartTime:          r.Meta.StartTime,
		Duration:           r.Meta.Duration,
		ExpectedTests:      r.Meta.ExpectedTests,
		SkippedTests:       r.Meta.SkippedTests,
		UnexpectedTests:    r.Meta.UnexpectedTests,
		FlakyTests:         r.Meta.FlakyTests,
		CreatedBy:          opts.CreatedBy,
		Comment:            opts.Comment,
		RawJSON:            string(r.Raw),
	}
}

// walkSuite processes one suite node. Tags accumulate down the tree:
// a nested suite's specs inherit every ancestor suite's tags.
func (im *Importer) walkSuite(ctx context.Context, tx store.Store, exec *store.TestExecution, suite *report.Suite, parentTags []string, summary *Summary) error {
	tags := mergeTags(parentTags, suite.Tags)

	for i := range suite.Specs {
		if err := im.processSpec(ctx, tx, exec, suite, &suite.Specs[i], tags, summary); err != nil {
			return err
		}
	}

	for i := range suite.Suites {
		if err := im.walkSuite(ctx, tx, exec, &suite.Suites[i], tags, summary); err != nil {
			return err
		}
	}

	return nil
}

// processSpec resolves the spec's durable test, merges its tags and
// writes the reduced result rows.
func (im *Importer) processSpec(ctx context.Context, tx store.Store, exec *store.TestExecution, suite *report.Suite, spec *report.Spec, suiteTags []string, summary *Summary) error {
	test, created, err := im.resolveTest(ctx, tx, exec.ProjectID, suite, spec)
	if err != nil {
		return fmt.Errorf("resolving test %q: %w", spec.Title, err)
	}

	if created {
		summary.TestsCreated++
	} else {
		summary.TestsMatched++
	}

	if story := spec.Story(); story != "" && story != test.Story {
		test.Story = story
		if err := tx.SaveTest(ctx, test); err != nil {
			return fmt.Errorf("updating test story: %w", err)
		}
	}

	for _, name := range mergeTags(suiteTags, spec.Tags) {
		tag, tagCreated, err := tx.GetOrCreateTag(ctx, exec.ProjectID, name)
		if err != nil {
			return fmt.Errorf("resolving tag %q: %w", name, err)
		}

		if tagCreated {
			summary.TagsCreated++
		}

		if err := tx.AttachTag(ctx, test, tag); err != nil {
			return fmt.Errorf("attaching tag %q: %w", name, err)
		}
	}

	for i := range spec.Tests {
		entry := &spec.Tests[i]
		if len(entry.Results) == 0 {
			continue
		}

		if err := im.writeResult(ctx, tx, exec, test, entry); err != nil {
			return fmt.Errorf("writing result for %q: %w", spec.Title, err)
		}

		summary.ResultsWritten++
	}

	return nil
}

// resolveTest finds the durable test for a spec, creating it when the
// report describes a test never seen before. Resolution order: stable
// test_id first, then the structural (title, file, line, column)
// tuple. A structural match with no stored test_id adopts the report's
// id as long as no other test in the project claims it; a stored id is
// never overwritten.
func (im *Importer) resolveTest(ctx context.Context, tx store.Store, projectID uint, suite *report.Suite, spec *report.Spec) (*store.Test, bool, error) {
	testID := spec.TestID()

	if testID != "" {
		test, err := tx.FindTestByTestID(ctx, projectID, testID)
		if err == nil {
			// The stable id wins over location: a moved or renamed
			// spec updates the stored identity fields in place.
			if test.Title != spec.Title || test.FilePath != suite.File ||
				test.Line != spec.Line || test.Column != spec.Column {
				test.Title = spec.Title
				test.FilePath = suite.File
				test.Line = spec.Line
				test.Column = spec.Column

				if err := tx.SaveTest(ctx, test); err != nil {
					return nil, false, fmt.Errorf("relocating test: %w", err)
				}
			}

			return test, false, nil
		}

		if !errors.Is(err, store.ErrNotFound) {
			return nil, false, err
		}
	}

	test, err := tx.FindTestByIdentity(ctx, projectID, spec.Title, suite.File, spec.Line, spec.Column)
	if err == nil {
		if testID != "" && test.TestID == "" {
			if err := im.adoptTestID(ctx, tx, test, testID); err != nil {
				return nil, false, err
			}
		}

		return test, false, nil
	}

	if !errors.Is(err, store.ErrNotFound) {
		return nil, false, err
	}

	candidateID := testID
	if candidateID != "" {
		taken, err := tx.TestIDTaken(ctx, projectID, candidateID, 0)
		if err != nil {
			return nil, false, err
		}

		if taken {
			im.log.WithFields(logrus.Fields{
				"test_id": candidateID,
				"title":   spec.Title,
			}).Warn("Test id already claimed, creating test without it")

			candidateID = ""
		}
	}

	test = &store.Test{
		ProjectID: projectID,
		Title:     spec.Title,
		FilePath:  suite.File,
		Line:      spec.Line,
		Column:    spec.Column,
		TestID:    candidateID,
		Story:     spec.Story(),
	}

	if err := tx.CreateTest(ctx, test); err != nil {
		// A concurrent import may have created the same identity, or
		// claimed the same test_id, between our lookups and the
		// insert; either unique index rejects the row, so re-query
		// by both keys before giving up.
		if existing, qerr := tx.FindTestByIdentity(ctx, projectID, spec.Title, suite.File, spec.Line, spec.Column); qerr == nil {
			return existing, false, nil
		}

		if candidateID != "" {
			if existing, qerr := tx.FindTestByTestID(ctx, projectID, candidateID); qerr == nil {
				return existing, false, nil
			}
		}

		return nil, false, fmt.Errorf("creating test: %w", err)
	}

	return test, true, nil
}

// adoptTestID backfills a stable id onto a structurally matched test,
// skipping silently when another test already claims the id.
func (im *Importer) adoptTestID(ctx context.Context, tx store.Store, test *store.Test, testID string) error {
	taken, err := tx.TestIDTaken(ctx, test.ProjectID, testID, test.ID)
	if err != nil {
		return err
	}

	if taken {
		im.log.WithFields(logrus.Fields{
			"test_id": testID,
			"test":    test.ID,
		}).Warn("Test id already claimed, keeping structural match without it")

		return nil
	}

	test.TestID = testID

	return tx.SaveTest(ctx, test)
}

// writeResult upserts the reduced result row for (execution, test).
func (im *Importer) writeResult(ctx context.Context, tx store.Store, exec *store.TestExecution, test *store.Test, entry *report.TestEntry) error {
	red := reduceAttempts(entry.Results)

	startTime := red.StartTime
	if startTime.IsZero() {
		startTime = exec.StartTime
	}

	row, err := tx.GetResult(ctx, exec.ID, test.ID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return err
		}

		row = &store.TestResult{
			TestExecutionID: exec.ID,
			TestID:          test.ID,
		}
	}

	row.PWProjectID = entry.ProjectID
	row.PWProjectName = entry.ProjectName
	row.Timeout = entry.Timeout
	row.ExpectedStatus = entry.ExpectedStatus
	row.Status = red.Status
	row.WorkerIndex = red.WorkerIndex
	row.ParallelIndex = red.ParallelIndex
	row.Duration = red.Duration
	row.Retry = red.Retry
	row.StartTime = startTime
	row.Errors = red.Errors
	row.Stdout = red.Stdout
	row.Stderr = red.Stderr
	row.Steps = red.Steps
	row.Annotations = red.Annotations
	row.Attachments = red.Attachments

	if row.ID == 0 {
		return tx.CreateResult(ctx, row)
	}

	return tx.SaveResult(ctx, row)
}

// mergeTags appends child tags onto the inherited list, dropping
// empties and duplicates while keeping first-seen order.
func mergeTags(parent, child []string) []string {
	out := make([]string, 0, len(parent)+len(child))
	seen := make(map[string]struct{}, len(parent)+len(child))

	for _, name := range append(append([]string{}, parent...), child...) {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		if _, ok := seen[name]; ok {
			continue
		}

		seen[name] = struct{}{}
		out = append(out, name)
	}

	return out
}
