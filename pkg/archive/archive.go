// Package archive persists uploaded report documents alongside the
// database, either on the local filesystem or in S3-compatible object
// storage. Archiving is best-effort: an archive failure never fails
// the import that triggered it.
package archive

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/nam-edi/playwright-analyst/pkg/config"
)

// Writer stores raw report documents keyed by project and execution.
type Writer interface {
	// Preflight verifies that the archive destination is writable.
	// Fails fast on misconfiguration before the first import.
	Preflight(ctx context.Context) error

	// Write stores one report document for the given execution.
	Write(ctx context.Context, projectID, executionID uint, data []byte) error
}

// New creates the Writer selected by cfg, or nil when archiving is
// disabled.
func New(log logrus.FieldLogger, cfg *config.ArchiveConfig) (Writer, error) {
	if cfg == nil {
		return nil, nil
	}

	switch {
	case cfg.Local != nil && cfg.Local.Enabled:
		return newLocalWriter(log, cfg.Local)
	case cfg.S3 != nil && cfg.S3.Enabled:
		return newS3Writer(log, cfg.S3)
	default:
		return nil, nil
	}
}

// objectKey is the layout shared by all writers:
// <project_id>/<execution_id>.json.
func objectKey(projectID, executionID uint) string {
	return fmt.Sprintf("%d/%d.json", projectID, executionID)
}
