package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/nam-edi/playwright-analyst/pkg/config"
)

// localWriter stores report documents under a directory tree.
type localWriter struct {
	log logrus.FieldLogger
	cfg *config.LocalArchiveConfig
}

var _ Writer = (*localWriter)(nil)

func newLocalWriter(
	log logrus.FieldLogger,
	cfg *config.LocalArchiveConfig,
) (Writer, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("local archive directory not configured")
	}

	return &localWriter{
		log: log.WithField("component", "local-archive"),
		cfg: cfg,
	}, nil
}

// Preflight creates the archive root and verifies it is writable.
func (w *localWriter) Preflight(ctx context.Context) error {
	if err := os.MkdirAll(w.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("creating archive directory: %w", err)
	}

	probe := filepath.Join(w.cfg.Dir, ".write-test")
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return fmt.Errorf("writing test file to %s: %w", w.cfg.Dir, err)
	}

	return os.Remove(probe)
}

func (w *localWriter) Write(
	ctx context.Context, projectID, executionID uint, data []byte,
) error {
	path := filepath.Join(w.cfg.Dir, objectKey(projectID, executionID))

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating project directory: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing report archive: %w", err)
	}

	w.log.WithFields(logrus.Fields{
		"path":  path,
		"bytes": len(data),
	}).Debug("Report archived")

	return nil
}
