package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nam-edi/playwright-analyst/pkg/archive"
	"github.com/nam-edi/playwright-analyst/pkg/ingest"
	"github.com/nam-edi/playwright-analyst/pkg/store"
)

var (
	importUser        string
	importConcurrency int
)

var importCmd = &cobra.Command{
	Use:   "import <project_id> <report.json>...",
	Short: "Import Playwright JSON reports from disk",
	Long: `Import one or more Playwright JSON report files into a project,
creating a test execution per file. This is the offline equivalent of
the report upload endpoint.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runImport,
}

func init() {
	importCmd.Flags().StringVar(&importUser, "user", "",
		"username recorded as the execution creator")
	importCmd.Flags().IntVar(&importConcurrency, "concurrency", 1,
		"number of reports imported in parallel")

	rootCmd.AddCommand(importCmd)
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	projectID, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid project id %q: %w", args[0], err)
	}

	files := args[1:]
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			return fmt.Errorf("report file %s: %w", f, err)
		}
	}

	if importConcurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}

	ctx := context.Background()

	st := store.NewStore(log, &cfg.Database)
	if err := st.Start(ctx); err != nil {
		return fmt.Errorf("starting store: %w", err)
	}

	defer func() {
		if err := st.Stop(); err != nil {
			log.WithError(err).Warn("Failed to stop store")
		}
	}()

	if _, err := st.GetProject(ctx, uint(projectID)); err != nil {
		return fmt.Errorf("project %d: %w", projectID, err)
	}

	if importUser != "" {
		if _, err := st.GetUserByUsername(ctx, importUser); err != nil {
			return fmt.Errorf("user %q: %w", importUser, err)
		}
	}

	archiver, err := archive.New(log, cfg.Archive)
	if err != nil {
		return fmt.Errorf("initializing report archive: %w", err)
	}

	if archiver != nil {
		if err := archiver.Preflight(ctx); err != nil {
			return fmt.Errorf("report archive preflight: %w", err)
		}
	}

	importer := ingest.NewImporter(log, st)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(importConcurrency)

	for _, file := range files {
		file := file
		g.Go(func() error {
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading %s: %w", file, err)
			}

			summary, err := importer.Import(
				gctx, uint(projectID), data,
				ingest.Options{CreatedBy: importUser},
			)
			if err != nil {
				return fmt.Errorf("importing %s: %w", file, err)
			}

			if archiver != nil {
				if err := archiver.Write(
					gctx, uint(projectID), summary.ExecutionID, data,
				); err != nil {
					log.WithError(err).WithField("file", file).
						Warn("Failed to archive report")
				}
			}

			log.WithField("file", file).
				WithField("execution_id", summary.ExecutionID).
				WithField("results", summary.ResultsWritten).
				Info("Report imported")

			return nil
		})
	}

	return g.Wait()
}
