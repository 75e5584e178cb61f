package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/nam-edi/playwright-analyst/pkg/ingest"
	"github.com/nam-edi/playwright-analyst/pkg/report"
	"github.com/nam-edi/playwright-analyst/pkg/store"
)

// maxReportBytes caps a single uploaded report. Large suites with
// attachments inline can reach tens of megabytes.
const maxReportBytes = 256 << 20

type uploadResponse struct {
	ExecutionID    uint `json:"execution_id"`
	TestsCreated   int  `json:"tests_created"`
	TestsMatched   int  `json:"tests_matched"`
	TagsCreated    int  `json:"tags_created"`
	ResultsWritten int  `json:"results_written"`
}

func (s *server) handleUploadReport(
	w http.ResponseWriter, r *http.Request,
) {
	projectID, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	if key := apiKeyFromContext(r.Context()); key != nil {
		if !apiKeyCoversProject(key, projectID) {
			writeJSON(w, http.StatusForbidden,
				errorResponse{"api key does not cover this project"})

			return
		}
	}

	data, err := readReportBody(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	opts := ingest.Options{}
	if user := userFromContext(r.Context()); user != nil {
		opts.CreatedBy = user.Username
	}

	summary, err := s.importer.Import(r.Context(), projectID, data, opts)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeJSON(w, http.StatusNotFound,
				errorResponse{"project not found"})
		case errors.Is(err, report.ErrMissingSuites):
			writeJSON(w, http.StatusBadRequest,
				errorResponse{"report has no suites"})
		case isDecodeError(err):
			writeJSON(w, http.StatusBadRequest,
				errorResponse{"invalid report JSON"})
		default:
			s.log.WithError(err).Error("Failed to import report")
			writeJSON(w, http.StatusInternalServerError,
				errorResponse{"internal error"})
		}

		return
	}

	// Archiving is best effort and never fails the upload.
	if s.archiver != nil {
		if err := s.archiver.Write(r.Context(), projectID, summary.ExecutionID, data); err != nil {
			s.log.WithError(err).
				WithField("execution_id", summary.ExecutionID).
				Warn("Failed to archive report")
		}
	}

	writeJSON(w, http.StatusCreated, uploadResponse{
		ExecutionID:    summary.ExecutionID,
		TestsCreated:   summary.TestsCreated,
		TestsMatched:   summary.TestsMatched,
		TagsCreated:    summary.TagsCreated,
		ResultsWritten: summary.ResultsWritten,
	})
}

// readReportBody accepts either a multipart form with a json_file field
// or the report JSON as the raw request body.
func readReportBody(r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxReportBytes)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			return nil, errors.New("invalid multipart form")
		}

		file, _, err := r.FormFile("json_file")
		if err != nil {
			return nil, errors.New("missing json_file field")
		}
		defer file.Close()

		data, err := io.ReadAll(file)
		if err != nil {
			return nil, errors.New("failed to read json_file")
		}

		return data, nil
	}

	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, errors.New("failed to read request body")
	}

	if len(data) == 0 {
		return nil, errors.New("empty request body")
	}

	return data, nil
}

func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return true
	}

	var typeErr *json.UnmarshalTypeError

	return errors.As(err, &typeErr)
}
