package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/nam-edi/playwright-analyst/pkg/store"
)

// --- Projects ---

type projectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *server) handleListProjects(
	w http.ResponseWriter, r *http.Request,
) {
	projects, err := s.store.ListProjects(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list projects")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, projects)
}

func (s *server) handleGetProject(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	project, err := s.store.GetProject(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"project not found"})

			return
		}

		s.log.WithError(err).Error("Failed to get project")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	testCount, err := s.store.CountTests(r.Context(), id)
	if err != nil {
		s.log.WithError(err).Error("Failed to count tests")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, projectDetail{
		Project:   project,
		TestCount: testCount,
	})
}

type projectDetail struct {
	*store.Project

	TestCount int64 `json:"test_count"`
}

func (s *server) handleCreateProject(
	w http.ResponseWriter, r *http.Request,
) {
	var req projectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if req.Name == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"name is required"})

		return
	}

	project := &store.Project{
		Name:        req.Name,
		Description: req.Description,
	}

	if user := userFromContext(r.Context()); user != nil {
		project.CreatedBy = user.Username
	}

	if err := s.store.CreateProject(r.Context(), project); err != nil {
		s.log.WithError(err).Error("Failed to create project")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusCreated, project)
}

func (s *server) handleUpdateProject(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	project, err := s.store.GetProject(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"project not found"})

			return
		}

		s.log.WithError(err).Error("Failed to get project")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	var req projectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if req.Name != "" {
		project.Name = req.Name
	}

	project.Description = req.Description

	if err := s.store.UpdateProject(r.Context(), project); err != nil {
		s.log.WithError(err).Error("Failed to update project")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, project)
}

func (s *server) handleDeleteProject(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	if _, err := s.store.GetProject(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"project not found"})

			return
		}

		s.log.WithError(err).Error("Failed to get project")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	if err := s.store.DeleteProject(r.Context(), id); err != nil {
		s.log.WithError(err).Error("Failed to delete project")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleListProjectTags(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	tags, err := s.store.ListTags(r.Context(), id)
	if err != nil {
		s.log.WithError(err).Error("Failed to list tags")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, tags)
}

func (s *server) handleListProjectTests(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	filter := store.TestFilter{
		Tag:    r.URL.Query().Get("tag"),
		Search: r.URL.Query().Get("search"),
	}

	tests, err := s.store.ListTests(r.Context(), id, filter)
	if err != nil {
		s.log.WithError(err).Error("Failed to list tests")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, tests)
}

// --- Executions ---

type executionResponse struct {
	*store.TestExecution

	TotalTests  int     `json:"total_tests"`
	SuccessRate float64 `json:"success_rate"`
}

func toExecutionResponse(e *store.TestExecution) executionResponse {
	return executionResponse{
		TestExecution: e,
		TotalTests:    e.TotalTests(),
		SuccessRate:   e.SuccessRate(),
	}
}

func (s *server) handleListProjectExecutions(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	executions, err := s.store.ListExecutions(r.Context(), id)
	if err != nil {
		s.log.WithError(err).Error("Failed to list executions")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	resp := make([]executionResponse, 0, len(executions))
	for i := range executions {
		resp = append(resp, toExecutionResponse(&executions[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleGetExecution(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	execution, err := s.store.GetExecution(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"execution not found"})

			return
		}

		s.log.WithError(err).Error("Failed to get execution")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, toExecutionResponse(execution))
}

func (s *server) handleDeleteExecution(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	if _, err := s.store.GetExecution(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"execution not found"})

			return
		}

		s.log.WithError(err).Error("Failed to get execution")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	if err := s.store.DeleteExecution(r.Context(), id); err != nil {
		s.log.WithError(err).Error("Failed to delete execution")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type commentRequest struct {
	Comment string `json:"comment"`
}

func (s *server) handleUpdateExecutionComment(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	if _, err := s.store.GetExecution(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"execution not found"})

			return
		}

		s.log.WithError(err).Error("Failed to get execution")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if err := s.store.UpdateExecutionComment(r.Context(), id, req.Comment); err != nil {
		s.log.WithError(err).Error("Failed to update execution comment")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Results ---

// resultResponse re-exposes the stored JSON array columns as real JSON
// arrays instead of strings.
type resultResponse struct {
	ID              uint      `json:"id"`
	TestExecutionID uint      `json:"execution_id"`
	TestID          uint      `json:"test_id"`
	PWProjectID     string    `json:"pw_project_id"`
	PWProjectName   string    `json:"pw_project_name"`
	Timeout         int       `json:"timeout"`
	ExpectedStatus  string    `json:"expected_status"`
	Status          string    `json:"status"`
	WorkerIndex     int       `json:"worker_index"`
	ParallelIndex   int       `json:"parallel_index"`
	Duration        float64   `json:"duration"`
	Retry           int       `json:"retry"`
	StartTime       time.Time `json:"start_time"`

	Errors      json.RawMessage `json:"errors"`
	Stdout      json.RawMessage `json:"stdout"`
	Stderr      json.RawMessage `json:"stderr"`
	Steps       json.RawMessage `json:"steps"`
	Annotations json.RawMessage `json:"annotations"`
	Attachments json.RawMessage `json:"attachments"`
}

func toResultResponse(r *store.TestResult) resultResponse {
	return resultResponse{
		ID:              r.ID,
		TestExecutionID: r.TestExecutionID,
		TestID:          r.TestID,
		PWProjectID:     r.PWProjectID,
		PWProjectName:   r.PWProjectName,
		Timeout:         r.Timeout,
		ExpectedStatus:  r.ExpectedStatus,
		Status:          r.Status,
		WorkerIndex:     r.WorkerIndex,
		ParallelIndex:   r.ParallelIndex,
		Duration:        r.Duration,
		Retry:           r.Retry,
		StartTime:       r.StartTime,
		Errors:          rawArray(r.Errors),
		Stdout:          rawArray(r.Stdout),
		Stderr:          rawArray(r.Stderr),
		Steps:           rawArray(r.Steps),
		Annotations:     rawArray(r.Annotations),
		Attachments:     rawArray(r.Attachments),
	}
}

// rawArray passes a stored JSON array column through untouched,
// defaulting to an empty array.
func rawArray(s string) json.RawMessage {
	if s == "" {
		return json.RawMessage("[]")
	}

	return json.RawMessage(s)
}

func (s *server) handleListExecutionResults(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	results, err := s.store.ListResultsByExecution(r.Context(), id)
	if err != nil {
		s.log.WithError(err).Error("Failed to list results")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	resp := make([]resultResponse, 0, len(results))
	for i := range results {
		resp = append(resp, toResultResponse(&results[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleListFlakyResults(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	results, err := s.store.ListFlakyResults(r.Context(), id)
	if err != nil {
		s.log.WithError(err).Error("Failed to list flaky results")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	resp := make([]resultResponse, 0, len(results))
	for i := range results {
		resp = append(resp, toResultResponse(&results[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

// --- Tests ---

func (s *server) handleGetTest(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	test, err := s.store.GetTest(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"test not found"})

			return
		}

		s.log.WithError(err).Error("Failed to get test")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, test)
}

func (s *server) handleUpdateTestComment(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	if _, err := s.store.GetTest(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound,
				errorResponse{"test not found"})

			return
		}

		s.log.WithError(err).Error("Failed to get test")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	var req commentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if err := s.store.UpdateTestComment(r.Context(), id, req.Comment); err != nil {
		s.log.WithError(err).Error("Failed to update test comment")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
