package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/nam-edi/playwright-analyst/pkg/store"
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

func parseIDParam(r *http.Request) (uint, error) {
	idStr := chi.URLParam(r, "id")
	if idStr == "" {
		return 0, fmt.Errorf("id parameter is required")
	}

	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid id: %w", err)
	}

	return uint(id), nil
}

// --- Public handlers ---

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleConfig returns the public auth and archive configuration.
func (s *server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{
		"auth": map[string]any{
			"anonymous_read": s.cfg.Auth.AnonymousRead,
		},
		"archive": map[string]any{
			"enabled": s.archiver != nil,
		},
	}

	writeJSON(w, http.StatusOK, resp)
}

// --- Auth handlers ---

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	User userResponse `json:"user"`
}

type userResponse struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Source   string `json:"source"`
}

// handleLogin authenticates a user with username/password and creates
// a session.
func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	if req.Username == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"username and password are required"})

		return
	}

	user, err := s.store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized,
			errorResponse{"invalid credentials"})

		return
	}

	if !checkPassword(user.PasswordHash, req.Password) {
		writeJSON(w, http.StatusUnauthorized,
			errorResponse{"invalid credentials"})

		return
	}

	token, err := generateSessionToken()
	if err != nil {
		s.log.WithError(err).Error("Failed to generate session token")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	ttl := s.cfg.Auth.SessionTTLDuration()

	session := &store.Session{
		Token:     token,
		UserID:    user.ID,
		ExpiresAt: time.Now().UTC().Add(ttl),
	}

	if err := s.store.CreateSession(r.Context(), session); err != nil {
		s.log.WithError(err).Error("Failed to create session")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   r.TLS != nil,
		MaxAge:   int(ttl.Seconds()),
	})

	writeJSON(w, http.StatusOK, loginResponse{
		User: toUserResponse(user),
	})
}

// handleLogout destroys the current session.
func (s *server) handleLogout(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionCookieName)
	if err == nil {
		_ = s.store.DeleteSession(r.Context(), cookie.Value)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		MaxAge:   -1,
	})

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMe returns the currently authenticated user.
func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	user := userFromContext(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized,
			errorResponse{"not authenticated"})

		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

func toUserResponse(u *store.User) userResponse {
	return userResponse{
		ID:       u.ID,
		Username: u.Username,
		Role:     u.Role,
		Source:   u.Source,
	}
}

// checkPassword compares a bcrypt hash with a plaintext password.
func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword(
		[]byte(hash), []byte(password),
	) == nil
}

// --- API key handlers ---

type createAPIKeyRequest struct {
	Name       string  `json:"name"`
	CanUpload  *bool   `json:"can_upload,omitempty"`
	CanRead    *bool   `json:"can_read,omitempty"`
	ProjectIDs []uint  `json:"project_ids,omitempty"`
	ExpiresAt  *string `json:"expires_at,omitempty"`
}

type createAPIKeyResponse struct {
	Key    string         `json:"key"`
	APIKey apiKeyResponse `json:"api_key"`
}

type apiKeyResponse struct {
	ID         uint    `json:"id"`
	Name       string  `json:"name"`
	KeyPrefix  string  `json:"key_prefix"`
	UserID     uint    `json:"user_id"`
	CanUpload  bool    `json:"can_upload"`
	CanRead    bool    `json:"can_read"`
	ProjectIDs []uint  `json:"project_ids"`
	ExpiresAt  *string `json:"expires_at"`
	LastUsedAt *string `json:"last_used_at"`
	CreatedAt  string  `json:"created_at"`
}

func toAPIKeyResponse(k *store.APIKey) apiKeyResponse {
	resp := apiKeyResponse{
		ID:         k.ID,
		Name:       k.Name,
		KeyPrefix:  k.KeyPrefix,
		UserID:     k.UserID,
		CanUpload:  k.CanUpload,
		CanRead:    k.CanRead,
		ProjectIDs: make([]uint, 0, len(k.Projects)),
		CreatedAt:  k.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}

	for _, p := range k.Projects {
		resp.ProjectIDs = append(resp.ProjectIDs, p.ID)
	}

	if k.ExpiresAt != nil {
		v := k.ExpiresAt.UTC().Format("2006-01-02T15:04:05Z")
		resp.ExpiresAt = &v
	}

	if k.LastUsedAt != nil {
		v := k.LastUsedAt.UTC().Format("2006-01-02T15:04:05Z")
		resp.LastUsedAt = &v
	}

	return resp
}

// handleCreateAPIKey creates a new API key for the authenticated user.
func (s *server) handleCreateAPIKey(
	w http.ResponseWriter, r *http.Request,
) {
	user := userFromContext(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized,
			errorResponse{"not authenticated"})

		return
	}

	var req createAPIKeyRequest
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

	var expiresAt *time.Time

	if req.ExpiresAt != nil && *req.ExpiresAt != "" {
		t, err := time.Parse(time.RFC3339, *req.ExpiresAt)
		if err != nil {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{"invalid expires_at format, use RFC3339"})

			return
		}

		utc := t.UTC()
		expiresAt = &utc
	}

	projects := make([]store.Project, 0, len(req.ProjectIDs))

	for _, id := range req.ProjectIDs {
		p, err := s.store.GetProject(r.Context(), id)
		if err != nil {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{fmt.Sprintf("unknown project %d", id)})

			return
		}

		projects = append(projects, *p)
	}

	plaintext, hash, prefix, err := generateAPIKey()
	if err != nil {
		s.log.WithError(err).Error("Failed to generate API key")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	apiKey := &store.APIKey{
		Name:      req.Name,
		KeyHash:   hash,
		KeyPrefix: prefix,
		UserID:    user.ID,
		CanUpload: true,
		CanRead:   true,
		Projects:  projects,
		ExpiresAt: expiresAt,
	}

	if req.CanUpload != nil {
		apiKey.CanUpload = *req.CanUpload
	}

	if req.CanRead != nil {
		apiKey.CanRead = *req.CanRead
	}

	if err := s.store.CreateAPIKey(r.Context(), apiKey); err != nil {
		s.log.WithError(err).Error("Failed to create API key")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusCreated, createAPIKeyResponse{
		Key:    plaintext,
		APIKey: toAPIKeyResponse(apiKey),
	})
}

// handleListMyAPIKeys lists API keys for the authenticated user.
func (s *server) handleListMyAPIKeys(
	w http.ResponseWriter, r *http.Request,
) {
	user := userFromContext(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized,
			errorResponse{"not authenticated"})

		return
	}

	keys, err := s.store.ListAPIKeysByUser(r.Context(), user.ID)
	if err != nil {
		s.log.WithError(err).Error("Failed to list API keys")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	resp := make([]apiKeyResponse, 0, len(keys))
	for i := range keys {
		resp = append(resp, toAPIKeyResponse(&keys[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleDeleteMyAPIKey deletes an API key owned by the authenticated user.
func (s *server) handleDeleteMyAPIKey(
	w http.ResponseWriter, r *http.Request,
) {
	user := userFromContext(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized,
			errorResponse{"not authenticated"})

		return
	}

	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{err.Error()})

		return
	}

	keys, err := s.store.ListAPIKeysByUser(r.Context(), user.ID)
	if err != nil {
		s.log.WithError(err).Error("Failed to list API keys")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	owned := false

	for i := range keys {
		if keys[i].ID == id {
			owned = true

			break
		}
	}

	if !owned {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"api key not found"})

		return
	}

	if err := s.store.DeleteAPIKey(r.Context(), id); err != nil {
		s.log.WithError(err).Error("Failed to delete API key")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
