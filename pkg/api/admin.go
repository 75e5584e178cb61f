package api

import (
	"encoding/json"
	"net/http"

	"golang.org/x/crypto/bcrypt"

	"github.com/nam-edi/playwright-analyst/pkg/store"
)

// --- User management ---

// handleListUsers returns all users.
func (s *server) handleListUsers(
	w http.ResponseWriter, r *http.Request,
) {
	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list users")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	resp := make([]userResponse, 0, len(users))
	for i := range users {
		resp = append(resp, toUserResponse(&users[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// handleCreateUser creates a new admin-sourced user.
func (s *server) handleCreateUser(
	w http.ResponseWriter, r *http.Request,
) {
	var req createUserRequest
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

	if req.Role != "admin" && req.Role != "user" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"role must be \"admin\" or \"user\""})

		return
	}

	hash, err := bcrypt.GenerateFromPassword(
		[]byte(req.Password), bcrypt.DefaultCost,
	)
	if err != nil {
		s.log.WithError(err).Error("Failed to hash password")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	user := &store.User{
		Username:     req.Username,
		PasswordHash: string(hash),
		Role:         req.Role,
		Source:       store.SourceAdmin,
	}

	if err := s.store.CreateUser(r.Context(), user); err != nil {
		writeJSON(w, http.StatusConflict,
			errorResponse{"username already exists"})

		return
	}

	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

type updateUserRequest struct {
	Password *string `json:"password,omitempty"`
	Role     *string `json:"role,omitempty"`
}

// handleUpdateUser updates a user's password and/or role.
func (s *server) handleUpdateUser(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{err.Error()})

		return
	}

	var req updateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"invalid request body"})

		return
	}

	user, err := s.store.GetUserByID(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"user not found"})

		return
	}

	// Prevent changing own role.
	currentUser := userFromContext(r.Context())
	if currentUser != nil && currentUser.ID == user.ID && req.Role != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"cannot change your own role"})

		return
	}

	if req.Password != nil && *req.Password != "" {
		hash, err := bcrypt.GenerateFromPassword(
			[]byte(*req.Password), bcrypt.DefaultCost,
		)
		if err != nil {
			s.log.WithError(err).Error("Failed to hash password")
			writeJSON(w, http.StatusInternalServerError,
				errorResponse{"internal error"})

			return
		}

		user.PasswordHash = string(hash)
	}

	if req.Role != nil {
		if *req.Role != "admin" && *req.Role != "user" {
			writeJSON(w, http.StatusBadRequest,
				errorResponse{"role must be \"admin\" or \"user\""})

			return
		}

		user.Role = *req.Role
	}

	if err := s.store.UpdateUser(r.Context(), user); err != nil {
		s.log.WithError(err).Error("Failed to update user")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// handleDeleteUser removes a user by ID.
func (s *server) handleDeleteUser(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{err.Error()})

		return
	}

	// Prevent self-deletion.
	currentUser := userFromContext(r.Context())
	if currentUser != nil && currentUser.ID == id {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"cannot delete yourself"})

		return
	}

	if err := s.store.DeleteUser(r.Context(), id); err != nil {
		s.log.WithError(err).Error("Failed to delete user")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Session management ---

type sessionResponse struct {
	ID        uint   `json:"id"`
	UserID    uint   `json:"user_id"`
	Username  string `json:"username"`
	Source    string `json:"source"`
	ExpiresAt string `json:"expires_at"`
	CreatedAt string `json:"created_at"`
}

// handleListSessions returns all sessions with resolved usernames.
func (s *server) handleListSessions(
	w http.ResponseWriter, r *http.Request,
) {
	sessions, err := s.store.ListSessions(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list sessions")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	users, err := s.store.ListUsers(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list users")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	type userInfo struct {
		Username string
		Source   string
	}

	userMap := make(map[uint]userInfo, len(users))
	for i := range users {
		userMap[users[i].ID] = userInfo{
			Username: users[i].Username,
			Source:   users[i].Source,
		}
	}

	resp := make([]sessionResponse, 0, len(sessions))
	for i := range sessions {
		info := userMap[sessions[i].UserID]
		resp = append(resp, sessionResponse{
			ID:        sessions[i].ID,
			UserID:    sessions[i].UserID,
			Username:  info.Username,
			Source:    info.Source,
			ExpiresAt: sessions[i].ExpiresAt.Format("2006-01-02T15:04:05Z"),
			CreatedAt: sessions[i].CreatedAt.Format("2006-01-02T15:04:05Z"),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleDeleteSessionByID revokes a session by ID.
func (s *server) handleDeleteSessionByID(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{err.Error()})

		return
	}

	if err := s.store.DeleteSessionByID(r.Context(), id); err != nil {
		s.log.WithError(err).Error("Failed to delete session")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- API key management ---

// handleListAllAPIKeys returns every API key across all users.
func (s *server) handleListAllAPIKeys(
	w http.ResponseWriter, r *http.Request,
) {
	keys, err := s.store.ListAPIKeys(r.Context())
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

// handleDeleteAPIKey revokes any user's API key by ID.
func (s *server) handleDeleteAPIKey(
	w http.ResponseWriter, r *http.Request,
) {
	id, err := parseIDParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{err.Error()})

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
