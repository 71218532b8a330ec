package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"labvault/internal/domain"
	"labvault/internal/service"
)

type UsageHandler struct {
	usageService *service.UsageService
}

func NewUsageHandler(usageService *service.UsageService) *UsageHandler {
	return &UsageHandler{usageService: usageService}
}

type createProjectRequest struct {
	ProjectID       string  `json:"project_id"`
	ParentProjectID *string `json:"parent_project_id,omitempty"`
}

type addContributorRequest struct {
	UserID  string `json:"user_id"`
	CanEdit bool   `json:"can_edit"`
}

type mergeUsersRequest struct {
	AbsorbUserID string `json:"absorb_user_id"`
}

func computeOptionsFromQuery(r *http.Request) domain.ComputeOptions {
	q := r.URL.Query()
	opts := domain.ComputeOptions{Dedup: true}
	if q.Get("dedup") == "false" {
		opts.Dedup = false
	}
	opts.Ignored = q.Get("ignored") == "true"
	opts.Deleted = q.Get("deleted") == "true"
	return opts
}

// POST /v1/projects
func (h *UsageHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ProjectID == "" {
		http.Error(w, "project_id is required", http.StatusBadRequest)
		return
	}

	settings, err := h.usageService.CreateProject(r.Context(), req.ProjectID, req.ParentProjectID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, struct {
		Project *domain.NodeSettings `json:"project"`
	}{settings})
}

// GET /v1/projects/{id}
func (h *UsageHandler) GetProject(w http.ResponseWriter, r *http.Request) {
	settings, err := h.usageService.GetProject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Project *domain.NodeSettings `json:"project"`
	}{settings})
}

// POST /v1/projects/{id}/contributors
func (h *UsageHandler) AddContributor(w http.ResponseWriter, r *http.Request) {
	var req addContributorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	if err := h.usageService.AddContributor(r.Context(), chi.URLParam(r, "id"), req.UserID, req.CanEdit); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GET /v1/usage/users/{id}
func (h *UsageHandler) GetUserQuota(w http.ResponseWriter, r *http.Request) {
	quota, err := h.usageService.GetUserQuota(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, quota)
}

// POST /v1/usage/users/{id}/recalculate?dedup=&ignored=&deleted=&save=true
func (h *UsageHandler) RecalculateUserUsage(w http.ResponseWriter, r *http.Request) {
	opts := computeOptionsFromQuery(r)
	save := r.URL.Query().Get("save") == "true"

	usage, err := h.usageService.CalculateUserUsage(r.Context(), chi.URLParam(r, "id"), opts, save)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Usage int64 `json:"usage"`
		Saved bool  `json:"saved"`
	}{usage, save})
}

// GET /v1/usage/users/{id}/collaborative
func (h *UsageHandler) GetCollaborativeUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.usageService.CalculateCollaborativeUsage(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Usage int64 `json:"usage"`
	}{usage})
}

// POST /v1/usage/users/{id}/merge
func (h *UsageHandler) MergeUsers(w http.ResponseWriter, r *http.Request) {
	var req mergeUsersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.AbsorbUserID == "" {
		http.Error(w, "absorb_user_id is required", http.StatusBadRequest)
		return
	}

	if err := h.usageService.Merge(r.Context(), chi.URLParam(r, "id"), req.AbsorbUserID); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// POST /v1/usage/users/{id}/warning?force=true
func (h *UsageHandler) SendWarning(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Get("force") == "true"

	sent, err := h.usageService.SendWarningEmail(r.Context(), chi.URLParam(r, "id"), force)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Sent bool `json:"sent"`
	}{sent})
}

// GET /v1/usage/projects/{id}?recurse=true&dedup=&ignored=&deleted=&save=true
func (h *UsageHandler) GetProjectUsage(w http.ResponseWriter, r *http.Request) {
	opts := computeOptionsFromQuery(r)
	recurse := r.URL.Query().Get("recurse") == "true"
	save := r.URL.Query().Get("save") == "true"

	usage, err := h.usageService.CalculateNodeUsage(r.Context(), chi.URLParam(r, "id"), opts, recurse, save)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Usage   int64 `json:"usage"`
		Recurse bool  `json:"recurse"`
	}{usage, recurse})
}
