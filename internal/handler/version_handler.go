package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"labvault/internal/domain"
	"labvault/internal/service"
)

type VersionHandler struct {
	versionService *service.VersionService
}

func NewVersionHandler(versionService *service.VersionService) *VersionHandler {
	return &VersionHandler{versionService: versionService}
}

type createVersionRequest struct {
	Creator    string                 `json:"creator"`
	Location   domain.Location        `json:"location"`
	Metadata   map[string]interface{} `json:"metadata"`
	IgnoreSize bool                   `json:"ignore_size"`
}

// POST /v1/nodes/{id}/versions
func (h *VersionHandler) CreateVersion(w http.ResponseWriter, r *http.Request) {
	nodeID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid node ID", http.StatusBadRequest)
		return
	}

	var req createVersionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	version, created, err := h.versionService.CreateVersion(
		r.Context(), nodeID, req.Creator, req.Location, req.Metadata, req.IgnoreSize)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, struct {
		Version *domain.FileVersion `json:"version"`
		Created bool                `json:"created"`
	}{version, created})
}

// GET /v1/nodes/{id}/versions
func (h *VersionHandler) ListVersions(w http.ResponseWriter, r *http.Request) {
	nodeID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid node ID", http.StatusBadRequest)
		return
	}

	versions, err := h.versionService.ListVersions(r.Context(), nodeID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Versions []domain.FileVersion `json:"versions"`
	}{versions})
}

// GET /v1/nodes/{id}/versions/{number}?required=true
// Number 0 addresses the latest version. Without required=true a missing
// version reads as null rather than an error.
func (h *VersionHandler) GetVersion(w http.ResponseWriter, r *http.Request) {
	nodeID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid node ID", http.StatusBadRequest)
		return
	}

	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || number < 0 {
		http.Error(w, "Invalid version number", http.StatusBadRequest)
		return
	}

	required := r.URL.Query().Get("required") == "true"

	version, err := h.versionService.GetVersion(r.Context(), nodeID, number, required)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Version *domain.FileVersion `json:"version"`
	}{version})
}
