package handler

import (
	"encoding/json"
	"net/http"

	"labvault/internal/domain"
	"labvault/internal/service"
)

type TrashHandler struct {
	trashService *service.TrashService
}

func NewTrashHandler(trashService *service.TrashService) *TrashHandler {
	return &TrashHandler{trashService: trashService}
}

type purgeTrashRequest struct {
	ProjectID string `json:"project_id"`
}

// GET /v1/trash?project_id=...
func (h *TrashHandler) ListTrash(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	if projectID == "" {
		http.Error(w, "project_id is required", http.StatusBadRequest)
		return
	}

	items, err := h.trashService.ListTrash(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Items []domain.TrashedFileNode `json:"items"`
	}{items})
}

// POST /v1/trash/purge
func (h *TrashHandler) PurgeTrash(w http.ResponseWriter, r *http.Request) {
	var req purgeTrashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ProjectID == "" {
		http.Error(w, "project_id is required", http.StatusBadRequest)
		return
	}

	purged, err := h.trashService.Purge(r.Context(), req.ProjectID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Purged int `json:"purged"`
	}{purged})
}
