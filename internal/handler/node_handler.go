package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"labvault/internal/domain"
	"labvault/internal/service"
)

type NodeHandler struct {
	treeService  *service.TreeService
	usageService *service.UsageService
}

func NewNodeHandler(treeService *service.TreeService, usageService *service.UsageService) *NodeHandler {
	return &NodeHandler{
		treeService:  treeService,
		usageService: usageService,
	}
}

type createByPathRequest struct {
	ProjectID string `json:"project_id"`
	RootID    string `json:"root_id"`
	Path      string `json:"path"`
}

type appendChildRequest struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

type moveNodeRequest struct {
	NewParentID string `json:"new_parent_id"`
}

// resolveRoot maps a project identifier, or a root node id directly, onto the
// root folder scoping the request. Every tree operation is scoped to exactly
// one project tree.
func (h *NodeHandler) resolveRoot(ctx context.Context, projectID, rootID string) (uuid.UUID, error) {
	if rootID != "" {
		id, err := uuid.Parse(rootID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("%w: invalid root id %q", domain.ErrValidation, rootID)
		}
		// Resolving through project settings rejects ids of non-root nodes.
		settings, err := h.usageService.GetProjectByRoot(ctx, id)
		if err != nil {
			return uuid.Nil, err
		}
		return settings.RootNodeID, nil
	}

	if projectID == "" {
		return uuid.Nil, fmt.Errorf("%w: project_id or root_id is required", domain.ErrValidation)
	}
	settings, err := h.usageService.GetProject(ctx, projectID)
	if err != nil {
		return uuid.Nil, err
	}
	return settings.RootNodeID, nil
}

// POST /v1/nodes/path
func (h *NodeHandler) CreateByPath(w http.ResponseWriter, r *http.Request) {
	var req createByPathRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	rootID, err := h.resolveRoot(r.Context(), req.ProjectID, req.RootID)
	if err != nil {
		writeError(w, err)
		return
	}

	node, created, err := h.treeService.CreateChildByPath(r.Context(), req.Path, rootID)
	if err != nil {
		writeError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, struct {
		Node    *domain.FileNode `json:"node"`
		Created bool             `json:"created"`
	}{node, created})
}

// GET /v1/nodes/{id}?project_id=...&kind=file|folder (or ?root_id=...)
// The literal id "root" addresses the project's root folder.
func (h *NodeHandler) GetNode(w http.ResponseWriter, r *http.Request) {
	rootID, err := h.resolveRoot(r.Context(), r.URL.Query().Get("project_id"), r.URL.Query().Get("root_id"))
	if err != nil {
		writeError(w, err)
		return
	}

	id := chi.URLParam(r, "id")
	if id == "root" {
		id = ""
	}

	var node *domain.FileNode
	switch r.URL.Query().Get("kind") {
	case "":
		node, err = h.treeService.Get(r.Context(), id, rootID)
	case string(domain.NodeKindFile):
		node, err = h.treeService.GetFile(r.Context(), id, rootID)
	case string(domain.NodeKindFolder):
		node, err = h.treeService.GetFolder(r.Context(), id, rootID)
	default:
		http.Error(w, "Invalid kind filter", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Node *domain.FileNode `json:"node"`
	}{node})
}

// GET /v1/nodes/{id}/children
func (h *NodeHandler) ListChildren(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid node ID", http.StatusBadRequest)
		return
	}

	children, err := h.treeService.Children(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Children []domain.FileNode `json:"children"`
	}{children})
}

// GET /v1/nodes/{id}/path
func (h *NodeHandler) GetPath(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid node ID", http.StatusBadRequest)
		return
	}

	path, err := h.treeService.MaterializedPath(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Path string `json:"path"`
	}{path})
}

// POST /v1/nodes/{id}/children
func (h *NodeHandler) AppendChild(w http.ResponseWriter, r *http.Request) {
	parentID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid node ID", http.StatusBadRequest)
		return
	}

	var req appendChildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var node *domain.FileNode
	switch req.Kind {
	case string(domain.NodeKindFile):
		node, err = h.treeService.AppendFile(r.Context(), parentID, req.Name)
	case string(domain.NodeKindFolder):
		node, err = h.treeService.AppendFolder(r.Context(), parentID, req.Name)
	default:
		http.Error(w, "Kind must be file or folder", http.StatusBadRequest)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, struct {
		Node *domain.FileNode `json:"node"`
	}{node})
}

// DELETE /v1/nodes/{id}?recurse=true&deleted_by=...
func (h *NodeHandler) DeleteNode(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid node ID", http.StatusBadRequest)
		return
	}

	recurse := r.URL.Query().Get("recurse") == "true"
	deletedBy := r.URL.Query().Get("deleted_by")

	if err := h.treeService.Delete(r.Context(), id, recurse, deletedBy); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// PUT /v1/nodes/{id}/move
func (h *NodeHandler) MoveNode(w http.ResponseWriter, r *http.Request) {
	id, newParentID, ok := h.parseMovePair(w, r)
	if !ok {
		return
	}

	node, err := h.treeService.MoveUnder(r.Context(), id, newParentID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		Node *domain.FileNode `json:"node"`
	}{node})
}

// POST /v1/nodes/{id}/copy
func (h *NodeHandler) CopyNode(w http.ResponseWriter, r *http.Request) {
	id, newParentID, ok := h.parseMovePair(w, r)
	if !ok {
		return
	}

	node, err := h.treeService.CopyUnder(r.Context(), id, newParentID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, struct {
		Node *domain.FileNode `json:"node"`
	}{node})
}

func (h *NodeHandler) parseMovePair(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "Invalid node ID", http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, false
	}

	var req moveNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, false
	}

	newParentID, err := uuid.Parse(req.NewParentID)
	if err != nil {
		http.Error(w, "Invalid new_parent_id", http.StatusBadRequest)
		return uuid.Nil, uuid.Nil, false
	}
	return id, newParentID, true
}
