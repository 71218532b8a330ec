package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type NodeKind string

const (
	NodeKindFile   NodeKind = "file"
	NodeKindFolder NodeKind = "folder"
)

// FileNode is one node of a project's file tree. Folders and files live in the
// same table; (name, kind, parent_id, root_id) is unique among live nodes.
type FileNode struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	Name      string     `json:"name" db:"name"`
	Kind      NodeKind   `json:"kind" db:"kind"`
	ParentID  *uuid.UUID `json:"parent_id,omitempty" db:"parent_id"`
	RootID    uuid.UUID  `json:"root_id" db:"root_id"`
	ProjectID string     `json:"project_id" db:"project_id"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

func (n *FileNode) IsFolder() bool {
	return n.Kind == NodeKindFolder
}

func (n *FileNode) IsFile() bool {
	return n.Kind == NodeKindFile
}

// IsRoot reports whether the node is the storage root of its project.
func (n *FileNode) IsRoot() bool {
	return n.ParentID == nil
}

// NodePath is the parsed form of a "/parentID/name[/]" reference.
// An empty ParentID resolves to the storage root.
type NodePath struct {
	ParentID string
	Name     string
	Kind     NodeKind
}

// ParseNodePath parses "/parentID/childName[/]". A trailing slash marks a
// folder. A single-segment path ("/childName") targets the storage root.
func ParseNodePath(path string) (*NodePath, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrValidation)
	}

	kind := NodeKindFile
	if strings.HasSuffix(path, "/") {
		kind = NodeKindFolder
	}

	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, fmt.Errorf("%w: path has no name segment", ErrValidation)
	}

	segments := strings.Split(trimmed, "/")
	switch len(segments) {
	case 1:
		return &NodePath{ParentID: "", Name: segments[0], Kind: kind}, nil
	case 2:
		if segments[0] == "" || segments[1] == "" {
			return nil, fmt.Errorf("%w: empty path segment in %q", ErrValidation, path)
		}
		return &NodePath{ParentID: segments[0], Name: segments[1], Kind: kind}, nil
	default:
		return nil, fmt.Errorf("%w: expected /parentID/name, got %q", ErrValidation, path)
	}
}

// BuildMaterializedPath joins the names along a root-to-node chain into a
// human-readable path. Folder paths carry a trailing slash.
func BuildMaterializedPath(names []string, kind NodeKind) string {
	path := "/" + strings.Join(names, "/")
	if kind == NodeKindFolder && !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return path
}
