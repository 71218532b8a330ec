package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// TrashedFileNode is the permanent graveyard copy of a deleted node: its
// identity, materialized path and version ids at deletion time. Rows are
// append-only and never mutated.
type TrashedFileNode struct {
	ID         int64         `json:"id" db:"id"`
	NodeID     uuid.UUID     `json:"node_id" db:"node_id"`
	Name       string        `json:"name" db:"name"`
	Kind       NodeKind      `json:"kind" db:"kind"`
	ParentID   *uuid.UUID    `json:"parent_id,omitempty" db:"parent_id"`
	RootID     uuid.UUID     `json:"root_id" db:"root_id"`
	ProjectID  string        `json:"project_id" db:"project_id"`
	Path       string        `json:"path" db:"path"`
	SizeBytes  int64         `json:"size_bytes" db:"size_bytes"`
	VersionIDs pq.Int64Array `json:"version_ids" db:"version_ids"`
	DeletedBy  string        `json:"deleted_by" db:"deleted_by"`
	DeletedAt  time.Time     `json:"deleted_at" db:"deleted_at"`
}
