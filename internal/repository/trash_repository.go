package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"labvault/internal/domain"
)

type TrashRepository struct {
	db *sqlx.DB
}

func NewTrashRepository(db *sqlx.DB) *TrashRepository {
	return &TrashRepository{db: db}
}

// MoveToTrash writes a graveyard copy and removes the live node row in one
// transaction, so a node is never both live and trashed. Graveyard rows are
// never updated afterwards.
func (r *TrashRepository) MoveToTrash(ctx context.Context, trashed *domain.TrashedFileNode, nodeID uuid.UUID) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
        INSERT INTO trashed_file_nodes (
            node_id, name, kind, parent_id, root_id, project_id,
            path, size_bytes, version_ids, deleted_by
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
        RETURNING id, deleted_at`

	err = tx.QueryRowContext(ctx, query,
		trashed.NodeID,
		trashed.Name,
		trashed.Kind,
		trashed.ParentID,
		trashed.RootID,
		trashed.ProjectID,
		trashed.Path,
		trashed.SizeBytes,
		trashed.VersionIDs,
		trashed.DeletedBy,
	).Scan(&trashed.ID, &trashed.DeletedAt)
	if err != nil {
		return fmt.Errorf("failed to insert trash row: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM file_nodes WHERE id = $1`, nodeID); err != nil {
		return fmt.Errorf("failed to delete node row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit trash move: %w", err)
	}

	return nil
}

func (r *TrashRepository) ListByProject(ctx context.Context, projectID string) ([]domain.TrashedFileNode, error) {
	var items []domain.TrashedFileNode
	query := `
        SELECT * FROM trashed_file_nodes
        WHERE project_id = $1
        ORDER BY deleted_at DESC, id DESC`

	err := r.db.SelectContext(ctx, &items, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list trash: %w", err)
	}

	return items, nil
}

// Purge permanently erases graveyard rows and the version rows they
// reference, atomically. Version history referenced only from trash must not
// outlive its graveyard records.
func (r *TrashRepository) Purge(ctx context.Context, trashIDs, versionIDs []int64) error {
	if len(trashIDs) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if len(versionIDs) > 0 {
		query, args, err := sqlx.In(`DELETE FROM file_versions WHERE id IN (?)`, versionIDs)
		if err != nil {
			return fmt.Errorf("failed to build query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return fmt.Errorf("failed to delete versions: %w", err)
		}
	}

	query, args, err := sqlx.In(`DELETE FROM trashed_file_nodes WHERE id IN (?)`, trashIDs)
	if err != nil {
		return fmt.Errorf("failed to build query: %w", err)
	}
	if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to delete trash rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit purge: %w", err)
	}

	return nil
}
