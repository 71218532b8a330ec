package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"labvault/internal/domain"
)

const pqUniqueViolation = "23505"

type NodeRepository struct {
	db *sqlx.DB
}

func NewNodeRepository(db *sqlx.DB) *NodeRepository {
	return &NodeRepository{db: db}
}

// CreateRoot inserts a project's storage root (no parent, root_id = id).
func (r *NodeRepository) CreateRoot(ctx context.Context, projectID string) (*domain.FileNode, error) {
	node := &domain.FileNode{
		ID:        uuid.New(),
		Name:      "",
		Kind:      domain.NodeKindFolder,
		ProjectID: projectID,
	}
	node.RootID = node.ID

	query := `
        INSERT INTO file_nodes (id, name, kind, parent_id, root_id, project_id)
        VALUES ($1, $2, $3, NULL, $4, $5)
        RETURNING created_at, updated_at`

	err := r.db.QueryRowContext(ctx, query,
		node.ID, node.Name, node.Kind, node.RootID, node.ProjectID,
	).Scan(&node.CreatedAt, &node.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create root node: %w", err)
	}

	return node, nil
}

func (r *NodeRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.FileNode, error) {
	var node domain.FileNode
	query := `SELECT * FROM file_nodes WHERE id = $1`

	err := r.db.GetContext(ctx, &node, query, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("node %s: %w", id, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get node: %w", err)
	}

	return &node, nil
}

func (r *NodeRepository) GetChild(ctx context.Context, parentID uuid.UUID, name string, kind domain.NodeKind) (*domain.FileNode, error) {
	var node domain.FileNode
	query := `
        SELECT * FROM file_nodes
        WHERE parent_id = $1 AND name = $2 AND kind = $3
        LIMIT 1`

	err := r.db.GetContext(ctx, &node, query, parentID, name, kind)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get child: %w", err)
	}

	return &node, nil
}

// GetOrCreateChild inserts a child under parent, recovering locally when a
// concurrent creator wins the (root, parent, kind, name) uniqueness race: the
// existing row is re-fetched and returned with created=false. The conflict is
// never surfaced to the caller.
func (r *NodeRepository) GetOrCreateChild(ctx context.Context, parent *domain.FileNode, name string, kind domain.NodeKind) (*domain.FileNode, bool, error) {
	existing, err := r.GetChild(ctx, parent.ID, name, kind)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	node := &domain.FileNode{
		ID:        uuid.New(),
		Name:      name,
		Kind:      kind,
		ParentID:  &parent.ID,
		RootID:    parent.RootID,
		ProjectID: parent.ProjectID,
	}

	query := `
        INSERT INTO file_nodes (id, name, kind, parent_id, root_id, project_id)
        VALUES ($1, $2, $3, $4, $5, $6)
        RETURNING created_at, updated_at`

	err = r.db.QueryRowContext(ctx, query,
		node.ID, node.Name, node.Kind, node.ParentID, node.RootID, node.ProjectID,
	).Scan(&node.CreatedAt, &node.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			log.Printf("[NodeRepository] Sibling create race on %q under %s, re-fetching", name, parent.ID)
			winner, fetchErr := r.GetChild(ctx, parent.ID, name, kind)
			if fetchErr != nil {
				return nil, false, fetchErr
			}
			if winner == nil {
				return nil, false, fmt.Errorf("failed to recover from create conflict: %w", err)
			}
			return winner, false, nil
		}
		return nil, false, fmt.Errorf("failed to create node: %w", err)
	}

	return node, true, nil
}

func (r *NodeRepository) Children(ctx context.Context, parentID uuid.UUID) ([]domain.FileNode, error) {
	var nodes []domain.FileNode
	query := `SELECT * FROM file_nodes WHERE parent_id = $1 ORDER BY kind, name`

	err := r.db.SelectContext(ctx, &nodes, query, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get children: %w", err)
	}

	return nodes, nil
}

// ParentChain returns the nodes from the storage root down to and including
// the given node.
func (r *NodeRepository) ParentChain(ctx context.Context, id uuid.UUID) ([]domain.FileNode, error) {
	var nodes []domain.FileNode
	query := `
        WITH RECURSIVE chain AS (
            SELECT n.*, 0 AS depth
            FROM file_nodes n
            WHERE n.id = $1

            UNION ALL

            SELECT p.*, c.depth + 1
            FROM file_nodes p
            INNER JOIN chain c ON p.id = c.parent_id
        )
        SELECT id, name, kind, parent_id, root_id, project_id, created_at, updated_at
        FROM chain
        ORDER BY depth DESC`

	err := r.db.SelectContext(ctx, &nodes, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get parent chain: %w", err)
	}
	if len(nodes) == 0 {
		return nil, fmt.Errorf("node %s: %w", id, domain.ErrNotFound)
	}

	return nodes, nil
}

// Descendants returns the full subtree under id, deepest nodes first, so a
// delete cascade processes children before their ancestors.
func (r *NodeRepository) Descendants(ctx context.Context, id uuid.UUID) ([]domain.FileNode, error) {
	var nodes []domain.FileNode
	query := `
        WITH RECURSIVE subtree AS (
            SELECT n.*, 0 AS depth
            FROM file_nodes n
            WHERE n.id = $1

            UNION ALL

            SELECT c.*, s.depth + 1
            FROM file_nodes c
            INNER JOIN subtree s ON c.parent_id = s.id
        )
        SELECT id, name, kind, parent_id, root_id, project_id, created_at, updated_at
        FROM subtree
        WHERE id != $1
        ORDER BY depth DESC`

	err := r.db.SelectContext(ctx, &nodes, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get descendants: %w", err)
	}

	return nodes, nil
}

// Move reparents a node and cascades the new ancestry's root and project to
// every descendant, including the project attribution of their versions.
func (r *NodeRepository) Move(ctx context.Context, nodeID uuid.UUID, newParent *domain.FileNode) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
        UPDATE file_nodes
        SET parent_id = $1,
            root_id = $2,
            project_id = $3,
            updated_at = CURRENT_TIMESTAMP
        WHERE id = $4
    `, newParent.ID, newParent.RootID, newParent.ProjectID, nodeID)
	if err != nil {
		return fmt.Errorf("failed to move node: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
        WITH RECURSIVE subtree AS (
            SELECT id FROM file_nodes WHERE id = $1
            UNION ALL
            SELECT c.id
            FROM file_nodes c
            INNER JOIN subtree s ON c.parent_id = s.id
        )
        UPDATE file_nodes f
        SET root_id = $2,
            project_id = $3,
            updated_at = CURRENT_TIMESTAMP
        WHERE f.id IN (SELECT id FROM subtree)
    `, nodeID, newParent.RootID, newParent.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to update subtree roots: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
        WITH RECURSIVE subtree AS (
            SELECT id FROM file_nodes WHERE id = $1
            UNION ALL
            SELECT c.id
            FROM file_nodes c
            INNER JOIN subtree s ON c.parent_id = s.id
        )
        UPDATE file_versions v
        SET project_id = $2
        WHERE v.node_id IN (SELECT id FROM subtree)
    `, nodeID, newParent.ProjectID)
	if err != nil {
		return fmt.Errorf("failed to update version attribution: %w", err)
	}

	return tx.Commit()
}

// IsAncestor reports whether a is an ancestor of b. Used to reject moves of a
// folder under its own subtree.
func (r *NodeRepository) IsAncestor(ctx context.Context, a, b uuid.UUID) (bool, error) {
	var found bool
	query := `
        WITH RECURSIVE chain AS (
            SELECT id, parent_id FROM file_nodes WHERE id = $1
            UNION ALL
            SELECT p.id, p.parent_id
            FROM file_nodes p
            INNER JOIN chain c ON p.id = c.parent_id
        )
        SELECT EXISTS(SELECT 1 FROM chain WHERE id = $2)`

	err := r.db.GetContext(ctx, &found, query, b, a)
	if err != nil {
		return false, fmt.Errorf("failed to check ancestry: %w", err)
	}

	return found, nil
}
