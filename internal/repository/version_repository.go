package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"labvault/internal/domain"
)

type VersionRepository struct {
	db *sqlx.DB
}

func NewVersionRepository(db *sqlx.DB) *VersionRepository {
	return &VersionRepository{db: db}
}

// Create appends a version to a file's history. The version number is
// assigned here: history is append-only and the latest version is the one
// with the highest number.
func (r *VersionRepository) Create(ctx context.Context, version *domain.FileVersion) error {
	query := `
        INSERT INTO file_versions (
            node_id, version_number, creator_id, project_id,
            location_service, location_container, location_object, worker_host,
            size_bytes, content_type, content_modified, md5, sha256,
            archive_key, deleted, has_duplicate, ignore_size
        )
        VALUES (
            $1,
            (SELECT COALESCE(MAX(version_number), 0) + 1 FROM file_versions WHERE node_id = $1),
            $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16
        )
        RETURNING id, version_number, created_at`

	return r.db.QueryRowContext(ctx, query,
		version.NodeID,
		version.Creator,
		version.ProjectID,
		version.Service,
		version.Container,
		version.Object,
		version.WorkerHost,
		version.SizeBytes,
		version.ContentType,
		version.Modified,
		version.MD5,
		version.SHA256,
		version.ArchiveKey,
		version.Deleted,
		version.HasDuplicate,
		version.IgnoreSize,
	).Scan(&version.ID, &version.Number, &version.CreatedAt)
}

// Latest returns a file's newest version, or nil when the file has none.
func (r *VersionRepository) Latest(ctx context.Context, nodeID uuid.UUID) (*domain.FileVersion, error) {
	var version domain.FileVersion
	query := `
        SELECT * FROM file_versions
        WHERE node_id = $1
        ORDER BY version_number DESC
        LIMIT 1`

	err := r.db.GetContext(ctx, &version, query, nodeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest version: %w", err)
	}

	return &version, nil
}

// ByNumber returns version n of a file (1-based), or nil when absent.
func (r *VersionRepository) ByNumber(ctx context.Context, nodeID uuid.UUID, number int) (*domain.FileVersion, error) {
	var version domain.FileVersion
	query := `SELECT * FROM file_versions WHERE node_id = $1 AND version_number = $2`

	err := r.db.GetContext(ctx, &version, query, nodeID, number)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}

	return &version, nil
}

func (r *VersionRepository) ListByNode(ctx context.Context, nodeID uuid.UUID) ([]domain.FileVersion, error) {
	var versions []domain.FileVersion
	query := `
        SELECT * FROM file_versions
        WHERE node_id = $1
        ORDER BY version_number`

	err := r.db.SelectContext(ctx, &versions, query, nodeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}

	return versions, nil
}

// ListByCreator returns every version attributed to a creator, including
// deleted and ignored rows. Filtering is the recompute's job.
func (r *VersionRepository) ListByCreator(ctx context.Context, creator string) ([]domain.FileVersion, error) {
	var versions []domain.FileVersion
	query := `SELECT * FROM file_versions WHERE creator_id = $1 ORDER BY id`

	err := r.db.SelectContext(ctx, &versions, query, creator)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions by creator: %w", err)
	}

	return versions, nil
}

func (r *VersionRepository) ListByProject(ctx context.Context, projectID string) ([]domain.FileVersion, error) {
	var versions []domain.FileVersion
	query := `SELECT * FROM file_versions WHERE project_id = $1 ORDER BY id`

	err := r.db.SelectContext(ctx, &versions, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions by project: %w", err)
	}

	return versions, nil
}

// CountBillablePeers counts the other live, counted versions by the same
// creator sharing a location hash. The result drives the duplicate-group
// ownership rule in domain.FileVersion.UsageDelta.
func (r *VersionRepository) CountBillablePeers(ctx context.Context, creator, locationHash string, excludeID int64) (int, error) {
	var count int
	query := `
        SELECT COUNT(*) FROM file_versions
        WHERE creator_id = $1
        AND location_object = $2
        AND id != $3
        AND NOT deleted
        AND NOT ignore_size`

	err := r.db.GetContext(ctx, &count, query, creator, locationHash, excludeID)
	if err != nil {
		return 0, fmt.Errorf("failed to count billable peers: %w", err)
	}

	return count, nil
}

// FlagDuplicateGroup marks every live, counted member of a (creator, hash)
// group as having a duplicate. Run after a second member appears, it also
// retroactively flags the first, keeping has_duplicate eventually consistent
// across the group.
func (r *VersionRepository) FlagDuplicateGroup(ctx context.Context, creator, locationHash string) error {
	query := `
        UPDATE file_versions
        SET has_duplicate = TRUE
        WHERE creator_id = $1
        AND location_object = $2
        AND NOT deleted
        AND NOT ignore_size
        AND NOT has_duplicate`

	_, err := r.db.ExecContext(ctx, query, creator, locationHash)
	if err != nil {
		return fmt.Errorf("failed to flag duplicate group: %w", err)
	}

	return nil
}

// FindArchiveKey looks for an existing cold-storage pointer for a content
// hash, across all creators. Pure optimization: archive dedup never affects
// size accounting.
func (r *VersionRepository) FindArchiveKey(ctx context.Context, contentHash string, excludeID int64) (*string, error) {
	var key string
	query := `
        SELECT archive_key FROM file_versions
        WHERE (sha256 = $1 OR md5 = $1)
        AND archive_key IS NOT NULL
        AND id != $2
        LIMIT 1`

	err := r.db.GetContext(ctx, &key, query, contentHash, excludeID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find archive key: %w", err)
	}

	return &key, nil
}

func (r *VersionRepository) SetArchiveKey(ctx context.Context, id int64, key string) error {
	query := `UPDATE file_versions SET archive_key = $1 WHERE id = $2`

	_, err := r.db.ExecContext(ctx, query, key, id)
	if err != nil {
		return fmt.Errorf("failed to set archive key: %w", err)
	}

	return nil
}

func (r *VersionRepository) MarkDeleted(ctx context.Context, id int64) error {
	query := `UPDATE file_versions SET deleted = TRUE WHERE id = $1`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to mark version deleted: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("version %d: %w", id, domain.ErrNotFound)
	}

	return nil
}

// CloneForNode copies a file's version history onto another node, preserving
// locations and creators. Used by subtree copy; callers flag the resulting
// duplicate groups afterwards.
func (r *VersionRepository) CloneForNode(ctx context.Context, srcNodeID, dstNodeID uuid.UUID, dstProjectID string) error {
	query := `
        INSERT INTO file_versions (
            node_id, version_number, creator_id, project_id,
            location_service, location_container, location_object, worker_host,
            size_bytes, content_type, content_modified, md5, sha256,
            archive_key, deleted, has_duplicate, ignore_size
        )
        SELECT
            $2, version_number, creator_id, $3,
            location_service, location_container, location_object, worker_host,
            size_bytes, content_type, content_modified, md5, sha256,
            archive_key, deleted, has_duplicate, ignore_size
        FROM file_versions
        WHERE node_id = $1`

	_, err := r.db.ExecContext(ctx, query, srcNodeID, dstNodeID, dstProjectID)
	if err != nil {
		return fmt.Errorf("failed to clone versions: %w", err)
	}

	return nil
}

// ReassignCreator moves every version from one creator to another. Backs
// account merges; the caller must fully recompute usage afterwards since
// dedup groups may now span the formerly distinct creators.
func (r *VersionRepository) ReassignCreator(ctx context.Context, fromCreator, toCreator string) (int64, error) {
	query := `UPDATE file_versions SET creator_id = $1 WHERE creator_id = $2`

	result, err := r.db.ExecContext(ctx, query, toCreator, fromCreator)
	if err != nil {
		return 0, fmt.Errorf("failed to reassign creator: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows, nil
}

// ListByIDs loads specific version rows, used when purging trash.
func (r *VersionRepository) ListByIDs(ctx context.Context, ids []int64) ([]domain.FileVersion, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(`SELECT * FROM file_versions WHERE id IN (?)`, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	var versions []domain.FileVersion
	err = r.db.SelectContext(ctx, &versions, r.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions by ids: %w", err)
	}

	return versions, nil
}

// CountLiveByLocation counts live versions pointing at a backend object,
// excluding the given ids. Purge only deletes an object nobody else holds.
func (r *VersionRepository) CountLiveByLocation(ctx context.Context, locationHash string, excludeIDs []int64) (int, error) {
	if len(excludeIDs) == 0 {
		excludeIDs = []int64{0}
	}

	query, args, err := sqlx.In(
		`SELECT COUNT(*) FROM file_versions WHERE location_object = ? AND NOT deleted AND id NOT IN (?)`,
		locationHash, excludeIDs)
	if err != nil {
		return 0, fmt.Errorf("failed to build query: %w", err)
	}

	var count int
	err = r.db.GetContext(ctx, &count, r.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to count live references: %w", err)
	}

	return count, nil
}
