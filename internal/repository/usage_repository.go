package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"labvault/internal/domain"
)

type UsageRepository struct {
	db *sqlx.DB
}

func NewUsageRepository(db *sqlx.DB) *UsageRepository {
	return &UsageRepository{db: db}
}

// GetUserSettings returns a user's storage account, creating a default one on
// first reference.
func (r *UsageRepository) GetUserSettings(ctx context.Context, userID string) (*domain.UserSettings, error) {
	var settings domain.UserSettings

	err := r.db.GetContext(ctx, &settings,
		`SELECT * FROM user_settings WHERE user_id = $1`, userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			settings = domain.UserSettings{UserID: userID}
			if err := r.createUserSettings(ctx, &settings); err != nil {
				return nil, fmt.Errorf("failed to create user settings: %w", err)
			}
			return &settings, nil
		}
		return nil, fmt.Errorf("failed to get user settings: %w", err)
	}

	return &settings, nil
}

func (r *UsageRepository) createUserSettings(ctx context.Context, settings *domain.UserSettings) error {
	query := `
        INSERT INTO user_settings (user_id, storage_usage)
        VALUES ($1, 0)
        ON CONFLICT (user_id) DO UPDATE SET updated_at = CURRENT_TIMESTAMP
        RETURNING storage_usage, warning_sent, created_at, updated_at`

	return r.db.QueryRowContext(ctx, query, settings.UserID).
		Scan(&settings.StorageUsage, &settings.WarningSent, &settings.CreatedAt, &settings.UpdatedAt)
}

// ApplyUserDelta adds a signed delta to a user's cached usage counter in a
// single atomic statement, so concurrent uploads by the same user cannot lose
// an update. The same statement re-evaluates the warning flag: falling back
// under the threshold clears it.
func (r *UsageRepository) ApplyUserDelta(ctx context.Context, userID string, delta int64, policy domain.QuotaPolicy) (int64, error) {
	query := `
        UPDATE user_settings
        SET storage_usage = GREATEST(0, storage_usage + $1),
            warning_sent = CASE
                WHEN COALESCE(storage_limit_override, $2) - GREATEST(0, storage_usage + $1) >= $3 THEN FALSE
                ELSE warning_sent
            END,
            updated_at = CURRENT_TIMESTAMP
        WHERE user_id = $4
        RETURNING storage_usage`

	var usage int64
	err := r.db.QueryRowContext(ctx, query,
		delta, policy.DefaultStorageLimit, policy.WarningThreshold, userID,
	).Scan(&usage)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, err := r.GetUserSettings(ctx, userID); err != nil {
				return 0, err
			}
			return r.ApplyUserDelta(ctx, userID, delta, policy)
		}
		return 0, fmt.Errorf("failed to apply usage delta: %w", err)
	}

	return usage, nil
}

// SaveUserUsage overwrites the cached counter with a recomputed value.
// Callers guarantee the recompute succeeded; a failed recompute must never
// reach this method.
func (r *UsageRepository) SaveUserUsage(ctx context.Context, userID string, usage int64, policy domain.QuotaPolicy) error {
	query := `
        UPDATE user_settings
        SET storage_usage = $1,
            warning_sent = CASE
                WHEN COALESCE(storage_limit_override, $2) - $1 >= $3 THEN FALSE
                ELSE warning_sent
            END,
            updated_at = CURRENT_TIMESTAMP
        WHERE user_id = $4`

	result, err := r.db.ExecContext(ctx, query,
		usage, policy.DefaultStorageLimit, policy.WarningThreshold, userID)
	if err != nil {
		return fmt.Errorf("failed to save user usage: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("user settings %s: %w", userID, domain.ErrNotFound)
	}

	return nil
}

func (r *UsageRepository) MarkWarningSent(ctx context.Context, userID string, at time.Time) error {
	query := `
        UPDATE user_settings
        SET warning_sent = TRUE,
            warning_last_sent = $1,
            updated_at = CURRENT_TIMESTAMP
        WHERE user_id = $2`

	_, err := r.db.ExecContext(ctx, query, at, userID)
	if err != nil {
		return fmt.Errorf("failed to mark warning sent: %w", err)
	}

	return nil
}

// AddLimit folds an absorbed account's storage limit into the survivor's
// override during a merge.
func (r *UsageRepository) AddLimit(ctx context.Context, userID string, add int64, policy domain.QuotaPolicy) error {
	query := `
        UPDATE user_settings
        SET storage_limit_override = COALESCE(storage_limit_override, $1) + $2,
            updated_at = CURRENT_TIMESTAMP
        WHERE user_id = $3`

	_, err := r.db.ExecContext(ctx, query, policy.DefaultStorageLimit, add, userID)
	if err != nil {
		return fmt.Errorf("failed to add limit: %w", err)
	}

	return nil
}

// CreateProject registers a project's storage account against its root node.
func (r *UsageRepository) CreateProject(ctx context.Context, settings *domain.NodeSettings) error {
	query := `
        INSERT INTO project_settings (project_id, parent_project_id, root_node_id, storage_usage)
        VALUES ($1, $2, $3, 0)
        RETURNING created_at, updated_at`

	return r.db.QueryRowContext(ctx, query,
		settings.ProjectID, settings.ParentProjectID, settings.RootNodeID,
	).Scan(&settings.CreatedAt, &settings.UpdatedAt)
}

func (r *UsageRepository) GetNodeSettings(ctx context.Context, projectID string) (*domain.NodeSettings, error) {
	var settings domain.NodeSettings

	err := r.db.GetContext(ctx, &settings,
		`SELECT * FROM project_settings WHERE project_id = $1`, projectID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("project %s: %w", projectID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get project settings: %w", err)
	}

	return &settings, nil
}

func (r *UsageRepository) GetNodeSettingsByRoot(ctx context.Context, rootID uuid.UUID) (*domain.NodeSettings, error) {
	var settings domain.NodeSettings

	err := r.db.GetContext(ctx, &settings,
		`SELECT * FROM project_settings WHERE root_node_id = $1`, rootID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("project with root %s: %w", rootID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get project settings: %w", err)
	}

	return &settings, nil
}

// ApplyNodeDelta mirrors ApplyUserDelta for a project's counter.
func (r *UsageRepository) ApplyNodeDelta(ctx context.Context, projectID string, delta int64) (int64, error) {
	query := `
        UPDATE project_settings
        SET storage_usage = GREATEST(0, storage_usage + $1),
            updated_at = CURRENT_TIMESTAMP
        WHERE project_id = $2
        RETURNING storage_usage`

	var usage int64
	err := r.db.QueryRowContext(ctx, query, delta, projectID).Scan(&usage)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, fmt.Errorf("project %s: %w", projectID, domain.ErrNotFound)
		}
		return 0, fmt.Errorf("failed to apply project usage delta: %w", err)
	}

	return usage, nil
}

func (r *UsageRepository) SaveNodeUsage(ctx context.Context, projectID string, usage int64) error {
	query := `
        UPDATE project_settings
        SET storage_usage = $1,
            updated_at = CURRENT_TIMESTAMP
        WHERE project_id = $2`

	result, err := r.db.ExecContext(ctx, query, usage, projectID)
	if err != nil {
		return fmt.Errorf("failed to save project usage: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("project settings %s: %w", projectID, domain.ErrNotFound)
	}

	return nil
}

// ListChildProjects returns the projects whose parent is the given project.
// Each child project has its own storage root.
func (r *UsageRepository) ListChildProjects(ctx context.Context, projectID string) ([]domain.NodeSettings, error) {
	var projects []domain.NodeSettings
	query := `SELECT * FROM project_settings WHERE parent_project_id = $1 ORDER BY project_id`

	err := r.db.SelectContext(ctx, &projects, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list child projects: %w", err)
	}

	return projects, nil
}

// ListEditableProjects returns every project the user can edit, one row per
// contributor path. Reachability is deliberately not deduplicated here.
func (r *UsageRepository) ListEditableProjects(ctx context.Context, userID string) ([]domain.NodeSettings, error) {
	var projects []domain.NodeSettings
	query := `
        SELECT p.* FROM project_settings p
        INNER JOIN contributors c ON c.project_id = p.project_id
        WHERE c.user_id = $1 AND c.can_edit
        ORDER BY p.project_id`

	err := r.db.SelectContext(ctx, &projects, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list editable projects: %w", err)
	}

	return projects, nil
}

func (r *UsageRepository) AddContributor(ctx context.Context, projectID, userID string, canEdit bool) error {
	query := `
        INSERT INTO contributors (project_id, user_id, can_edit)
        VALUES ($1, $2, $3)
        ON CONFLICT (project_id, user_id) DO UPDATE SET can_edit = $3`

	_, err := r.db.ExecContext(ctx, query, projectID, userID, canEdit)
	if err != nil {
		return fmt.Errorf("failed to add contributor: %w", err)
	}

	return nil
}

// ListUserIDs returns every user with a storage account, for the periodic
// reconciliation pass.
func (r *UsageRepository) ListUserIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.SelectContext(ctx, &ids, `SELECT user_id FROM user_settings ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	return ids, nil
}
