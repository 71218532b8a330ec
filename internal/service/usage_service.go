package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"labvault/internal/domain"
)

// Mailer is the notification collaborator. The engine only decides whether a
// warning goes out and stamps the bookkeeping; composition and delivery live
// elsewhere.
type Mailer interface {
	SendStorageWarning(ctx context.Context, userID string, usedBytes, limitBytes int64) error
}

// LogMailer satisfies Mailer by logging the decision. Stands in wherever no
// real dispatcher is wired.
type LogMailer struct{}

func (LogMailer) SendStorageWarning(_ context.Context, userID string, usedBytes, limitBytes int64) error {
	log.Printf("[Mailer] Storage warning for %s: %s of %s used",
		userID, humanize.Bytes(uint64(usedBytes)), humanize.Bytes(uint64(limitBytes)))
	return nil
}

// UsageService maintains per-user and per-project storage counters,
// reconciles them against authoritative recomputes and gates quota warnings.
type UsageService struct {
	usageRepo   UsageStore
	versionRepo VersionStore
	nodeRepo    NodeStore
	mailer      Mailer
	policy      domain.QuotaPolicy
}

func NewUsageService(
	usageRepo UsageStore,
	versionRepo VersionStore,
	nodeRepo NodeStore,
	mailer Mailer,
	policy domain.QuotaPolicy,
) *UsageService {
	return &UsageService{
		usageRepo:   usageRepo,
		versionRepo: versionRepo,
		nodeRepo:    nodeRepo,
		mailer:      mailer,
		policy:      policy,
	}
}

func (s *UsageService) Policy() domain.QuotaPolicy {
	return s.policy
}

// CreateProject provisions a project's storage root and its usage account.
func (s *UsageService) CreateProject(ctx context.Context, projectID string, parentProjectID *string) (*domain.NodeSettings, error) {
	if projectID == "" {
		return nil, fmt.Errorf("%w: project id is required", domain.ErrValidation)
	}

	root, err := s.nodeRepo.CreateRoot(ctx, projectID)
	if err != nil {
		return nil, err
	}

	settings := &domain.NodeSettings{
		ProjectID:       projectID,
		ParentProjectID: parentProjectID,
		RootNodeID:      root.ID,
	}
	if err := s.usageRepo.CreateProject(ctx, settings); err != nil {
		return nil, err
	}

	return settings, nil
}

func (s *UsageService) GetProject(ctx context.Context, projectID string) (*domain.NodeSettings, error) {
	return s.usageRepo.GetNodeSettings(ctx, projectID)
}

// GetProjectByRoot resolves the project owning a storage root, for callers
// that address a tree by its root node rather than by project id.
func (s *UsageService) GetProjectByRoot(ctx context.Context, rootID uuid.UUID) (*domain.NodeSettings, error) {
	return s.usageRepo.GetNodeSettingsByRoot(ctx, rootID)
}

func (s *UsageService) AddContributor(ctx context.Context, projectID, userID string, canEdit bool) error {
	return s.usageRepo.AddContributor(ctx, projectID, userID, canEdit)
}

// ApplyVersionDelta applies a version's signed usage contribution to both the
// creator's account and the owning project's account, each via an atomic
// counter update.
func (s *UsageService) ApplyVersionDelta(ctx context.Context, creator, projectID string, delta int64) error {
	if delta == 0 {
		return nil
	}

	if _, err := s.usageRepo.ApplyUserDelta(ctx, creator, delta, s.policy); err != nil {
		return fmt.Errorf("failed to update user usage: %w", err)
	}
	if _, err := s.usageRepo.ApplyNodeDelta(ctx, projectID, delta); err != nil {
		return fmt.Errorf("failed to update project usage: %w", err)
	}

	return nil
}

// GetUserQuota returns the account view served over the API.
func (s *UsageService) GetUserQuota(ctx context.Context, userID string) (*domain.QuotaInfo, error) {
	settings, err := s.usageRepo.GetUserSettings(ctx, userID)
	if err != nil {
		return nil, err
	}

	limit := settings.StorageLimit(s.policy)
	info := &domain.QuotaInfo{
		TotalSpace:     limit,
		UsedSpace:      settings.StorageUsage,
		AvailableSpace: limit - settings.StorageUsage,
		WarningSent:    settings.WarningSent,
	}
	if limit > 0 {
		info.UsagePercent = float64(settings.StorageUsage) / float64(limit) * 100
	}

	return info, nil
}

// CalculateUserUsage is the authoritative recompute over every version
// attributed to the user. Persisting is only allowed for the canonical
// options; any other combination is a read-only diagnostic. A recompute that
// fails never touches the cached counter.
func (s *UsageService) CalculateUserUsage(ctx context.Context, userID string, opts domain.ComputeOptions, save bool) (int64, error) {
	if save && !opts.Canonical() {
		return 0, fmt.Errorf("%w: only the canonical recompute may be persisted", domain.ErrValidation)
	}

	versions, err := s.versionRepo.ListByCreator(ctx, userID)
	if err != nil {
		return 0, err
	}

	usage := domain.ComputeUsage(versions, opts)

	if save {
		if err := s.usageRepo.SaveUserUsage(ctx, userID, usage, s.policy); err != nil {
			return 0, err
		}
		log.Printf("[UsageService] Reconciled usage for %s: %s", userID, humanize.Bytes(uint64(usage)))
	}

	return usage, nil
}

// CalculateNodeUsage recomputes a project's usage. With recurse, every
// descendant project's own storage root is summed in as well.
func (s *UsageService) CalculateNodeUsage(ctx context.Context, projectID string, opts domain.ComputeOptions, recurse, save bool) (int64, error) {
	if save && !opts.Canonical() {
		return 0, fmt.Errorf("%w: only the canonical recompute may be persisted", domain.ErrValidation)
	}

	versions, err := s.versionRepo.ListByProject(ctx, projectID)
	if err != nil {
		return 0, err
	}

	usage := domain.ComputeUsage(versions, opts)

	if save {
		if err := s.usageRepo.SaveNodeUsage(ctx, projectID, usage); err != nil {
			return 0, err
		}
	}

	if recurse {
		children, err := s.usageRepo.ListChildProjects(ctx, projectID)
		if err != nil {
			return 0, err
		}
		for _, child := range children {
			childUsage, err := s.CalculateNodeUsage(ctx, child.ProjectID, opts, true, save)
			if err != nil {
				return 0, err
			}
			usage += childUsage
		}
	}

	return usage, nil
}

// CalculateCollaborativeUsage sums non-recursive project usage over every
// project the user can edit. A project reachable through several contributor
// paths is summed once per path; the double counting is preserved behavior.
func (s *UsageService) CalculateCollaborativeUsage(ctx context.Context, userID string) (int64, error) {
	projects, err := s.usageRepo.ListEditableProjects(ctx, userID)
	if err != nil {
		return 0, err
	}

	var total int64
	for _, project := range projects {
		usage, err := s.CalculateNodeUsage(ctx, project.ProjectID, domain.ComputeOptions{Dedup: true}, false, false)
		if err != nil {
			return 0, err
		}
		total += usage
	}

	return total, nil
}

// Merge absorbs another user's account: every version is reassigned to the
// survivor, the absorbed limit is folded in, and usage is recomputed from
// scratch. Incremental math is impossible here since dedup groups may now
// span the two formerly distinct creators.
func (s *UsageService) Merge(ctx context.Context, userID, absorbedUserID string) error {
	if userID == "" || absorbedUserID == "" || userID == absorbedUserID {
		return fmt.Errorf("%w: merge requires two distinct users", domain.ErrValidation)
	}

	if _, err := s.usageRepo.GetUserSettings(ctx, userID); err != nil {
		return err
	}
	absorbed, err := s.usageRepo.GetUserSettings(ctx, absorbedUserID)
	if err != nil {
		return err
	}

	moved, err := s.versionRepo.ReassignCreator(ctx, absorbedUserID, userID)
	if err != nil {
		return err
	}
	log.Printf("[UsageService] Merge: moved %d versions from %s to %s", moved, absorbedUserID, userID)

	if err := s.usageRepo.AddLimit(ctx, userID, absorbed.StorageLimit(s.policy), s.policy); err != nil {
		return err
	}
	if err := s.usageRepo.SaveUserUsage(ctx, absorbedUserID, 0, s.policy); err != nil {
		return err
	}

	if _, err := s.CalculateUserUsage(ctx, userID, domain.ComputeOptions{Dedup: true}, true); err != nil {
		return err
	}

	return nil
}

// SendWarningEmail dispatches the quota warning when the gating conditions
// hold, then stamps the bookkeeping so the send is not repeated within the
// waiting period.
func (s *UsageService) SendWarningEmail(ctx context.Context, userID string, force bool) (bool, error) {
	settings, err := s.usageRepo.GetUserSettings(ctx, userID)
	if err != nil {
		return false, err
	}

	now := time.Now()
	if !settings.ShouldSendWarning(now, force, s.policy) {
		return false, nil
	}

	if err := s.mailer.SendStorageWarning(ctx, userID, settings.StorageUsage, settings.StorageLimit(s.policy)); err != nil {
		return false, fmt.Errorf("failed to dispatch warning: %w", err)
	}
	if err := s.usageRepo.MarkWarningSent(ctx, userID, now); err != nil {
		return false, err
	}

	return true, nil
}

// CheckWarning runs the gate after an upload without forcing.
func (s *UsageService) CheckWarning(ctx context.Context, userID string) {
	sent, err := s.SendWarningEmail(ctx, userID, false)
	if err != nil {
		log.Printf("[UsageService] Warning check failed for %s: %v", userID, err)
		return
	}
	if sent {
		log.Printf("[UsageService] Sent storage warning to %s", userID)
	}
}

// RecomputeProjects refreshes project counters after cross-project moves or
// copies. Failures are logged, never propagated: the cached counters keep
// their last-known-good values until the periodic reconciliation pass.
func (s *UsageService) RecomputeProjects(ctx context.Context, projectIDs ...string) {
	for _, projectID := range projectIDs {
		if _, err := s.CalculateNodeUsage(ctx, projectID, domain.ComputeOptions{Dedup: true}, false, true); err != nil {
			log.Printf("[UsageService] Failed to recompute project %s: %v", projectID, err)
		}
	}
}

// ReconcileAll realigns every user counter with the authoritative recompute.
// Driven by the background ticker.
func (s *UsageService) ReconcileAll(ctx context.Context) error {
	userIDs, err := s.usageRepo.ListUserIDs(ctx)
	if err != nil {
		return err
	}

	for _, userID := range userIDs {
		if _, err := s.CalculateUserUsage(ctx, userID, domain.ComputeOptions{Dedup: true}, true); err != nil {
			log.Printf("[UsageService] Reconcile failed for %s: %v", userID, err)
		}
	}

	return nil
}
