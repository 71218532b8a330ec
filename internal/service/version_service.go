package service

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"labvault/internal/domain"
)

// VersionService owns a file's append-only version history, the dedup flags
// and the usage side effects of uploads.
type VersionService struct {
	versionRepo  VersionStore
	nodeRepo     NodeStore
	usageService *UsageService
}

func NewVersionService(
	versionRepo VersionStore,
	nodeRepo NodeStore,
	usageService *UsageService,
) *VersionService {
	return &VersionService{
		versionRepo:  versionRepo,
		nodeRepo:     nodeRepo,
		usageService: usageService,
	}
}

// CreateVersion records an uploaded revision. A re-upload of the bytes behind
// the file's latest version is a no-op returning that version unchanged; a
// new revision is billed through the creator's and project's accounts, with
// duplicate-group and archive-pointer dedup applied first. The returned bool
// reports whether a new version row was created.
func (s *VersionService) CreateVersion(
	ctx context.Context,
	nodeID uuid.UUID,
	creator string,
	location domain.Location,
	metadata map[string]interface{},
	ignoreSize bool,
) (*domain.FileVersion, bool, error) {
	if creator == "" {
		return nil, false, fmt.Errorf("%w: creator is required", domain.ErrValidation)
	}
	if err := location.Validate(); err != nil {
		return nil, false, err
	}

	node, err := s.nodeRepo.GetByID(ctx, nodeID)
	if err != nil {
		return nil, false, err
	}
	if !node.IsFile() {
		return nil, false, fmt.Errorf("versions of %s %s: %w", node.Kind, nodeID, domain.ErrKindMismatch)
	}

	// Byte-identical re-upload to the same file: the latest version already
	// points at this object, so no new row and no usage delta.
	latest, err := s.versionRepo.Latest(ctx, nodeID)
	if err != nil {
		return nil, false, err
	}
	proposed := &domain.FileVersion{Location: location}
	if latest != nil && latest.SameContent(proposed) {
		log.Printf("[VersionService] No-op re-upload of %s to node %s", location.Hash(), nodeID)
		return latest, false, nil
	}

	version := &domain.FileVersion{
		NodeID:     nodeID,
		Creator:    creator,
		ProjectID:  node.ProjectID,
		Location:   location,
		IgnoreSize: ignoreSize,
	}
	version.ApplyMetadata(metadata)

	if err := s.versionRepo.Create(ctx, version); err != nil {
		return nil, false, fmt.Errorf("failed to create version: %w", err)
	}

	// Billing dedup is per creator: any live counted peer with the same
	// location hash makes the whole group duplicates, retroactively
	// including previously unflagged members.
	peers, err := s.versionRepo.CountBillablePeers(ctx, creator, version.Hash(), version.ID)
	if err != nil {
		return nil, false, err
	}
	if peers > 0 {
		if err := s.versionRepo.FlagDuplicateGroup(ctx, creator, version.Hash()); err != nil {
			return nil, false, err
		}
		version.HasDuplicate = true
	}

	// Archive pointer dedup spans creators and never affects accounting.
	if hash := version.ContentHash(); hash != "" && version.ArchiveKey == nil {
		key, err := s.versionRepo.FindArchiveKey(ctx, hash, version.ID)
		if err != nil {
			return nil, false, err
		}
		if key != nil {
			if err := s.versionRepo.SetArchiveKey(ctx, version.ID, *key); err != nil {
				return nil, false, err
			}
			version.ArchiveKey = key
		}
	}

	if delta := version.UsageDelta(peers); delta != 0 {
		if err := s.usageService.ApplyVersionDelta(ctx, creator, node.ProjectID, delta); err != nil {
			return nil, false, err
		}
	}
	s.usageService.CheckWarning(ctx, creator)

	return version, true, nil
}

// GetVersion returns version n (1-based); 0 addresses the latest version.
// Absent versions yield nil unless required, which turns the miss into a
// not-found failure.
func (s *VersionService) GetVersion(ctx context.Context, nodeID uuid.UUID, number int, required bool) (*domain.FileVersion, error) {
	var version *domain.FileVersion
	var err error
	if number == 0 {
		version, err = s.versionRepo.Latest(ctx, nodeID)
	} else {
		version, err = s.versionRepo.ByNumber(ctx, nodeID, number)
	}
	if err != nil {
		return nil, err
	}
	if version == nil && required {
		return nil, fmt.Errorf("version %d of node %s: %w", number, nodeID, domain.ErrNotFound)
	}

	return version, nil
}

// ListVersions returns a file's full history in upload order.
func (s *VersionService) ListVersions(ctx context.Context, nodeID uuid.UUID) ([]domain.FileVersion, error) {
	node, err := s.nodeRepo.GetByID(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if !node.IsFile() {
		return nil, fmt.Errorf("versions of %s %s: %w", node.Kind, nodeID, domain.ErrKindMismatch)
	}

	return s.versionRepo.ListByNode(ctx, nodeID)
}
