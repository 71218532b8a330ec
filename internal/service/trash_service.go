package service

import (
	"context"
	"fmt"
	"log"

	"labvault/internal/domain"
	"labvault/internal/service/s3"
)

// TrashService reads the graveyard and performs the one destructive
// operation this engine owns: the permanent purge, which is also the only
// place backend objects are deleted.
type TrashService struct {
	trashRepo   TrashStore
	versionRepo VersionStore
	s3Client    s3.Storage
}

func NewTrashService(
	trashRepo TrashStore,
	versionRepo VersionStore,
	s3Client s3.Storage,
) *TrashService {
	return &TrashService{
		trashRepo:   trashRepo,
		versionRepo: versionRepo,
		s3Client:    s3Client,
	}
}

func (s *TrashService) ListTrash(ctx context.Context, projectID string) ([]domain.TrashedFileNode, error) {
	if projectID == "" {
		return nil, fmt.Errorf("%w: project id is required", domain.ErrValidation)
	}

	return s.trashRepo.ListByProject(ctx, projectID)
}

// Purge permanently erases a project's trash: graveyard rows, their version
// rows, and any backend object no live version still references. There is no
// undelete before or after.
func (s *TrashService) Purge(ctx context.Context, projectID string) (int, error) {
	items, err := s.trashRepo.ListByProject(ctx, projectID)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	trashIDs := make([]int64, 0, len(items))
	versionIDs := make([]int64, 0)
	for _, item := range items {
		trashIDs = append(trashIDs, item.ID)
		versionIDs = append(versionIDs, item.VersionIDs...)
	}

	versions, err := s.versionRepo.ListByIDs(ctx, versionIDs)
	if err != nil {
		return 0, err
	}

	// Dedup means a trashed version's object may still back someone's live
	// version; those objects stay.
	purgedObjects := make(map[string]bool)
	for i := range versions {
		v := &versions[i]
		if purgedObjects[v.Hash()] {
			continue
		}
		live, err := s.versionRepo.CountLiveByLocation(ctx, v.Hash(), versionIDs)
		if err != nil {
			return 0, err
		}
		if live > 0 {
			continue
		}

		// The graveyard may reference objects an earlier interrupted purge
		// already removed; only issue deletes for objects still present.
		exists, err := s.s3Client.ObjectExists(ctx, v.Hash())
		if err != nil {
			log.Printf("[TrashService] Failed to check object %s: %v", v.Hash(), err)
			continue
		}
		if exists {
			if err := s.s3Client.DeleteObject(ctx, v.Hash()); err != nil {
				log.Printf("[TrashService] Failed to delete object %s: %v", v.Hash(), err)
				continue
			}
		}
		purgedObjects[v.Hash()] = true
	}

	if err := s.trashRepo.Purge(ctx, trashIDs, versionIDs); err != nil {
		return 0, err
	}

	log.Printf("[TrashService] Purged %d items (%d versions) from project %s",
		len(items), len(versionIDs), projectID)

	return len(items), nil
}
