package service

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"labvault/internal/domain"
)

// TreeService owns the per-project file tree: resolution, creation, paths,
// move/copy and the delete cascade into trash.
type TreeService struct {
	nodeRepo     NodeStore
	versionRepo  VersionStore
	trashRepo    TrashStore
	usageService *UsageService
}

func NewTreeService(
	nodeRepo NodeStore,
	versionRepo VersionStore,
	trashRepo TrashStore,
	usageService *UsageService,
) *TreeService {
	return &TreeService{
		nodeRepo:     nodeRepo,
		versionRepo:  versionRepo,
		trashRepo:    trashRepo,
		usageService: usageService,
	}
}

// CreateChildByPath resolves "/parentID/name[/]" under the given storage root
// and creates the child if absent. The second return value reports whether a
// new node was created; a lost creation race comes back as (existing, false).
func (s *TreeService) CreateChildByPath(ctx context.Context, path string, rootID uuid.UUID) (*domain.FileNode, bool, error) {
	parsed, err := domain.ParseNodePath(path)
	if err != nil {
		return nil, false, err
	}

	root, err := s.nodeRepo.GetByID(ctx, rootID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to resolve root: %w", err)
	}

	parent := root
	if parsed.ParentID != "" {
		parentID, err := uuid.Parse(parsed.ParentID)
		if err != nil {
			return nil, false, fmt.Errorf("%w: invalid parent id %q", domain.ErrValidation, parsed.ParentID)
		}
		parent, err = s.nodeRepo.GetByID(ctx, parentID)
		if err != nil {
			return nil, false, err
		}
		if parent.RootID != root.RootID {
			return nil, false, fmt.Errorf("parent %s outside tree: %w", parentID, domain.ErrNotFound)
		}
	}

	if !parent.IsFolder() {
		return nil, false, fmt.Errorf("parent %s is a file: %w", parent.ID, domain.ErrKindMismatch)
	}

	return s.nodeRepo.GetOrCreateChild(ctx, parent, parsed.Name, parsed.Kind)
}

// Get resolves a node id within a storage root; the empty id resolves to the
// root itself.
func (s *TreeService) Get(ctx context.Context, id string, rootID uuid.UUID) (*domain.FileNode, error) {
	if id == "" {
		return s.nodeRepo.GetByID(ctx, rootID)
	}

	nodeID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid node id %q", domain.ErrValidation, id)
	}

	node, err := s.nodeRepo.GetByID(ctx, nodeID)
	if err != nil {
		return nil, err
	}
	if node.RootID != rootID {
		return nil, fmt.Errorf("node %s outside tree: %w", nodeID, domain.ErrNotFound)
	}

	return node, nil
}

// GetFolder is the kind-filtered lookup: a miss or a file id yields nil, not
// an error.
func (s *TreeService) GetFolder(ctx context.Context, id string, rootID uuid.UUID) (*domain.FileNode, error) {
	return s.getKind(ctx, id, rootID, domain.NodeKindFolder)
}

// GetFile mirrors GetFolder for files.
func (s *TreeService) GetFile(ctx context.Context, id string, rootID uuid.UUID) (*domain.FileNode, error) {
	return s.getKind(ctx, id, rootID, domain.NodeKindFile)
}

func (s *TreeService) getKind(ctx context.Context, id string, rootID uuid.UUID, kind domain.NodeKind) (*domain.FileNode, error) {
	node, err := s.Get(ctx, id, rootID)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	if node.Kind != kind {
		return nil, nil
	}
	return node, nil
}

// Children lists a folder's live children. Calling it on a file is a
// contract violation, distinct from not-found.
func (s *TreeService) Children(ctx context.Context, id uuid.UUID) ([]domain.FileNode, error) {
	node, err := s.nodeRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !node.IsFolder() {
		return nil, fmt.Errorf("children of file %s: %w", id, domain.ErrKindMismatch)
	}

	return s.nodeRepo.Children(ctx, id)
}

// AppendFile creates (or returns) a file child under a folder, inheriting the
// owning root.
func (s *TreeService) AppendFile(ctx context.Context, parentID uuid.UUID, name string) (*domain.FileNode, error) {
	return s.appendChild(ctx, parentID, name, domain.NodeKindFile)
}

func (s *TreeService) AppendFolder(ctx context.Context, parentID uuid.UUID, name string) (*domain.FileNode, error) {
	return s.appendChild(ctx, parentID, name, domain.NodeKindFolder)
}

func (s *TreeService) appendChild(ctx context.Context, parentID uuid.UUID, name string, kind domain.NodeKind) (*domain.FileNode, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: child name is required", domain.ErrValidation)
	}

	parent, err := s.nodeRepo.GetByID(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if !parent.IsFolder() {
		return nil, fmt.Errorf("append under file %s: %w", parentID, domain.ErrKindMismatch)
	}

	node, _, err := s.nodeRepo.GetOrCreateChild(ctx, parent, name, kind)
	return node, err
}

// MaterializedPath walks the parent chain into a human path. Folder paths end
// with "/"; the storage root is "/".
func (s *TreeService) MaterializedPath(ctx context.Context, id uuid.UUID) (string, error) {
	chain, err := s.nodeRepo.ParentChain(ctx, id)
	if err != nil {
		return "", err
	}

	names := make([]string, 0, len(chain))
	for _, node := range chain {
		if node.IsRoot() {
			continue
		}
		names = append(names, node.Name)
	}

	return domain.BuildMaterializedPath(names, chain[len(chain)-1].Kind), nil
}

// Delete moves a node and, for folders with recurse, its whole subtree into
// trash. Descendants are processed before their ancestors so trash copies
// never reference an already-vanished parent. There is no undelete.
func (s *TreeService) Delete(ctx context.Context, id uuid.UUID, recurse bool, deletedBy string) error {
	node, err := s.nodeRepo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if node.IsRoot() {
		return fmt.Errorf("%w: cannot delete a storage root", domain.ErrValidation)
	}

	if node.IsFolder() {
		descendants, err := s.nodeRepo.Descendants(ctx, id)
		if err != nil {
			return err
		}
		if len(descendants) > 0 && !recurse {
			return fmt.Errorf("%w: folder %s is not empty", domain.ErrValidation, id)
		}
		for i := range descendants {
			if err := s.deleteSingle(ctx, &descendants[i], deletedBy); err != nil {
				return err
			}
		}
	}

	return s.deleteSingle(ctx, node, deletedBy)
}

// deleteSingle trashes one node: versions marked deleted (with usage
// decrements), a graveyard copy written, the live row removed.
func (s *TreeService) deleteSingle(ctx context.Context, node *domain.FileNode, deletedBy string) error {
	path, err := s.MaterializedPath(ctx, node.ID)
	if err != nil {
		return err
	}

	versions, err := s.versionRepo.ListByNode(ctx, node.ID)
	if err != nil {
		return err
	}

	var totalSize int64
	versionIDs := make(pq.Int64Array, 0, len(versions))
	for i := range versions {
		v := &versions[i]
		versionIDs = append(versionIDs, v.ID)
		if v.Deleted {
			continue
		}

		// Peer count is taken before this copy leaves the group, so exactly
		// one member of a dedup group ever carries the decrement.
		peers, err := s.versionRepo.CountBillablePeers(ctx, v.Creator, v.Hash(), v.ID)
		if err != nil {
			return err
		}
		if err := s.versionRepo.MarkDeleted(ctx, v.ID); err != nil {
			return err
		}
		v.Deleted = true
		totalSize += v.SizeBytes

		if delta := v.UsageDelta(peers); delta != 0 {
			if err := s.usageService.ApplyVersionDelta(ctx, v.Creator, v.ProjectID, delta); err != nil {
				return err
			}
		}
	}

	trashed := &domain.TrashedFileNode{
		NodeID:     node.ID,
		Name:       node.Name,
		Kind:       node.Kind,
		ParentID:   node.ParentID,
		RootID:     node.RootID,
		ProjectID:  node.ProjectID,
		Path:       path,
		SizeBytes:  totalSize,
		VersionIDs: versionIDs,
		DeletedBy:  deletedBy,
	}

	if err := s.trashRepo.MoveToTrash(ctx, trashed, node.ID); err != nil {
		return err
	}

	log.Printf("[TreeService] Trashed %s %s (%s)", node.Kind, node.ID, path)
	return nil
}

// MoveUnder reparents a subtree. Moving across trees reassigns the owning
// root, cascading to every descendant; project counters on both sides are
// recomputed afterwards since dedup groups may regroup.
func (s *TreeService) MoveUnder(ctx context.Context, id, newParentID uuid.UUID) (*domain.FileNode, error) {
	node, err := s.nodeRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if node.IsRoot() {
		return nil, fmt.Errorf("%w: cannot move a storage root", domain.ErrValidation)
	}

	newParent, err := s.nodeRepo.GetByID(ctx, newParentID)
	if err != nil {
		return nil, err
	}
	if !newParent.IsFolder() {
		return nil, fmt.Errorf("move under file %s: %w", newParentID, domain.ErrKindMismatch)
	}

	if node.IsFolder() {
		cyclic, err := s.nodeRepo.IsAncestor(ctx, id, newParentID)
		if err != nil {
			return nil, err
		}
		if cyclic {
			return nil, fmt.Errorf("%w: cannot move a folder under its own subtree", domain.ErrValidation)
		}
	}

	oldProject := node.ProjectID
	if err := s.nodeRepo.Move(ctx, id, newParent); err != nil {
		return nil, err
	}

	if oldProject != newParent.ProjectID {
		s.usageService.RecomputeProjects(ctx, oldProject, newParent.ProjectID)
	}

	return s.nodeRepo.GetByID(ctx, id)
}

// CopyUnder duplicates a subtree under a new parent. Version histories are
// cloned by reference to the same backend objects, so the copies join their
// originals' dedup groups and contribute nothing extra to user usage.
func (s *TreeService) CopyUnder(ctx context.Context, id, newParentID uuid.UUID) (*domain.FileNode, error) {
	node, err := s.nodeRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	newParent, err := s.nodeRepo.GetByID(ctx, newParentID)
	if err != nil {
		return nil, err
	}
	if !newParent.IsFolder() {
		return nil, fmt.Errorf("copy under file %s: %w", newParentID, domain.ErrKindMismatch)
	}
	if node.IsFolder() {
		cyclic, err := s.nodeRepo.IsAncestor(ctx, id, newParentID)
		if err != nil {
			return nil, err
		}
		if cyclic {
			return nil, fmt.Errorf("%w: cannot copy a folder into its own subtree", domain.ErrValidation)
		}
	}

	copied, err := s.copySubtree(ctx, node, newParent)
	if err != nil {
		return nil, err
	}

	if node.ProjectID != newParent.ProjectID {
		s.usageService.RecomputeProjects(ctx, newParent.ProjectID)
	}

	return copied, nil
}

func (s *TreeService) copySubtree(ctx context.Context, node, newParent *domain.FileNode) (*domain.FileNode, error) {
	copied, _, err := s.nodeRepo.GetOrCreateChild(ctx, newParent, node.Name, node.Kind)
	if err != nil {
		return nil, err
	}

	if node.IsFile() {
		if err := s.versionRepo.CloneForNode(ctx, node.ID, copied.ID, copied.ProjectID); err != nil {
			return nil, err
		}
		versions, err := s.versionRepo.ListByNode(ctx, node.ID)
		if err != nil {
			return nil, err
		}
		for i := range versions {
			v := &versions[i]
			if v.Deleted || v.IgnoreSize || v.Hash() == "" {
				continue
			}
			if err := s.versionRepo.FlagDuplicateGroup(ctx, v.Creator, v.Hash()); err != nil {
				return nil, err
			}
		}
		return copied, nil
	}

	children, err := s.nodeRepo.Children(ctx, node.ID)
	if err != nil {
		return nil, err
	}
	for i := range children {
		if _, err := s.copySubtree(ctx, &children[i], copied); err != nil {
			return nil, err
		}
	}

	return copied, nil
}
