package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"labvault/internal/domain"
)

// The services program against these store interfaces; the sqlx repositories
// in internal/repository are the production implementations.

type NodeStore interface {
	CreateRoot(ctx context.Context, projectID string) (*domain.FileNode, error)
	GetByID(ctx context.Context, id uuid.UUID) (*domain.FileNode, error)
	GetOrCreateChild(ctx context.Context, parent *domain.FileNode, name string, kind domain.NodeKind) (*domain.FileNode, bool, error)
	Children(ctx context.Context, parentID uuid.UUID) ([]domain.FileNode, error)
	ParentChain(ctx context.Context, id uuid.UUID) ([]domain.FileNode, error)
	Descendants(ctx context.Context, id uuid.UUID) ([]domain.FileNode, error)
	Move(ctx context.Context, nodeID uuid.UUID, newParent *domain.FileNode) error
	IsAncestor(ctx context.Context, a, b uuid.UUID) (bool, error)
}

type VersionStore interface {
	Create(ctx context.Context, version *domain.FileVersion) error
	Latest(ctx context.Context, nodeID uuid.UUID) (*domain.FileVersion, error)
	ByNumber(ctx context.Context, nodeID uuid.UUID, number int) (*domain.FileVersion, error)
	ListByNode(ctx context.Context, nodeID uuid.UUID) ([]domain.FileVersion, error)
	ListByCreator(ctx context.Context, creator string) ([]domain.FileVersion, error)
	ListByProject(ctx context.Context, projectID string) ([]domain.FileVersion, error)
	ListByIDs(ctx context.Context, ids []int64) ([]domain.FileVersion, error)
	CountBillablePeers(ctx context.Context, creator, locationHash string, excludeID int64) (int, error)
	CountLiveByLocation(ctx context.Context, locationHash string, excludeIDs []int64) (int, error)
	FlagDuplicateGroup(ctx context.Context, creator, locationHash string) error
	FindArchiveKey(ctx context.Context, contentHash string, excludeID int64) (*string, error)
	SetArchiveKey(ctx context.Context, id int64, key string) error
	MarkDeleted(ctx context.Context, id int64) error
	CloneForNode(ctx context.Context, srcNodeID, dstNodeID uuid.UUID, dstProjectID string) error
	ReassignCreator(ctx context.Context, fromCreator, toCreator string) (int64, error)
}

type UsageStore interface {
	GetUserSettings(ctx context.Context, userID string) (*domain.UserSettings, error)
	ApplyUserDelta(ctx context.Context, userID string, delta int64, policy domain.QuotaPolicy) (int64, error)
	SaveUserUsage(ctx context.Context, userID string, usage int64, policy domain.QuotaPolicy) error
	MarkWarningSent(ctx context.Context, userID string, at time.Time) error
	AddLimit(ctx context.Context, userID string, add int64, policy domain.QuotaPolicy) error
	CreateProject(ctx context.Context, settings *domain.NodeSettings) error
	GetNodeSettings(ctx context.Context, projectID string) (*domain.NodeSettings, error)
	GetNodeSettingsByRoot(ctx context.Context, rootID uuid.UUID) (*domain.NodeSettings, error)
	ApplyNodeDelta(ctx context.Context, projectID string, delta int64) (int64, error)
	SaveNodeUsage(ctx context.Context, projectID string, usage int64) error
	ListChildProjects(ctx context.Context, projectID string) ([]domain.NodeSettings, error)
	ListEditableProjects(ctx context.Context, userID string) ([]domain.NodeSettings, error)
	AddContributor(ctx context.Context, projectID, userID string, canEdit bool) error
	ListUserIDs(ctx context.Context) ([]string, error)
}

type TrashStore interface {
	MoveToTrash(ctx context.Context, trashed *domain.TrashedFileNode, nodeID uuid.UUID) error
	ListByProject(ctx context.Context, projectID string) ([]domain.TrashedFileNode, error)
	Purge(ctx context.Context, trashIDs, versionIDs []int64) error
}
