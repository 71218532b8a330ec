package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"labvault/internal/domain"
)

// In-memory stores mirroring the repository semantics, so the services can be
// exercised without Postgres.

type memNodeStore struct {
	nodes    map[uuid.UUID]*domain.FileNode
	versions *memVersionStore
}

func newMemNodeStore(versions *memVersionStore) *memNodeStore {
	return &memNodeStore{
		nodes:    make(map[uuid.UUID]*domain.FileNode),
		versions: versions,
	}
}

func (s *memNodeStore) CreateRoot(_ context.Context, projectID string) (*domain.FileNode, error) {
	node := &domain.FileNode{
		ID:        uuid.New(),
		Kind:      domain.NodeKindFolder,
		ProjectID: projectID,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	node.RootID = node.ID
	s.nodes[node.ID] = node
	copied := *node
	return &copied, nil
}

func (s *memNodeStore) GetByID(_ context.Context, id uuid.UUID) (*domain.FileNode, error) {
	node, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", id, domain.ErrNotFound)
	}
	copied := *node
	return &copied, nil
}

func (s *memNodeStore) GetOrCreateChild(_ context.Context, parent *domain.FileNode, name string, kind domain.NodeKind) (*domain.FileNode, bool, error) {
	for _, n := range s.nodes {
		if n.ParentID != nil && *n.ParentID == parent.ID && n.Name == name && n.Kind == kind {
			copied := *n
			return &copied, false, nil
		}
	}

	parentID := parent.ID
	node := &domain.FileNode{
		ID:        uuid.New(),
		Name:      name,
		Kind:      kind,
		ParentID:  &parentID,
		RootID:    parent.RootID,
		ProjectID: parent.ProjectID,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	s.nodes[node.ID] = node
	copied := *node
	return &copied, true, nil
}

func (s *memNodeStore) Children(_ context.Context, parentID uuid.UUID) ([]domain.FileNode, error) {
	var children []domain.FileNode
	for _, n := range s.nodes {
		if n.ParentID != nil && *n.ParentID == parentID {
			children = append(children, *n)
		}
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Name < children[j].Name })
	return children, nil
}

func (s *memNodeStore) ParentChain(_ context.Context, id uuid.UUID) ([]domain.FileNode, error) {
	node, ok := s.nodes[id]
	if !ok {
		return nil, fmt.Errorf("node %s: %w", id, domain.ErrNotFound)
	}

	var chain []domain.FileNode
	for node != nil {
		chain = append([]domain.FileNode{*node}, chain...)
		if node.ParentID == nil {
			break
		}
		node = s.nodes[*node.ParentID]
	}
	return chain, nil
}

func (s *memNodeStore) depth(id uuid.UUID) int {
	d := 0
	node := s.nodes[id]
	for node != nil && node.ParentID != nil {
		d++
		node = s.nodes[*node.ParentID]
	}
	return d
}

func (s *memNodeStore) Descendants(_ context.Context, id uuid.UUID) ([]domain.FileNode, error) {
	var result []domain.FileNode
	queue := []uuid.UUID{id}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, n := range s.nodes {
			if n.ParentID != nil && *n.ParentID == current {
				result = append(result, *n)
				queue = append(queue, n.ID)
			}
		}
	}
	sort.Slice(result, func(i, j int) bool { return s.depth(result[i].ID) > s.depth(result[j].ID) })
	return result, nil
}

func (s *memNodeStore) Move(ctx context.Context, nodeID uuid.UUID, newParent *domain.FileNode) error {
	node, ok := s.nodes[nodeID]
	if !ok {
		return fmt.Errorf("node %s: %w", nodeID, domain.ErrNotFound)
	}

	parentID := newParent.ID
	node.ParentID = &parentID

	subtree, err := s.Descendants(ctx, nodeID)
	if err != nil {
		return err
	}
	affected := append(subtree, *node)
	for _, n := range affected {
		s.nodes[n.ID].RootID = newParent.RootID
		s.nodes[n.ID].ProjectID = newParent.ProjectID
		for _, v := range s.versions.versions {
			if v.NodeID == n.ID {
				v.ProjectID = newParent.ProjectID
			}
		}
	}
	return nil
}

func (s *memNodeStore) IsAncestor(_ context.Context, a, b uuid.UUID) (bool, error) {
	node := s.nodes[b]
	for node != nil {
		if node.ID == a {
			return true, nil
		}
		if node.ParentID == nil {
			return false, nil
		}
		node = s.nodes[*node.ParentID]
	}
	return false, nil
}

type memVersionStore struct {
	versions map[int64]*domain.FileVersion
	nextID   int64
}

func newMemVersionStore() *memVersionStore {
	return &memVersionStore{versions: make(map[int64]*domain.FileVersion)}
}

func (s *memVersionStore) Create(_ context.Context, version *domain.FileVersion) error {
	s.nextID++
	version.ID = s.nextID
	version.Number = 1
	for _, v := range s.versions {
		if v.NodeID == version.NodeID && v.Number >= version.Number {
			version.Number = v.Number + 1
		}
	}
	version.CreatedAt = time.Now()
	copied := *version
	s.versions[version.ID] = &copied
	return nil
}

func (s *memVersionStore) Latest(_ context.Context, nodeID uuid.UUID) (*domain.FileVersion, error) {
	var latest *domain.FileVersion
	for _, v := range s.versions {
		if v.NodeID == nodeID && (latest == nil || v.Number > latest.Number) {
			latest = v
		}
	}
	if latest == nil {
		return nil, nil
	}
	copied := *latest
	return &copied, nil
}

func (s *memVersionStore) ByNumber(_ context.Context, nodeID uuid.UUID, number int) (*domain.FileVersion, error) {
	for _, v := range s.versions {
		if v.NodeID == nodeID && v.Number == number {
			copied := *v
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *memVersionStore) ListByNode(_ context.Context, nodeID uuid.UUID) ([]domain.FileVersion, error) {
	return s.collect(func(v *domain.FileVersion) bool { return v.NodeID == nodeID }), nil
}

func (s *memVersionStore) ListByCreator(_ context.Context, creator string) ([]domain.FileVersion, error) {
	return s.collect(func(v *domain.FileVersion) bool { return v.Creator == creator }), nil
}

func (s *memVersionStore) ListByProject(_ context.Context, projectID string) ([]domain.FileVersion, error) {
	return s.collect(func(v *domain.FileVersion) bool { return v.ProjectID == projectID }), nil
}

func (s *memVersionStore) ListByIDs(_ context.Context, ids []int64) ([]domain.FileVersion, error) {
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	return s.collect(func(v *domain.FileVersion) bool { return want[v.ID] }), nil
}

func (s *memVersionStore) collect(match func(*domain.FileVersion) bool) []domain.FileVersion {
	var result []domain.FileVersion
	for _, v := range s.versions {
		if match(v) {
			result = append(result, *v)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (s *memVersionStore) CountBillablePeers(_ context.Context, creator, locationHash string, excludeID int64) (int, error) {
	count := 0
	for _, v := range s.versions {
		if v.Creator == creator && v.Object == locationHash && v.ID != excludeID && !v.Deleted && !v.IgnoreSize {
			count++
		}
	}
	return count, nil
}

func (s *memVersionStore) CountLiveByLocation(_ context.Context, locationHash string, excludeIDs []int64) (int, error) {
	excluded := make(map[int64]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}
	count := 0
	for _, v := range s.versions {
		if v.Object == locationHash && !v.Deleted && !excluded[v.ID] {
			count++
		}
	}
	return count, nil
}

func (s *memVersionStore) FlagDuplicateGroup(_ context.Context, creator, locationHash string) error {
	for _, v := range s.versions {
		if v.Creator == creator && v.Object == locationHash && !v.Deleted && !v.IgnoreSize {
			v.HasDuplicate = true
		}
	}
	return nil
}

func (s *memVersionStore) FindArchiveKey(_ context.Context, contentHash string, excludeID int64) (*string, error) {
	for _, v := range s.versions {
		if v.ID == excludeID || v.ArchiveKey == nil {
			continue
		}
		if (v.SHA256 != nil && *v.SHA256 == contentHash) || (v.MD5 != nil && *v.MD5 == contentHash) {
			key := *v.ArchiveKey
			return &key, nil
		}
	}
	return nil, nil
}

func (s *memVersionStore) SetArchiveKey(_ context.Context, id int64, key string) error {
	v, ok := s.versions[id]
	if !ok {
		return fmt.Errorf("version %d: %w", id, domain.ErrNotFound)
	}
	v.ArchiveKey = &key
	return nil
}

func (s *memVersionStore) MarkDeleted(_ context.Context, id int64) error {
	v, ok := s.versions[id]
	if !ok {
		return fmt.Errorf("version %d: %w", id, domain.ErrNotFound)
	}
	v.Deleted = true
	return nil
}

func (s *memVersionStore) CloneForNode(_ context.Context, srcNodeID, dstNodeID uuid.UUID, dstProjectID string) error {
	src := s.collect(func(v *domain.FileVersion) bool { return v.NodeID == srcNodeID })
	for _, v := range src {
		s.nextID++
		v.ID = s.nextID
		v.NodeID = dstNodeID
		v.ProjectID = dstProjectID
		copied := v
		s.versions[copied.ID] = &copied
	}
	return nil
}

func (s *memVersionStore) ReassignCreator(_ context.Context, fromCreator, toCreator string) (int64, error) {
	var moved int64
	for _, v := range s.versions {
		if v.Creator == fromCreator {
			v.Creator = toCreator
			moved++
		}
	}
	return moved, nil
}

type memUsageStore struct {
	users        map[string]*domain.UserSettings
	projects     map[string]*domain.NodeSettings
	contributors map[string]map[string]bool
}

func newMemUsageStore() *memUsageStore {
	return &memUsageStore{
		users:        make(map[string]*domain.UserSettings),
		projects:     make(map[string]*domain.NodeSettings),
		contributors: make(map[string]map[string]bool),
	}
}

func (s *memUsageStore) GetUserSettings(_ context.Context, userID string) (*domain.UserSettings, error) {
	settings, ok := s.users[userID]
	if !ok {
		settings = &domain.UserSettings{UserID: userID, CreatedAt: time.Now(), UpdatedAt: time.Now()}
		s.users[userID] = settings
	}
	copied := *settings
	return &copied, nil
}

func (s *memUsageStore) ApplyUserDelta(ctx context.Context, userID string, delta int64, policy domain.QuotaPolicy) (int64, error) {
	if _, err := s.GetUserSettings(ctx, userID); err != nil {
		return 0, err
	}
	settings := s.users[userID]
	usage := settings.StorageUsage + delta
	if usage < 0 {
		usage = 0
	}
	settings.SetStorageUsage(usage, policy)
	return settings.StorageUsage, nil
}

func (s *memUsageStore) SaveUserUsage(ctx context.Context, userID string, usage int64, policy domain.QuotaPolicy) error {
	if _, err := s.GetUserSettings(ctx, userID); err != nil {
		return err
	}
	s.users[userID].SetStorageUsage(usage, policy)
	return nil
}

func (s *memUsageStore) MarkWarningSent(ctx context.Context, userID string, at time.Time) error {
	if _, err := s.GetUserSettings(ctx, userID); err != nil {
		return err
	}
	settings := s.users[userID]
	settings.WarningSent = true
	sent := at
	settings.WarningLastSent = &sent
	return nil
}

func (s *memUsageStore) AddLimit(ctx context.Context, userID string, add int64, policy domain.QuotaPolicy) error {
	if _, err := s.GetUserSettings(ctx, userID); err != nil {
		return err
	}
	settings := s.users[userID]
	limit := settings.StorageLimit(policy) + add
	settings.LimitOverride = &limit
	return nil
}

func (s *memUsageStore) CreateProject(_ context.Context, settings *domain.NodeSettings) error {
	copied := *settings
	s.projects[settings.ProjectID] = &copied
	return nil
}

func (s *memUsageStore) GetNodeSettings(_ context.Context, projectID string) (*domain.NodeSettings, error) {
	settings, ok := s.projects[projectID]
	if !ok {
		return nil, fmt.Errorf("project %s: %w", projectID, domain.ErrNotFound)
	}
	copied := *settings
	return &copied, nil
}

func (s *memUsageStore) GetNodeSettingsByRoot(_ context.Context, rootID uuid.UUID) (*domain.NodeSettings, error) {
	for _, settings := range s.projects {
		if settings.RootNodeID == rootID {
			copied := *settings
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("root %s: %w", rootID, domain.ErrNotFound)
}

func (s *memUsageStore) ApplyNodeDelta(_ context.Context, projectID string, delta int64) (int64, error) {
	settings, ok := s.projects[projectID]
	if !ok {
		return 0, fmt.Errorf("project %s: %w", projectID, domain.ErrNotFound)
	}
	settings.StorageUsage += delta
	if settings.StorageUsage < 0 {
		settings.StorageUsage = 0
	}
	return settings.StorageUsage, nil
}

func (s *memUsageStore) SaveNodeUsage(_ context.Context, projectID string, usage int64) error {
	settings, ok := s.projects[projectID]
	if !ok {
		return fmt.Errorf("project %s: %w", projectID, domain.ErrNotFound)
	}
	settings.StorageUsage = usage
	return nil
}

func (s *memUsageStore) ListChildProjects(_ context.Context, projectID string) ([]domain.NodeSettings, error) {
	var children []domain.NodeSettings
	for _, settings := range s.projects {
		if settings.ParentProjectID != nil && *settings.ParentProjectID == projectID {
			children = append(children, *settings)
		}
	}
	return children, nil
}

func (s *memUsageStore) ListEditableProjects(_ context.Context, userID string) ([]domain.NodeSettings, error) {
	var projects []domain.NodeSettings
	for projectID, users := range s.contributors {
		if users[userID] {
			projects = append(projects, *s.projects[projectID])
		}
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].ProjectID < projects[j].ProjectID })
	return projects, nil
}

func (s *memUsageStore) AddContributor(_ context.Context, projectID, userID string, canEdit bool) error {
	if s.contributors[projectID] == nil {
		s.contributors[projectID] = make(map[string]bool)
	}
	s.contributors[projectID][userID] = canEdit
	return nil
}

func (s *memUsageStore) ListUserIDs(_ context.Context) ([]string, error) {
	ids := make([]string, 0, len(s.users))
	for id := range s.users {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

type memTrashStore struct {
	items    []domain.TrashedFileNode
	nextID   int64
	nodes    *memNodeStore
	versions *memVersionStore
}

func newMemTrashStore(nodes *memNodeStore, versions *memVersionStore) *memTrashStore {
	return &memTrashStore{nodes: nodes, versions: versions}
}

func (s *memTrashStore) MoveToTrash(_ context.Context, trashed *domain.TrashedFileNode, nodeID uuid.UUID) error {
	s.nextID++
	trashed.ID = s.nextID
	trashed.DeletedAt = time.Now()
	s.items = append(s.items, *trashed)
	delete(s.nodes.nodes, nodeID)
	return nil
}

func (s *memTrashStore) ListByProject(_ context.Context, projectID string) ([]domain.TrashedFileNode, error) {
	var items []domain.TrashedFileNode
	for _, item := range s.items {
		if item.ProjectID == projectID {
			items = append(items, item)
		}
	}
	return items, nil
}

func (s *memTrashStore) Purge(_ context.Context, trashIDs, versionIDs []int64) error {
	gone := make(map[int64]bool, len(trashIDs))
	for _, id := range trashIDs {
		gone[id] = true
	}
	var kept []domain.TrashedFileNode
	for _, item := range s.items {
		if !gone[item.ID] {
			kept = append(kept, item)
		}
	}
	s.items = kept
	for _, id := range versionIDs {
		delete(s.versions.versions, id)
	}
	return nil
}

type memObjectStore struct {
	objects map[string]bool
	deleted []string
}

func newMemObjectStore() *memObjectStore {
	return &memObjectStore{objects: make(map[string]bool)}
}

func (s *memObjectStore) ObjectExists(_ context.Context, key string) (bool, error) {
	return s.objects[key], nil
}

func (s *memObjectStore) DeleteObject(_ context.Context, key string) error {
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

// testEnv wires the full service stack over the in-memory stores.
type testEnv struct {
	nodes    *memNodeStore
	versions *memVersionStore
	usage    *memUsageStore
	trash    *memTrashStore
	objects  *memObjectStore

	usageService   *UsageService
	treeService    *TreeService
	versionService *VersionService
	trashService   *TrashService
}

func newTestEnv() *testEnv {
	versions := newMemVersionStore()
	nodes := newMemNodeStore(versions)
	usage := newMemUsageStore()
	trash := newMemTrashStore(nodes, versions)
	objects := newMemObjectStore()

	policy := domain.QuotaPolicy{
		DefaultStorageLimit: 1 << 40,
		WarningThreshold:    1 << 20,
		WarningWaitPeriod:   time.Hour,
	}

	usageService := NewUsageService(usage, versions, nodes, LogMailer{}, policy)
	return &testEnv{
		nodes:          nodes,
		versions:       versions,
		usage:          usage,
		trash:          trash,
		objects:        objects,
		usageService:   usageService,
		treeService:    NewTreeService(nodes, versions, trash, usageService),
		versionService: NewVersionService(versions, nodes, usageService),
		trashService:   NewTrashService(trash, versions, objects),
	}
}

func (e *testEnv) userUsage(userID string) int64 {
	settings, ok := e.usage.users[userID]
	if !ok {
		return 0
	}
	return settings.StorageUsage
}
