package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labvault/internal/domain"
)

func TestDeleteFolderCascade(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	project, err := env.usageService.CreateProject(ctx, "proj-1", nil)
	require.NoError(t, err)
	docs, err := env.treeService.AppendFolder(ctx, project.RootNodeID, "docs")
	require.NoError(t, err)
	fileB, err := env.treeService.AppendFile(ctx, docs.ID, "b.txt")
	require.NoError(t, err)
	sub, err := env.treeService.AppendFolder(ctx, docs.ID, "sub")
	require.NoError(t, err)
	fileC, err := env.treeService.AppendFile(ctx, sub.ID, "c.txt")
	require.NoError(t, err)

	_, _, err = env.versionService.CreateVersion(ctx, fileB.ID, "alice", testLocation("obj-b"), sizeMeta(100), false)
	require.NoError(t, err)
	_, _, err = env.versionService.CreateVersion(ctx, fileC.ID, "alice", testLocation("obj-c"), sizeMeta(40), false)
	require.NoError(t, err)
	require.Equal(t, int64(140), env.userUsage("alice"))

	require.NoError(t, env.treeService.Delete(ctx, docs.ID, true, "alice"))

	// The whole subtree is gone from the live tree; only the root survives.
	for _, id := range []uuid.UUID{docs.ID, sub.ID, fileB.ID, fileC.ID} {
		_, err := env.nodes.GetByID(ctx, id)
		assert.ErrorIs(t, err, domain.ErrNotFound)
	}
	root, err := env.nodes.GetByID(ctx, project.RootNodeID)
	require.NoError(t, err)
	assert.True(t, root.IsRoot())

	items, err := env.trashService.ListTrash(ctx, "proj-1")
	require.NoError(t, err)
	require.Len(t, items, 4)
	paths := make(map[string]bool, len(items))
	for _, item := range items {
		paths[item.Path] = true
	}
	assert.True(t, paths["/docs/"])
	assert.True(t, paths["/docs/b.txt"])
	assert.True(t, paths["/docs/sub/c.txt"])

	assert.Equal(t, int64(0), env.userUsage("alice"))
	settings, err := env.usageService.GetProject(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), settings.StorageUsage)

	versions, err := env.versions.ListByCreator(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.True(t, versions[0].Deleted)
	assert.True(t, versions[1].Deleted)
}

func TestDeleteNonEmptyFolderNeedsRecurse(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	project, err := env.usageService.CreateProject(ctx, "proj-1", nil)
	require.NoError(t, err)
	docs, err := env.treeService.AppendFolder(ctx, project.RootNodeID, "docs")
	require.NoError(t, err)
	_, err = env.treeService.AppendFile(ctx, docs.ID, "b.txt")
	require.NoError(t, err)

	err = env.treeService.Delete(ctx, docs.ID, false, "alice")
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = env.nodes.GetByID(ctx, docs.ID)
	assert.NoError(t, err)
}

func TestDeleteRootRejected(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	project, err := env.usageService.CreateProject(ctx, "proj-1", nil)
	require.NoError(t, err)

	err = env.treeService.Delete(ctx, project.RootNodeID, true, "alice")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDeleteDuplicateGroupDecrementsOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	project, err := env.usageService.CreateProject(ctx, "proj-1", nil)
	require.NoError(t, err)
	fileA, err := env.treeService.AppendFile(ctx, project.RootNodeID, "a.bin")
	require.NoError(t, err)
	fileB, err := env.treeService.AppendFile(ctx, project.RootNodeID, "b.bin")
	require.NoError(t, err)

	_, _, err = env.versionService.CreateVersion(ctx, fileA.ID, "alice", testLocation("obj-a"), sizeMeta(100), false)
	require.NoError(t, err)
	_, _, err = env.versionService.CreateVersion(ctx, fileB.ID, "alice", testLocation("obj-a"), sizeMeta(100), false)
	require.NoError(t, err)
	require.Equal(t, int64(100), env.userUsage("alice"))

	// A surviving peer keeps carrying the group's size.
	require.NoError(t, env.treeService.Delete(ctx, fileB.ID, false, "alice"))
	assert.Equal(t, int64(100), env.userUsage("alice"))

	// The last member out carries the decrement.
	require.NoError(t, env.treeService.Delete(ctx, fileA.ID, false, "alice"))
	assert.Equal(t, int64(0), env.userUsage("alice"))
}
