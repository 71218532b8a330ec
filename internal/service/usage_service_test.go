package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"labvault/internal/domain"
)

// Replays a mixed operation sequence and checks that the incrementally
// maintained counters agree with the authoritative recompute.
func TestCounterMatchesAuthoritativeRecompute(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	project, err := env.usageService.CreateProject(ctx, "proj-1", nil)
	require.NoError(t, err)
	file1, err := env.treeService.AppendFile(ctx, project.RootNodeID, "one.bin")
	require.NoError(t, err)
	file2, err := env.treeService.AppendFile(ctx, project.RootNodeID, "two.bin")
	require.NoError(t, err)
	file3, err := env.treeService.AppendFile(ctx, project.RootNodeID, "scratch.bin")
	require.NoError(t, err)

	_, _, err = env.versionService.CreateVersion(ctx, file1.ID, "alice", testLocation("obj-a"), sizeMeta(100), false)
	require.NoError(t, err)
	// Duplicate of file1's bytes: joins the group, contributes nothing.
	_, _, err = env.versionService.CreateVersion(ctx, file2.ID, "alice", testLocation("obj-a"), sizeMeta(100), false)
	require.NoError(t, err)
	_, _, err = env.versionService.CreateVersion(ctx, file1.ID, "alice", testLocation("obj-b"), sizeMeta(50), false)
	require.NoError(t, err)
	// Uncounted upload: never billed.
	_, _, err = env.versionService.CreateVersion(ctx, file3.ID, "alice", testLocation("obj-c"), sizeMeta(30), true)
	require.NoError(t, err)

	require.NoError(t, env.treeService.Delete(ctx, file2.ID, false, "alice"))

	recomputed, err := env.usageService.CalculateUserUsage(ctx, "alice", domain.ComputeOptions{Dedup: true}, false)
	require.NoError(t, err)
	assert.Equal(t, int64(150), recomputed)
	assert.Equal(t, recomputed, env.userUsage("alice"))

	projectRecomputed, err := env.usageService.CalculateNodeUsage(ctx, "proj-1", domain.ComputeOptions{Dedup: true}, false, false)
	require.NoError(t, err)
	settings, err := env.usageService.GetProject(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, projectRecomputed, settings.StorageUsage)
}

func TestCalculateUserUsageRejectsNonCanonicalSave(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	_, err := env.usageService.CalculateUserUsage(ctx, "alice", domain.ComputeOptions{Dedup: true, Deleted: true}, true)
	assert.ErrorIs(t, err, domain.ErrValidation)
}
