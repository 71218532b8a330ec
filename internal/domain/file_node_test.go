package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseNodePath(t *testing.T) {
	tests := []struct {
		name string
		path string
		want NodePath
	}{
		{
			name: "file under parent",
			path: "/a1b2c3/report.csv",
			want: NodePath{ParentID: "a1b2c3", Name: "report.csv", Kind: NodeKindFile},
		},
		{
			name: "folder under parent",
			path: "/a1b2c3/results/",
			want: NodePath{ParentID: "a1b2c3", Name: "results", Kind: NodeKindFolder},
		},
		{
			name: "file under root",
			path: "/report.csv",
			want: NodePath{ParentID: "", Name: "report.csv", Kind: NodeKindFile},
		},
		{
			name: "folder under root",
			path: "/results/",
			want: NodePath{ParentID: "", Name: "results", Kind: NodeKindFolder},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseNodePath(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestParseNodePathInvalid(t *testing.T) {
	for _, path := range []string{
		"",
		"/",
		"//",
		"/a/b/c",
		"/a//b",
	} {
		t.Run(path, func(t *testing.T) {
			_, err := ParseNodePath(path)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestBuildMaterializedPath(t *testing.T) {
	assert.Equal(t, "/docs/results/report.csv",
		BuildMaterializedPath([]string{"docs", "results", "report.csv"}, NodeKindFile))
	assert.Equal(t, "/docs/results/",
		BuildMaterializedPath([]string{"docs", "results"}, NodeKindFolder))
	assert.Equal(t, "/report.csv",
		BuildMaterializedPath([]string{"report.csv"}, NodeKindFile))
}

func TestFileNodeIsRoot(t *testing.T) {
	root := FileNode{Kind: NodeKindFolder}
	assert.True(t, root.IsRoot())

	parent := root.ID
	child := FileNode{Kind: NodeKindFile, ParentID: &parent}
	assert.False(t, child.IsRoot())
	assert.True(t, child.IsFile())
	assert.False(t, child.IsFolder())
}
