package sync

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIgnoreList_Defaults(t *testing.T) {
	ignore, err := NewIgnoreList(nil, nil)
	require.NoError(t, err)

	cases := []struct {
		path     string
		isFolder bool
		ignored  bool
	}{
		{".DS_Store", false, true},
		{"photos/.DS_Store", false, true},
		{"Thumbs.db", false, true},
		{".syncignore", false, true},
		{"notes.txt.swp", false, true},
		{"a.txt.drivesync.tmp.123", false, true},
		{"a.txt", false, false},
		{"docs", true, false},
		{"docs/report.pdf", false, false},
	}
	for _, c := range cases {
		t.Run(c.path, func(t *testing.T) {
			assert.Equal(t, c.ignored, ignore.ShouldIgnore(c.path, c.isFolder))
		})
	}
}

func TestIgnoreList_NilIgnoresNothing(t *testing.T) {
	var ignore *IgnoreList
	assert.False(t, ignore.ShouldIgnore(".DS_Store", false))
}

func TestIgnoreList_FolderRules(t *testing.T) {
	ignore, err := NewIgnoreList([]string{"build/", "*.log"}, nil)
	require.NoError(t, err)

	assert.True(t, ignore.ShouldIgnore("build", true))
	assert.True(t, ignore.ShouldIgnore("build/out.bin", false))
	assert.True(t, ignore.ShouldIgnore("logs/today.log", false))
	assert.False(t, ignore.ShouldIgnore("src/main.go", false))
}

func TestIgnoreList_Include(t *testing.T) {
	ignore, err := NewIgnoreList(nil, []string{"docs/**", "**/*.md"})
	require.NoError(t, err)

	assert.False(t, ignore.ShouldIgnore("docs", true))
	assert.False(t, ignore.ShouldIgnore("docs/a/b.pdf", false))
	assert.False(t, ignore.ShouldIgnore("notes/readme.md", false))
	assert.True(t, ignore.ShouldIgnore("photos/cat.jpg", false))
	// any folder may hold markdown files
	assert.False(t, ignore.ShouldIgnore("photos", true))

	// ignore rules still apply inside included trees
	assert.True(t, ignore.ShouldIgnore("docs/.DS_Store", false))
}

func TestIgnoreList_IncludeParents(t *testing.T) {
	ignore, err := NewIgnoreList(nil, []string{"projects/drivesync/**"})
	require.NoError(t, err)

	assert.False(t, ignore.ShouldIgnore("projects", true))
	assert.False(t, ignore.ShouldIgnore("projects/drivesync", true))
	assert.True(t, ignore.ShouldIgnore("projects/other", true))
	assert.True(t, ignore.ShouldIgnore("projects/readme.txt", false))
}

func TestIgnoreList_InvalidInclude(t *testing.T) {
	_, err := NewIgnoreList(nil, []string{"docs/[a"})
	assert.Error(t, err)
}

func TestLoadIgnoreList(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fsys, "/"+IgnoreFileName, []byte("# comments are skipped\n\n*.tmp\nnode_modules/\n"), 0o644))

	ignore, err := LoadIgnoreList(fsys, []string{"*.bak"}, nil)
	require.NoError(t, err)

	assert.True(t, ignore.ShouldIgnore("scratch.tmp", false))
	assert.True(t, ignore.ShouldIgnore("web/node_modules", true))
	assert.True(t, ignore.ShouldIgnore("old.bak", false))
	assert.False(t, ignore.ShouldIgnore("web/index.html", false))
}

func TestLoadIgnoreList_MissingFile(t *testing.T) {
	ignore, err := LoadIgnoreList(afero.NewMemMapFs(), nil, nil)
	require.NoError(t, err)
	assert.False(t, ignore.ShouldIgnore("a.txt", false))
	assert.True(t, ignore.ShouldIgnore(".DS_Store", false))
}
