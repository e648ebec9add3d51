package stage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyPathSkipsDestinationInsideSource(t *testing.T) {
	src := filepath.Join(t.TempDir(), "foo")
	require.NoError(t, os.MkdirAll(filepath.Join(src, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "envgym.dockerfile"), []byte("FROM alpine"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "sub", "a.txt"), []byte("a"), 0o644))

	dst := filepath.Join(src, "foo")
	require.NoError(t, copyPath(src, dst))

	assert.FileExists(t, filepath.Join(dst, "envgym.dockerfile"))
	assert.FileExists(t, filepath.Join(dst, "sub", "a.txt"))
	assert.NoDirExists(t, filepath.Join(dst, "foo"))
}

func TestWithin(t *testing.T) {
	tests := []struct {
		path, root string
		want       bool
	}{
		{"/data/foo", "/data/foo", true},
		{"/data/foo/bar", "/data/foo", true},
		{"/data/foobar", "/data/foo", false},
		{"/data", "/data/foo", false},
		{"/other/foo", "/data/foo", false},
		{"/data/..foo", "/data", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, within(tt.path, tt.root), "%s in %s", tt.path, tt.root)
	}
}
