package version

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectVersionFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "VERSION"), []byte("v1.4.0\n"), 0o644))
	v, err := Detect(dir)
	require.NoError(t, err)
	assert.Equal(t, "1.4.0", v)
}

func TestDetectPackageJSON(t *testing.T) {
	dir := t.TempDir()
	content := "{\n  \"name\": \"thing\",\n  \"version\": \"2.3.4\"\n}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "package.json"), []byte(content), 0o644))
	v, err := Detect(dir)
	require.NoError(t, err)
	assert.Equal(t, "2.3.4", v)
}

func TestDetectCargoToml(t *testing.T) {
	dir := t.TempDir()
	content := "[package]\nname = \"thing\"\nversion = \"0.9.1\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte(content), 0o644))
	v, err := Detect(dir)
	require.NoError(t, err)
	assert.Equal(t, "0.9.1", v)
}

func TestDetectNoneFoundErrors(t *testing.T) {
	_, err := Detect(t.TempDir())
	assert.Error(t, err)
}

func TestCompare(t *testing.T) {
	c, err := Compare("v1.2.3", "1.2.4")
	require.NoError(t, err)
	assert.Equal(t, -1, c)
}

func TestTagExistsFalseOutsideRepo(t *testing.T) {
	ok, err := TagExists(context.Background(), t.TempDir(), "v1.0.0")
	require.NoError(t, err)
	assert.False(t, ok)
}
