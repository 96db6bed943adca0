package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devtool-release/dsr/pkg/release"
)

func TestSumFileMatchesKnownDigest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	content := []byte("hello dsr")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	want := sha256.Sum256(content)
	got, err := SumFile(path)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(want[:]), got)
}

func TestBuildArtifactsSortedByName(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.tar.gz"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.tar.gz"), []byte("a"), 0o644))

	artifacts, err := BuildArtifacts(map[string]string{
		"b.tar.gz": filepath.Join(dir, "b.tar.gz"),
		"a.tar.gz": filepath.Join(dir, "a.tar.gz"),
	}, "linux/amd64")
	require.NoError(t, err)
	require.Len(t, artifacts, 2)
	assert.Equal(t, "a.tar.gz", artifacts[0].Filename)
	assert.Equal(t, "b.tar.gz", artifacts[1].Filename)
}

func TestRenderAndParseSHA256SumsRoundTrip(t *testing.T) {
	zSum := hashHex(t, "z")
	aSum := hashHex(t, "a")
	artifacts := []release.Artifact{
		{Filename: "z.tar.gz", SHA256: zSum},
		{Filename: "a.tar.gz", SHA256: aSum},
	}
	rendered := RenderSHA256Sums(artifacts)

	lines := []string{
		aSum + "  *a.tar.gz",
		zSum + "  *z.tar.gz",
	}
	for _, l := range lines {
		assert.Contains(t, rendered, l)
	}
	// sorted by basename: a.tar.gz before z.tar.gz
	assert.True(t, strings.Index(rendered, "a.tar.gz") < strings.Index(rendered, "z.tar.gz"))

	parsed, err := ParseSHA256Sums(rendered)
	require.NoError(t, err)
	assert.Equal(t, zSum, parsed["z.tar.gz"])
	assert.Equal(t, aSum, parsed["a.tar.gz"])
}

func TestWriteSHA256Sums(t *testing.T) {
	sum := hashHex(t, "x")
	dir := t.TempDir()
	path, err := WriteSHA256Sums(dir, []release.Artifact{{Filename: "x", SHA256: sum}})
	require.NoError(t, err)
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), sum+"  *x")
}

func hashHex(t *testing.T, s string) string {
	t.Helper()
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestParseSHA256SumsMalformedErrors(t *testing.T) {
	_, err := ParseSHA256Sums("not a valid line")
	assert.Error(t, err)
}
