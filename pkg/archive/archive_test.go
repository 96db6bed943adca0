package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devtool-release/dsr/pkg/release"
)

func writeBinary(t *testing.T, dir string) string {
	path := filepath.Join(dir, "mybinary")
	require.NoError(t, os.WriteFile(path, []byte("pretend binary bytes"), 0o755))
	return path
}

func TestPackTarGzContainsEntry(t *testing.T) {
	dir := t.TempDir()
	bin := writeBinary(t, dir)
	out := filepath.Join(dir, "out.tar.gz")
	require.NoError(t, Pack(release.ArchiveTarGz, bin, "mytool", out))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)
	hdr, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "mytool", hdr.Name)
}

func TestPackZipContainsEntry(t *testing.T) {
	dir := t.TempDir()
	bin := writeBinary(t, dir)
	out := filepath.Join(dir, "out.zip")
	require.NoError(t, Pack(release.ArchiveZip, bin, "mytool.exe", out))

	zr, err := zip.OpenReader(out)
	require.NoError(t, err)
	defer zr.Close()
	require.Len(t, zr.File, 1)
	assert.Equal(t, "mytool.exe", zr.File[0].Name)
}

func TestPackBinaryRawCopy(t *testing.T) {
	dir := t.TempDir()
	bin := writeBinary(t, dir)
	out := filepath.Join(dir, "mytool")
	require.NoError(t, Pack(release.ArchiveBinary, bin, "mytool", out))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "pretend binary bytes", string(got))
}

func TestPackUnsupportedFormatErrors(t *testing.T) {
	dir := t.TempDir()
	bin := writeBinary(t, dir)
	err := Pack(release.ArchiveFormat("rar"), bin, "mytool", filepath.Join(dir, "out.rar"))
	assert.Error(t, err)
}

func TestPackBothSkipsDuplicateCompat(t *testing.T) {
	dir := t.TempDir()
	bin := writeBinary(t, dir)
	outDir := t.TempDir()

	target := release.Target{
		ArchiveFormat:              release.ArchiveTarGz,
		ExpectedAssetNameVersioned: "mytool-1.0.0-linux-amd64.tar.gz",
		ExpectedAssetNameCompat:    "mytool-1.0.0-linux-amd64.tar.gz",
	}
	versioned, compat, err := PackBoth(target, bin, "mytool", outDir)
	require.NoError(t, err)
	assert.Equal(t, versioned, compat)

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestPackBothWritesBothWhenDifferent(t *testing.T) {
	dir := t.TempDir()
	bin := writeBinary(t, dir)
	outDir := t.TempDir()

	target := release.Target{
		ArchiveFormat:              release.ArchiveTarGz,
		ExpectedAssetNameVersioned: "mytool-1.0.0-linux-amd64.tar.gz",
		ExpectedAssetNameCompat:    "mytool-linux-amd64.tar.gz",
	}
	versioned, compat, err := PackBoth(target, bin, "mytool", outDir)
	require.NoError(t, err)
	assert.NotEqual(t, versioned, compat)

	entries, err := os.ReadDir(outDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}
