// Package archive packs a built binary into one of dsr's fixed archive
// formats, writing both the versioned and compat-named copies of it
// (spec.md §4.7). Writers are stdlib for tar/zip/gzip — the teacher never
// reaches for a third-party tar/zip writer either — except tar.xz, which
// uses the ecosystem's github.com/ulikunitz/xz compressor.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/ulikunitz/xz"

	"github.com/devtool-release/dsr/pkg/release"
)

// Pack builds an archive of format containing binaryPath (named binaryName
// inside the archive) at outPath. Archives are built deterministically: a
// fixed mtime and a single regular-file entry, so repeated builds of
// identical bytes produce byte-identical archives.
func Pack(format release.ArchiveFormat, binaryPath, binaryName, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("archive: creating output dir: %w", err)
	}
	switch format {
	case release.ArchiveTarGz, release.ArchiveTgz:
		return packTarGz(binaryPath, binaryName, outPath)
	case release.ArchiveTarXz:
		return packTarXz(binaryPath, binaryName, outPath)
	case release.ArchiveZip:
		return packZip(binaryPath, binaryName, outPath)
	case release.ArchiveBinary:
		return copyRaw(binaryPath, outPath)
	default:
		return fmt.Errorf("archive: unsupported format %q", format)
	}
}

// detMTime is the fixed modification time baked into every archive entry so
// byte-identical inputs produce byte-identical archives.
var detMTime = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

func packTarGz(binaryPath, binaryName, outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("archive: creating %s: %w", outPath, err)
	}
	defer out.Close()

	gz := gzip.NewWriter(out)
	defer gz.Close()
	tw := tar.NewWriter(gz)
	defer tw.Close()

	if err := writeTarEntry(tw, binaryPath, binaryName); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("archive: closing tar writer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("archive: closing gzip writer: %w", err)
	}
	return nil
}

func packTarXz(binaryPath, binaryName, outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("archive: creating %s: %w", outPath, err)
	}
	defer out.Close()

	xw, err := xz.NewWriter(out)
	if err != nil {
		return fmt.Errorf("archive: creating xz writer: %w", err)
	}
	defer xw.Close()
	tw := tar.NewWriter(xw)
	defer tw.Close()

	if err := writeTarEntry(tw, binaryPath, binaryName); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("archive: closing tar writer: %w", err)
	}
	return xw.Close()
}

func writeTarEntry(tw *tar.Writer, binaryPath, binaryName string) error {
	in, err := os.Open(binaryPath)
	if err != nil {
		return fmt.Errorf("archive: opening %s: %w", binaryPath, err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("archive: statting %s: %w", binaryPath, err)
	}

	hdr := &tar.Header{
		Name:    binaryName,
		Mode:    0o755,
		Size:    info.Size(),
		ModTime: detMTime,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("archive: writing tar header: %w", err)
	}
	if _, err := io.Copy(tw, in); err != nil {
		return fmt.Errorf("archive: writing tar entry: %w", err)
	}
	return nil
}

func packZip(binaryPath, binaryName, outPath string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("archive: creating %s: %w", outPath, err)
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	defer zw.Close()

	in, err := os.Open(binaryPath)
	if err != nil {
		return fmt.Errorf("archive: opening %s: %w", binaryPath, err)
	}
	defer in.Close()

	hdr := &zip.FileHeader{
		Name:   binaryName,
		Method: zip.Deflate,
	}
	hdr.SetMode(0o755)
	hdr.SetModTime(detMTime)

	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return fmt.Errorf("archive: writing zip header: %w", err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("archive: writing zip entry: %w", err)
	}
	return zw.Close()
}

func copyRaw(binaryPath, outPath string) error {
	in, err := os.Open(binaryPath)
	if err != nil {
		return fmt.Errorf("archive: opening %s: %w", binaryPath, err)
	}
	defer in.Close()
	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("archive: creating %s: %w", outPath, err)
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("archive: copying raw binary: %w", err)
	}
	return nil
}

// PackBoth packs both the versioned and compat-named archives for target,
// skipping the compat copy entirely when its resolved name matches the
// versioned one (spec.md scenario S2: one file written once, not twice).
func PackBoth(target release.Target, binaryPath, binaryName, outDir string) (versionedPath, compatPath string, err error) {
	versionedPath = filepath.Join(outDir, target.ExpectedAssetNameVersioned)
	if err := Pack(target.ArchiveFormat, binaryPath, binaryName, versionedPath); err != nil {
		return "", "", err
	}
	if target.ExpectedAssetNameCompat == "" || target.ExpectedAssetNameCompat == target.ExpectedAssetNameVersioned {
		return versionedPath, versionedPath, nil
	}
	compatPath = filepath.Join(outDir, target.ExpectedAssetNameCompat)
	if err := Pack(target.ArchiveFormat, binaryPath, binaryName, compatPath); err != nil {
		return "", "", err
	}
	return versionedPath, compatPath, nil
}
