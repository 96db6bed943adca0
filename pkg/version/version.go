// Package version is dsr's version oracle: it detects a tool's current
// version from its source tree, and can optionally cut a new git tag.
// Semantic comparisons of a tool's own version use the teacher's own
// github.com/blang/semver; the separate golang.org/x/mod/semver is used by
// `dsr watch`'s "is upstream newer" comparison, which works on raw version
// strings scraped from build directory names rather than a parsed
// semver.Version.
package version

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/blang/semver"
)

// manifestReader extracts a version string from one language's manifest
// file. Each returns ("", nil) if the manifest is absent so callers can
// fall through to the next reader.
type manifestReader func(root string) (string, error)

var readers = []manifestReader{
	readVersionFile,
	readPackageJSON,
	readCargoToml,
	readPyprojectToml,
}

// Detect walks dsr's known manifest readers in order and returns the first
// version string found, stripped of any leading "v".
func Detect(root string) (string, error) {
	for _, r := range readers {
		v, err := r(root)
		if err != nil {
			return "", err
		}
		if v != "" {
			return strings.TrimPrefix(v, "v"), nil
		}
	}
	return "", fmt.Errorf("version: no VERSION file, package.json, Cargo.toml, or pyproject.toml found under %s", root)
}

func readVersionFile(root string) (string, error) {
	b, err := os.ReadFile(filepath.Join(root, "VERSION"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("version: reading VERSION: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func readPackageJSON(root string) (string, error) {
	return grepQuotedField(filepath.Join(root, "package.json"), `"version"`)
}

func readCargoToml(root string) (string, error) {
	return grepKeyedField(filepath.Join(root, "Cargo.toml"), "version")
}

func readPyprojectToml(root string) (string, error) {
	return grepKeyedField(filepath.Join(root, "pyproject.toml"), "version")
}

// grepQuotedField does a minimal, line-oriented scan for `"key": "value"`,
// sufficient for a version field without pulling in a JSON parser just to
// read one key.
func grepQuotedField(path, key string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("version: opening %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, key) {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		return strings.Trim(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(parts[1]), ",")), `"`), nil
	}
	return "", scanner.Err()
}

// grepKeyedField does a minimal scan for `key = "value"`, TOML's common
// single-line assignment form.
func grepKeyedField(path, key string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("version: opening %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, key+" ") && !strings.HasPrefix(line, key+"=") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		return strings.Trim(strings.TrimSpace(parts[1]), `"`), nil
	}
	return "", scanner.Err()
}

// Parse validates a version string as semver, accepting a leading "v".
func Parse(v string) (semver.Version, error) {
	return semver.Parse(strings.TrimPrefix(v, "v"))
}

// Compare reports -1/0/1 the way semver.Version.Compare does, after
// normalizing both inputs' optional leading "v".
func Compare(a, b string) (int, error) {
	av, err := Parse(a)
	if err != nil {
		return 0, fmt.Errorf("version: parsing %q: %w", a, err)
	}
	bv, err := Parse(b)
	if err != nil {
		return 0, fmt.Errorf("version: parsing %q: %w", b, err)
	}
	return av.Compare(bv), nil
}

// TagExists reports whether a git tag already exists in the repository
// rooted at root.
func TagExists(ctx context.Context, root, tag string) (bool, error) {
	cmd := exec.CommandContext(ctx, "git", "-C", root, "rev-parse", "--verify", "refs/tags/"+tag)
	if err := cmd.Run(); err != nil {
		return false, nil
	}
	return true, nil
}

// CreateTag creates an annotated git tag at HEAD, the way a release
// automation tool hands version control back to git rather than
// reimplementing tag objects itself.
func CreateTag(ctx context.Context, root, tag, message string) error {
	cmd := exec.CommandContext(ctx, "git", "-C", root, "tag", "-a", tag, "-m", message)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("version: git tag %s: %w: %s", tag, err, strings.TrimSpace(string(out)))
	}
	return nil
}
