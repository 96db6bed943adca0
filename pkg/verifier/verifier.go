// Package verifier diffs a persisted Manifest against the assets actually
// attached to a GitHub release, reporting missing or extra assets and
// optionally re-uploading what's missing (spec.md §4.10). The asset-list
// fetch pattern is adapted from orris-inc-orris's GitHubReleaseService,
// repurposed from a client-side "is there a newer release" check into a
// release-side "does the manifest match reality" check.
package verifier

import (
	"context"
	"fmt"

	"github.com/google/go-github/v35/github"

	"github.com/devtool-release/dsr/pkg/publisher"
	"github.com/devtool-release/dsr/pkg/release"
)

// Report is the result of comparing a Manifest against a release's assets.
type Report struct {
	Missing []string // present in manifest, absent from the release
	Extra   []string // present on the release, absent from manifest
	OK      bool
}

// Diff compares manifest.Artifacts against the asset names actually
// attached to rel.
func Diff(manifest *release.Manifest, rel *github.RepositoryRelease) Report {
	remote := map[string]bool{}
	for _, a := range rel.Assets {
		remote[a.GetName()] = true
	}
	expected := map[string]bool{}
	for _, a := range manifest.Artifacts {
		expected[a.Filename] = true
	}

	var report Report
	for name := range expected {
		if !remote[name] {
			report.Missing = append(report.Missing, name)
		}
	}
	for name := range remote {
		if !expected[name] {
			report.Extra = append(report.Extra, name)
		}
	}
	report.OK = len(report.Missing) == 0
	return report
}

// Fix re-uploads every artifact named in report.Missing, using the same
// manifest to locate each asset's local path. Extra (unexpected) assets are
// left alone: removing a published asset a user may be relying on is a
// separate, deliberate operation this package does not perform implicitly.
func Fix(ctx context.Context, client *publisher.Client, rel *github.RepositoryRelease, manifest *release.Manifest, report Report) (*publisher.PublishResult, error) {
	if len(report.Missing) == 0 {
		return &publisher.PublishResult{ReleaseID: rel.GetID(), Failed: map[string]error{}}, nil
	}
	byName := map[string]release.Artifact{}
	for _, a := range manifest.Artifacts {
		byName[a.Filename] = a
	}

	var uploads []publisher.AssetUpload
	for _, name := range report.Missing {
		a, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("verifier: missing asset %q not found in manifest", name)
		}
		uploads = append(uploads, publisher.AssetUpload{Filename: a.Filename, Path: a.Path, SHA256: a.SHA256, SizeBytes: a.SizeBytes})
	}
	return client.UploadAssets(ctx, rel, uploads), nil
}

// ExitStatus maps a Report onto dsr's fixed exit codes: ok means success (0),
// a nonempty Missing list with the release otherwise present means partial
// (1), per spec.md §6/§7.
func (r Report) ExitStatus() int {
	if r.OK {
		return release.ExitSuccess
	}
	return release.ExitPartial
}
