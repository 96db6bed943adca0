package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"

	"github.com/devtool-release/dsr/pkg/dsrerr"
	"github.com/devtool-release/dsr/pkg/lockstore"
	"github.com/devtool-release/dsr/pkg/publisher"
	"github.com/devtool-release/dsr/pkg/release"
	"github.com/devtool-release/dsr/pkg/verifier"
	"github.com/devtool-release/dsr/pkg/version"
)

// releaseOptions carries the flags shared by `release` and `release verify`.
type releaseOptions struct {
	Tool    string
	Version string
	Draft   bool
	Fix     bool
}

func (o *releaseOptions) AddFlags(fs *flag.FlagSet, markRequired func(string)) {
	fs.StringVar(&o.Tool, "tool", "", "The tool to publish or verify, as configured in repos.d.")
	fs.StringVar(&o.Version, "version", "", "Release version. Detected from the tool's manifest if omitted.")
	fs.BoolVar(&o.Draft, "draft", false, "Create the GitHub release as a draft.")
	markRequired("tool")
}

func (o *releaseOptions) print(a *app, sub string) {
	a.log.Infof("release %s: tool=%q version=%q draft=%v dry-run=%v", sub, o.Tool, o.Version, o.Draft, a.opts.DryRun)
}

func newReleaseCmd(a *app) *cobra.Command {
	o := &releaseOptions{}
	cmd := &cobra.Command{
		Use:   "release",
		Short: "Publish a build's artifacts to a GitHub release",
		PreRun: func(cmd *cobra.Command, args []string) {
			o.print(a, "publish")
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := runRelease(cmd.Context(), a, o)
			return a.finish("release", o.Tool, o.Version, err, details)
		},
	}
	o.AddFlags(cmd.Flags(), mustMarkRequired(cmd.MarkFlagRequired))

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Compare a release's assets against the local manifest",
		PreRun: func(cmd *cobra.Command, args []string) {
			o.print(a, "verify")
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := runReleaseVerify(cmd.Context(), a, o)
			return a.finish("release verify", o.Tool, o.Version, err, details)
		},
	}
	verifyCmd.Flags().BoolVar(&o.Fix, "fix", false, "Re-upload any asset present in the manifest but missing from the release.")
	cmd.AddCommand(verifyCmd)

	return cmd
}

type releaseDetails struct {
	ReleaseID int64    `json:"release_id,omitempty"`
	Uploaded  []string `json:"uploaded,omitempty"`
	Skipped   []string `json:"skipped,omitempty"`
	Failed    []string `json:"failed,omitempty"`
	DryRun    bool     `json:"dry_run,omitempty"`
}

// resolveVersion returns o.Version, falling back to version.Detect against
// the tool's local tree.
func resolveVersion(tool *release.ToolSpec, want string) (string, error) {
	if want != "" {
		return want, nil
	}
	root := tool.LocalPath
	if root == "" {
		root = "."
	}
	return version.Detect(root)
}

// splitOwnerRepo splits a ToolSpec's "owner/name" repo field.
func splitOwnerRepo(repo string) (owner, name string, err error) {
	parts := strings.SplitN(repo, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("release: repo %q is not of the form owner/name", repo)
	}
	return parts[0], parts[1], nil
}

// loadLatestRecord loads the most recently finalised BuildRecord for
// (tool, version), failing with BuildFailure if none was ever built.
func loadLatestRecord(stateDir, tool, ver string) (*release.BuildRecord, error) {
	runID, ok := lockstore.LatestRunID(stateDir, tool, ver)
	if !ok {
		return nil, &dsrerr.BuildFailureError{Msg: fmt.Sprintf("no build found for %s@%s, run `dsr build` first", tool, ver)}
	}
	state := lockstore.Open(stateDir, tool, ver, runID)
	return state.Load(tool, ver, runID)
}

func runRelease(ctx context.Context, a *app, o *releaseOptions) (*releaseDetails, error) {
	tool, err := a.snapshot.RequireTool(o.Tool)
	if err != nil {
		return nil, err
	}
	ver, err := resolveVersion(tool, o.Version)
	if err != nil {
		return nil, dsrerr.InvalidArgs("could not detect version, pass --version", err)
	}

	rec, err := loadLatestRecord(a.dirs.State, tool.Name, ver)
	if err != nil {
		return nil, err
	}
	if len(rec.Artifacts) == 0 {
		return nil, &dsrerr.BuildFailureError{Msg: fmt.Sprintf("build record for %s@%s has no artifacts", tool.Name, ver)}
	}

	if a.opts.DryRun {
		var names []string
		for _, art := range rec.Artifacts {
			names = append(names, art.Filename)
		}
		return &releaseDetails{DryRun: true, Uploaded: names}, nil
	}

	owner, name, err := splitOwnerRepo(tool.Repo)
	if err != nil {
		return nil, dsrerr.InvalidArgs("invalid tool repo", err)
	}

	client, err := publisher.New(ctx, a.snapshot.GitHubToken(), owner, name)
	if err != nil {
		return nil, err
	}

	draft := o.Draft || a.snapshot.Draft()
	tag := "v" + ver
	body := fmt.Sprintf("Release %s, built by run %s.", tag, rec.RunID)
	rel, err := client.EnsureRelease(ctx, tag, tag, body, draft)
	if err != nil {
		return nil, &dsrerr.UpstreamMissingError{Msg: "creating or locating release", Err: err}
	}

	var uploads []publisher.AssetUpload
	for _, art := range rec.Artifacts {
		uploads = append(uploads, publisher.AssetUpload{Filename: art.Filename, Path: art.Path, SHA256: art.SHA256, SizeBytes: art.SizeBytes})
	}
	result := client.UploadAssets(ctx, rel, uploads)

	manifest := release.ManifestFromBuildRecord(rec, "")
	manifestPath := a.dirs.ManifestPath(tool.Name, ver)
	if err := writeManifest(manifestPath, manifest); err != nil {
		a.log.Warnf("release: failed to persist manifest: %v", err)
	}

	details := &releaseDetails{
		ReleaseID: result.ReleaseID,
		Uploaded:  result.Uploaded,
		Skipped:   result.Skipped,
	}
	for name := range result.Failed {
		details.Failed = append(details.Failed, name)
	}

	switch result.Status() {
	case release.EnvelopeSuccess:
		return details, nil
	case release.EnvelopePartial:
		return details, &dsrerr.PartialCompletionError{Msg: fmt.Sprintf("%d of %d assets failed to upload", len(result.Failed), len(uploads))}
	default:
		return details, &dsrerr.BuildFailureError{Msg: "every asset failed to upload"}
	}
}

type verifyDetails struct {
	Missing []string `json:"missing,omitempty"`
	Extra   []string `json:"extra,omitempty"`
	Fixed   []string `json:"fixed,omitempty"`
	OK      bool     `json:"ok"`
}

func runReleaseVerify(ctx context.Context, a *app, o *releaseOptions) (*verifyDetails, error) {
	tool, err := a.snapshot.RequireTool(o.Tool)
	if err != nil {
		return nil, err
	}
	ver, err := resolveVersion(tool, o.Version)
	if err != nil {
		return nil, dsrerr.InvalidArgs("could not detect version, pass --version", err)
	}

	manifest, err := readManifest(a.dirs.ManifestPath(tool.Name, ver))
	if err != nil {
		rec, recErr := loadLatestRecord(a.dirs.State, tool.Name, ver)
		if recErr != nil {
			return nil, recErr
		}
		manifest = release.ManifestFromBuildRecord(rec, "")
	}

	owner, name, err := splitOwnerRepo(tool.Repo)
	if err != nil {
		return nil, dsrerr.InvalidArgs("invalid tool repo", err)
	}
	client, err := publisher.New(ctx, a.snapshot.GitHubToken(), owner, name)
	if err != nil {
		return nil, err
	}
	tag := "v" + ver
	rel, err := client.GetRelease(ctx, tag)
	if err != nil {
		return nil, err
	}

	report := verifier.Diff(manifest, rel)
	details := &verifyDetails{Missing: report.Missing, Extra: report.Extra, OK: report.OK}

	if !report.OK && o.Fix {
		fixResult, fixErr := verifier.Fix(ctx, client, rel, manifest, report)
		if fixErr != nil {
			return details, &dsrerr.BuildFailureError{Msg: "re-uploading missing assets", Err: fixErr}
		}
		details.Fixed = fixResult.Uploaded
		if fresh, getErr := client.GetRelease(ctx, tag); getErr == nil {
			rel = fresh
		}
		report = verifier.Diff(manifest, rel)
		details.OK = report.OK
		details.Missing = report.Missing
	}

	if details.OK {
		return details, nil
	}
	return details, &dsrerr.PartialCompletionError{Msg: fmt.Sprintf("%d assets missing from release", len(details.Missing))}
}

func writeManifest(path string, m *release.Manifest) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func readManifest(path string) (*release.Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m release.Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

