package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"

	"github.com/devtool-release/dsr/pkg/archive"
	"github.com/devtool-release/dsr/pkg/checksum"
	"github.com/devtool-release/dsr/pkg/dsrerr"
	"github.com/devtool-release/dsr/pkg/executor"
	"github.com/devtool-release/dsr/pkg/executor/act"
	"github.com/devtool-release/dsr/pkg/executor/ssh"
	"github.com/devtool-release/dsr/pkg/health"
	"github.com/devtool-release/dsr/pkg/lockstore"
	"github.com/devtool-release/dsr/pkg/mirror"
	"github.com/devtool-release/dsr/pkg/planner"
	"github.com/devtool-release/dsr/pkg/release"
	"github.com/devtool-release/dsr/pkg/retry"
	"github.com/devtool-release/dsr/pkg/version"
)

// targetFilterOptions carries the target/host filter flags shared between
// build and quality.
type targetFilterOptions struct {
	Tool       string
	Version    string
	Targets    []string
	OnlyAct    bool
	OnlyNative bool
}

func (o *targetFilterOptions) AddFlags(fs *flag.FlagSet, markRequired func(string)) {
	fs.StringVar(&o.Tool, "tool", "", "The tool to operate on, as configured in repos.d.")
	fs.StringVar(&o.Version, "version", "", "Release version to build. Detected from the tool's manifest if omitted.")
	fs.StringSliceVar(&o.Targets, "target", nil, "Restrict to this os/arch (repeatable). Alias: --targets.")
	fs.StringSliceVar(&o.Targets, "targets", nil, "Comma-separated list of os/arch to restrict to.")
	fs.BoolVar(&o.OnlyAct, "only-act", false, "Build only act-class (container) targets.")
	fs.BoolVar(&o.OnlyNative, "only-native", false, "Build only native (SSH) targets.")
	markRequired("tool")
}

func (o *targetFilterOptions) filters() (planner.Filters, error) {
	var platforms []release.Platform
	for _, t := range o.Targets {
		p, err := parsePlatform(t)
		if err != nil {
			return planner.Filters{}, err
		}
		platforms = append(platforms, p)
	}
	return planner.Filters{Targets: platforms, OnlyAct: o.OnlyAct, OnlyNative: o.OnlyNative}, nil
}

func parsePlatform(s string) (release.Platform, error) {
	for i := 0; i < len(s); i++ {
		if s[i] == '/' {
			return release.Platform{OS: s[:i], Arch: s[i+1:]}, nil
		}
	}
	return release.Platform{}, fmt.Errorf("invalid target %q, expected os/arch", s)
}

type buildOptions struct {
	targetFilterOptions
	Parallel     int
	SyncOnly     bool
	NoSync       bool
	Artifacts    string
	SkipExisting bool
}

func (o *buildOptions) AddFlags(fs *flag.FlagSet, markRequired func(string)) {
	o.targetFilterOptions.AddFlags(fs, markRequired)
	fs.IntVar(&o.Parallel, "parallel", 0, "Accepted but not read: each host always runs at its configured concurrency.")
	fs.BoolVar(&o.SyncOnly, "sync-only", false, "Rejected together with --no-sync; otherwise no effect: every target is still built.")
	fs.BoolVar(&o.NoSync, "no-sync", false, "Rejected together with --sync-only; otherwise no effect: native targets are still synced before building.")
	fs.BoolVar(&o.SkipExisting, "skip-existing", false, "Skip repacking an archive that already exists on disk with its expected name.")
	fs.StringVar(&o.Artifacts, "artifacts", "", "Override the artifacts output directory (default under the state dir).")
}

func (o *buildOptions) print(a *app) {
	a.log.Infof("build: tool=%q version=%q targets=%v only-act=%v only-native=%v dry-run=%v",
		o.Tool, o.Version, o.Targets, o.OnlyAct, o.OnlyNative, a.opts.DryRun)
}

func newBuildCmd(a *app) *cobra.Command {
	o := &buildOptions{}
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build every target for a tool across its configured hosts",
		PreRun: func(cmd *cobra.Command, args []string) {
			o.print(a)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if o.SyncOnly && o.NoSync {
				return a.finish("build", o.Tool, o.Version, dsrerr.InvalidArgs("--sync-only and --no-sync are mutually exclusive", nil), nil)
			}
			details, err := runBuild(cmd.Context(), a, o)
			return a.finish("build", o.Tool, o.Version, err, details)
		},
	}
	o.AddFlags(cmd.Flags(), mustMarkRequired(cmd.MarkFlagRequired))
	return cmd
}

type buildDetails struct {
	ArtifactsCount int                        `json:"artifacts_count"`
	Targets        int                        `json:"targets"`
	Hosts          map[string]string          `json:"hosts"`
	DryRun         bool                       `json:"dry_run,omitempty"`
	Plan           []release.Target           `json:"plan,omitempty"`
	Skipped        bool                       `json:"skipped,omitempty"`
}

func runBuild(ctx context.Context, a *app, o *buildOptions) (*buildDetails, error) {
	tool, err := a.snapshot.RequireTool(o.Tool)
	if err != nil {
		return nil, err
	}

	filters, err := o.filters()
	if err != nil {
		return nil, dsrerr.InvalidArgs("invalid target filter", err)
	}

	ver := o.Version
	if ver == "" {
		root := tool.LocalPath
		if root == "" {
			root = "."
		}
		ver, err = version.Detect(root)
		if err != nil {
			return nil, dsrerr.InvalidArgs("could not detect version, pass --version", err)
		}
	}

	targets, err := planner.Plan(tool, filters, a.snapshot)
	if err != nil {
		return nil, dsrerr.InvalidArgs("invalid build plan", err)
	}
	if err := planner.ResolveNamesForVersion(tool, targets, ver); err != nil {
		return nil, dsrerr.InvalidArgs("could not resolve artifact names", err)
	}

	if a.opts.DryRun {
		return &buildDetails{DryRun: true, Targets: len(targets), Plan: targets}, nil
	}

	hostname, _ := os.Hostname()
	lock, err := lockstore.Acquire(a.dirs.State, tool.Name, ver, a.runID, hostname)
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	// A build that was left failed or partial resumes under its original
	// run id, so its state.json (and already-completed hosts) carry over;
	// a fresh or previously-completed (tool, version) starts a new run id.
	buildRunID := a.runID
	if prevRunID, ok := lockstore.LatestRunID(a.dirs.State, tool.Name, ver); ok {
		prevState := lockstore.Open(a.dirs.State, tool.Name, ver, prevRunID)
		if prevRec, loadErr := prevState.Load(tool.Name, ver, prevRunID); loadErr == nil &&
			(prevRec.Status == release.StatusFailed || prevRec.Status == release.StatusPartial) {
			buildRunID = prevRunID
		}
	}

	state := lockstore.Open(a.dirs.State, tool.Name, ver, buildRunID)
	rec, err := state.Load(tool.Name, ver, buildRunID)
	if err != nil {
		return nil, &dsrerr.BuildFailureError{Msg: "loading build state", Err: err}
	}
	rec.Status = release.StatusRunning
	rec.Workspace = a.dirs.ArtifactsDir(tool.Name, ver)
	if o.Artifacts != "" {
		rec.Workspace = o.Artifacts
	}
	if err := os.MkdirAll(rec.Workspace, 0o755); err != nil {
		return nil, &dsrerr.BuildFailureError{Msg: "creating workspace", Err: err}
	}
	_ = state.Save(rec)
	_ = lockstore.SetLatest(a.dirs.State, tool.Name, ver, buildRunID)

	var planHostIDs []string
	seen := map[string]bool{}
	for _, t := range targets {
		if t.HostID != "" && !seen[t.HostID] {
			seen[t.HostID] = true
			planHostIDs = append(planHostIDs, t.HostID)
		}
	}
	resumeHosts := map[string]bool{}
	for _, id := range lockstore.ResumeHosts(rec, planHostIDs) {
		resumeHosts[id] = true
	}

	pools := map[string]*executor.HostPool{}
	for _, id := range planHostIDs {
		host, ok := a.snapshot.GetHost(id)
		if !ok {
			continue
		}
		pools[id] = executor.NewHostPool(host)
	}

	registry := executor.Registry{
		release.ClassAct:    &act.Runner{WorkflowDir: filepath.Dir(tool.Workflow), Verbose: !a.opts.JSON, Logf: a.log.Debugf},
		release.ClassNative: &ssh.Runner{RemoteWorkDir: rec.Workspace},
	}

	var toRun []release.Target
	for _, t := range targets {
		if t.HostID == "" {
			continue
		}
		if resumeHosts[t.HostID] || rec.Hosts[t.HostID] == nil {
			toRun = append(toRun, t)
		}
	}

	artifactPaths := map[string]string{}
	artifactTargets := map[string]string{}
	var artifactsMu sync.Mutex

	results := executor.RunAll(ctx, pools, toRun, func(ctx context.Context, t release.Target) error {
		host, ok := a.snapshot.GetHost(t.HostID)
		if !ok {
			return fmt.Errorf("build: host %q not configured", t.HostID)
		}
		var readyRes health.Result
		if a.opts.NoCache {
			readyRes = health.Probe(ctx, host, host.Capabilities)
			_ = health.Save(health.CachePath(a.dirs.Cache, host.ID), readyRes)
		} else {
			readyRes, _ = health.IsReady(ctx, host, host.Capabilities, a.dirs.Cache, release.DefaultHealthCacheTTLSeconds*time.Second)
		}
		if !readyRes.Ready {
			return fmt.Errorf("build: host %q is not healthy", host.ID)
		}

		ha := lockstore.StartHost(rec, t.HostID)
		start := time.Now()

		exec, ok := registry.For(t.Class)
		if !ok {
			lockstore.FailHost(ha, fmt.Errorf("no executor for class %q", t.Class))
			return fmt.Errorf("build: no executor for class %q", t.Class)
		}

		params := retry.DefaultParams()
		params.MaxAttempts = release.DefaultMaxRetryAttempts
		var binaryPath string
		attemptErr := retry.Do(ctx, params, func(ctx context.Context) error {
			p, buildErr := exec.Build(ctx, tool, t, rec.Workspace)
			if buildErr != nil {
				return buildErr
			}
			binaryPath = p
			return nil
		}, func(at retry.Attempt) {
			ha.RetryCount = at.Index
		})
		if attemptErr != nil {
			lockstore.FailHost(ha, attemptErr)
			return attemptErr
		}

		outDir := filepath.Join(rec.Workspace, t.PlatformKey())
		versionedPath := filepath.Join(outDir, t.ExpectedAssetNameVersioned)
		compatPath := ""
		if t.ExpectedAssetNameCompat != t.ExpectedAssetNameVersioned {
			compatPath = filepath.Join(outDir, t.ExpectedAssetNameCompat)
		}
		if o.SkipExisting && fileExists(versionedPath) && (compatPath == "" || fileExists(compatPath)) {
			a.log.Infof("build: archive already produced for %s/%s, skipping pack", t.OS, t.Arch)
		} else {
			var packErr error
			versionedPath, compatPath, packErr = archive.PackBoth(t, binaryPath, tool.BinaryName, outDir)
			if packErr != nil {
				lockstore.FailHost(ha, packErr)
				return packErr
			}
		}

		platformKey := t.PlatformKey()
		artifactsMu.Lock()
		artifactPaths[t.ExpectedAssetNameVersioned] = versionedPath
		artifactTargets[t.ExpectedAssetNameVersioned] = platformKey
		if compatPath != "" {
			artifactPaths[t.ExpectedAssetNameCompat] = compatPath
			artifactTargets[t.ExpectedAssetNameCompat] = platformKey
		}
		artifactsMu.Unlock()

		lockstore.CompleteHost(ha, time.Since(start).Milliseconds())
		ha.TargetsCovered = append(ha.TargetsCovered, t)
		return nil
	})

	var failures []error
	for _, r := range results {
		if r.Err != nil {
			failures = append(failures, r.Err)
			a.log.Errorf("build: target %s/%s on host %q: %v", r.Target.OS, r.Target.Arch, r.Target.HostID, r.Err)
		}
	}

	pathsByTarget := map[string]map[string]string{}
	for name, path := range artifactPaths {
		target := artifactTargets[name]
		if pathsByTarget[target] == nil {
			pathsByTarget[target] = map[string]string{}
		}
		pathsByTarget[target][name] = path
	}
	// Carry forward artifacts from hosts completed in an earlier, resumed
	// run of this (tool, version): this round only rebuilt toRun's targets,
	// but the final manifest must cover every completed host so a resumed
	// build's manifest matches a hypothetical single-shot run (spec.md §8).
	var artifacts []release.Artifact
	for _, prev := range rec.Artifacts {
		if prev.Target == "checksums" || prev.Target == "manifest" {
			continue
		}
		if _, rebuilt := artifactTargets[prev.Filename]; !rebuilt {
			artifacts = append(artifacts, prev)
		}
	}
	for target, paths := range pathsByTarget {
		built, err := checksum.BuildArtifacts(paths, target)
		if err != nil {
			return nil, &dsrerr.BuildFailureError{Msg: "computing checksums", Err: err}
		}
		artifacts = append(artifacts, built...)
	}
	sumsPath, err := checksum.WriteSHA256Sums(rec.Workspace, artifacts)
	if err == nil {
		if sum, sumErr := checksum.SumFile(sumsPath); sumErr == nil {
			info, _ := os.Stat(sumsPath)
			var size int64
			if info != nil {
				size = info.Size()
			}
			artifacts = append(artifacts, release.Artifact{
				Filename: release.SHA256SumsFileName, Target: "checksums", Path: sumsPath, SHA256: sum, SizeBytes: size,
			})
		}
	}
	rec.Artifacts = artifacts

	lockstore.Finalize(rec)
	if err := state.Save(rec); err != nil {
		a.log.Warnf("build: failed to persist final state: %v", err)
	}

	if bucket := a.mirrorBucket(); bucket != "" {
		if err := mirrorBuild(ctx, bucket, a.snapshot.MirrorPrefix(), rec); err != nil {
			a.log.Warnf("build: mirror upload failed: %v", err)
		}
	}

	hostsDetail := map[string]string{}
	for id, ha := range rec.Hosts {
		hostsDetail[id] = ha.Status
	}

	details := &buildDetails{
		ArtifactsCount: len(rec.Artifacts),
		Targets:        len(targets),
		Hosts:          hostsDetail,
	}

	switch rec.Status {
	case release.StatusCompleted:
		return details, nil
	case release.StatusPartial:
		return details, &dsrerr.PartialCompletionError{Msg: fmt.Sprintf("%d of %d hosts failed", len(failures), len(rec.Hosts))}
	default:
		return details, &dsrerr.BuildFailureError{Msg: "every host failed", Err: firstError(failures)}
	}
}

func firstError(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errs[0]
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// mirrorBuild copies a finalised BuildRecord's artifacts to the optional
// GCS staging mirror, best-effort: failures here never fail the build
// itself.
func mirrorBuild(ctx context.Context, bucket, prefix string, rec *release.BuildRecord) error {
	m, err := mirror.New(ctx, bucket, prefix)
	if err != nil {
		return err
	}
	defer m.Close()

	manifest := release.ManifestFromBuildRecord(rec, "")
	manifestJSON, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("build: marshaling manifest for mirror: %w", err)
	}
	return m.UploadBuild(ctx, rec, "build", manifestJSON)
}
