package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"
	"golang.org/x/mod/semver"

	"github.com/devtool-release/dsr/pkg/dsrerr"
	"github.com/devtool-release/dsr/pkg/publisher"
	"github.com/devtool-release/dsr/pkg/release"
)

// watchOptions carries the flags for watch: poll a tool's upstream CI
// workflow and trigger a native build once it finishes successfully.
type watchOptions struct {
	Tool   string
	Once   bool
	DryRun bool
}

func (o *watchOptions) AddFlags(fs *flag.FlagSet, markRequired func(string)) {
	fs.StringVar(&o.Tool, "tool", "", "The tool whose upstream CI to watch, as configured in repos.d.")
	fs.BoolVar(&o.Once, "once", false, "Poll exactly once and exit instead of looping until upstream CI finishes.")
	fs.BoolVar(&o.DryRun, "dry-run", false, "Report the build that would be triggered without dispatching it.")
	markRequired("tool")
}

func (o *watchOptions) print(a *app) {
	a.log.Infof("watch: tool=%q once=%v dry-run=%v", o.Tool, o.Once, o.DryRun)
}

func newWatchCmd(a *app) *cobra.Command {
	o := &watchOptions{}
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll a tool's upstream CI and trigger a native build once it finishes",
		PreRun: func(cmd *cobra.Command, args []string) {
			o.print(a)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := runWatch(cmd.Context(), a, o)
			return a.finish("watch", o.Tool, "", err, details)
		},
	}
	o.AddFlags(cmd.Flags(), mustMarkRequired(cmd.MarkFlagRequired))
	return cmd
}

// watchDetails is emitted once per poll iteration, matching the source
// behaviour of one envelope per iteration rather than a streamed sequence.
type watchDetails struct {
	WorkflowStatus     string `json:"workflow_status,omitempty"`
	WorkflowConclusion string `json:"workflow_conclusion,omitempty"`
	UpstreamVersion    string `json:"upstream_version,omitempty"`
	Triggered          bool   `json:"triggered"`
	DryRun             bool   `json:"dry_run,omitempty"`
}

func runWatch(ctx context.Context, a *app, o *watchOptions) (*watchDetails, error) {
	tool, err := a.snapshot.RequireTool(o.Tool)
	if err != nil {
		return nil, err
	}
	if tool.Workflow == "" {
		return nil, dsrerr.InvalidArgs(fmt.Sprintf("tool %q has no workflow configured to watch", tool.Name), nil)
	}

	owner, name, err := splitOwnerRepo(tool.Repo)
	if err != nil {
		return nil, dsrerr.InvalidArgs("invalid tool repo", err)
	}
	client, err := publisher.New(ctx, a.snapshot.GitHubToken(), owner, name)
	if err != nil {
		return nil, err
	}

	workflowFile := filepath.Base(tool.Workflow)

	for {
		run, err := client.LatestWorkflowRun(ctx, workflowFile)
		if err != nil {
			return nil, &dsrerr.UpstreamMissingError{Msg: "watching workflow runs", Err: err}
		}

		if run == nil {
			a.log.Infof("watch: %s has no recorded runs of %q yet", tool.Name, workflowFile)
			if o.Once {
				return &watchDetails{}, nil
			}
		} else {
			details := &watchDetails{WorkflowStatus: run.GetStatus(), WorkflowConclusion: run.GetConclusion()}
			if run.GetStatus() == "completed" {
				if run.GetConclusion() != "success" {
					return details, nil
				}

				upstreamVer, verErr := resolveVersion(tool, "")
				if verErr == nil {
					details.UpstreamVersion = upstreamVer
					if baseline := latestBuiltVersion(a.dirs.State, tool.Name); baseline != "" && !isNewerVersion(upstreamVer, baseline) {
						a.log.Infof("watch: %s upstream CI completed but version %s is not newer than last built %s, skipping", tool.Name, upstreamVer, baseline)
						return details, nil
					}
				}

				if o.DryRun {
					details.DryRun = true
					return details, nil
				}
				a.log.Infof("watch: %s upstream CI completed, triggering native build", tool.Name)
				if _, err := runBuild(ctx, a, &buildOptions{targetFilterOptions: targetFilterOptions{Tool: tool.Name, OnlyNative: true}}); err != nil {
					return details, err
				}
				details.Triggered = true
				return details, nil
			}
			if o.Once {
				return details, nil
			}
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(release.DefaultWatchPollSeconds * time.Second):
		}
	}
}

// latestBuiltVersion returns the highest version dsr has a build directory
// for under the given tool, or "" if it has never built one.
func latestBuiltVersion(stateDir, tool string) string {
	entries, err := os.ReadDir(filepath.Join(stateDir, "builds", tool))
	if err != nil {
		return ""
	}
	best := ""
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if best == "" || isNewerVersion(e.Name(), best) {
			best = e.Name()
		}
	}
	return best
}

// isNewerVersion reports whether candidate is a newer version than
// baseline, comparing as semver when both parse and falling back to a
// lexical comparison otherwise.
func isNewerVersion(candidate, baseline string) bool {
	cv, bv := canonicalSemver(candidate), canonicalSemver(baseline)
	if semver.IsValid(cv) && semver.IsValid(bv) {
		return semver.Compare(cv, bv) > 0
	}
	return candidate > baseline
}

func canonicalSemver(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}
