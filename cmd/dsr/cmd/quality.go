package cmd

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"

	"github.com/devtool-release/dsr/pkg/dsrerr"
)

// qualityOptions runs a tool's configured check commands as a release gate.
type qualityOptions struct {
	Tool       string
	SkipChecks bool
}

func (o *qualityOptions) AddFlags(fs *flag.FlagSet, markRequired func(string)) {
	fs.StringVar(&o.Tool, "tool", "", "The tool whose checks to run, as configured in repos.d.")
	fs.BoolVar(&o.SkipChecks, "skip-checks", false, "Skip running checks and report success unconditionally.")
	markRequired("tool")
}

func (o *qualityOptions) print(a *app) {
	a.log.Infof("quality: tool=%q skip-checks=%v dry-run=%v", o.Tool, o.SkipChecks, a.opts.DryRun)
}

func newQualityCmd(a *app) *cobra.Command {
	o := &qualityOptions{}
	cmd := &cobra.Command{
		Use:   "quality",
		Short: "Run a tool's configured quality checks",
		PreRun: func(cmd *cobra.Command, args []string) {
			o.print(a)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := runQuality(cmd.Context(), a, o)
			return a.finish("quality", o.Tool, "", err, details)
		},
	}
	o.AddFlags(cmd.Flags(), mustMarkRequired(cmd.MarkFlagRequired))
	return cmd
}

type checkResult struct {
	Command  string `json:"command"`
	OK       bool   `json:"ok"`
	Output   string `json:"output,omitempty"`
	DurationMS int64 `json:"duration_ms"`
}

type qualityDetails struct {
	Skipped bool          `json:"skipped"`
	Checks  []checkResult `json:"checks,omitempty"`
	DryRun  bool          `json:"dry_run,omitempty"`
}

func runQuality(ctx context.Context, a *app, o *qualityOptions) (*qualityDetails, error) {
	tool, err := a.snapshot.RequireTool(o.Tool)
	if err != nil {
		return nil, err
	}

	if o.SkipChecks {
		a.log.Infof("quality: --skip-checks set, skipping %d configured checks", len(tool.Checks))
		return &qualityDetails{Skipped: true}, nil
	}

	if a.opts.DryRun {
		return &qualityDetails{DryRun: true, Checks: nil}, nil
	}

	root := tool.LocalPath
	if root == "" {
		root = "."
	}

	var results []checkResult
	var failed []string
	for _, c := range tool.Checks {
		start := time.Now()
		out, runErr := runShell(ctx, root, c)
		res := checkResult{
			Command:    c,
			OK:         runErr == nil,
			Output:     strings.TrimSpace(out),
			DurationMS: time.Since(start).Milliseconds(),
		}
		results = append(results, res)
		if runErr != nil {
			a.log.Errorf("quality: check %q failed: %v", c, runErr)
			failed = append(failed, c)
		}
	}

	details := &qualityDetails{Checks: results}
	if len(failed) == 0 {
		return details, nil
	}
	if len(failed) < len(tool.Checks) {
		return details, &dsrerr.PartialCompletionError{Msg: fmt.Sprintf("%d of %d checks failed", len(failed), len(tool.Checks))}
	}
	return details, &dsrerr.BuildFailureError{Msg: fmt.Sprintf("all %d checks failed, first: %s", len(failed), failed[0])}
}

func runShell(ctx context.Context, dir, command string) (string, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	return string(out), err
}
