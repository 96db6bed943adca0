// Package cmd is dsr's cobra command tree, structured the way the teacher's
// cmd/cmrel/cmd package shapes a subcommand: a root options struct, a
// per-command options struct with AddFlags/print, and a PreRun that prints
// options before a RunE that calls a free run<X> function.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"

	"github.com/devtool-release/dsr/pkg/config"
	"github.com/devtool-release/dsr/pkg/dsrerr"
	"github.com/devtool-release/dsr/pkg/envelope"
	"github.com/devtool-release/dsr/pkg/executor/ssh"
	"github.com/devtool-release/dsr/pkg/logging"
	"github.com/devtool-release/dsr/pkg/release"
	"github.com/devtool-release/dsr/pkg/xdg"
)

// ownVersion is dsr's own version, reported in every Envelope's "version"
// field. Overridden at link time in a real release build via -ldflags.
var ownVersion = "dev"

// gitCommit is the commit dsr itself was built from, reported by `dsr
// version`. Overridden at link time via -ldflags.
var gitCommit = "unknown"

// rootOptions carries the global flags every subcommand shares.
type rootOptions struct {
	JSON           bool
	DryRun         bool
	NoCache        bool
	StageGCSBucket string
}

func (o *rootOptions) AddFlags(fs *flag.FlagSet) {
	fs.BoolVar(&o.JSON, "json", false, "Write stderr log lines as JSON objects instead of human-readable text; stdout always carries the JSON envelope.")
	fs.BoolVar(&o.DryRun, "dry-run", false, "Plan only; perform no external mutations.")
	fs.BoolVar(&o.NoCache, "no-cache", false, "Force a fresh host health probe instead of using the TTL cache.")
	fs.StringVar(&o.StageGCSBucket, "stage-gcs-bucket", "", "Override the configured GCS bucket for the optional remote artifact mirror.")
}

// app is the resolved, run-scoped state every subcommand's RunE closes
// over: the loaded config snapshot, resolved directories, logger, and the
// exit code the process should use once cobra returns. It is populated
// once in the root command's PersistentPreRunE, the same point the teacher
// prints options before handing off to a runX function.
type app struct {
	opts      rootOptions
	dirs      xdg.Dirs
	snapshot  *config.Snapshot
	log       *logging.Logger
	runID     string
	startedAt time.Time
	exitCode  int
}

// ExitCode returns the process exit code decided by the subcommand that
// ran, valid once Execute has returned without error.
func (a *app) ExitCode() int {
	return a.exitCode
}

// mirrorBucket returns the GCS bucket the optional remote artifact mirror
// should upload to, preferring the --stage-gcs-bucket override over config.
func (a *app) mirrorBucket() string {
	if a.opts.StageGCSBucket != "" {
		return a.opts.StageGCSBucket
	}
	return a.snapshot.MirrorGCSBucket()
}

// finish builds, validates, and emits the envelope for one command's
// outcome and records the process exit code. Every RunE must call this
// exactly once before returning.
func (a *app) finish(command string, tool, version string, err error, details interface{}) error {
	status := release.EnvelopeSuccess
	code := release.ExitSuccess
	if err != nil {
		code = dsrerr.ExitCodeFor(err)
		switch code {
		case release.ExitPartial:
			status = release.EnvelopePartial
		default:
			status = release.EnvelopeError
		}
		a.log.Errorf("%s: %v", command, err)
	}

	env := envelope.Build(command, status, code, a.runID, a.startedAt, "dsr", ownVersion, details)
	if verr := envelope.Emit(os.Stdout, env); verr != nil {
		fmt.Fprintf(os.Stderr, "dsr: failed to emit envelope: %v\n", verr)
		a.exitCode = release.ExitBuildFailure
		return nil
	}
	a.exitCode = code
	return nil
}

// NewRootCmd builds dsr's full command tree. The returned app's exitCode
// field holds the process exit code once Execute returns; if Execute
// itself returns a non-nil error (a PersistentPreRunE failure, before any
// subcommand's finish ran), the caller should map that error through
// dsrerr.ExitCodeFor instead.
func NewRootCmd() (*cobra.Command, *app) {
	a := &app{}

	root := &cobra.Command{
		Use:           "dsr",
		Short:         "Multi-host build and release automation for developer tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.startedAt = time.Now().UTC()
			a.runID = firstNonEmpty(os.Getenv("DSR_RUN_ID"), envelope.NewRunID())
			a.log = logging.New(a.opts.JSON)
			a.dirs = xdg.Resolve()

			snap, err := config.Load(a.dirs)
			if err != nil {
				return err
			}
			a.snapshot = snap
			ssh.HostLookup = snap.HostLookup

			for _, w := range snap.Warnings() {
				for _, m := range w.Mismatches {
					a.log.Warnf("config: %s: %s", m.Kind, m.Detail)
				}
			}
			return nil
		},
	}
	a.opts.AddFlags(root.PersistentFlags())

	root.AddCommand(
		newBuildCmd(a),
		newReleaseCmd(a),
		newFallbackCmd(a),
		newWatchCmd(a),
		newDoctorCmd(a),
		newHealthCmd(a),
		newPruneCmd(a),
		newQualityCmd(a),
		newReposCmd(a),
		newStatusCmd(a),
		newVersionCmd(a),
	)

	return root, a
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func mustMarkRequired(mark func(string) error) func(string) {
	return func(name string) {
		if err := mark(name); err != nil {
			panic(fmt.Sprintf("dsr: failed to mark flag %q required: %v", name, err))
		}
	}
}
