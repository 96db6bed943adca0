package cmd

import (
	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"

	"github.com/devtool-release/dsr/pkg/dsrerr"
	"github.com/devtool-release/dsr/pkg/release"
)

// statusOptions carries the flags for the status command: a point-in-time
// read of a build's state, never mutating it (spec.md §3 Ownership).
type statusOptions struct {
	Tool    string
	Version string
}

func (o *statusOptions) AddFlags(fs *flag.FlagSet, markRequired func(string)) {
	fs.StringVar(&o.Tool, "tool", "", "The tool to report on, as configured in repos.d.")
	fs.StringVar(&o.Version, "version", "", "Version to report on. Detected from the tool's manifest if omitted.")
	markRequired("tool")
}

func (o *statusOptions) print(a *app) {
	a.log.Infof("status: tool=%q version=%q", o.Tool, o.Version)
}

func newStatusCmd(a *app) *cobra.Command {
	o := &statusOptions{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Report the most recent build's state for a tool",
		PreRun: func(cmd *cobra.Command, args []string) {
			o.print(a)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := runStatus(a, o)
			return a.finish("status", o.Tool, o.Version, err, details)
		},
	}
	o.AddFlags(cmd.Flags(), mustMarkRequired(cmd.MarkFlagRequired))
	return cmd
}

type statusDetails struct {
	RunID     string            `json:"run_id"`
	Status    string            `json:"status"`
	Workspace string            `json:"workspace,omitempty"`
	Hosts     map[string]string `json:"hosts,omitempty"`
	Artifacts int               `json:"artifacts_count"`
}

func runStatus(a *app, o *statusOptions) (*statusDetails, error) {
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

	hosts := map[string]string{}
	for id, ha := range rec.Hosts {
		hosts[id] = ha.Status
	}
	details := &statusDetails{
		RunID:     rec.RunID,
		Status:    rec.Status,
		Workspace: rec.Workspace,
		Hosts:     hosts,
		Artifacts: len(rec.Artifacts),
	}

	switch rec.Status {
	case release.StatusCompleted:
		return details, nil
	case release.StatusPartial:
		return details, &dsrerr.PartialCompletionError{Msg: "most recent build is partial"}
	default:
		return details, nil
	}
}
