package cmd

import (
	"context"

	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"
)

// fallbackOptions carries the flags for the fallback pipeline: a
// self-contained build that never depends on upstream CI having run, for
// use when upstream is unavailable.
type fallbackOptions struct {
	Tool    string
	Version string
}

func (o *fallbackOptions) AddFlags(fs *flag.FlagSet, markRequired func(string)) {
	fs.StringVar(&o.Tool, "tool", "", "The tool to build, as configured in repos.d.")
	fs.StringVar(&o.Version, "version", "", "Release version to build. Detected from the tool's manifest if omitted.")
	markRequired("tool")
}

func (o *fallbackOptions) print(a *app) {
	a.log.Infof("fallback: tool=%q version=%q dry-run=%v", o.Tool, o.Version, a.opts.DryRun)
}

func newFallbackCmd(a *app) *cobra.Command {
	o := &fallbackOptions{}
	cmd := &cobra.Command{
		Use:   "fallback",
		Short: "Build every act-class target directly, without waiting on upstream CI",
		PreRun: func(cmd *cobra.Command, args []string) {
			o.print(a)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := runFallback(cmd.Context(), a, o)
			return a.finish("fallback", o.Tool, o.Version, err, details)
		},
	}
	o.AddFlags(cmd.Flags(), mustMarkRequired(cmd.MarkFlagRequired))
	return cmd
}

// runFallback delegates to runBuild, forcing --only-act: the act driver
// builds inside a container from the tool's own workflow definition and
// needs nothing from an upstream CI run, which is exactly the property a
// fallback path needs when upstream CI is the thing that's unavailable.
func runFallback(ctx context.Context, a *app, o *fallbackOptions) (*buildDetails, error) {
	bo := &buildOptions{
		targetFilterOptions: targetFilterOptions{
			Tool:    o.Tool,
			Version: o.Version,
			OnlyAct: true,
		},
	}
	return runBuild(ctx, a, bo)
}
