package cmd

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"

	"github.com/devtool-release/dsr/pkg/dsrerr"
	"github.com/devtool-release/dsr/pkg/health"
	"github.com/devtool-release/dsr/pkg/release"
)

// doctorOptions carries the flags for doctor, which reuses the host-health
// contract (pkg/health) against every configured host plus dsr's own local
// environment.
type doctorOptions struct {
	Quick bool
	Fix   bool
}

func (o *doctorOptions) AddFlags(fs *flag.FlagSet, markRequired func(string)) {
	fs.BoolVar(&o.Quick, "quick", false, "Skip remote SSH host probes; check only local environment and act hosts.")
	fs.BoolVar(&o.Fix, "fix", false, "Create any missing dsr directory instead of only reporting it.")
}

func (o *doctorOptions) print(a *app) {
	a.log.Infof("doctor: quick=%v fix=%v", o.Quick, o.Fix)
}

func newDoctorCmd(a *app) *cobra.Command {
	o := &doctorOptions{}
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check dsr's local environment and every configured host's health",
		PreRun: func(cmd *cobra.Command, args []string) {
			o.print(a)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := runDoctor(cmd.Context(), a, o)
			return a.finish("doctor", "", "", err, details)
		},
	}
	o.AddFlags(cmd.Flags(), nil)
	return cmd
}

type doctorDetails struct {
	Dirs  map[string]string        `json:"dirs"`
	Hosts map[string]health.Result `json:"hosts,omitempty"`
	Fixed []string                 `json:"fixed,omitempty"`
	OK    bool                     `json:"ok"`
}

func runDoctor(ctx context.Context, a *app, o *doctorOptions) (*doctorDetails, error) {
	details := &doctorDetails{
		Dirs:  map[string]string{"config": a.dirs.Config, "state": a.dirs.State, "cache": a.dirs.Cache},
		Hosts: map[string]health.Result{},
	}
	ok := true

	for label, dir := range details.Dirs {
		if _, err := os.Stat(dir); err != nil {
			if o.Fix {
				if mkErr := os.MkdirAll(dir, 0o755); mkErr == nil {
					details.Fixed = append(details.Fixed, dir)
					continue
				}
			}
			ok = false
			a.log.Warnf("doctor: %s directory %q is missing", label, dir)
		}
	}

	if a.snapshot.GitHubToken() == "" {
		ok = false
		a.log.Warnf("doctor: no GitHub token configured")
	}

	for _, id := range a.snapshot.ListHosts() {
		host, found := a.snapshot.GetHost(id)
		if !found {
			continue
		}
		if o.Quick && host.Connection != release.ConnectionLocal {
			continue
		}
		res := health.Probe(ctx, host, host.Capabilities)
		details.Hosts[id] = res
		if !res.Ready {
			ok = false
		}
	}

	details.OK = ok
	if ok {
		return details, nil
	}
	return details, &dsrerr.PartialCompletionError{Msg: "doctor found one or more issues, see details"}
}
