package cmd

import (
	"runtime"

	"github.com/spf13/cobra"
)

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print dsr's own version",
		RunE: func(cmd *cobra.Command, args []string) error {
			details := &versionDetails{
				DsrVersion: ownVersion,
				GoVersion:  runtime.Version(),
				GitCommit:  gitCommit,
			}
			return a.finish("version", "", "", nil, details)
		},
	}
}

type versionDetails struct {
	DsrVersion string `json:"dsr_version"`
	GoVersion  string `json:"go_version"`
	GitCommit  string `json:"git_commit"`
}
