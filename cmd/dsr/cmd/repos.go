package cmd

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/devtool-release/dsr/pkg/dsrerr"
	"github.com/devtool-release/dsr/pkg/naming"
	"github.com/devtool-release/dsr/pkg/release"
)

func newReposCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repos",
		Short: "List configured tools and validate their naming templates",
	}
	cmd.AddCommand(newReposListCmd(a), newReposValidateCmd(a))
	return cmd
}

func newReposListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every tool configured under repos.d",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := runReposList(a)
			return a.finish("repos list", "", "", err, details)
		},
	}
}

func newReposValidateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <tool>",
		Short: "Check a tool's artifact naming templates against its goreleaser config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := runReposValidate(a, args[0])
			return a.finish("repos validate", args[0], "", err, details)
		},
	}
}

type reposListDetails struct {
	Tools []string `json:"tools"`
}

func runReposList(a *app) (*reposListDetails, error) {
	return &reposListDetails{Tools: a.snapshot.ListTools()}, nil
}

type reposValidateDetails struct {
	Report *naming.ValidationReport `json:"report"`
}

func runReposValidate(a *app, toolName string) (*reposValidateDetails, error) {
	tool, err := a.snapshot.RequireTool(toolName)
	if err != nil {
		return nil, err
	}
	if tool.LocalPath == "" {
		return nil, dsrerr.InvalidArgs("tool has no local_path configured to find a .goreleaser.yaml sibling", nil)
	}

	cfg, err := naming.LoadGoreleaserSibling(filepath.Join(tool.LocalPath, ".goreleaser.yaml"))
	if err != nil {
		return nil, err
	}

	var scraped []string
	if cfg != nil {
		for _, archive := range cfg.Archives {
			if archive.NameTemplate != "" {
				scraped = append(scraped, archive.NameTemplate)
			}
		}
	}

	report, err := naming.ValidateTemplates(tool.ArtifactNaming.Versioned, reposCompatTemplate(tool), scraped...)
	if err != nil {
		return nil, err
	}

	details := &reposValidateDetails{Report: report}
	if report.Status != "ok" {
		return details, &dsrerr.PartialCompletionError{Msg: "naming template mismatches found, see report"}
	}
	return details, nil
}

// reposCompatTemplate mirrors the same compat-template fallback used when
// loading config and when planning builds.
func reposCompatTemplate(t *release.ToolSpec) string {
	if t.ArtifactNaming.Compat != "" {
		return t.ArtifactNaming.Compat
	}
	return t.InstallScriptCompat
}
