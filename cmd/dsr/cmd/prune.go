package cmd

import (
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"

	"github.com/devtool-release/dsr/pkg/dsrerr"
	"github.com/devtool-release/dsr/pkg/lockstore"
)

// pruneOptions carries the flags for prune, which reclaims old build
// workspaces under the state dir's builds/<tool>/<version>/<run_id> tree.
type pruneOptions struct {
	MaxAgeDays int
	KeepLast   int
	KeepTool   []string
	DryRun     bool
	Force      bool
}

func (o *pruneOptions) AddFlags(fs *flag.FlagSet, markRequired func(string)) {
	fs.IntVar(&o.MaxAgeDays, "max-age", 30, "Remove build runs older than this many days.")
	fs.IntVar(&o.KeepLast, "keep-last", 3, "Always keep at least this many most-recent runs per (tool, version).")
	fs.StringSliceVar(&o.KeepTool, "keep-tool", nil, "Protect this tool's build history from pruning (repeatable).")
	fs.BoolVar(&o.DryRun, "dry-run", false, "Report candidates for removal without deleting anything.")
	fs.BoolVar(&o.Force, "force", false, "Actually delete candidates. Without this flag prune only reports them.")
}

func (o *pruneOptions) print(a *app) {
	a.log.Infof("prune: max-age=%dd keep-last=%d keep-tool=%v dry-run=%v force=%v", o.MaxAgeDays, o.KeepLast, o.KeepTool, o.DryRun, o.Force)
}

func newPruneCmd(a *app) *cobra.Command {
	o := &pruneOptions{}
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Remove old build run workspaces and state",
		PreRun: func(cmd *cobra.Command, args []string) {
			o.print(a)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := runPrune(a, o)
			return a.finish("prune", "", "", err, details)
		},
	}
	o.AddFlags(cmd.Flags(), nil)
	return cmd
}

type pruneDetails struct {
	Removed []string `json:"removed,omitempty"`
	Kept    []string `json:"kept,omitempty"`
	DryRun  bool     `json:"dry_run,omitempty"`
}

type pruneCandidate struct {
	tool, version, runID string
	path                 string
	createdAt            time.Time
}

func runPrune(a *app, o *pruneOptions) (*pruneDetails, error) {
	keepTool := map[string]bool{}
	for _, t := range o.KeepTool {
		keepTool[t] = true
	}

	buildsRoot := filepath.Join(a.dirs.State, "builds")
	toolDirs, err := os.ReadDir(buildsRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return &pruneDetails{DryRun: o.DryRun || !o.Force}, nil
		}
		return nil, &dsrerr.BuildFailureError{Msg: "reading builds directory", Err: err}
	}

	details := &pruneDetails{DryRun: o.DryRun || !o.Force}
	maxAge := time.Duration(o.MaxAgeDays) * 24 * time.Hour

	for _, toolEnt := range toolDirs {
		if !toolEnt.IsDir() {
			continue
		}
		tool := toolEnt.Name()
		versionDirs, err := os.ReadDir(filepath.Join(buildsRoot, tool))
		if err != nil {
			continue
		}
		for _, verEnt := range versionDirs {
			if !verEnt.IsDir() {
				continue
			}
			version := verEnt.Name()
			candidates := listRunCandidates(a.dirs.State, tool, version)
			sort.Slice(candidates, func(i, j int) bool {
				return candidates[i].createdAt.After(candidates[j].createdAt)
			})

			for i, c := range candidates {
				switch {
				case keepTool[tool]:
					details.Kept = append(details.Kept, c.path)
				case i < o.KeepLast:
					details.Kept = append(details.Kept, c.path)
				case time.Since(c.createdAt) < maxAge:
					details.Kept = append(details.Kept, c.path)
				default:
					details.Removed = append(details.Removed, c.path)
					if o.Force && !o.DryRun {
						_ = os.RemoveAll(c.path)
					}
				}
			}
		}
	}

	return details, nil
}

func listRunCandidates(stateDir, tool, version string) []pruneCandidate {
	dir := filepath.Join(stateDir, "builds", tool, version)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var out []pruneCandidate
	for _, e := range entries {
		if !e.IsDir() {
			continue // skips the "latest" pointer file
		}
		runID := e.Name()
		state := lockstore.Open(stateDir, tool, version, runID)
		rec, err := state.Load(tool, version, runID)
		createdAt := time.Now()
		if err == nil && !rec.CreatedAt.IsZero() {
			createdAt = rec.CreatedAt
		} else if info, statErr := e.Info(); statErr == nil {
			createdAt = info.ModTime()
		}
		out = append(out, pruneCandidate{
			tool: tool, version: version, runID: runID,
			path:      filepath.Join(dir, runID),
			createdAt: createdAt,
		})
	}
	return out
}
