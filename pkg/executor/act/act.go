// Package act drives local container builds through the nektos/act CLI, the
// way a build with no dedicated native host runs its Linux targets
// (spec.md §4.6). It shells out to the act binary rather than embedding its
// runner, matching the args-builder-then-exec.Command("sh","-c",...) pattern
// used to drive act from Go in the corpus.
package act

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/devtool-release/dsr/pkg/release"
)

// Runner builds linux targets whose ToolSpec.ActJobMap names a workflow job,
// by invoking a local act install against the tool's checked-out workflow.
type Runner struct {
	// WorkflowDir is the directory containing the tool's GitHub Actions
	// workflow file (tool.Workflow is relative to it).
	WorkflowDir string

	// Verbose mirrors the corpus runner's toggle for echoing act's JSON log
	// lines back to dsr's own progress log.
	Verbose bool
	Logf    func(format string, args ...interface{})
}

// logLine is the subset of act's --json log line shape dsr cares about.
type logLine struct {
	Job     string `json:"jobID"`
	Message string `json:"msg"`
}

// Build runs `act` for the job mapped to target's (os, arch), then reads the
// resulting binary out of the container's bind-mounted output directory.
func (r *Runner) Build(ctx context.Context, tool *release.ToolSpec, target release.Target, workspace string) (string, error) {
	job, ok := tool.ActJobMap[target.PlatformKey()]
	if !ok {
		return "", fmt.Errorf("act: no act_job_map entry for %s", target.PlatformKey())
	}

	outDir := filepath.Join(workspace, "out")
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("act: creating output dir: %w", err)
	}

	args, err := r.args(tool, job, outDir)
	if err != nil {
		return "", err
	}

	actCmd := "act " + strings.Join(args, " ")
	cmd := exec.CommandContext(ctx, "sh", "-c", actCmd)
	cmd.Dir = r.WorkflowDir
	cmd.Env = os.Environ()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("act: getting stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("act: starting act: %w", err)
	}

	streamErr := make(chan error, 1)
	go func() { streamErr <- r.processStream(stdout) }()

	if err := <-streamErr; err != nil {
		_ = cmd.Wait()
		return "", err
	}
	if err := cmd.Wait(); err != nil {
		return "", fmt.Errorf("act: job %q failed: %w", job, err)
	}

	binPath := filepath.Join(outDir, tool.BinaryName)
	if _, err := os.Stat(binPath); err != nil {
		return "", fmt.Errorf("act: expected binary %q not produced: %w", binPath, err)
	}
	return binPath, nil
}

func (r *Runner) args(tool *release.ToolSpec, job, outDir string) ([]string, error) {
	args := []string{
		"-j", job,
		"-W", tool.Workflow,
		"--rm",
		"--json",
		"--bind",
		"-v", outDir + ":/out",
	}
	return args, nil
}

func (r *Runner) processStream(stdout io.Reader) error {
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Bytes()
		var data logLine
		if err := json.Unmarshal(line, &data); err != nil {
			continue
		}
		if r.Logf != nil {
			r.Logf("act[%s]: %s", data.Job, strings.TrimSpace(data.Message))
		}
	}
	return scanner.Err()
}
