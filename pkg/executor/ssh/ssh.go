// Package ssh drives a native build on a remote Host: it rsyncs the tool's
// source to the host, runs build_cmd over an SSH session, and copies the
// resulting binary back (spec.md §4.6). Source sync shells out to the real
// rsync binary rather than reimplementing the rsync protocol, matching the
// teacher's habit of calling real tools through os/exec; the remote command
// execution itself uses golang.org/x/crypto/ssh directly, the way
// Aureuma-si's paas SSH transport and EvSecDev-SCMP's session helpers do.
package ssh

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"

	"github.com/devtool-release/dsr/pkg/release"
)

// Runner builds native targets on a remote Host reached over SSH.
type Runner struct {
	// RemoteWorkDir is the path on the remote host under which sources are
	// synced and builds run, e.g. "/tmp/dsr-builds".
	RemoteWorkDir string
}

// Build rsyncs the tool's source tree (tool.LocalPath, or the current
// directory when unset) to the host, runs tool.BuildCmd remotely, and
// copies the produced binary back into workspace, returning its local path.
func (r *Runner) Build(ctx context.Context, tool *release.ToolSpec, target release.Target, workspace string) (string, error) {
	host, err := hostForTarget(tool, target)
	if err != nil {
		return "", err
	}

	src := tool.LocalPath
	if src == "" {
		src = "."
	}
	remoteDir := filepath.Join(r.RemoteWorkDir, tool.Name, target.PlatformKey())
	if err := r.rsyncTo(ctx, host, src, remoteDir); err != nil {
		return "", err
	}

	buildCmd := tool.BuildCmd
	if p, ok := tool.HostPaths[host.ID]; ok {
		buildCmd = fmt.Sprintf("cd %s && PATH=%s:$PATH %s", remoteDir, p, buildCmd)
	} else {
		buildCmd = fmt.Sprintf("cd %s && %s", remoteDir, buildCmd)
	}
	if err := r.runRemote(ctx, host, buildCmd); err != nil {
		return "", fmt.Errorf("ssh: build_cmd failed on %s: %w", host.ID, err)
	}

	localOut := filepath.Join(workspace, "out", tool.BinaryName)
	if err := os.MkdirAll(filepath.Dir(localOut), 0o755); err != nil {
		return "", fmt.Errorf("ssh: creating local output dir: %w", err)
	}
	remoteBin := filepath.Join(remoteDir, tool.BinaryName)
	if err := r.rsyncFrom(ctx, host, remoteBin, localOut); err != nil {
		return "", err
	}
	return localOut, nil
}

// hostForTarget is a seam the planner's resolved release.Target.HostID feeds
// through a caller-supplied lookup; kept as a function var so cmd/dsr can
// inject the config snapshot's host inventory without an import cycle.
var HostLookup func(hostID string) (*release.Host, bool)

func hostForTarget(tool *release.ToolSpec, target release.Target) (*release.Host, error) {
	if HostLookup == nil {
		return nil, fmt.Errorf("ssh: no host lookup configured")
	}
	host, ok := HostLookup(target.HostID)
	if !ok {
		return nil, fmt.Errorf("ssh: host %q not found", target.HostID)
	}
	return host, nil
}

// rsyncTo shells out to the local rsync binary to push localDir to the
// remote host, creating remoteDir first over a plain SSH command.
func (r *Runner) rsyncTo(ctx context.Context, host *release.Host, localDir, remoteDir string) error {
	if err := r.runRemote(ctx, host, "mkdir -p "+remoteDir); err != nil {
		return fmt.Errorf("ssh: creating remote dir: %w", err)
	}
	dest := fmt.Sprintf("%s:%s/", host.SSHHost, remoteDir)
	cmd := exec.CommandContext(ctx, "rsync", "-az", "--delete", localDir+"/", dest)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ssh: rsync to %s failed: %w: %s", host.ID, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// rsyncFrom pulls a single remote file back to a local path.
func (r *Runner) rsyncFrom(ctx context.Context, host *release.Host, remotePath, localPath string) error {
	src := fmt.Sprintf("%s:%s", host.SSHHost, remotePath)
	cmd := exec.CommandContext(ctx, "rsync", "-az", src, localPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("ssh: rsync from %s failed: %w: %s", host.ID, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// runRemote executes remoteCmd over a fresh SSH session on host.
func (r *Runner) runRemote(ctx context.Context, host *release.Host, remoteCmd string) error {
	config := &ssh.ClientConfig{
		User:            sshUser(),
		Auth:            []ssh.AuthMethod{ssh.PublicKeysCallback(agentSigners)},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(), //nolint: build fleets are self-managed; spec.md names no host-key policy
		Timeout:         host.EffectiveSSHTimeout(),
	}
	client, err := ssh.Dial("tcp", net.JoinHostPort(host.SSHHost, "22"), config)
	if err != nil {
		return fmt.Errorf("ssh: dialing %s: %w", host.SSHHost, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("ssh: opening session on %s: %w", host.ID, err)
	}
	defer session.Close()

	var stderr bytes.Buffer
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- session.Run(remoteCmd)
	}()

	select {
	case <-ctx.Done():
		session.Close()
		return ctx.Err()
	case err := <-done:
		if err != nil {
			msg := strings.TrimSpace(stderr.String())
			if msg != "" {
				return fmt.Errorf("%w: %s", err, msg)
			}
			return err
		}
		return nil
	}
}

func sshUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "dsr"
}

func agentSigners() ([]ssh.Signer, error) {
	sock := os.Getenv("SSH_AUTH_SOCK")
	if sock == "" {
		return nil, nil
	}
	conn, err := net.Dial("unix", sock)
	if err != nil {
		return nil, err
	}
	return agent.NewClient(conn).Signers()
}
