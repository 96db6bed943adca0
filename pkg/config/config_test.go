package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devtool-release/dsr/pkg/dsrerr"
	"github.com/devtool-release/dsr/pkg/release"
	"github.com/devtool-release/dsr/pkg/xdg"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadMergesHostsAndRepoFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "hosts.yaml"), `
hosts:
  - id: mac-mini-1
    platform: {os: darwin, arch: arm64}
    connection: ssh
    ssh_host: mac-mini-1.local
  - id: local
    platform: {os: linux, arch: amd64}
    connection: local
`)
	writeFile(t, filepath.Join(dir, "repos.d", "widget.yaml"), `
name: widget
repo: acme/widget
build_cmd: make build
binary_name: widget
`)

	snap, err := Load(xdg.Dirs{Config: dir})
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"local", "mac-mini-1"}, snap.ListHosts())
	assert.ElementsMatch(t, []string{"widget"}, snap.ListTools())

	tool, ok := snap.GetTool("widget")
	require.True(t, ok)
	assert.Equal(t, "acme/widget", tool.Repo)
	assert.Equal(t, release.DefaultTargets, tool.Targets)

	host, ok := snap.GetHost("mac-mini-1")
	require.True(t, ok)
	assert.Equal(t, "mac-mini-1.local", host.SSHHost)
}

func TestLoadLegacyRepoFileYieldsToNewLayout(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "repos.yaml"), `
tools:
  widget:
    repo: acme/widget-legacy
  other:
    repo: acme/other
`)
	writeFile(t, filepath.Join(dir, "repos.d", "widget.yaml"), `
name: widget
repo: acme/widget-new
`)

	snap, err := Load(xdg.Dirs{Config: dir})
	require.NoError(t, err)

	widget, ok := snap.GetTool("widget")
	require.True(t, ok)
	assert.Equal(t, "acme/widget-new", widget.Repo)

	other, ok := snap.GetTool("other")
	require.True(t, ok)
	assert.Equal(t, "acme/other", other.Repo)
}

func TestLoadRejectsToolMissingRepoAndLocalPath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "repos.d", "broken.yaml"), `
name: broken
build_cmd: make build
`)

	_, err := Load(xdg.Dirs{Config: dir})
	require.Error(t, err)
	var cfgErr *dsrerr.ConfigInvalidError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestLoadRejectsSSHHostWithoutSSHHost(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "hosts.yaml"), `
hosts:
  - id: broken-host
    platform: {os: linux, arch: amd64}
    connection: ssh
`)

	_, err := Load(xdg.Dirs{Config: dir})
	require.Error(t, err)
	var cfgErr *dsrerr.ConfigInvalidError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestLoadToleratesMissingFiles(t *testing.T) {
	dir := t.TempDir()
	snap, err := Load(xdg.Dirs{Config: dir})
	require.NoError(t, err)
	assert.Empty(t, snap.ListTools())
	assert.Empty(t, snap.ListHosts())
}

func TestFirstHostForPlatformPrefersNonLocal(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "hosts.yaml"), `
hosts:
  - id: local
    platform: {os: linux, arch: amd64}
    connection: local
  - id: remote
    platform: {os: linux, arch: amd64}
    connection: ssh
    ssh_host: remote.example.com
`)

	snap, err := Load(xdg.Dirs{Config: dir})
	require.NoError(t, err)

	h, ok := snap.FirstHostForPlatform("linux", "amd64")
	require.True(t, ok)
	assert.Equal(t, "remote", h.ID)
}

func TestLocalActHostFindsLocalConnection(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "hosts.yaml"), `
hosts:
  - id: act-runner
    platform: {os: linux, arch: amd64}
    connection: local
`)

	snap, err := Load(xdg.Dirs{Config: dir})
	require.NoError(t, err)

	h, ok := snap.LocalActHost()
	require.True(t, ok)
	assert.Equal(t, "act-runner", h.ID)
}

func TestRequireToolAndHostNotFound(t *testing.T) {
	dir := t.TempDir()
	snap, err := Load(xdg.Dirs{Config: dir})
	require.NoError(t, err)

	_, err = snap.RequireTool("ghost")
	var notFound *dsrerr.ConfigNotFoundError
	assert.ErrorAs(t, err, &notFound)

	_, err = snap.RequireHost("ghost")
	assert.ErrorAs(t, err, &notFound)
}
