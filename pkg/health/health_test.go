package health

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devtool-release/dsr/pkg/release"
)

func TestProbeLocalHostSkipsSSHChecks(t *testing.T) {
	host := &release.Host{ID: "local", Connection: release.ConnectionLocal}
	res := Probe(context.Background(), host, nil)
	for _, c := range res.Checks {
		assert.NotContains(t, c.Name, "ssh_connect")
		assert.NotContains(t, c.Name, "clock_drift")
	}
}

func TestProbeUnreachableSSHHostNotReady(t *testing.T) {
	host := &release.Host{
		ID: "ghost", Connection: release.ConnectionSSH,
		SSHHost: "203.0.113.1", SSHTimeoutS: 1,
	}
	res := Probe(context.Background(), host, nil)
	assert.False(t, res.Ready)
	require.NotEmpty(t, res.Checks)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "host-a.json")
	want := Result{HostID: "host-a", Ready: true, ProbedAt: time.Now().UTC()}
	require.NoError(t, Save(path, want))

	got, ok := Load(path, time.Hour)
	require.True(t, ok)
	assert.Equal(t, want.HostID, got.HostID)
	assert.True(t, got.Ready)
}

func TestLoadExpiredCacheMisses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "host-a.json")
	stale := Result{HostID: "host-a", Ready: true, ProbedAt: time.Now().Add(-time.Hour)}
	require.NoError(t, Save(path, stale))

	_, ok := Load(path, time.Minute)
	assert.False(t, ok)
}

func TestLoadMissingFileMisses(t *testing.T) {
	_, ok := Load(filepath.Join(t.TempDir(), "nope.json"), time.Hour)
	assert.False(t, ok)
}

func TestCachePath(t *testing.T) {
	assert.Equal(t, filepath.Join("/cache", "health", "host-a.json"), CachePath("/cache", "host-a"))
}

func TestGetHealthyHostsFiltersUnready(t *testing.T) {
	dir := t.TempDir()
	hosts := []*release.Host{
		{ID: "local", Connection: release.ConnectionLocal},
		{ID: "ghost", Connection: release.ConnectionSSH, SSHHost: "203.0.113.1", SSHTimeoutS: 1},
	}
	healthy, results := GetHealthyHosts(context.Background(), hosts, nil, dir, time.Minute)
	require.Len(t, results, 2)
	for _, h := range healthy {
		assert.NotEqual(t, "ghost", h.ID)
	}
}
