package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devtool-release/dsr/pkg/release"
)

type fakeHosts struct {
	hosts map[string]*release.Host
}

func (f *fakeHosts) GetHost(id string) (*release.Host, bool) {
	h, ok := f.hosts[id]
	return h, ok
}

func (f *fakeHosts) FirstHostForPlatform(os, arch string) (*release.Host, bool) {
	for _, h := range f.hosts {
		if h.Connection != release.ConnectionLocal && h.Platform.OS == os && h.Platform.Arch == arch {
			return h, true
		}
	}
	return nil, false
}

func (f *fakeHosts) LocalActHost() (*release.Host, bool) {
	for _, h := range f.hosts {
		if h.Connection == release.ConnectionLocal {
			return h, true
		}
	}
	return nil, false
}

func newFakeHosts() *fakeHosts {
	return &fakeHosts{hosts: map[string]*release.Host{
		"act-local": {ID: "act-local", Connection: release.ConnectionLocal, Platform: release.Platform{OS: "linux", Arch: "amd64"}},
		"mac-mini":  {ID: "mac-mini", Connection: release.ConnectionSSH, SSHHost: "mini.local", Platform: release.Platform{OS: "darwin", Arch: "arm64"}},
		"win-box":   {ID: "win-box", Connection: release.ConnectionSSH, SSHHost: "win.local", Platform: release.Platform{OS: "windows", Arch: "amd64"}},
	}}
}

func TestPlanHappyBuild(t *testing.T) {
	tool := &release.ToolSpec{
		Name: "mytool",
		Targets: []release.Platform{
			{OS: "linux", Arch: "amd64"},
			{OS: "darwin", Arch: "arm64"},
		},
		ActJobMap: map[string]string{"linux/amd64": "build-linux"},
	}
	targets, err := Plan(tool, Filters{}, newFakeHosts())
	require.NoError(t, err)
	require.Len(t, targets, 2)

	byOS := map[string]release.Target{}
	for _, tg := range targets {
		byOS[tg.OS] = tg
	}
	assert.Equal(t, release.ClassAct, byOS["linux"].Class)
	assert.Equal(t, "act-local", byOS["linux"].HostID)
	assert.Equal(t, release.ClassNative, byOS["darwin"].Class)
	assert.Equal(t, "mac-mini", byOS["darwin"].HostID)
}

func TestPlanDeterministicOrdering(t *testing.T) {
	tool := &release.ToolSpec{
		Name: "mytool",
		Targets: []release.Platform{
			{OS: "windows", Arch: "amd64"},
			{OS: "darwin", Arch: "arm64"},
		},
	}
	t1, err := Plan(tool, Filters{}, newFakeHosts())
	require.NoError(t, err)
	t2, err := Plan(tool, Filters{}, newFakeHosts())
	require.NoError(t, err)
	require.Equal(t, t1, t2)
	assert.Equal(t, "darwin", t1[0].OS) // sorted
	assert.Equal(t, "windows", t1[1].OS)
}

func TestPlanTargetTriplesProduceDistinctNames(t *testing.T) {
	tool := &release.ToolSpec{
		Name: "mytool",
		Targets: []release.Platform{{OS: "linux", Arch: "amd64"}},
		TargetTriples: map[string][]string{
			"linux/amd64": {"x86_64-unknown-linux-gnu", "x86_64-unknown-linux-musl"},
		},
		ArtifactNaming: release.NameTemplates{
			Versioned: "${name}-${version}-${target_triple}.${ext}",
		},
	}
	targets, err := Plan(tool, Filters{}, newFakeHosts())
	require.NoError(t, err)
	require.Len(t, targets, 2)
	assert.NotEqual(t, targets[0].ExpectedAssetNameVersioned, targets[1].ExpectedAssetNameVersioned)

	seen := map[string]bool{}
	for _, tg := range targets {
		assert.False(t, seen[tg.ExpectedAssetNameVersioned])
		seen[tg.ExpectedAssetNameVersioned] = true
	}
}

func TestPlanOnlyActOnlyNativeMutuallyExclusive(t *testing.T) {
	tool := &release.ToolSpec{Name: "t"}
	_, err := Plan(tool, Filters{OnlyAct: true, OnlyNative: true}, newFakeHosts())
	assert.Error(t, err)
}

func TestPlanWindowsDefaultsToZip(t *testing.T) {
	tool := &release.ToolSpec{
		Name:    "t",
		Targets: []release.Platform{{OS: "windows", Arch: "amd64"}},
	}
	targets, err := Plan(tool, Filters{}, newFakeHosts())
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, release.ArchiveZip, targets[0].ArchiveFormat)
}

func TestResolveNamesForVersion(t *testing.T) {
	tool := &release.ToolSpec{
		Name:    "mytool",
		Targets: []release.Platform{{OS: "linux", Arch: "amd64"}},
	}
	targets, err := Plan(tool, Filters{}, newFakeHosts())
	require.NoError(t, err)
	require.NoError(t, ResolveNamesForVersion(tool, targets, "v1.2.3"))
	assert.Equal(t, "mytool-1.2.3-linux-amd64.tar.gz", targets[0].ExpectedAssetNameVersioned)
}
