package release

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveFormatExt(t *testing.T) {
	cases := []struct {
		format ArchiveFormat
		os     string
		want   string
	}{
		{ArchiveTarGz, "linux", "tar.gz"},
		{ArchiveTgz, "linux", "tgz"},
		{ArchiveTarXz, "darwin", "tar.xz"},
		{ArchiveZip, "windows", "zip"},
		{ArchiveBinary, "windows", "exe"},
		{ArchiveBinary, "linux", ""},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.format.Ext(c.os), "%s/%s", c.format, c.os)
	}
}

func TestDefaultArchiveFormatForOS(t *testing.T) {
	assert.Equal(t, ArchiveZip, DefaultArchiveFormatForOS("windows"))
	assert.Equal(t, ArchiveTarGz, DefaultArchiveFormatForOS("linux"))
	assert.Equal(t, ArchiveTarGz, DefaultArchiveFormatForOS("darwin"))
}

func TestToolSpecArchiveFormatForOverride(t *testing.T) {
	ts := &ToolSpec{
		ArchiveFormat: map[string]ArchiveFormat{
			"windows": ArchiveZip,
			"linux":   ArchiveTarXz,
		},
	}
	assert.Equal(t, ArchiveTarXz, ts.ArchiveFormatFor("linux"))
	assert.Equal(t, ArchiveZip, ts.ArchiveFormatFor("windows"))
	assert.Equal(t, ArchiveTarGz, ts.ArchiveFormatFor("darwin"))
}

func TestHostDefaults(t *testing.T) {
	h := &Host{}
	assert.Equal(t, 1, h.EffectiveConcurrency())
	assert.Equal(t, DefaultSSHTimeoutSeconds, int(h.EffectiveSSHTimeout().Seconds()))

	h2 := &Host{Concurrency: 4, SSHTimeoutS: 30}
	assert.Equal(t, 4, h2.EffectiveConcurrency())
	assert.Equal(t, 30, int(h2.EffectiveSSHTimeout().Seconds()))
}

func TestOSListFromString(t *testing.T) {
	all, err := OSListFromString("*")
	require.NoError(t, err)
	assert.True(t, all.Has("linux"))
	assert.True(t, all.Has("darwin"))
	assert.True(t, all.Has("windows"))

	subset, err := OSListFromString("linux,darwin")
	require.NoError(t, err)
	assert.True(t, subset.Has("linux"))
	assert.False(t, subset.Has("windows"))

	_, err = OSListFromString("plan9")
	assert.Error(t, err)
}

func TestArchListFromString(t *testing.T) {
	oses, err := OSListFromString("linux")
	require.NoError(t, err)

	arches, err := ArchListFromString("amd64,arm64", oses)
	require.NoError(t, err)
	assert.True(t, arches.Has("amd64"))
	assert.True(t, arches.Has("arm64"))

	_, err = ArchListFromString("mips", oses)
	assert.Error(t, err)
}
