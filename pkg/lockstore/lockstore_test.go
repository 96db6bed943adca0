package lockstore

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devtool-release/dsr/pkg/dsrerr"
	"github.com/devtool-release/dsr/pkg/release"
)

func TestAcquireAndRelease(t *testing.T) {
	dir := t.TempDir()
	lock, err := Acquire(dir, "mytool", "1.0.0", "run-a", "host-a")
	require.NoError(t, err)
	require.NotNil(t, lock)
	require.NoError(t, lock.Release())
}

func TestAcquireFailsOnContention(t *testing.T) {
	dir := t.TempDir()
	lock, err := Acquire(dir, "mytool", "1.0.0", "run-a", "host-a")
	require.NoError(t, err)
	defer lock.Release()

	_, err = Acquire(dir, "mytool", "1.0.0", "run-b", "host-b")
	require.Error(t, err)
	var locked *dsrerr.LockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, "run-a", locked.OwnerRunID)
	assert.Equal(t, "host-a", locked.OwnerHost)
}

func TestAcquireDifferentVersionsIndependent(t *testing.T) {
	dir := t.TempDir()
	l1, err := Acquire(dir, "mytool", "1.0.0", "run-a", "host-a")
	require.NoError(t, err)
	defer l1.Release()

	l2, err := Acquire(dir, "mytool", "2.0.0", "run-b", "host-b")
	require.NoError(t, err)
	defer l2.Release()
}

func TestStateLoadMissingReturnsPending(t *testing.T) {
	dir := t.TempDir()
	s := Open(dir, "mytool", "1.0.0", "run-a")
	rec, err := s.Load("mytool", "1.0.0", "run-a")
	require.NoError(t, err)
	assert.Equal(t, release.StatusPending, rec.Status)
	assert.Empty(t, rec.Hosts)
}

func TestStateSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	s := Open(dir, "mytool", "1.0.0", "run-a")
	rec := &release.BuildRecord{
		Tool: "mytool", Version: "1.0.0", RunID: "run-a",
		Status: release.StatusRunning,
		Hosts:  map[string]*release.HostAttempt{},
	}
	StartHost(rec, "host-a")
	require.NoError(t, s.Save(rec))

	loaded, err := s.Load("mytool", "1.0.0", "run-a")
	require.NoError(t, err)
	assert.Equal(t, release.StatusRunning, loaded.Status)
	require.Contains(t, loaded.Hosts, "host-a")
	assert.Equal(t, release.StatusRunning, loaded.Hosts["host-a"].Status)
}

func TestFinalizeAllCompleted(t *testing.T) {
	rec := &release.BuildRecord{Hosts: map[string]*release.HostAttempt{
		"a": {Status: release.StatusCompleted},
		"b": {Status: release.StatusCompleted},
	}}
	Finalize(rec)
	assert.Equal(t, release.StatusCompleted, rec.Status)
}

func TestFinalizePartial(t *testing.T) {
	rec := &release.BuildRecord{Hosts: map[string]*release.HostAttempt{
		"a": {Status: release.StatusCompleted},
		"b": {Status: release.StatusFailed},
	}}
	Finalize(rec)
	assert.Equal(t, release.StatusPartial, rec.Status)
}

func TestFinalizeAllFailed(t *testing.T) {
	rec := &release.BuildRecord{Hosts: map[string]*release.HostAttempt{
		"a": {Status: release.StatusFailed},
	}}
	Finalize(rec)
	assert.Equal(t, release.StatusFailed, rec.Status)
}

func TestResumeHostsSkipsCompleted(t *testing.T) {
	rec := &release.BuildRecord{Hosts: map[string]*release.HostAttempt{
		"a": {Status: release.StatusCompleted},
		"b": {Status: release.StatusFailed},
	}}
	resume := ResumeHosts(rec, []string{"a", "b", "c"})
	assert.ElementsMatch(t, []string{"b", "c"}, resume)
}

func TestProcessAliveSelf(t *testing.T) {
	assert.True(t, processAlive(os.Getpid()))
}
