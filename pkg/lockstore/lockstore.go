// Package lockstore guards one (tool, version) build against concurrent
// runs and persists build/host progress to disk, per spec.md §4.5. The lock
// itself is a gofrs/flock file lock with a JSON ownership sidecar so a
// contending process can report who holds it; the state store is a
// write-temp-then-rename JSON file, matching the teacher's own atomic-write
// habit for files other processes may be reading concurrently.
package lockstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/devtool-release/dsr/pkg/dsrerr"
	"github.com/devtool-release/dsr/pkg/release"
)

// Owner is the JSON sidecar written alongside the flock file, letting a
// contending process explain who holds the lock without being able to
// inspect another process's flock internals.
type Owner struct {
	RunID      string    `json:"run_id"`
	Host       string    `json:"host"`
	PID        int       `json:"pid"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Lock wraps one held build lock. Release must be called to free it.
type Lock struct {
	tool, version string
	fl            *flock.Flock
	ownerPath     string
}

func lockPaths(stateDir, tool, version string) (lockPath, ownerPath string) {
	dir := filepath.Join(stateDir, "locks", tool, version)
	return filepath.Join(dir, "build.lock"), filepath.Join(dir, "owner.json")
}

// Acquire takes the build lock for (tool, version), failing fast with a
// *dsrerr.LockedError if another run already holds it. It never blocks
// waiting for a contended lock (spec.md §4.5).
func Acquire(stateDir, tool, version, runID, host string) (*Lock, error) {
	lockPath, ownerPath := lockPaths(stateDir, tool, version)
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return nil, fmt.Errorf("lockstore: creating lock dir: %w", err)
	}

	fl := flock.New(lockPath)
	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lockstore: acquiring lock: %w", err)
	}
	if !ok {
		owner, readErr := readOwner(ownerPath)
		if readErr != nil {
			return nil, &dsrerr.LockedError{Tool: tool, Version: version}
		}
		if stale(owner) {
			if stealErr := steal(fl, ownerPath, owner, host); stealErr == nil {
				return finishAcquire(fl, ownerPath, tool, version, runID, host)
			}
		}
		return nil, &dsrerr.LockedError{
			Tool: tool, Version: version,
			OwnerRunID: owner.RunID, OwnerPID: owner.PID, OwnerHost: owner.Host,
		}
	}

	return finishAcquire(fl, ownerPath, tool, version, runID, host)
}

func finishAcquire(fl *flock.Flock, ownerPath, tool, version, runID, host string) (*Lock, error) {
	owner := Owner{RunID: runID, Host: host, PID: os.Getpid(), AcquiredAt: time.Now().UTC()}
	if err := writeOwner(ownerPath, owner); err != nil {
		_ = fl.Unlock()
		return nil, err
	}
	return &Lock{tool: tool, version: version, fl: fl, ownerPath: ownerPath}, nil
}

// stale reports whether a lock's owner process is dead and the grace period
// has elapsed, per spec.md §4.5's stale-lock policy: only a process on the
// owning host may ever decide this, since liveness of a PID is meaningless
// across hosts.
func stale(owner Owner) bool {
	if time.Since(owner.AcquiredAt) < release.DefaultLockStaleGraceSeconds*time.Second {
		return false
	}
	host, err := os.Hostname()
	if err != nil || host != owner.Host {
		return false
	}
	return !processAlive(owner.PID)
}

func steal(fl *flock.Flock, ownerPath string, owner Owner, newHost string) error {
	// Re-attempt the lock; if the owning process has truly exited, the OS
	// will have already released its flock and this succeeds.
	ok, err := fl.TryLock()
	if err != nil || !ok {
		return fmt.Errorf("lockstore: lock still held, cannot steal")
	}
	return nil
}

// Release frees the build lock and removes its ownership sidecar.
func (l *Lock) Release() error {
	err := l.fl.Unlock()
	_ = os.Remove(l.ownerPath)
	return err
}

func readOwner(path string) (Owner, error) {
	var o Owner
	b, err := os.ReadFile(path)
	if err != nil {
		return o, err
	}
	if err := json.Unmarshal(b, &o); err != nil {
		return o, err
	}
	return o, nil
}

func writeOwner(path string, o Owner) error {
	b, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		return fmt.Errorf("lockstore: marshaling owner: %w", err)
	}
	return writeAtomic(path, b)
}

// writeAtomic writes data to a temp file in the same directory as path, then
// renames it into place, so no reader ever observes a partial write.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("lockstore: creating dir %q: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("lockstore: creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("lockstore: writing temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("lockstore: closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("lockstore: renaming into place: %w", err)
	}
	return nil
}

// State wraps read/write access to one run's state.json.
type State struct {
	path string
}

// Open returns a State handle for (tool, version, runID) under stateDir; it
// does not require the file to exist yet.
func Open(stateDir, tool, version, runID string) *State {
	return &State{path: filepath.Join(stateDir, "builds", tool, version, runID, "state.json")}
}

// Load reads the persisted BuildRecord, or returns a fresh pending one if no
// state file exists yet.
func (s *State) Load(tool, version, runID string) (*release.BuildRecord, error) {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &release.BuildRecord{
				Tool: tool, Version: version, RunID: runID,
				Status: release.StatusPending,
				Hosts:  map[string]*release.HostAttempt{},
			}, nil
		}
		return nil, fmt.Errorf("lockstore: reading state: %w", err)
	}
	var rec release.BuildRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("lockstore: parsing state %q: %w", s.path, err)
	}
	return &rec, nil
}

// Save atomically persists rec to state.json.
func (s *State) Save(rec *release.BuildRecord) error {
	b, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("lockstore: marshaling state: %w", err)
	}
	return writeAtomic(s.path, b)
}

// StartHost transitions a host attempt to running, creating it if absent.
func StartHost(rec *release.BuildRecord, hostID string) *release.HostAttempt {
	if rec.Hosts == nil {
		rec.Hosts = map[string]*release.HostAttempt{}
	}
	ha, ok := rec.Hosts[hostID]
	if !ok {
		ha = &release.HostAttempt{HostID: hostID}
		rec.Hosts[hostID] = ha
	}
	ha.Status = release.StatusRunning
	return ha
}

// CompleteHost transitions a host attempt to completed.
func CompleteHost(ha *release.HostAttempt, durationMS int64) {
	ha.Status = release.StatusCompleted
	ha.DurationMS = durationMS
	ha.LastError = ""
}

// FailHost transitions a host attempt to failed, recording the last error
// and incrementing its retry count.
func FailHost(ha *release.HostAttempt, err error) {
	ha.Status = release.StatusFailed
	ha.RetryCount++
	if err != nil {
		ha.LastError = err.Error()
	}
}

// Finalize computes the overall BuildRecord status from its per-host
// attempts: completed if every host succeeded, failed if every host failed,
// partial otherwise.
func Finalize(rec *release.BuildRecord) {
	total, completed, failed := 0, 0, 0
	for _, ha := range rec.Hosts {
		total++
		switch ha.Status {
		case release.StatusCompleted:
			completed++
		case release.StatusFailed:
			failed++
		}
	}
	switch {
	case total == 0:
		rec.Status = release.StatusFailed
	case completed == total:
		rec.Status = release.StatusCompleted
	case failed == total:
		rec.Status = release.StatusFailed
	default:
		rec.Status = release.StatusPartial
	}
}

// LatestRunID returns the run id of the most recent build for (tool,
// version), read from the "latest" pointer file, or ("", false) if none
// exists yet.
func LatestRunID(stateDir, tool, version string) (string, bool) {
	path := latestPointerPath(stateDir, tool, version)
	b, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	runID := string(b)
	if runID == "" {
		return "", false
	}
	return runID, true
}

// SetLatest records runID as the most recent build for (tool, version), so
// a later command without an explicit run id (a resumed build, `status`,
// `release`, `release verify`) finds the same BuildRecord.
func SetLatest(stateDir, tool, version, runID string) error {
	return writeAtomic(latestPointerPath(stateDir, tool, version), []byte(runID))
}

func latestPointerPath(stateDir, tool, version string) string {
	return filepath.Join(stateDir, "builds", tool, version, "latest")
}

// ResumeHosts computes which planned host IDs still need to run: those
// absent from rec.Hosts entirely, or present but not completed
// (spec.md §4.5, scenarios S3/S6).
func ResumeHosts(rec *release.BuildRecord, planHostIDs []string) []string {
	var resume []string
	for _, id := range planHostIDs {
		ha, ok := rec.Hosts[id]
		if !ok || ha.Status != release.StatusCompleted {
			resume = append(resume, id)
		}
	}
	return resume
}
