// Package executor defines the shared interface build drivers implement,
// and the per-host weighted worker pool that runs many targets concurrently
// across hosts while respecting each host's own concurrency limit
// (spec.md §4.6/§5).
package executor

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/devtool-release/dsr/pkg/release"
)

func errNoPoolForHost(hostID string) error {
	return fmt.Errorf("executor: no pool configured for host %q", hostID)
}

// Executor builds one Target in a workspace and returns the path of the raw
// binary it produced. Implementations (act, ssh) never pack or checksum; that's
// pkg/archive and pkg/checksum's job once the raw binary is back on disk.
type Executor interface {
	// Build runs the tool's build_cmd for target and returns the path to the
	// raw built binary (or, for act targets, the built binary extracted from
	// the container).
	Build(ctx context.Context, tool *release.ToolSpec, target release.Target, workspace string) (binaryPath string, err error)
}

// Registry maps a release.ClassAct/ClassNative target class to the
// Executor that handles it.
type Registry map[string]Executor

// For resolves the Executor for a Target's class.
func (r Registry) For(class string) (Executor, bool) {
	e, ok := r[class]
	return e, ok
}

// HostPool runs a bounded number of builds concurrently against one host,
// gated by a weighted semaphore sized to the host's effective concurrency,
// grounded on taboola-shmocker's direct golang.org/x/sync dependency.
type HostPool struct {
	host *release.Host
	sem  *semaphore.Weighted
}

// NewHostPool builds a pool for host, sized to host.EffectiveConcurrency().
func NewHostPool(host *release.Host) *HostPool {
	return &HostPool{host: host, sem: semaphore.NewWeighted(int64(host.EffectiveConcurrency()))}
}

// Run executes fn once the pool has a free slot, blocking until one opens or
// ctx is cancelled.
func (p *HostPool) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn(ctx)
}

// TargetResult pairs a Target with the error (if any) its build produced.
type TargetResult struct {
	Target release.Target
	Err    error
}

// RunAll fans targets out across their assigned hosts' pools concurrently,
// running fn once per target. Unlike errgroup's fail-fast semantics, one
// host's failure never cancels another host's in-flight build: spec.md's
// partial-completion model requires every host to run to its own
// conclusion, so results are collected rather than short-circuited.
func RunAll(ctx context.Context, pools map[string]*HostPool, targets []release.Target, fn func(ctx context.Context, t release.Target) error) []TargetResult {
	results := make([]TargetResult, len(targets))
	var wg sync.WaitGroup
	for i, t := range targets {
		i, t := i, t
		pool, ok := pools[t.HostID]
		if !ok {
			results[i] = TargetResult{Target: t, Err: errNoPoolForHost(t.HostID)}
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := pool.Run(ctx, func(ctx context.Context) error {
				return fn(ctx, t)
			})
			results[i] = TargetResult{Target: t, Err: err}
		}()
	}
	wg.Wait()
	return results
}
