package executor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devtool-release/dsr/pkg/release"
)

func TestHostPoolLimitsConcurrency(t *testing.T) {
	host := &release.Host{ID: "h1", Concurrency: 2}
	pool := NewHostPool(host)

	var current, maxSeen int32
	var wg errgroupLike
	for i := 0; i < 5; i++ {
		wg.Go(func() error {
			return pool.Run(context.Background(), func(ctx context.Context) error {
				n := atomic.AddInt32(&current, 1)
				if n > atomic.LoadInt32(&maxSeen) {
					atomic.StoreInt32(&maxSeen, n)
				}
				time.Sleep(10 * time.Millisecond)
				atomic.AddInt32(&current, -1)
				return nil
			})
		})
	}
	wg.Wait()
	assert.LessOrEqual(t, int(atomic.LoadInt32(&maxSeen)), 2)
}

func TestRunAllCollectsPerTargetErrors(t *testing.T) {
	hostA := &release.Host{ID: "a", Concurrency: 1}
	hostB := &release.Host{ID: "b", Concurrency: 1}
	pools := map[string]*HostPool{"a": NewHostPool(hostA), "b": NewHostPool(hostB)}

	targets := []release.Target{
		{OS: "linux", Arch: "amd64", HostID: "a"},
		{OS: "darwin", Arch: "arm64", HostID: "b"},
	}

	results := RunAll(context.Background(), pools, targets, func(ctx context.Context, t release.Target) error {
		if t.OS == "linux" {
			return errors.New("boom")
		}
		return nil
	})

	require.Len(t, results, 2)
	var sawFailure, sawSuccess bool
	for _, r := range results {
		if r.Err != nil {
			sawFailure = true
		} else {
			sawSuccess = true
		}
	}
	assert.True(t, sawFailure)
	assert.True(t, sawSuccess)
}

func TestRunAllMissingPoolReportsError(t *testing.T) {
	targets := []release.Target{{OS: "linux", Arch: "amd64", HostID: "missing"}}
	results := RunAll(context.Background(), map[string]*HostPool{}, targets, func(ctx context.Context, t release.Target) error {
		return nil
	})
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
}

// errgroupLike is a tiny wait-group-with-error-discard helper, avoiding a
// second import of golang.org/x/sync/errgroup just for this test's fan-out.
type errgroupLike struct {
	fns []func() error
}

func (g *errgroupLike) Go(fn func() error) {
	g.fns = append(g.fns, fn)
}

func (g *errgroupLike) Wait() {
	done := make(chan struct{}, len(g.fns))
	for _, fn := range g.fns {
		fn := fn
		go func() {
			_ = fn()
			done <- struct{}{}
		}()
	}
	for i := 0; i < len(g.fns); i++ {
		<-done
	}
}
