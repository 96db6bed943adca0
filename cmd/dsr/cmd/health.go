package cmd

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/devtool-release/dsr/pkg/dsrerr"
	"github.com/devtool-release/dsr/pkg/health"
	"github.com/devtool-release/dsr/pkg/release"
)

func newHealthCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Probe or manage cached health results for build hosts",
	}
	cmd.AddCommand(newHealthCheckCmd(a), newHealthClearCacheCmd(a))
	return cmd
}

func newHealthCheckCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "check <host>|all",
		Short: "Probe one configured host, or every configured host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := runHealthCheck(cmd.Context(), a, args[0])
			return a.finish("health check", "", "", err, details)
		},
	}
}

func newHealthClearCacheCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-cache",
		Short: "Delete every cached health probe result",
		RunE: func(cmd *cobra.Command, args []string) error {
			details, err := runHealthClearCache(a)
			return a.finish("health clear-cache", "", "", err, details)
		},
	}
}

type healthCheckDetails struct {
	Hosts map[string]health.Result `json:"hosts"`
	OK    bool                     `json:"ok"`
}

func runHealthCheck(ctx context.Context, a *app, target string) (*healthCheckDetails, error) {
	var ids []string
	if target == "all" {
		ids = a.snapshot.ListHosts()
	} else {
		if _, err := a.snapshot.RequireHost(target); err != nil {
			return nil, err
		}
		ids = []string{target}
	}

	details := &healthCheckDetails{Hosts: map[string]health.Result{}, OK: true}
	for _, id := range ids {
		host, found := a.snapshot.GetHost(id)
		if !found {
			continue
		}
		var res health.Result
		if a.opts.NoCache {
			res = health.Probe(ctx, host, host.Capabilities)
			_ = health.Save(health.CachePath(a.dirs.Cache, host.ID), res)
		} else {
			res, _ = health.IsReady(ctx, host, host.Capabilities, a.dirs.Cache, release.DefaultHealthCacheTTLSeconds*time.Second)
		}
		details.Hosts[id] = res
		if !res.Ready {
			details.OK = false
		}
	}

	if details.OK {
		return details, nil
	}
	return details, &dsrerr.PartialCompletionError{Msg: "one or more hosts failed their health probe"}
}

type healthClearCacheDetails struct {
	Cleared bool `json:"cleared"`
}

func runHealthClearCache(a *app) (*healthClearCacheDetails, error) {
	dir := filepath.Join(a.dirs.Cache, "health")
	if err := os.RemoveAll(dir); err != nil {
		return nil, &dsrerr.BuildFailureError{Msg: "clearing health cache", Err: err}
	}
	return &healthClearCacheDetails{Cleared: true}, nil
}
