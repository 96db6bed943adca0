// Package planner expands a ToolSpec's target matrix into an ordered,
// deterministic list of release.Target values, classifying each as an act
// or native build and resolving which Host will build it (spec.md §4.4).
//
// The OS/arch set algebra mirrors the teacher's own
// release.OSListFromString/ArchListFromString, which return
// k8s.io/apimachinery/pkg/util/sets.String values built with .List()/.Has().
package planner

import (
	"fmt"
	"sort"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/devtool-release/dsr/pkg/naming"
	"github.com/devtool-release/dsr/pkg/release"
)

// Filters carries the CLI filter flags that narrow a plan (spec.md §4.4).
type Filters struct {
	Targets    []release.Platform // from --target/--targets; empty means no filter
	OnlyAct    bool
	OnlyNative bool
}

// Validate rejects mutually exclusive filter combinations.
func (f Filters) Validate() error {
	if f.OnlyAct && f.OnlyNative {
		return fmt.Errorf("planner: --only-act and --only-native are mutually exclusive")
	}
	return nil
}

// HostResolver finds a Host definition by ID, and the first Host matching a
// platform with a non-local connection, the way the config snapshot's host
// inventory is queried.
type HostResolver interface {
	GetHost(id string) (*release.Host, bool)
	FirstHostForPlatform(os, arch string) (*release.Host, bool)
	LocalActHost() (*release.Host, bool)
}

// Plan builds the deterministic target list for a ToolSpec, given CLI
// filters and a way to resolve hosts.
func Plan(tool *release.ToolSpec, filters Filters, hosts HostResolver) ([]release.Target, error) {
	if err := filters.Validate(); err != nil {
		return nil, err
	}

	base := tool.Targets
	if len(base) == 0 {
		base = release.DefaultTargets
	}

	if len(filters.Targets) > 0 {
		wanted := sets.NewString()
		for _, p := range filters.Targets {
			wanted.Insert(p.String())
		}
		var filtered []release.Platform
		for _, p := range base {
			if wanted.Has(p.String()) {
				filtered = append(filtered, p)
			}
		}
		base = filtered
	}

	var targets []release.Target
	for _, p := range base {
		triples := tool.TargetTriples[release.PlatformKey(p.OS, p.Arch)]
		if len(triples) == 0 {
			triples = []string{""}
		}
		for _, triple := range triples {
			t, err := buildTarget(tool, p, triple, hosts)
			if err != nil {
				return nil, err
			}
			targets = append(targets, *t)
		}
	}

	targets = applyClassFilter(targets, filters)

	sort.Slice(targets, func(i, j int) bool {
		if targets[i].OS != targets[j].OS {
			return targets[i].OS < targets[j].OS
		}
		if targets[i].Arch != targets[j].Arch {
			return targets[i].Arch < targets[j].Arch
		}
		return targets[i].TargetTriple < targets[j].TargetTriple
	})

	return targets, nil
}

func buildTarget(tool *release.ToolSpec, p release.Platform, triple string, hosts HostResolver) (*release.Target, error) {
	key := release.PlatformKey(p.OS, p.Arch)

	class := release.ClassNative
	var hostID string

	if p.OS == "linux" {
		if _, ok := tool.ActJobMap[key]; ok {
			class = release.ClassAct
			if h, ok := hosts.LocalActHost(); ok {
				hostID = h.ID
			}
		}
	}

	if class == release.ClassNative {
		if h, ok := hosts.FirstHostForPlatform(p.OS, p.Arch); ok {
			hostID = h.ID
		}
	}

	format := tool.ArchiveFormatFor(p.OS)
	ext := format.Ext(p.OS)

	res, err := naming.Resolve(naming.Input{
		Tool:          tool.Name,
		OS:            p.OS,
		Arch:          p.Arch,
		TargetTriple:  triple,
		ArchiveExt:    ext,
		VersionedTmpl: tool.ArtifactNaming.Versioned,
		CompatTmpl:    toolCompatTemplate(tool),
		Version:       "", // resolved again with a real version at build time; plan-time names are shape-only
	})
	if err != nil {
		return nil, fmt.Errorf("planner: resolving name for %s: %w", key, err)
	}

	return &release.Target{
		OS:                         p.OS,
		Arch:                       p.Arch,
		TargetTriple:               triple,
		Class:                      class,
		HostID:                     hostID,
		ExpectedAssetNameVersioned: res.Versioned,
		ExpectedAssetNameCompat:    res.Compat,
		ArchiveFormat:              format,
	}, nil
}

func toolCompatTemplate(tool *release.ToolSpec) string {
	if tool.ArtifactNaming.Compat != "" {
		return tool.ArtifactNaming.Compat
	}
	return tool.InstallScriptCompat
}

func applyClassFilter(targets []release.Target, filters Filters) []release.Target {
	if !filters.OnlyAct && !filters.OnlyNative {
		return targets
	}
	var out []release.Target
	for _, t := range targets {
		if filters.OnlyAct && t.Class != release.ClassAct {
			continue
		}
		if filters.OnlyNative && t.Class != release.ClassNative {
			continue
		}
		out = append(out, t)
	}
	return out
}

// ResolveNamesForVersion re-resolves every target's expected asset names now
// that the real release version is known (the planner itself is run before
// the version oracle in some flows, so names are produced twice: once
// shape-only during dry-run planning, once version-accurate before build).
func ResolveNamesForVersion(tool *release.ToolSpec, targets []release.Target, version string) error {
	for i := range targets {
		t := &targets[i]
		res, err := naming.Resolve(naming.Input{
			Tool:          tool.Name,
			Version:       version,
			OS:            t.OS,
			Arch:          t.Arch,
			TargetTriple:  t.TargetTriple,
			ArchiveExt:    t.ArchiveFormat.Ext(t.OS),
			VersionedTmpl: tool.ArtifactNaming.Versioned,
			CompatTmpl:    toolCompatTemplate(tool),
		})
		if err != nil {
			return fmt.Errorf("planner: resolving name for %s/%s: %w", t.OS, t.Arch, err)
		}
		t.ExpectedAssetNameVersioned = res.Versioned
		t.ExpectedAssetNameCompat = res.Compat
	}
	return nil
}
