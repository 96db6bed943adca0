/*
Copyright 2020 The Jetstack cert-manager contributors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package release

import (
	"fmt"

	"k8s.io/apimachinery/pkg/util/sets"
)

const (
	// MetadataFileName is the name of the manifest file written alongside a
	// staged build's artifacts.
	MetadataFileName = "metadata.json"

	// SHA256SumsFileName is the name of the checksums file written for every
	// build, in `sha256sum -b` binary-mode format.
	SHA256SumsFileName = "SHA256SUMS"

	// SchemaVersion is the current schema_version recorded in every Manifest.
	SchemaVersion = "1.0.0"

	// DefaultHealthCacheTTLSeconds is the default TTL for a cached host health
	// probe result.
	DefaultHealthCacheTTLSeconds = 300

	// DefaultSSHTimeoutSeconds is the default connectivity timeout for an SSH
	// host when no per-host override is configured.
	DefaultSSHTimeoutSeconds = 10

	// DefaultMaxRetryAttempts bounds the retry wrapper's attempt cap for
	// host builds and asset uploads, so a persistently failing host or
	// upload reaches "failed" instead of retrying forever.
	DefaultMaxRetryAttempts = 5

	// DefaultLockStaleGraceSeconds is how long a build lock must be held with
	// a dead owning pid before another process on the same host may steal it.
	DefaultLockStaleGraceSeconds = 15 * 60

	// DefaultWatchPollSeconds is how long `dsr watch` sleeps between polls of
	// a tool's upstream CI workflow.
	DefaultWatchPollSeconds = 30

	// BuildTypeRelease denotes a build explicitly tagged with a release
	// version, suitable for publishing.
	BuildTypeRelease = "release"

	// BuildTypeDevel denotes a build with no explicit release version.
	BuildTypeDevel = "devel"

	// Status values for a BuildRecord.
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusPartial   = "partial"

	// Target classes.
	ClassAct    = "act"
	ClassNative = "native"

	// Connection kinds for a Host.
	ConnectionLocal = "local"
	ConnectionSSH   = "ssh"

	// Envelope status values.
	EnvelopeSuccess = "success"
	EnvelopePartial = "partial"
	EnvelopeError   = "error"
)

// Exit codes, fixed across every dsr command (spec.md §6).
const (
	ExitSuccess           = 0
	ExitPartial           = 1
	ExitDependencyOrAuth  = 3
	ExitInvalidArgsConfig = 4
	ExitBuildFailure      = 6
	ExitUpstreamMissing   = 7
)

var (
	// ServerPlatforms lists OS/arch pairs that ship a "server" style binary.
	ServerPlatforms = map[string][]string{
		"linux": {"amd64", "arm64"},
	}

	// ClientPlatforms lists OS/arch pairs that ship a client/CLI binary.
	ClientPlatforms = map[string][]string{
		"linux":   {"amd64", "arm", "arm64"},
		"darwin":  {"amd64", "arm64"},
		"windows": {"amd64"},
	}

	// ArchitecturesPerOS is the full set of OS/arch pairs dsr knows how to
	// target. Per-tool config may restrict this further.
	ArchitecturesPerOS = map[string][]string{
		"linux":   {"amd64", "arm", "arm64"},
		"darwin":  {"amd64", "arm64"},
		"windows": {"amd64"},
	}

	// DefaultTargets is used when a ToolSpec declares an empty targets list
	// (spec.md §4.1 validation rule).
	DefaultTargets = []Platform{
		{OS: "linux", Arch: "amd64"},
		{OS: "darwin", Arch: "arm64"},
		{OS: "windows", Arch: "amd64"},
	}
)

// AllOSes returns the set of every OS dsr knows how to target.
func AllOSes() sets.String {
	s := sets.NewString()
	for os := range ArchitecturesPerOS {
		s.Insert(os)
	}
	return s
}

// AllArchesForOSes returns the union of every architecture available for the
// given set of OSes.
func AllArchesForOSes(oses sets.String) sets.String {
	s := sets.NewString()
	for _, os := range oses.List() {
		for _, arch := range ArchitecturesPerOS[os] {
			s.Insert(arch)
		}
	}
	return s
}

// IsServerOS reports whether the given OS ships a server-style artifact.
func IsServerOS(os string) bool {
	_, ok := ServerPlatforms[os]
	return ok
}

// IsClientOS reports whether the given OS ships a client-style artifact.
func IsClientOS(os string) bool {
	_, ok := ClientPlatforms[os]
	return ok
}

// OSListFromString parses a comma-separated list of OSes, or "*" for all
// known OSes, returning an error if an unknown OS is named.
func OSListFromString(s string) (sets.String, error) {
	if s == "*" || s == "" {
		return AllOSes(), nil
	}
	requested := sets.NewString(splitNonEmpty(s)...)
	known := AllOSes()
	if unknown := requested.Difference(known); unknown.Len() > 0 {
		return nil, fmt.Errorf("unknown OS(es): %v", unknown.List())
	}
	return requested, nil
}

// ArchListFromString parses a comma-separated list of architectures, or "*"
// for all architectures available across the given OSes.
func ArchListFromString(s string, oses sets.String) (sets.String, error) {
	available := AllArchesForOSes(oses)
	if s == "*" || s == "" {
		return available, nil
	}
	requested := sets.NewString(splitNonEmpty(s)...)
	if unknown := requested.Difference(available); unknown.Len() > 0 {
		return nil, fmt.Errorf("unknown architecture(s) for selected OSes: %v", unknown.List())
	}
	return requested, nil
}

func splitNonEmpty(s string) []string {
	var out []string
	cur := ""
	for _, r := range s {
		if r == ',' {
			if cur != "" {
				out = append(out, cur)
			}
			cur = ""
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}

// BucketPathForRelease assembles an output path for a staged build, kept
// from the teacher for the optional remote artifact mirror (pkg/mirror).
func BucketPathForRelease(prefix, buildType, version, runID string) string {
	if buildType == BuildTypeRelease {
		return fmt.Sprintf("%s/%s/%s-%s", prefix, buildType, version, runID)
	}
	return fmt.Sprintf("%s/%s/%s", prefix, buildType, runID)
}
