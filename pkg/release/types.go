package release

import "time"

// Platform is an (os, arch) pair.
type Platform struct {
	OS   string `json:"os" yaml:"os"`
	Arch string `json:"arch" yaml:"arch"`
}

func (p Platform) String() string {
	return p.OS + "/" + p.Arch
}

// ArchiveFormat is one of the small fixed set of archive kinds dsr can pack.
type ArchiveFormat string

const (
	ArchiveTarGz  ArchiveFormat = "tar.gz"
	ArchiveTgz    ArchiveFormat = "tgz"
	ArchiveTarXz  ArchiveFormat = "tar.xz"
	ArchiveZip    ArchiveFormat = "zip"
	ArchiveBinary ArchiveFormat = "binary"
)

// Ext returns the file extension for this archive format given the target
// OS (Windows raw binaries get ".exe"; other raw binaries get no extension).
func (f ArchiveFormat) Ext(os string) string {
	switch f {
	case ArchiveTarGz:
		return "tar.gz"
	case ArchiveTgz:
		return "tgz"
	case ArchiveTarXz:
		return "tar.xz"
	case ArchiveZip:
		return "zip"
	case ArchiveBinary:
		if os == "windows" {
			return "exe"
		}
		return ""
	default:
		return string(f)
	}
}

// DefaultArchiveFormatForOS returns the archive format dsr uses for an OS
// unless a ToolSpec overrides it.
func DefaultArchiveFormatForOS(os string) ArchiveFormat {
	if os == "windows" {
		return ArchiveZip
	}
	return ArchiveTarGz
}

// NameTemplates holds the naming-engine templates for a tool.
type NameTemplates struct {
	// Versioned is the primary asset name template, default
	// "${name}-${version}-${os}-${arch}.${ext}".
	Versioned string `json:"versioned,omitempty" yaml:"versioned,omitempty"`

	// Compat is the legacy installer-script name template, default
	// "${name}-${os}-${arch}.${ext}".
	Compat string `json:"compat,omitempty" yaml:"compat,omitempty"`
}

// ToolSpec is the identity and build configuration of a releasable tool.
type ToolSpec struct {
	Name                string                     `json:"name" yaml:"name"`
	Repo                string                     `json:"repo,omitempty" yaml:"repo,omitempty"`
	LocalPath           string                     `json:"local_path,omitempty" yaml:"local_path,omitempty" mapstructure:"local_path"`
	Language            string                     `json:"language,omitempty" yaml:"language,omitempty"`
	BuildCmd            string                     `json:"build_cmd,omitempty" yaml:"build_cmd,omitempty" mapstructure:"build_cmd"`
	BinaryName          string                     `json:"binary_name,omitempty" yaml:"binary_name,omitempty" mapstructure:"binary_name"`
	Targets             []Platform                 `json:"targets,omitempty" yaml:"targets,omitempty"`
	ArchiveFormat       map[string]ArchiveFormat   `json:"archive_format,omitempty" yaml:"archive_format,omitempty" mapstructure:"archive_format"`
	ArtifactNaming      NameTemplates              `json:"artifact_naming,omitempty" yaml:"artifact_naming,omitempty" mapstructure:"artifact_naming"`
	InstallScriptCompat string                     `json:"install_script_compat,omitempty" yaml:"install_script_compat,omitempty" mapstructure:"install_script_compat"`
	TargetTriples       map[string][]string        `json:"target_triples,omitempty" yaml:"target_triples,omitempty" mapstructure:"target_triples"`
	ActJobMap           map[string]string          `json:"act_job_map,omitempty" yaml:"act_job_map,omitempty" mapstructure:"act_job_map"`
	Workflow            string                     `json:"workflow,omitempty" yaml:"workflow,omitempty"`
	Checks              []string                   `json:"checks,omitempty" yaml:"checks,omitempty"`
	HostPaths           map[string]string          `json:"host_paths,omitempty" yaml:"host_paths,omitempty" mapstructure:"host_paths"`
}

// PlatformKey renders a Platform as the "os/arch" map key used by
// TargetTriples and ActJobMap. ArchiveFormat is keyed by OS alone and
// HostPaths by host ID.
func PlatformKey(os, arch string) string {
	return os + "/" + arch
}

// ArchiveFormatFor resolves the archive format for an OS, honouring a
// per-tool override and falling back to the global per-OS default.
func (t *ToolSpec) ArchiveFormatFor(os string) ArchiveFormat {
	if t.ArchiveFormat != nil {
		if f, ok := t.ArchiveFormat[os]; ok {
			return f
		}
	}
	return DefaultArchiveFormatForOS(os)
}

// Host is a build location: a local act runner or a remote SSH-reached
// native machine.
type Host struct {
	ID            string   `json:"id" yaml:"id"`
	Platform      Platform `json:"platform" yaml:"platform"`
	Connection    string   `json:"connection" yaml:"connection"`
	SSHHost       string   `json:"ssh_host,omitempty" yaml:"ssh_host,omitempty" mapstructure:"ssh_host"`
	SSHTimeoutS   int      `json:"ssh_timeout_s,omitempty" yaml:"ssh_timeout_s,omitempty" mapstructure:"ssh_timeout_s"`
	Capabilities  []string `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	Concurrency   int      `json:"concurrency,omitempty" yaml:"concurrency,omitempty"`
	Description   string   `json:"description,omitempty" yaml:"description,omitempty"`
}

// EffectiveConcurrency returns the host's configured concurrency, defaulting
// to 1 when unset.
func (h *Host) EffectiveConcurrency() int {
	if h.Concurrency <= 0 {
		return 1
	}
	return h.Concurrency
}

// EffectiveSSHTimeout returns the host's configured SSH connect timeout,
// defaulting to DefaultSSHTimeoutSeconds when unset.
func (h *Host) EffectiveSSHTimeout() time.Duration {
	if h.SSHTimeoutS <= 0 {
		return DefaultSSHTimeoutSeconds * time.Second
	}
	return time.Duration(h.SSHTimeoutS) * time.Second
}

// HasCapability reports whether the host declares the given capability.
func (h *Host) HasCapability(cap string) bool {
	for _, c := range h.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// Target is one element of an expanded build plan.
type Target struct {
	OS                         string `json:"os"`
	Arch                       string `json:"arch"`
	TargetTriple               string `json:"target_triple,omitempty"`
	Class                      string `json:"class"`
	HostID                     string `json:"host_id"`
	ExpectedAssetNameVersioned string `json:"expected_asset_name_versioned"`
	ExpectedAssetNameCompat    string `json:"expected_asset_name_compat"`
	ArchiveFormat              ArchiveFormat `json:"archive_format"`
}

// PlatformKey returns this target's "os/arch" key.
func (t Target) PlatformKey() string {
	return PlatformKey(t.OS, t.Arch)
}

// HostAttempt is per-host progress within a BuildRecord.
type HostAttempt struct {
	HostID         string    `json:"host_id"`
	Status         string    `json:"status"`
	RetryCount     int       `json:"retry_count"`
	LastError      string    `json:"last_error,omitempty"`
	DurationMS     int64     `json:"duration_ms,omitempty"`
	TargetsCovered []Target  `json:"targets_covered,omitempty"`
}

// Artifact is one file produced for a release.
type Artifact struct {
	Filename string `json:"filename"`
	Target   string `json:"target"` // "os/arch" or the literal "checksums"/"manifest"
	Path     string `json:"path"`
	SHA256   string `json:"sha256"`
	SizeBytes int64 `json:"size_bytes"`
}

// BuildRecord is one (tool, version) build instance.
type BuildRecord struct {
	Tool      string                  `json:"tool"`
	Version   string                  `json:"version"`
	RunID     string                  `json:"run_id"`
	Status    string                  `json:"status"`
	StartedAt time.Time               `json:"started_at"`
	Hosts     map[string]*HostAttempt `json:"hosts"`
	Artifacts []Artifact              `json:"artifacts"`
	Workspace string                  `json:"workspace"`
	CreatedAt time.Time               `json:"created_at"`
}

// Manifest is the persisted, publish-facing summary of a BuildRecord.
type Manifest struct {
	SchemaVersion string     `json:"schema_version"`
	Tool          string     `json:"tool"`
	Version       string     `json:"version"`
	RunID         string     `json:"run_id"`
	GitSHA        string     `json:"git_sha"`
	BuiltAt       time.Time  `json:"built_at"`
	Artifacts     []Artifact `json:"artifacts"`
}

// ManifestFromBuildRecord builds the publish-facing Manifest from a
// finalised BuildRecord.
func ManifestFromBuildRecord(r *BuildRecord, gitSHA string) *Manifest {
	return &Manifest{
		SchemaVersion: SchemaVersion,
		Tool:          r.Tool,
		Version:       r.Version,
		RunID:         r.RunID,
		GitSHA:        gitSHA,
		BuiltAt:       time.Now().UTC(),
		Artifacts:     r.Artifacts,
	}
}

// Envelope is the shape of every dsr command's stdout result.
type Envelope struct {
	Command    string      `json:"command"`
	Status     string      `json:"status"`
	ExitCode   int         `json:"exit_code"`
	RunID      string      `json:"run_id"`
	StartedAt  string      `json:"started_at"`
	DurationMS int64       `json:"duration_ms"`
	Tool       string      `json:"tool"`
	Version    string      `json:"version"`
	Details    interface{} `json:"details"`
}
