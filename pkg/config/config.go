// Package config resolves dsr's on-disk configuration into an immutable
// Snapshot (spec.md §4.1). It composes one viper.Viper per source file
// rather than taboola-shmocker's single instance, because the global file,
// the hosts file, and each per-tool file have unrelated schemas and
// distinct precedence rules; merging them into one raw map before decode
// would let a later layer silently zero out an earlier layer's booleans.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
	"k8s.io/utils/pointer"

	"github.com/devtool-release/dsr/pkg/dsrerr"
	"github.com/devtool-release/dsr/pkg/naming"
	"github.com/devtool-release/dsr/pkg/release"
	"github.com/devtool-release/dsr/pkg/xdg"
)

// Snapshot is the immutable, point-in-time view of every tool and host dsr
// knows about for one invocation.
type Snapshot struct {
	tools           map[string]*release.ToolSpec
	hosts           map[string]*release.Host
	warnings        []naming.ValidationReport
	githubToken     string
	draft           bool
	diskWarnPercent int32
	mirrorGCSBucket string
	mirrorPrefix    string
}

// legacyFile is the top-level shape of a legacy repos.yaml.
type legacyFile struct {
	Tools map[string]*release.ToolSpec `mapstructure:"tools"`
}

// hostsFile is the top-level shape of hosts.yaml.
type hostsFile struct {
	Hosts []*release.Host `mapstructure:"hosts"`
}

// globalFile is the top-level shape of config.yaml; draft and the disk
// threshold are pointer.BoolPtr/pointer.Int32Ptr because an unset value must be
// distinguishable from an explicit false/0 in a future layered-override
// scheme, even though the current call sites only read them once resolved.
type globalFile struct {
	GitHubToken     string     `mapstructure:"github_token"`
	Draft           *bool      `mapstructure:"draft"`
	DiskWarnPercent *int32     `mapstructure:"disk_warn_percent"`
	Mirror          mirrorFile `mapstructure:"mirror"`
}

// mirrorFile configures the optional GCS artifact mirror (pkg/mirror).
type mirrorFile struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// Load reads config.yaml, hosts.yaml, repos.d/*.yaml (or legacy repos.yaml)
// under dirs.Config and returns the merged Snapshot.
func Load(dirs xdg.Dirs) (*Snapshot, error) {
	snap := &Snapshot{
		tools: map[string]*release.ToolSpec{},
		hosts: map[string]*release.Host{},
	}

	global, err := loadGlobal(dirs.Config)
	if err != nil {
		return nil, err
	}
	snap.githubToken = global.GitHubToken
	snap.draft = *global.Draft
	snap.diskWarnPercent = *global.DiskWarnPercent
	snap.mirrorGCSBucket = global.Mirror.GCSBucket
	snap.mirrorPrefix = global.Mirror.Prefix

	if err := loadHosts(dirs.Config, snap); err != nil {
		return nil, err
	}

	repoDirPath := filepath.Join(dirs.Config, "repos.d")
	entries, err := os.ReadDir(repoDirPath)
	switch {
	case err == nil:
		var names []string
		for _, e := range entries {
			if e.IsDir() || !isYAML(e.Name()) {
				continue
			}
			names = append(names, e.Name())
		}
		sort.Strings(names)
		for _, name := range names {
			if err := loadToolFile(filepath.Join(repoDirPath, name), snap); err != nil {
				return nil, err
			}
		}
	case !os.IsNotExist(err):
		return nil, fmt.Errorf("config: reading %s: %w", repoDirPath, err)
	}

	legacyPath := filepath.Join(dirs.Config, "repos.yaml")
	if _, err := os.Stat(legacyPath); err == nil {
		if err := loadLegacy(legacyPath, snap); err != nil {
			return nil, err
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("config: statting %s: %w", legacyPath, err)
	}

	for name, tool := range snap.tools {
		if err := validateTool(tool); err != nil {
			return nil, &dsrerr.ConfigInvalidError{Path: name, Err: err}
		}
		applyGoreleaserSibling(tool, snap)
	}

	return snap, nil
}

func isYAML(name string) bool {
	return strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")
}

func loadGlobal(configDir string) (*globalFile, error) {
	v := viper.New()
	v.SetConfigFile(filepath.Join(configDir, "config.yaml"))
	v.SetDefault("draft", false)
	v.SetDefault("disk_warn_percent", 90)
	v.SetEnvPrefix("DSR")
	v.AutomaticEnv()
	v.BindEnv("github_token", "GITHUB_TOKEN", "GH_TOKEN")

	if err := v.ReadInConfig(); err != nil {
		if !isConfigFileNotFound(err) {
			return nil, &dsrerr.ConfigInvalidError{Path: v.ConfigFileUsed(), Err: err}
		}
	}

	var g globalFile
	if err := v.Unmarshal(&g); err != nil {
		return nil, &dsrerr.ConfigInvalidError{Path: v.ConfigFileUsed(), Err: err}
	}
	if g.Draft == nil {
		g.Draft = pointer.BoolPtr(false)
	}
	if g.DiskWarnPercent == nil {
		g.DiskWarnPercent = pointer.Int32Ptr(90)
	}
	if g.GitHubToken == "" {
		g.GitHubToken = firstNonEmptyEnv("GITHUB_TOKEN", "GH_TOKEN")
	}
	return &g, nil
}

func loadHosts(configDir string, snap *Snapshot) error {
	path := filepath.Join(configDir, "hosts.yaml")
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		if isConfigFileNotFound(err) {
			return nil
		}
		return &dsrerr.ConfigInvalidError{Path: path, Err: err}
	}

	var hf hostsFile
	if err := v.Unmarshal(&hf); err != nil {
		return &dsrerr.ConfigInvalidError{Path: path, Err: err}
	}
	for _, h := range hf.Hosts {
		if err := validateHost(h); err != nil {
			return &dsrerr.ConfigInvalidError{Path: path, Err: fmt.Errorf("host %q: %w", h.ID, err)}
		}
		snap.hosts[h.ID] = h
	}
	return nil
}

func loadToolFile(path string, snap *Snapshot) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return &dsrerr.ConfigInvalidError{Path: path, Err: err}
	}
	var tool release.ToolSpec
	if err := v.Unmarshal(&tool); err != nil {
		return &dsrerr.ConfigInvalidError{Path: path, Err: err}
	}
	if tool.Name == "" {
		tool.Name = strings.TrimSuffix(strings.TrimSuffix(filepath.Base(path), ".yaml"), ".yml")
	}
	snap.tools[tool.Name] = &tool
	return nil
}

func loadLegacy(path string, snap *Snapshot) error {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return &dsrerr.ConfigInvalidError{Path: path, Err: err}
	}
	var lf legacyFile
	if err := v.Unmarshal(&lf); err != nil {
		return &dsrerr.ConfigInvalidError{Path: path, Err: err}
	}
	for name, tool := range lf.Tools {
		if tool.Name == "" {
			tool.Name = name
		}
		if _, exists := snap.tools[tool.Name]; exists {
			continue // repos.d/*.yaml wins over the legacy single-file layout
		}
		snap.tools[tool.Name] = tool
	}
	return nil
}

func validateTool(t *release.ToolSpec) error {
	if t.Repo == "" && t.LocalPath == "" {
		return fmt.Errorf("tool %q: repo and local_path must not both be empty", t.Name)
	}
	if t.Workflow != "" {
		if _, err := os.Stat(t.Workflow); err != nil {
			return fmt.Errorf("tool %q: workflow %q: %w", t.Name, t.Workflow, err)
		}
	}
	if len(t.Targets) == 0 {
		t.Targets = release.DefaultTargets
	}
	return nil
}

func validateHost(h *release.Host) error {
	if h.ID == "" {
		return fmt.Errorf("id must not be empty")
	}
	if h.Connection == release.ConnectionSSH && h.SSHHost == "" {
		return fmt.Errorf("connection=ssh requires ssh_host")
	}
	return nil
}

// applyGoreleaserSibling runs the advisory naming-template check against a
// .goreleaser.yaml next to the tool's local_path, if any, and records the
// resulting warning report on the snapshot rather than failing the load.
func applyGoreleaserSibling(t *release.ToolSpec, snap *Snapshot) {
	if t.LocalPath == "" {
		return
	}
	siblingPath := filepath.Join(t.LocalPath, ".goreleaser.yaml")
	cfg, err := naming.LoadGoreleaserSibling(siblingPath)
	if err != nil || cfg == nil {
		return
	}
	var scraped []string
	for _, a := range cfg.Archives {
		if a.NameTemplate != "" {
			scraped = append(scraped, a.NameTemplate)
		}
	}
	report, err := naming.ValidateTemplates(t.ArtifactNaming.Versioned, toolCompatTemplate(t), scraped...)
	if err != nil || report == nil {
		return
	}
	if report.Status != "ok" {
		snap.warnings = append(snap.warnings, *report)
	}
}

func toolCompatTemplate(t *release.ToolSpec) string {
	if t.ArtifactNaming.Compat != "" {
		return t.ArtifactNaming.Compat
	}
	return t.InstallScriptCompat
}

func firstNonEmptyEnv(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

func isConfigFileNotFound(err error) bool {
	_, ok := err.(viper.ConfigFileNotFoundError)
	if ok {
		return true
	}
	return os.IsNotExist(err)
}

// GetTool looks up a tool by name.
func (s *Snapshot) GetTool(name string) (*release.ToolSpec, bool) {
	t, ok := s.tools[name]
	return t, ok
}

// ListTools returns every configured tool name, sorted.
func (s *Snapshot) ListTools() []string {
	names := make([]string, 0, len(s.tools))
	for n := range s.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// GetHost looks up a host by ID, satisfying pkg/planner.HostResolver.
func (s *Snapshot) GetHost(id string) (*release.Host, bool) {
	h, ok := s.hosts[id]
	return h, ok
}

// ListHosts returns every configured host, sorted by ID.
func (s *Snapshot) ListHosts() []string {
	ids := make([]string, 0, len(s.hosts))
	for id := range s.hosts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// FirstHostForPlatform returns the first non-local host matching platform,
// falling back to a local host if none match, satisfying
// pkg/planner.HostResolver.
func (s *Snapshot) FirstHostForPlatform(os, arch string) (*release.Host, bool) {
	var localMatch *release.Host
	ids := s.ListHosts()
	for _, id := range ids {
		h := s.hosts[id]
		if h.Platform.OS != os || h.Platform.Arch != arch {
			continue
		}
		if h.Connection != release.ConnectionLocal {
			return h, true
		}
		if localMatch == nil {
			localMatch = h
		}
	}
	if localMatch != nil {
		return localMatch, true
	}
	return nil, false
}

// LocalActHost returns the first configured local-connection host,
// satisfying pkg/planner.HostResolver.
func (s *Snapshot) LocalActHost() (*release.Host, bool) {
	for _, id := range s.ListHosts() {
		h := s.hosts[id]
		if h.Connection == release.ConnectionLocal {
			return h, true
		}
	}
	return nil, false
}

// GitHubToken returns the resolved GitHub token, if any, from config.yaml
// or the GITHUB_TOKEN/GH_TOKEN environment variables.
func (s *Snapshot) GitHubToken() string {
	return s.githubToken
}

// Draft reports whether releases should be created as drafts by default.
func (s *Snapshot) Draft() bool {
	return s.draft
}

// DiskWarnPercent returns the configured disk-usage warning percentage
// (disk_warn_percent, default 90). pkg/health does not read it: its disk
// check fails only when less than 1GiB is free.
func (s *Snapshot) DiskWarnPercent() int32 {
	return s.diskWarnPercent
}

// MirrorGCSBucket returns the configured GCS bucket for the optional
// remote artifact mirror, or "" if mirroring is disabled.
func (s *Snapshot) MirrorGCSBucket() string {
	return s.mirrorGCSBucket
}

// MirrorPrefix returns the configured object-name prefix for the remote
// artifact mirror.
func (s *Snapshot) MirrorPrefix() string {
	return s.mirrorPrefix
}

// Warnings returns every advisory naming-template mismatch report gathered
// while loading tools with a .goreleaser.yaml sibling.
func (s *Snapshot) Warnings() []naming.ValidationReport {
	return s.warnings
}

// RequireTool looks up a tool by name, returning a ConfigNotFoundError
// cmd/dsr can map straight to an exit code when the tool is unknown.
func (s *Snapshot) RequireTool(name string) (*release.ToolSpec, error) {
	t, ok := s.GetTool(name)
	if !ok {
		return nil, &dsrerr.ConfigNotFoundError{Kind: "tool", Name: name}
	}
	return t, nil
}

// RequireHost looks up a host by ID, returning a ConfigNotFoundError
// cmd/dsr can map straight to an exit code when the host is unknown.
func (s *Snapshot) RequireHost(id string) (*release.Host, error) {
	h, ok := s.GetHost(id)
	if !ok {
		return nil, &dsrerr.ConfigNotFoundError{Kind: "host", Name: id}
	}
	return h, nil
}

// HostLookup adapts GetHost to the function-variable injection seam used by
// pkg/executor/ssh, avoiding an import cycle between the executor and
// config packages.
func (s *Snapshot) HostLookup(hostID string) (*release.Host, bool) {
	return s.GetHost(hostID)
}
