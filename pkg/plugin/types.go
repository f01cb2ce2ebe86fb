package plugin

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ManifestFileName is the manifest expected at the root of every plugin
const ManifestFileName = "zammy-plugin.json"

// PluginState represents the lifecycle state of a loaded plugin
type PluginState string

const (
	StateActive PluginState = "active"
	StateError  PluginState = "error"
)

// PluginManifest represents the zammy-plugin.json file structure
type PluginManifest struct {
	Name        string             `json:"name"`
	Version     string             `json:"version"`
	Main        string             `json:"main"`
	Commands    []string           `json:"commands"`
	Zammy       *HostRequirements  `json:"zammy,omitempty"`
	Permissions *PluginPermissions `json:"permissions,omitempty"`
	DisplayName string             `json:"displayName,omitempty"`
	Description string             `json:"description,omitempty"`
}

// Title returns the display name, falling back to the plugin name
func (m PluginManifest) Title() string {
	if m.DisplayName != "" {
		return m.DisplayName
	}
	return m.Name
}

// HostRequirements declares inclusive host version bounds
type HostRequirements struct {
	MinVersion string `json:"minVersion,omitempty"`
	MaxVersion string `json:"maxVersion,omitempty"`
}

// PluginPermissions declares capabilities a plugin says it uses.
// They are shown to the user and never enforced.
type PluginPermissions struct {
	Shell      bool            `json:"shell,omitempty"`
	Filesystem PermissionScope `json:"filesystem,omitempty"`
	Network    PermissionScope `json:"network,omitempty"`
}

// PermissionScope is either a blanket boolean or a list of scoped entries
// (paths for filesystem, hosts for network).
type PermissionScope struct {
	All    bool
	Scopes []string
}

// Requested reports whether any access was declared
func (s PermissionScope) Requested() bool {
	return s.All || len(s.Scopes) > 0
}

// UnmarshalJSON accepts `true`, `false`, `null` or an array of strings
func (s *PermissionScope) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = PermissionScope{}
		return nil
	}

	var all bool
	if err := json.Unmarshal(data, &all); err == nil {
		*s = PermissionScope{All: all}
		return nil
	}

	var scopes []string
	if err := json.Unmarshal(data, &scopes); err != nil {
		return fmt.Errorf("permission must be a boolean or an array of strings")
	}
	*s = PermissionScope{Scopes: scopes}
	return nil
}

// MarshalJSON writes the scope back in its declared form
func (s PermissionScope) MarshalJSON() ([]byte, error) {
	if len(s.Scopes) > 0 {
		return json.Marshal(s.Scopes)
	}
	return json.Marshal(s.All)
}

// DiscoveredPlugin represents a plugin found on disk with a valid,
// compatible manifest
type DiscoveredPlugin struct {
	Manifest PluginManifest
	Path     string
}

// LoadedPlugin represents a plugin whose code has been activated, or whose
// activation failed
type LoadedPlugin struct {
	Manifest PluginManifest
	Instance PluginInstance
	Path     string
	State    PluginState
	Err      error
	LoadedAt time.Time
}

// PluginRecord tracks a loaded plugin and what it registered
type PluginRecord struct {
	Plugin             *LoadedPlugin
	RegisteredCommands []string
	LoadedAt           time.Time
	ErrorCount         int
	LastError          error
}

// PluginStatus summarises a discovered plugin for listings
type PluginStatus struct {
	Manifest PluginManifest
	Path     string
	Loaded   bool
	State    PluginState
	Err      error
	Commands []string
}

// LoadResult contains the results of a startup discovery pass
type LoadResult struct {
	Discovered []string         // Compatible plugins found on disk
	Registered []string         // Plugins whose lazy commands were registered
	Failed     []string         // Plugins with at least one command that could not be registered
	Errors     map[string]error // Errors by plugin name
}

// NewLoadResult returns an empty result
func NewLoadResult() *LoadResult {
	return &LoadResult{
		Discovered: []string{},
		Registered: []string{},
		Failed:     []string{},
		Errors:     make(map[string]error),
	}
}

func (r *LoadResult) record(name string, err error) {
	if err != nil {
		r.Failed = append(r.Failed, name)
		r.Errors[name] = err
		return
	}
	r.Registered = append(r.Registered, name)
}

// SourceType identifies where an install comes from
type SourceType string

const (
	SourceLocal  SourceType = "local"
	SourceNpm    SourceType = "npm"
	SourceGitHub SourceType = "github"
	SourceGit    SourceType = "git"
)

// CommandConflict is a manifest command already owned by someone else
type CommandConflict struct {
	Command string
	Owner   string
}

// InstallResult describes a committed install
type InstallResult struct {
	ID          string
	Manifest    PluginManifest
	Path        string
	Source      SourceType
	Conflicts   []CommandConflict
	Permissions []string

	// Previous is the replaced install's version, empty for a fresh install
	Previous string
	Change   VersionChange
}
