package plugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zammy/zammy/pkg/command"
	"github.com/zammy/zammy/pkg/process"
)

// Default subprocess timeouts for install steps
const (
	DefaultNpmTimeout   = 2 * time.Minute
	DefaultCloneTimeout = 2 * time.Minute
	DefaultBuildTimeout = 5 * time.Minute
)

// stagingPrefix marks in-progress commits inside the plugins root.
// Discovery skips dot directories, so these are never loaded.
const stagingPrefix = ".staging-"

// CommandRunner runs external tools with argument vectors
type CommandRunner interface {
	Run(ctx context.Context, req process.Request) (process.Result, error)
	LookPath(name string) bool
}

// ConflictChecker probes command name ownership
type ConflictChecker interface {
	CheckConflict(name string) command.Conflict
}

// InstallerConfig configures an Installer
type InstallerConfig struct {
	PluginsDir  string
	HostVersion string

	NpmTimeout   time.Duration
	CloneTimeout time.Duration
	BuildTimeout time.Duration

	// AllowBuild permits running a cloned repository's build script
	AllowBuild bool
}

func (c InstallerConfig) withDefaults() InstallerConfig {
	if c.NpmTimeout <= 0 {
		c.NpmTimeout = DefaultNpmTimeout
	}
	if c.CloneTimeout <= 0 {
		c.CloneTimeout = DefaultCloneTimeout
	}
	if c.BuildTimeout <= 0 {
		c.BuildTimeout = DefaultBuildTimeout
	}
	return c
}

// Installer stages, validates and commits plugins into the plugins root.
// Every failure is returned as an *Error; nothing is written to the plugins
// root until all checks pass.
type Installer struct {
	logger    zerolog.Logger
	config    InstallerConfig
	runner    CommandRunner
	manifests *ManifestLoader
	conflicts ConflictChecker
	metrics   Metrics
}

// NewInstaller creates an installer
func NewInstaller(
	logger zerolog.Logger,
	config InstallerConfig,
	runner CommandRunner,
	manifests *ManifestLoader,
	conflicts ConflictChecker,
	metrics Metrics,
) *Installer {
	return &Installer{
		logger:    logger.With().Str("component", "plugin-installer").Logger(),
		config:    config.withDefaults(),
		runner:    runner,
		manifests: manifests,
		conflicts: conflicts,
		metrics:   orNop(metrics),
	}
}

// Install detects the source type and dispatches to the matching resolver
func (i *Installer) Install(ctx context.Context, source string) (*InstallResult, error) {
	switch DetectSource(source) {
	case SourceLocal:
		return i.InstallFromLocal(ctx, source)
	case SourceGitHub:
		return i.InstallFromGitHub(ctx, source)
	case SourceGit:
		return i.InstallFromGit(ctx, source)
	default:
		return i.InstallFromNpm(ctx, source)
	}
}

// InstallFromLocal installs a plugin from a directory on disk
func (i *Installer) InstallFromLocal(ctx context.Context, path string) (*InstallResult, error) {
	start := time.Now()
	result, err := i.installLocal(ctx, path)
	return i.finish(SourceLocal, path, start, result, err)
}

func (i *Installer) installLocal(ctx context.Context, path string) (*InstallResult, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, validationError("resolve-local", "invalid source path", err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &Error{Kind: KindValidation, Op: "resolve-local", Reason: "source directory not found", Path: path}
		}
		return nil, resourceError("resolve-local", "failed to read source directory", "", err)
	}
	if !info.IsDir() {
		return nil, &Error{Kind: KindValidation, Op: "resolve-local", Reason: "source is not a directory", Path: path}
	}
	if i.containsPluginsDir(abs) {
		return nil, &Error{Kind: KindValidation, Op: "resolve-local", Reason: "source directory contains the plugins directory", Path: path}
	}

	return i.installFromDir(ctx, abs)
}

// containsPluginsDir reports whether the plugins root lies inside dir.
// Committing such a tree would copy its own staging directory.
func (i *Installer) containsPluginsDir(dir string) bool {
	pluginsDir, err := filepath.Abs(i.config.PluginsDir)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(dir, pluginsDir)
	if err != nil || filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// installFromDir validates a staged plugin tree and commits it
func (i *Installer) installFromDir(ctx context.Context, root string) (*InstallResult, error) {
	manifest, err := i.manifests.LoadDir(root)
	if err != nil {
		return nil, err
	}

	if err := CheckCompatibility(i.config.HostVersion, *manifest); err != nil {
		return nil, err
	}

	entry := filepath.Join(root, filepath.FromSlash(manifest.Main))
	info, err := os.Lstat(entry)
	if err != nil {
		return nil, &Error{Kind: KindValidation, Op: "check-entry", Name: manifest.Name, Reason: "entry point not found", Path: manifest.Main}
	}
	if !info.Mode().IsRegular() && info.Mode()&os.ModeSymlink == 0 {
		return nil, &Error{Kind: KindValidation, Op: "check-entry", Name: manifest.Name, Reason: "entry point is not a regular file", Path: manifest.Main}
	}

	links, err := FindSymlinks(root)
	if err != nil {
		return nil, withName(resourceError("scan-symlinks", "failed to scan plugin files", "", err), manifest.Name)
	}
	if len(links) > 0 {
		serr := securityError("scan-symlinks", fmt.Sprintf("plugin contains %d symbolic link(s)", len(links)), links[0])
		serr.Name = manifest.Name
		return nil, serr
	}

	dest := i.installPath(manifest.Name)
	previous := i.installedVersion(dest)

	if err := i.commit(ctx, root, dest); err != nil {
		return nil, withName(err, manifest.Name)
	}

	return &InstallResult{
		Manifest:    *manifest,
		Path:        dest,
		Conflicts:   i.CheckConflicts(*manifest),
		Permissions: FormatPermissions(*manifest),
		Previous:    previous,
		Change:      ClassifyChange(previous, manifest.Version),
	}, nil
}

// CheckConflicts lists manifest commands currently owned by someone else
func (i *Installer) CheckConflicts(manifest PluginManifest) []CommandConflict {
	if i.conflicts == nil {
		return nil
	}

	var conflicts []CommandConflict
	for _, name := range manifest.Commands {
		c := i.conflicts.CheckConflict(name)
		if c.Exists && c.Owner != manifest.Name {
			conflicts = append(conflicts, CommandConflict{Command: name, Owner: c.Owner})
		}
	}
	return conflicts
}

func (i *Installer) installPath(name string) string {
	return filepath.Join(i.config.PluginsDir, filepath.FromSlash(name))
}

// installedVersion reads the version of an existing install, if any
func (i *Installer) installedVersion(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFileName))
	if err != nil {
		return ""
	}
	manifest, err := ParseManifest(data)
	if err != nil {
		return ""
	}
	return manifest.Version
}

// commit copies root into a staging directory inside the plugins root, then
// replaces dest with it. An existing install is removed, never merged.
func (i *Installer) commit(ctx context.Context, root, dest string) error {
	if err := ctx.Err(); err != nil {
		return resourceError("commit", "install cancelled", "", err)
	}

	if err := os.MkdirAll(i.config.PluginsDir, 0755); err != nil {
		return resourceError("commit", "failed to create plugins directory", "", err)
	}

	staging := filepath.Join(i.config.PluginsDir, stagingPrefix+uuid.NewString())
	defer os.RemoveAll(staging)

	if err := copyDir(root, staging); err != nil {
		return resourceError("commit", "failed to copy plugin files", "", err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return resourceError("commit", "failed to create install directory", "", err)
	}
	if err := os.RemoveAll(dest); err != nil {
		return resourceError("commit", "failed to remove previous install", "", err)
	}
	if err := os.Rename(staging, dest); err != nil {
		return resourceError("commit", "failed to move plugin into place", "", err)
	}
	return nil
}

// Uninstall removes an installed plugin directory
func (i *Installer) Uninstall(name string) error {
	if !IsValidPluginName(name) {
		return &Error{Kind: KindValidation, Op: "uninstall", Name: name, Reason: "invalid plugin name"}
	}

	dest := i.installPath(name)
	if _, err := os.Stat(filepath.Join(dest, ManifestFileName)); err != nil {
		return &Error{Kind: KindValidation, Op: "uninstall", Name: name, Reason: "plugin is not installed", Path: dest}
	}

	if err := os.RemoveAll(dest); err != nil {
		return withName(resourceError("uninstall", "failed to remove plugin", "", err), name)
	}

	// drop an emptied @scope directory
	if parent := filepath.Dir(dest); filepath.Clean(parent) != filepath.Clean(i.config.PluginsDir) {
		_ = os.Remove(parent)
	}

	i.logger.Info().Str("plugin", name).Str("path", dest).Msg("Plugin uninstalled")
	return nil
}

// finish logs and records the outcome of an install attempt
func (i *Installer) finish(source SourceType, input string, start time.Time, result *InstallResult, err error) (*InstallResult, error) {
	duration := time.Since(start)

	if err != nil {
		var perr *Error
		if !errors.As(err, &perr) {
			err = resourceError("install", "unexpected failure", "", err)
		}

		outcome := OutcomeRejected
		if IsKind(err, KindResource) {
			outcome = OutcomeError
		}
		i.metrics.InstallCompleted(source, outcome, duration)

		i.logger.Warn().
			Err(err).
			Str("source", input).
			Str("type", string(source)).
			Str("kind", string(KindOf(err))).
			Msg("Plugin install rejected")
		return nil, err
	}

	result.ID = uuid.NewString()
	result.Source = source
	i.metrics.InstallCompleted(source, OutcomeSuccess, duration)

	event := i.logger.Info().
		Str("install_id", result.ID).
		Str("plugin", result.Manifest.Name).
		Str("version", result.Manifest.Version).
		Str("type", string(source)).
		Dur("duration", duration)
	if result.Change != ChangeNone {
		event = event.Str("previous", result.Previous).Str("change", string(result.Change))
	}
	event.Msg("Plugin installed")

	return result, nil
}

// toolError converts a failed subprocess into a resource error carrying the
// tool output
func toolError(op, tool string, res process.Result, err error) *Error {
	switch {
	case errors.Is(err, process.ErrTimeout):
		return resourceError(op, tool+" timed out", res.Output(), err)
	case errors.Is(err, process.ErrNotFound):
		return resourceError(op, tool+" is not installed", "", err)
	default:
		return resourceError(op, tool+" failed", res.Output(), err)
	}
}
