package plugin

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/tidwall/gjson"

	"github.com/zammy/zammy/pkg/process"
)

// InstallFromGitHub clones a GitHub repository and installs it
func (i *Installer) InstallFromGitHub(ctx context.Context, source string) (*InstallResult, error) {
	start := time.Now()

	spec, err := ParseGitHubSource(source)
	if err != nil {
		return i.finish(SourceGitHub, source, start, nil, err)
	}

	result, err := i.installGit(ctx, spec.CloneURL(), spec.Branch)
	return i.finish(SourceGitHub, source, start, result, err)
}

// InstallFromGit clones an arbitrary git URL and installs it
func (i *Installer) InstallFromGit(ctx context.Context, source string) (*InstallResult, error) {
	start := time.Now()

	url, branch, err := ParseGitSource(source)
	if err != nil {
		return i.finish(SourceGit, source, start, nil, err)
	}

	result, err := i.installGit(ctx, url, branch)
	return i.finish(SourceGit, source, start, result, err)
}

func (i *Installer) installGit(ctx context.Context, url, branch string) (*InstallResult, error) {
	if !i.runner.LookPath("git") {
		return nil, resourceError("clone", "git is not installed", "", process.ErrNotFound)
	}

	staging, err := os.MkdirTemp("", "zammy-git-*")
	if err != nil {
		return nil, resourceError("clone", "failed to create staging directory", "", err)
	}
	defer os.RemoveAll(staging)

	repo := filepath.Join(staging, "repo")
	args := []string{"clone", "--depth", "1"}
	if branch != "" {
		args = append(args, "--branch", branch)
	}
	args = append(args, "--", url, repo)

	i.logger.Info().Str("url", url).Str("branch", branch).Msg("Cloning plugin repository")
	res, err := i.runner.Run(ctx, process.Request{
		Command: "git",
		Args:    args,
		Env:     map[string]string{"GIT_TERMINAL_PROMPT": "0"},
		Timeout: i.config.CloneTimeout,
	})
	if err != nil {
		return nil, toolError("clone", "git clone", res, err)
	}

	if err := i.build(ctx, repo); err != nil {
		return nil, err
	}

	return i.installFromDir(ctx, repo)
}

// build runs the repository's build script when package.json declares one
// and builds are allowed. Dependencies are installed without lifecycle
// scripts.
func (i *Installer) build(ctx context.Context, dir string) error {
	data, err := os.ReadFile(filepath.Join(dir, "package.json"))
	if err != nil {
		return nil
	}
	if !gjson.ValidBytes(data) {
		i.logger.Warn().Str("dir", dir).Msg("Ignoring unparseable package.json")
		return nil
	}

	script := gjson.GetBytes(data, "scripts.build")
	if !script.Exists() || script.String() == "" {
		return nil
	}

	if !i.config.AllowBuild {
		i.logger.Warn().Str("script", script.String()).Msg("Repository declares a build script; builds are disabled, skipping")
		return nil
	}

	if !i.runner.LookPath("npm") {
		return resourceError("build", "npm is not installed", "", process.ErrNotFound)
	}

	i.logger.Warn().
		Str("script", script.String()).
		Msg("Running build script from the cloned repository with host privileges")

	steps := [][]string{
		{"install", "--ignore-scripts", "--no-audit", "--no-fund"},
		{"run", "build"},
	}
	for _, args := range steps {
		res, err := i.runner.Run(ctx, process.Request{
			Command: "npm",
			Args:    args,
			Dir:     dir,
			Timeout: i.config.BuildTimeout,
		})
		if err != nil {
			return toolError("build", "npm "+args[0], res, err)
		}
	}
	return nil
}
