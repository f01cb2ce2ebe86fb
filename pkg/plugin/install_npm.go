package plugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/zammy/zammy/pkg/process"
)

// npmPackageDir is the folder npm tarballs wrap their contents in
const npmPackageDir = "package"

// InstallFromNpm packs an npm package into a private staging directory,
// extracts it and installs the package contents
func (i *Installer) InstallFromNpm(ctx context.Context, source string) (*InstallResult, error) {
	start := time.Now()
	result, err := i.installNpm(ctx, source)
	return i.finish(SourceNpm, source, start, result, err)
}

func (i *Installer) installNpm(ctx context.Context, source string) (*InstallResult, error) {
	spec, err := ParseNpmSpec(source)
	if err != nil {
		return nil, err
	}

	if !i.runner.LookPath("npm") {
		return nil, resourceError("npm-pack", "npm is not installed", "", process.ErrNotFound)
	}

	staging, err := os.MkdirTemp("", "zammy-npm-*")
	if err != nil {
		return nil, resourceError("npm-pack", "failed to create staging directory", "", err)
	}
	defer os.RemoveAll(staging)

	i.logger.Info().Str("package", spec.String()).Msg("Fetching npm package")
	res, err := i.runner.Run(ctx, process.Request{
		Command: "npm",
		Args:    []string{"pack", spec.String(), "--ignore-scripts", "--silent"},
		Dir:     staging,
		Timeout: i.config.NpmTimeout,
	})
	if err != nil {
		return nil, toolError("npm-pack", "npm pack", res, err)
	}

	tarballs, err := filepath.Glob(filepath.Join(staging, "*.tgz"))
	if err != nil || len(tarballs) != 1 {
		return nil, resourceError("npm-pack", "npm pack did not produce a single tarball", res.Output(), err)
	}

	extracted := filepath.Join(staging, "extracted")
	if err := i.extract(ctx, tarballs[0], extracted); err != nil {
		return nil, err
	}

	root := filepath.Join(extracted, npmPackageDir)
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil, &Error{Kind: KindValidation, Op: "extract", Reason: "tarball has no package folder", Path: filepath.Base(tarballs[0])}
	}

	return i.installFromDir(ctx, root)
}

// extract unpacks a gzipped tarball with the system tar when present,
// falling back to the built-in extractor
func (i *Installer) extract(ctx context.Context, tarball, dest string) error {
	if err := os.MkdirAll(dest, 0755); err != nil {
		return resourceError("extract", "failed to create extraction directory", "", err)
	}

	if i.runner.LookPath("tar") {
		res, err := i.runner.Run(ctx, process.Request{
			Command: "tar",
			Args:    []string{"-xzf", tarball, "-C", dest},
			Timeout: i.config.NpmTimeout,
		})
		if err == nil {
			return nil
		}
		i.logger.Warn().Err(err).Str("output", res.Output()).Msg("System tar failed, using built-in extractor")

		if err := os.RemoveAll(dest); err != nil {
			return resourceError("extract", "failed to reset extraction directory", "", err)
		}
		if err := os.MkdirAll(dest, 0755); err != nil {
			return resourceError("extract", "failed to create extraction directory", "", err)
		}
	}

	if err := extractTarGz(tarball, dest); err != nil {
		var perr *Error
		if errors.As(err, &perr) {
			return perr
		}
		return resourceError("extract", "failed to extract tarball", "", err)
	}
	return nil
}
