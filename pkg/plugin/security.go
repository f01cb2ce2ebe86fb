package plugin

import (
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"
)

var (
	// pluginNameSegment is one unscoped name or one half of a scoped name
	pluginNameSegment = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

	// npmPackageName follows the npm registry grammar for new packages
	npmPackageName = regexp.MustCompile(`^(?:@[a-z0-9-~][a-z0-9-._~]*/)?[a-z0-9-~][a-z0-9-._~]*$`)

	githubRepo = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9-]*[A-Za-z0-9])?/[A-Za-z0-9._-]+$`)

	gitHTTPSURL = regexp.MustCompile(`^https://[A-Za-z0-9.-]+(?::[0-9]+)?/[A-Za-z0-9._~/-]+\.git$`)
	gitSSHURL   = regexp.MustCompile(`^git@[A-Za-z0-9.-]+:[A-Za-z0-9._~/-]+\.git$`)
	gitProtoURL = regexp.MustCompile(`^git://[A-Za-z0-9.-]+(?::[0-9]+)?/[A-Za-z0-9._~/-]+\.git$`)

	driveLetterPath = regexp.MustCompile(`^[A-Za-z]:`)
)

const npmNameMaxLength = 214

// IsValidPluginName accepts `name` or `@scope/name`, each segment limited to
// letters, digits, dash and underscore.
func IsValidPluginName(name string) bool {
	if strings.HasPrefix(name, "@") {
		scope, rest, ok := strings.Cut(name[1:], "/")
		if !ok {
			return false
		}
		return pluginNameSegment.MatchString(scope) && pluginNameSegment.MatchString(rest)
	}
	return pluginNameSegment.MatchString(name)
}

// IsValidNpmPackageName checks the npm package name grammar, scoped or not
func IsValidNpmPackageName(name string) bool {
	if name == "" || len(name) > npmNameMaxLength || strings.HasPrefix(name, "-") {
		return false
	}
	return npmPackageName.MatchString(name)
}

// IsValidGitHubRepo accepts `user/repo` with an optional `#branch`
func IsValidGitHubRepo(repo string) bool {
	path, branch, hasBranch := strings.Cut(repo, "#")
	if !githubRepo.MatchString(path) {
		return false
	}

	_, name, _ := strings.Cut(path, "/")
	if name == "." || name == ".." || strings.Contains(name, "..") {
		return false
	}

	if hasBranch {
		return IsValidBranchName(branch)
	}
	return true
}

// IsValidBranchName rejects whitespace, control characters, git's reserved
// ref characters, `..`, and a leading dash.
func IsValidBranchName(branch string) bool {
	if branch == "" || strings.HasPrefix(branch, "-") || strings.Contains(branch, "..") {
		return false
	}
	for _, r := range branch {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return false
		}
		if strings.ContainsRune(`~^:?*[]\`, r) {
			return false
		}
	}
	return true
}

// IsValidGitURL accepts only https, scp-style ssh, and git protocol URLs
// ending in .git
func IsValidGitURL(url string) bool {
	if strings.Contains(url, "..") {
		return false
	}
	return gitHTTPSURL.MatchString(url) || gitSSHURL.MatchString(url) || gitProtoURL.MatchString(url)
}

// IsPathSafe reports whether target, interpreted relative to base, stays
// inside base.
func IsPathSafe(base, target string) bool {
	if target == "" || base == "" {
		return false
	}
	if filepath.IsAbs(target) || strings.HasPrefix(target, "/") || strings.HasPrefix(target, `\`) {
		return false
	}
	if driveLetterPath.MatchString(target) {
		return false
	}
	if strings.Contains(target, "..") {
		return false
	}

	cleanBase := filepath.Clean(base)
	resolved := filepath.Join(cleanBase, target)
	rel, err := filepath.Rel(cleanBase, resolved)
	if err != nil {
		return false
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return false
	}
	return true
}

// FindSymlinks walks root without following links and returns the
// root-relative path of every symbolic link found.
func FindSymlinks(root string) ([]string, error) {
	var links []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink != 0 {
			rel, relErr := filepath.Rel(root, path)
			if relErr != nil {
				rel = path
			}
			links = append(links, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}

	return links, nil
}
