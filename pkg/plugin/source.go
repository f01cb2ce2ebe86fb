package plugin

import (
	"regexp"
	"strings"
)

// npmVersionSpec limits what may follow `name@` in an npm source
var npmVersionSpec = regexp.MustCompile(`^[A-Za-z0-9.^~*<>=|+-]+$`)

// DetectSource classifies an install source string
func DetectSource(source string) SourceType {
	location, _, _ := strings.Cut(source, "#")
	switch {
	case strings.HasPrefix(source, "./"),
		strings.HasPrefix(source, `.\`),
		strings.HasPrefix(source, "/"),
		strings.HasPrefix(source, ".."),
		driveLetterPath.MatchString(source):
		return SourceLocal
	case strings.HasPrefix(source, "github:"), strings.Contains(source, "github.com"):
		return SourceGitHub
	case strings.HasSuffix(location, ".git"),
		strings.HasPrefix(source, "git@"),
		strings.HasPrefix(source, "git://"):
		return SourceGit
	default:
		return SourceNpm
	}
}

// NpmSpec is a parsed npm install source
type NpmSpec struct {
	Name    string
	Version string
}

// String returns the spec as passed to npm
func (s NpmSpec) String() string {
	if s.Version == "" {
		return s.Name
	}
	return s.Name + "@" + s.Version
}

// ParseNpmSpec splits `name`, `name@version`, `@scope/name` and
// `@scope/name@version`, validating both halves.
func ParseNpmSpec(source string) (NpmSpec, error) {
	name, version := source, ""
	if at := strings.LastIndex(source, "@"); at > 0 {
		name, version = source[:at], source[at+1:]
		if version == "" {
			return NpmSpec{}, securityError("resolve-npm", "empty npm version", source)
		}
	}

	if !IsValidNpmPackageName(name) {
		return NpmSpec{}, securityError("resolve-npm", "invalid npm package name", source)
	}
	if version != "" && (!npmVersionSpec.MatchString(version) || strings.HasPrefix(version, "-")) {
		return NpmSpec{}, securityError("resolve-npm", "invalid npm version", source)
	}
	return NpmSpec{Name: name, Version: version}, nil
}

// GitHubSpec is a parsed GitHub install source
type GitHubSpec struct {
	Repo   string // user/repo
	Branch string
}

// CloneURL returns the https clone URL for the repository
func (s GitHubSpec) CloneURL() string {
	return "https://github.com/" + s.Repo + ".git"
}

// ParseGitHubSource accepts `github:user/repo[#branch]` and GitHub URLs such
// as `https://github.com/user/repo[.git][#branch]`.
func ParseGitHubSource(source string) (GitHubSpec, error) {
	ref := source
	switch {
	case strings.HasPrefix(ref, "github:"):
		ref = strings.TrimPrefix(ref, "github:")
	default:
		idx := strings.Index(ref, "github.com")
		if idx < 0 {
			return GitHubSpec{}, securityError("resolve-github", "not a GitHub source", source)
		}
		prefix := ref[:idx]
		if prefix != "" && prefix != "https://" && prefix != "http://" && prefix != "https://www." && prefix != "www." {
			return GitHubSpec{}, securityError("resolve-github", "unsupported GitHub URL", source)
		}
		ref = ref[idx+len("github.com"):]
		if !strings.HasPrefix(ref, "/") && !strings.HasPrefix(ref, ":") {
			return GitHubSpec{}, securityError("resolve-github", "unsupported GitHub URL", source)
		}
		ref = ref[1:]
	}

	path, branch, hasBranch := strings.Cut(ref, "#")
	path = strings.TrimSuffix(strings.TrimSuffix(path, "/"), ".git")

	repo := path
	if hasBranch {
		repo += "#" + branch
	}
	if !IsValidGitHubRepo(repo) {
		return GitHubSpec{}, securityError("resolve-github", "invalid GitHub repository or branch", source)
	}
	return GitHubSpec{Repo: path, Branch: branch}, nil
}

// ParseGitSource validates a git URL with an optional `#branch` suffix
func ParseGitSource(source string) (url, branch string, err error) {
	url, branch, hasBranch := strings.Cut(source, "#")
	if !IsValidGitURL(url) {
		return "", "", securityError("resolve-git", "unsupported or unsafe git URL", source)
	}
	if hasBranch && !IsValidBranchName(branch) {
		return "", "", securityError("resolve-git", "invalid branch name", source)
	}
	return url, branch, nil
}
