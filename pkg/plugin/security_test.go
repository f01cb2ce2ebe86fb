package plugin

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidPluginName(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		want  bool
	}{
		{"simple", "demo", true},
		{"dashes and underscores", "my_plugin-2", true},
		{"scoped", "@scope/pkg", true},
		{"empty", "", false},
		{"parent traversal", "../x", false},
		{"nested traversal", "a/b/../c", false},
		{"scoped traversal", "@scope/../pkg", false},
		{"plain slash", "a/b", false},
		{"backslash", `a\b`, false},
		{"dot", "a.b", false},
		{"scope without name", "@scope", false},
		{"scope with empty name", "@scope/", false},
		{"empty scope", "@/pkg", false},
		{"double scope", "@a/b/c", false},
		{"whitespace", "my plugin", false},
		{"shell metacharacters", "x;rm", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsValidPluginName(tc.input))
		})
	}

	t.Run("total over arbitrary input", func(t *testing.T) {
		inputs := []string{"\x00", "@", "@@/@", strings.Repeat("a", 10000), "\u00e9", "/", "\\"}
		for _, input := range inputs {
			assert.NotPanics(t, func() { IsValidPluginName(input) })
		}
	})
}

func TestIsValidNpmPackageName(t *testing.T) {
	valid := []string{"zammy-plugin-demo", "@zammy/demo", "a.b_c~d", "lodash"}
	for _, name := range valid {
		assert.True(t, IsValidNpmPackageName(name), name)
	}

	invalid := []string{
		"",
		"Uppercase",
		".hidden",
		"_private",
		"has space",
		"@scope",
		"@scope/",
		"a/b",
		"--force",
		strings.Repeat("a", 215),
		"pkg;rm -rf /",
	}
	for _, name := range invalid {
		assert.False(t, IsValidNpmPackageName(name), name)
	}
}

func TestIsValidGitHubRepo(t *testing.T) {
	valid := []string{"user/repo", "user/repo#main", "my-org/my.repo", "user/repo#feature/x"}
	for _, repo := range valid {
		assert.True(t, IsValidGitHubRepo(repo), repo)
	}

	invalid := []string{
		"",
		"user",
		"user/",
		"/repo",
		"user/repo/extra",
		"-user/repo",
		"user/..",
		"user/repo#",
		"user/repo#a..b",
		"user/repo#--upload-pack=x",
		"user/repo;ls",
		"user name/repo",
	}
	for _, repo := range invalid {
		assert.False(t, IsValidGitHubRepo(repo), repo)
	}
}

func TestIsValidBranchName(t *testing.T) {
	valid := []string{"main", "release/1.2", "feature-x", "v1.0.0"}
	for _, branch := range valid {
		assert.True(t, IsValidBranchName(branch), branch)
	}

	invalid := []string{"", "a b", "a\tb", "a~1", "a^", "a:b", "a?", "a*", "a[b]", `a\b`, "a..b", "-x", "a\nb"}
	for _, branch := range invalid {
		assert.False(t, IsValidBranchName(branch), branch)
	}
}

func TestIsValidGitURL(t *testing.T) {
	valid := []string{
		"https://github.com/user/repo.git",
		"https://gitlab.example.com:8443/group/sub/repo.git",
		"git@github.com:user/repo.git",
		"git://example.com/repo.git",
	}
	for _, url := range valid {
		assert.True(t, IsValidGitURL(url), url)
	}

	invalid := []string{
		"",
		"http://github.com/user/repo.git",
		"https://github.com/user/repo",
		"file:///etc/passwd.git",
		"ext::sh -c touch% /tmp/pwned.git",
		"https://github.com/user/repo.git; rm -rf /",
		"git@github.com:../../etc.git",
		"--upload-pack=touch.git",
	}
	for _, url := range invalid {
		assert.False(t, IsValidGitURL(url), url)
	}
}

func TestIsPathSafe(t *testing.T) {
	base := t.TempDir()

	assert.True(t, IsPathSafe(base, "src/index.js"))
	assert.True(t, IsPathSafe(base, "index.lua"))
	assert.True(t, IsPathSafe(base, "./bin/plugin"))

	unsafe := []string{
		"",
		"../../etc/passwd",
		"..",
		"src/../../x",
		"/etc/passwd",
		`\windows\system32`,
		`C:\evil.js`,
		"c:evil.js",
	}
	for _, target := range unsafe {
		assert.False(t, IsPathSafe(base, target), target)
	}

	t.Run("false for any base", func(t *testing.T) {
		for _, b := range []string{"/", "/tmp", ".", "relative/dir"} {
			assert.False(t, IsPathSafe(b, "../../etc/passwd"), b)
		}
	})
}

func TestFindSymlinks(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require privileges on windows")
	}

	t.Run("clean tree", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(root, "a", "b"), 0755))
		require.NoError(t, os.WriteFile(filepath.Join(root, "a", "b", "f.txt"), []byte("x"), 0644))

		links, err := FindSymlinks(root)
		require.NoError(t, err)
		assert.Empty(t, links)
	})

	t.Run("finds file and directory links", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(root, "deep", "er"), 0755))
		require.NoError(t, os.Symlink("/etc/passwd", filepath.Join(root, "deep", "er", "passwd")))
		require.NoError(t, os.Symlink("/", filepath.Join(root, "rootdir")))

		links, err := FindSymlinks(root)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{filepath.Join("deep", "er", "passwd"), "rootdir"}, links)
	})
}
