package plugin

import (
	"fmt"
	"strings"
)

// FormatPermissions renders the capabilities a manifest declares as
// human-readable lines. Declarations are informational: nothing here or in
// the loader restricts what an activated plugin can do.
func FormatPermissions(manifest PluginManifest) []string {
	perms := manifest.Permissions
	if perms == nil || (!perms.Shell && !perms.Filesystem.Requested() && !perms.Network.Requested()) {
		return []string{"No special permissions requested"}
	}

	var lines []string
	if perms.Shell {
		lines = append(lines, "Shell: can execute system commands")
	}
	if line := formatScope("Filesystem", "full access", "access to", perms.Filesystem); line != "" {
		lines = append(lines, line)
	}
	if line := formatScope("Network", "unrestricted access", "access to", perms.Network); line != "" {
		lines = append(lines, line)
	}
	return lines
}

func formatScope(label, blanket, scoped string, scope PermissionScope) string {
	switch {
	case len(scope.Scopes) > 0:
		return fmt.Sprintf("%s: %s %s", label, scoped, strings.Join(scope.Scopes, ", "))
	case scope.All:
		return fmt.Sprintf("%s: %s", label, blanket)
	default:
		return ""
	}
}

// HasElevatedPermissions reports whether a manifest asks for shell access or
// blanket filesystem or network access
func HasElevatedPermissions(manifest PluginManifest) bool {
	perms := manifest.Permissions
	if perms == nil {
		return false
	}
	return perms.Shell || perms.Filesystem.All || perms.Network.All
}
