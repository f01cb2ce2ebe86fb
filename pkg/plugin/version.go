package plugin

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// versionComponents is how many dotted components take part in comparison
const versionComponents = 3

// CompareVersions compares two dotted versions and returns -1, 0 or 1.
// Only the first three components count; a component that is missing or not
// purely decimal is treated as 0. Pre-release suffixes get no special meaning.
func CompareVersions(a, b string) int {
	pa := parseVersion(a)
	pb := parseVersion(b)

	for i := 0; i < versionComponents; i++ {
		switch {
		case pa[i] < pb[i]:
			return -1
		case pa[i] > pb[i]:
			return 1
		}
	}
	return 0
}

func parseVersion(v string) [versionComponents]int {
	var out [versionComponents]int
	for i, part := range strings.SplitN(v, ".", versionComponents+1) {
		if i >= versionComponents {
			break
		}
		out[i] = parseComponent(part)
	}
	return out
}

func parseComponent(s string) int {
	if s == "" {
		return 0
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// CheckCompatibility applies the host version gate to a manifest. It returns
// nil when the host lies inside [minVersion, maxVersion], treating missing
// bounds as open.
func CheckCompatibility(hostVersion string, manifest PluginManifest) error {
	if manifest.Zammy == nil {
		return nil
	}

	if minVersion := manifest.Zammy.MinVersion; minVersion != "" && CompareVersions(hostVersion, minVersion) < 0 {
		return &Error{
			Kind:     KindIncompatible,
			Op:       "compatibility",
			Name:     manifest.Name,
			Required: ">= " + minVersion,
			Actual:   hostVersion,
			Reason:   fmt.Sprintf("requires zammy >= %s, but this is zammy %s", minVersion, hostVersion),
		}
	}

	if maxVersion := manifest.Zammy.MaxVersion; maxVersion != "" && CompareVersions(hostVersion, maxVersion) > 0 {
		return &Error{
			Kind:     KindIncompatible,
			Op:       "compatibility",
			Name:     manifest.Name,
			Required: "<= " + maxVersion,
			Actual:   hostVersion,
			Reason:   fmt.Sprintf("requires zammy <= %s, but this is zammy %s", maxVersion, hostVersion),
		}
	}

	return nil
}

// VersionChange labels what replacing an install did to its version
type VersionChange string

const (
	ChangeNone      VersionChange = ""
	ChangeUpgrade   VersionChange = "upgrade"
	ChangeDowngrade VersionChange = "downgrade"
	ChangeReinstall VersionChange = "reinstall"
)

// ClassifyChange compares a replaced install's version with the new one for
// the install report. Proper semver ordering is used when both parse,
// otherwise the host comparator.
func ClassifyChange(previous, next string) VersionChange {
	if previous == "" {
		return ChangeNone
	}

	cmp := 0
	pv, perr := semver.NewVersion(previous)
	nv, nerr := semver.NewVersion(next)
	if perr == nil && nerr == nil {
		cmp = nv.Compare(pv)
	} else {
		cmp = CompareVersions(next, previous)
	}

	switch {
	case cmp > 0:
		return ChangeUpgrade
	case cmp < 0:
		return ChangeDowngrade
	default:
		return ChangeReinstall
	}
}
