package catalog

import (
	"strings"

	"github.com/Masterminds/semver"
)

// IsAwaitingDiff reports whether apkVersion is strictly newer, under semver
// ordering, than every from_version in diffs -- i.e. the published diff
// index hasn't caught up with this game update yet. Versions carry an
// optional build suffix after an underscore (e.g. "1.28.0_4541660092"),
// which is stripped before parsing, matching
// original_source/mbf-agent/src/handlers/mod_status.rs's
// try_parse_bs_ver_as_semver/is_version_newer_than_latest_diff.
func IsAwaitingDiff(apkVersion string, diffs DiffIndex) bool {
	apkSemver, err := parseBsVersion(apkVersion)
	if err != nil {
		return false
	}

	for _, diff := range diffs {
		diffSemver, err := parseBsVersion(diff.FromVersion)
		if err != nil {
			continue
		}
		if apkSemver.Compare(diffSemver) <= 0 {
			return false
		}
	}
	return true
}

func parseBsVersion(version string) (*semver.Version, error) {
	segment, _, _ := strings.Cut(version, "_")
	return semver.NewVersion(segment)
}
