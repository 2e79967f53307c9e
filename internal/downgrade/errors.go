// Package downgrade implements the version-diff graph and patch-sequence
// application used to downgrade an installed APK and its OBB files,
// grounded on original_source/mbf-agent-core/src/downgrading.rs.
package downgrade

import "errors"

// ErrCorruptSource is returned when a file's CRC-32 doesn't match the diff's
// expected file_crc before patching -- the installation is not what the
// catalog expects, so applying the patch would produce garbage.
var ErrCorruptSource = errors.New("downgrade: source file CRC mismatch, installation is not unmodified")

// ErrMissingObb is returned when a VersionDiffs record names an OBB diff
// whose file_name has no matching file among the current OBBs.
var ErrMissingObb = errors.New("downgrade: no matching OBB file found for diff")

// ErrNoRoute is returned when the requested target version is not reachable
// from the source version in the diff graph.
var ErrNoRoute = errors.New("downgrade: no diff sequence found for target version")
