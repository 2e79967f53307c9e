package downgrade

import (
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/sidequest/modkit/internal/catalog"
	"github.com/sidequest/modkit/internal/downgrade/bspatch"
)

// Downloader fetches a diff artifact's bytes to a destination path, with
// whatever retry policy the caller configures (see internal/catalog.Client).
type Downloader interface {
	DownloadFile(url, destPath string) error
}

// DiffURLFunc resolves a catalog.Diff to its download URL.
type DiffURLFunc func(catalog.Diff) string

// GetAndApplyDiffSequence resolves the shortest diff path from fromVersion
// to toVersion and applies it, per downgrading.rs's
// get_and_apply_diff_sequence.
func GetAndApplyDiffSequence(index catalog.DiffIndex, fromVersion, toVersion string,
	scratchDir, apkPath string, obbPaths []string,
	dl Downloader, diffURL DiffURLFunc, log *logrus.Entry) ([]string, error) {
	sequences := AllAccessible(index, fromVersion)
	diffs, ok := sequences[toVersion]
	if !ok {
		return nil, fmt.Errorf("%w: %s -> %s", ErrNoRoute, fromVersion, toVersion)
	}
	return ApplyDiffSequence(diffs, scratchDir, apkPath, obbPaths, dl, diffURL, log)
}

// ApplyDiffSequence downgrades apkPath and obbPaths in place, one
// VersionDiffs record at a time, per apply_diff_sequence/apply_version_diff.
// Returns the updated OBB paths (file names may change between steps).
func ApplyDiffSequence(diffs []catalog.VersionDiffs, scratchDir, apkPath string, obbPaths []string,
	dl Downloader, diffURL DiffURLFunc, log *logrus.Entry) ([]string, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	for i, diff := range diffs {
		log.Infof("applying diffs set %d/%d (%s -> %s)", i+1, len(diffs), diff.FromVersion, diff.ToVersion)

		var err error
		obbPaths, err = applyVersionDiff(diff, scratchDir, apkPath, obbPaths, dl, diffURL)
		if err != nil {
			return nil, fmt.Errorf("downgrade: applying diff %s -> %s: %w", diff.FromVersion, diff.ToVersion, err)
		}
	}

	return obbPaths, nil
}

func applyVersionDiff(diffs catalog.VersionDiffs, scratchDir, apkPath string, obbPaths []string,
	dl Downloader, diffURL DiffURLFunc) ([]string, error) {
	diffsDir := filepath.Join(scratchDir, "diffs")
	if err := os.MkdirAll(diffsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating diffs directory: %w", err)
	}
	defer os.RemoveAll(diffsDir)

	if err := downloadDiffs(diffsDir, diffs, dl, diffURL); err != nil {
		return nil, fmt.Errorf("downloading diffs: %w", err)
	}

	if err := applyDiff(apkPath, apkPath, diffs.ApkDiff, diffsDir); err != nil {
		return nil, fmt.Errorf("applying diff to APK: %w", err)
	}

	var destObbPaths []string
	for _, obbDiff := range diffs.ObbDiffs {
		existingObb, ok := findObb(obbPaths, obbDiff.FileName)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingObb, obbDiff.FileName)
		}

		destObb := filepath.Join(filepath.Dir(existingObb), obbDiff.OutputFileName)
		if err := applyDiff(existingObb, destObb, obbDiff, diffsDir); err != nil {
			return nil, fmt.Errorf("applying diff to OBB: %w", err)
		}
		if err := os.Remove(existingObb); err != nil {
			return nil, fmt.Errorf("deleting old OBB: %w", err)
		}
		destObbPaths = append(destObbPaths, destObb)
	}

	return destObbPaths, nil
}

func findObb(obbPaths []string, fileName string) (string, bool) {
	for _, p := range obbPaths {
		if filepath.Base(p) == fileName {
			return p, true
		}
	}
	return "", false
}

func downloadDiffs(diffsDir string, diffs catalog.VersionDiffs, dl Downloader, diffURL DiffURLFunc) error {
	for _, obbDiff := range diffs.ObbDiffs {
		if err := downloadDiffRetry(obbDiff, diffsDir, dl, diffURL); err != nil {
			return err
		}
	}
	return downloadDiffRetry(diffs.ApkDiff, diffsDir, dl, diffURL)
}

func downloadDiffRetry(diff catalog.Diff, diffsDir string, dl Downloader, diffURL DiffURLFunc) error {
	dest := filepath.Join(diffsDir, diff.DiffName)
	if err := dl.DownloadFile(diffURL(diff), dest); err != nil {
		return fmt.Errorf("downloading diff file %s: %w", diff.DiffName, err)
	}
	return nil
}

// applyDiff loads fromPath, verifies its CRC-32 against diff.FileCRC,
// applies the bsdiff patch named by diff.DiffName within diffsDir, and
// writes the result to toPath (which may equal fromPath).
func applyDiff(fromPath, toPath string, diff catalog.Diff, diffsDir string) error {
	diffContent, err := os.ReadFile(filepath.Join(diffsDir, diff.DiffName))
	if err != nil {
		return fmt.Errorf("reading diff file (was it downloaded?): %w", err)
	}

	patch, err := bspatch.New(diffContent)
	if err != nil {
		return fmt.Errorf("diff file was invalid: %w", err)
	}

	fileContent, err := os.ReadFile(fromPath)
	if err != nil {
		return fmt.Errorf("reading original file from disk: %w", err)
	}

	beforeCRC := crc32.ChecksumIEEE(fileContent)
	if beforeCRC != diff.FileCRC {
		return fmt.Errorf("%w (got %d, expected %d)", ErrCorruptSource, beforeCRC, diff.FileCRC)
	}

	outFile, err := os.OpenFile(toPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer outFile.Close()

	return patch.Apply(fileContent, outFile)
}
