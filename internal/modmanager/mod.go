package modmanager

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LoadedMod is one mod extracted to disk, tracking whether its payload
// files exist at their destinations and whether it (and, transitively, its
// dependencies) are installed. Grounded on
// original_source/mbf-agent-core/src/mod_man/loaded_mod.rs's Mod.
type LoadedMod struct {
	Manifest ModInfo

	loadedFrom string
	filesExist bool
	// installed is nil until Manager.resolve has run at least once.
	installed *bool
	isCore    bool
}

func newLoadedMod(manifest ModInfo, loadedFrom string, layout Layout) (*LoadedMod, error) {
	exist, err := checkFilesExist(manifest, layout)
	if err != nil {
		return nil, fmt.Errorf("checking if mod %s is installed: %w", manifest.ID, err)
	}
	return &LoadedMod{Manifest: manifest, loadedFrom: loadedFrom, filesExist: exist}, nil
}

// FilesExist reports whether every declared payload file and file-copy
// destination is present, independent of dependency resolution.
func (m *LoadedMod) FilesExist() bool { return m.filesExist }

// Installed reports the last-resolved install status. Calling this before
// Manager.resolve has run returns false.
func (m *LoadedMod) Installed() bool {
	return m.installed != nil && *m.installed
}

// IsCore reports whether SetCore has marked this mod (or a mod that
// transitively requires it) as core.
func (m *LoadedMod) IsCore() bool { return m.isCore }

func checkFilesExist(manifest ModInfo, layout Layout) (bool, error) {
	early, err := filesExistIn(layout.EarlyModsDir, manifest.ModFiles)
	if err != nil {
		return false, err
	}
	late, err := filesExistIn(layout.LateModsDir, manifest.LateModFiles)
	if err != nil {
		return false, err
	}
	libs, err := filesExistIn(layout.LibsDir, manifest.LibraryFiles)
	if err != nil {
		return false, err
	}
	if !early || !late || !libs {
		return false, nil
	}
	for _, copy := range manifest.FileCopies {
		if _, err := os.Stat(copy.Destination); err != nil {
			return false, nil
		}
	}
	return true, nil
}

// filesExistIn checks, for each name in files, that a same-named file
// exists directly under dir (only the base name of each declared path is
// used, matching files_exist_in_dir).
func filesExistIn(dir string, files []string) (bool, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("creating %s: %w", dir, err)
	}
	for _, f := range files {
		if _, err := os.Stat(filepath.Join(dir, filepath.Base(f))); err != nil {
			return false, nil
		}
	}
	return true, nil
}

// installUnchecked copies every payload file and file-copy to its
// destination and marks the mod installed. Does not touch dependencies.
func (m *LoadedMod) installUnchecked(layout Layout) error {
	if err := copyNamedFiles(m.loadedFrom, m.Manifest.ModFiles, layout.EarlyModsDir); err != nil {
		return err
	}
	if err := copyNamedFiles(m.loadedFrom, m.Manifest.LibraryFiles, layout.LibsDir); err != nil {
		return err
	}
	if err := copyNamedFiles(m.loadedFrom, m.Manifest.LateModFiles, layout.LateModsDir); err != nil {
		return err
	}
	if err := m.copyFileCopies(); err != nil {
		return fmt.Errorf("copying auxiliary files: %w", err)
	}

	installed := true
	m.installed = &installed
	m.filesExist = true
	return nil
}

// uninstallUnchecked deletes every payload file not named in retainedLibs
// (still in use by another installed mod) and every file-copy destination,
// then marks the mod uninstalled. Does not touch dependents.
func (m *LoadedMod) uninstallUnchecked(layout Layout, retainedLibs map[string]bool) error {
	if err := removeNamedFiles(m.Manifest.ModFiles, layout.EarlyModsDir, nil); err != nil {
		return err
	}
	if err := removeNamedFiles(m.Manifest.LateModFiles, layout.LateModsDir, nil); err != nil {
		return err
	}
	if err := removeNamedFiles(m.Manifest.LibraryFiles, layout.LibsDir, retainedLibs); err != nil {
		return err
	}

	for _, copy := range m.Manifest.FileCopies {
		if _, err := os.Stat(copy.Destination); err == nil {
			if err := os.Remove(copy.Destination); err != nil {
				return fmt.Errorf("deleting copied file: %w", err)
			}
		}
	}

	installed := false
	m.installed = &installed
	m.filesExist = false
	return nil
}

func (m *LoadedMod) copyFileCopies() error {
	for _, copy := range m.Manifest.FileCopies {
		src := filepath.Join(m.loadedFrom, copy.Name)
		if _, err := os.Stat(src); err != nil {
			continue // not present in the archive; skip with a warning at the caller's discretion
		}

		if dir := filepath.Dir(copy.Destination); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("creating destination directory for file copy: %w", err)
			}
		}
		if _, err := os.Stat(copy.Destination); err == nil {
			if err := os.Remove(copy.Destination); err != nil {
				return fmt.Errorf("removing existing copied file: %w", err)
			}
		}
		if err := copyFile(src, copy.Destination); err != nil {
			return fmt.Errorf("copying file copy to destination: %w", err)
		}
	}
	return nil
}

func copyNamedFiles(fromDir string, files []string, toDir string) error {
	if err := os.MkdirAll(toDir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", toDir, err)
	}
	for _, f := range files {
		src := filepath.Join(fromDir, f)
		if _, err := os.Stat(src); err != nil {
			continue // not found in the mod folder; skip, matching the original's warn-and-continue
		}

		dst := filepath.Join(toDir, filepath.Base(f))
		if _, err := os.Stat(dst); err == nil {
			if err := os.Remove(dst); err != nil {
				return fmt.Errorf("removing existing mod file: %w", err)
			}
		}
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("copying mod file: %w", err)
		}
	}
	return nil
}

// removeNamedFiles deletes, from dir, the base-named file of every entry in
// files, skipping any name present in skip (retained libraries).
func removeNamedFiles(files []string, dir string, skip map[string]bool) error {
	for _, f := range files {
		name := filepath.Base(f)
		if skip != nil && skip[name] {
			continue
		}
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			if err := os.Remove(path); err != nil {
				return err
			}
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
