package modmanager

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/Masterminds/semver"
	"github.com/sirupsen/logrus"

	"github.com/sidequest/modkit/internal/apkzip"
	"github.com/sidequest/modkit/internal/lockfile"
)

// Manager owns every loaded mod for one game installation: load, resolve,
// install/uninstall (checked and unchecked), core marking and enable/disable
// batches.
type Manager struct {
	layout Layout
	mods   map[string]*LoadedMod
	log    *logrus.Entry
}

// NewManager returns an empty Manager rooted at layout.
func NewManager(layout Layout, log *logrus.Entry) *Manager {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Manager{layout: layout, mods: make(map[string]*LoadedMod), log: log}
}

// Mods returns every loaded mod, ordered by id for deterministic output.
func (m *Manager) Mods() []*LoadedMod {
	ids := make([]string, 0, len(m.mods))
	for id := range m.mods {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]*LoadedMod, len(ids))
	for i, id := range ids {
		out[i] = m.mods[id]
	}
	return out
}

// Get returns the loaded mod with id, if any.
func (m *Manager) Get(id string) (*LoadedMod, bool) {
	mod, ok := m.mods[id]
	return mod, ok
}

// withLock runs fn holding the layout's advisory lock: shared for a
// read-only traversal, exclusive for a mutation. A blank LockPath
// disables locking entirely.
func (m *Manager) withLock(exclusive bool, fn func() error) error {
	if m.layout.LockPath == "" {
		return fn()
	}

	acquire := lockfile.Shared
	if exclusive {
		acquire = lockfile.Exclusive
	}
	l, err := acquire(m.layout.LockPath)
	if err != nil {
		return fmt.Errorf("modmanager: acquiring lock: %w", err)
	}
	defer l.Unlock()

	return fn()
}

// LoadMods scans layout.ModsDir: each directory entry is already extracted;
// each file entry is a QMOD archive extracted into a subdirectory named for
// its manifest's id. When two entries share an id, the one with the higher
// semantic version wins; on a tie the one loaded later (directory-listing
// order) wins and a diagnostic is logged. After loading, dependency
// resolution runs once (see resolve).
func (m *Manager) LoadMods() error {
	return m.withLock(true, func() error {
		return m.loadMods()
	})
}

// loadMods is LoadMods' body, split out so callers that already hold the
// layout lock (WipeAndInstallCoreMods) can reload without reentering flock.
func (m *Manager) loadMods() error {
	if err := os.MkdirAll(m.layout.ModsDir, 0o755); err != nil {
		return fmt.Errorf("modmanager: creating mods directory: %w", err)
	}

	entries, err := os.ReadDir(m.layout.ModsDir)
	if err != nil {
		return fmt.Errorf("modmanager: reading mods directory: %w", err)
	}

	for _, entry := range entries {
		path := filepath.Join(m.layout.ModsDir, entry.Name())

		var (
			info       ModInfo
			extractDir string
		)
		if entry.IsDir() {
			data, err := os.ReadFile(filepath.Join(path, "mod.json"))
			if err != nil {
				m.log.WithError(err).Warnf("skipping %s: no mod.json", path)
				continue
			}
			if err := json.Unmarshal(data, &info); err != nil {
				m.log.WithError(err).Warnf("skipping %s: invalid mod.json", path)
				continue
			}
			extractDir = path
		} else {
			extracted, parsed, err := m.extractArchive(path)
			if err != nil {
				m.log.WithError(err).Warnf("skipping %s: failed to load as QMOD", path)
				continue
			}
			extractDir, info = extracted, parsed
		}

		if err := m.addOrReplace(info, extractDir); err != nil {
			return err
		}
	}

	return m.resolve()
}

// addOrReplace inserts a newly loaded mod, resolving an id collision by
// semver (higher wins, tie goes to the later load).
func (m *Manager) addOrReplace(info ModInfo, loadedFrom string) error {
	mod, err := newLoadedMod(info, loadedFrom, m.layout)
	if err != nil {
		return err
	}

	existing, ok := m.mods[info.ID]
	if !ok {
		m.mods[info.ID] = mod
		return nil
	}

	newVer, errNew := semverOf(info.Version)
	oldVer, errOld := semverOf(existing.Manifest.Version)
	if errNew == nil && errOld == nil && oldVer.Compare(newVer) > 0 {
		m.log.Infof("keeping %s version %s over newly loaded %s", info.ID, existing.Manifest.Version, info.Version)
		return nil
	}
	m.log.Infof("mod %s: replacing version %s with %s", info.ID, existing.Manifest.Version, info.Version)
	m.mods[info.ID] = mod
	return nil
}

// extractArchive reads path as a QMOD ZIP archive, extracts every entry
// into layout.ModsDir/<id>, and returns that directory and the parsed
// manifest.
func (m *Manager) extractArchive(path string) (string, ModInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", ModInfo{}, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return "", ModInfo{}, err
	}

	rdr, err := apkzip.OpenReader(f, stat.Size())
	if err != nil {
		return "", ModInfo{}, fmt.Errorf("%w: %v", ErrNoManifest, err)
	}

	manifestBytes, err := readEntry(rdr, "mod.json")
	if err != nil {
		return "", ModInfo{}, ErrNoManifest
	}

	var info ModInfo
	if err := json.Unmarshal(manifestBytes, &info); err != nil {
		return "", ModInfo{}, fmt.Errorf("modmanager: invalid mod.json: %w", err)
	}

	extractDir := filepath.Join(m.layout.ModsDir, info.ID)
	if err := os.RemoveAll(extractDir); err != nil {
		return "", ModInfo{}, err
	}
	if err := os.MkdirAll(extractDir, 0o755); err != nil {
		return "", ModInfo{}, err
	}

	for _, e := range rdr.Entries() {
		dest := filepath.Join(extractDir, e.Name)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return "", ModInfo{}, err
		}
		content, err := readEntry(rdr, e.Name)
		if err != nil {
			return "", ModInfo{}, fmt.Errorf("extracting %s: %w", e.Name, err)
		}
		if err := os.WriteFile(dest, content, 0o644); err != nil {
			return "", ModInfo{}, err
		}
	}

	return extractDir, info, nil
}

func readEntry(rdr *apkzip.Reader, name string) ([]byte, error) {
	rc, err := rdr.Open(name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// resolve computes the dependency-install fixed point:
// installed[m] = files_exist[m] AND every required dependency is installed.
// Implemented as a bottom-up (increasing) iteration from all-false so that
// a cycle of mutually-dependent mods can never bootstrap itself to
// installed=true -- it converges to not-installed instead.
func (m *Manager) resolve() error {
	for _, mod := range m.mods {
		installed := false
		mod.installed = &installed
	}

	for {
		changed := false
		for _, mod := range m.mods {
			if mod.Installed() {
				continue
			}
			if !mod.filesExist {
				continue
			}
			if m.requiredDepsInstalled(mod) {
				installed := true
				mod.installed = &installed
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return nil
}

func (m *Manager) requiredDepsInstalled(mod *LoadedMod) bool {
	for _, dep := range mod.Manifest.Dependencies {
		if !dep.Required {
			continue
		}
		dm, ok := m.resolveDependency(dep)
		if !ok || !dm.Installed() {
			return false
		}
	}
	return true
}

// resolveDependency finds the loaded mod satisfying dep's id and version
// range, if any.
func (m *Manager) resolveDependency(dep Dependency) (*LoadedMod, bool) {
	candidate, ok := m.mods[dep.ID]
	if !ok {
		return nil, false
	}
	if dep.VersionRange == "" {
		return candidate, true
	}
	constraint, err := semver.NewConstraint(dep.VersionRange)
	if err != nil {
		return nil, false
	}
	ver, err := semverOf(candidate.Manifest.Version)
	if err != nil {
		return nil, false
	}
	if !constraint.Check(ver) {
		return nil, false
	}
	return candidate, true
}

// SetCore marks every mod in coreIDs as core, and propagates the mark to
// every transitively required dependency.
func (m *Manager) SetCore(coreIDs []string) {
	var mark func(id string)
	mark = func(id string) {
		mod, ok := m.mods[id]
		if !ok || mod.isCore {
			return
		}
		mod.isCore = true
		for _, dep := range mod.Manifest.Dependencies {
			if dep.Required {
				mark(dep.ID)
			}
		}
	}
	for _, id := range coreIDs {
		mark(id)
	}
}

// InstallUnchecked installs a single mod's files without touching its
// dependencies.
func (m *Manager) InstallUnchecked(id string) error {
	return m.withLock(true, func() error {
		mod, ok := m.mods[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrModNotFound, id)
		}
		return mod.installUnchecked(m.layout)
	})
}

// UninstallUnchecked removes a single mod's files, retaining any library
// file still used by another currently-installed mod.
func (m *Manager) UninstallUnchecked(id string) error {
	return m.withLock(true, func() error {
		mod, ok := m.mods[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrModNotFound, id)
		}
		return mod.uninstallUnchecked(m.layout, m.retainedLibs(id))
	})
}

// retainedLibs collects the library file names every OTHER installed mod
// still needs, so UninstallUnchecked doesn't delete a shared library.
func (m *Manager) retainedLibs(excludeID string) map[string]bool {
	retained := make(map[string]bool)
	for id, mod := range m.mods {
		if id == excludeID || !mod.Installed() {
			continue
		}
		for _, lib := range mod.Manifest.LibraryFiles {
			retained[filepath.Base(lib)] = true
		}
	}
	return retained
}

// InstallChecked installs id and, depth-first, every not-yet-installed
// required dependency: a loaded mod satisfying the version range is
// installed first; failing that, a mod_link is downloaded and loaded; else
// ErrUnresolvedDependency. Holds the layout's exclusive lock for the whole
// (possibly recursive) operation.
func (m *Manager) InstallChecked(id string, downloader Downloader) error {
	return m.withLock(true, func() error {
		return m.installChecked(id, downloader)
	})
}

func (m *Manager) installChecked(id string, downloader Downloader) error {
	mod, ok := m.mods[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrModNotFound, id)
	}

	for _, dep := range mod.Manifest.Dependencies {
		if !dep.Required {
			continue
		}
		dm, ok := m.resolveDependency(dep)
		if ok && dm.Installed() {
			continue
		}
		if ok {
			if err := m.installChecked(dm.Manifest.ID, downloader); err != nil {
				return err
			}
			continue
		}
		if dep.ModLink == "" || downloader == nil {
			return fmt.Errorf("%w: %s requires %s", ErrUnresolvedDependency, id, dep.ID)
		}
		if err := m.downloadAndLoadDependency(dep, downloader); err != nil {
			return fmt.Errorf("%w: downloading %s: %v", ErrUnresolvedDependency, dep.ID, err)
		}
		if err := m.installChecked(dep.ID, downloader); err != nil {
			return err
		}
	}

	if err := mod.installUnchecked(m.layout); err != nil {
		return err
	}
	return m.resolve()
}

// Downloader fetches a dependency's mod_link to a local file path, so
// InstallChecked can load it. Implementations typically wrap
// internal/catalog.Client.
type Downloader interface {
	DownloadFile(url, destPath string) error
}

func (m *Manager) downloadAndLoadDependency(dep Dependency, downloader Downloader) error {
	dest := filepath.Join(m.layout.ModsDir, dep.ID+".qmod")
	if err := downloader.DownloadFile(dep.ModLink, dest); err != nil {
		return err
	}
	extractDir, info, err := m.extractArchive(dest)
	if err != nil {
		return err
	}
	if err := os.Remove(dest); err != nil {
		return err
	}
	return m.addOrReplace(info, extractDir)
}

// UninstallChecked uninstalls every installed mod that (transitively,
// required-only) depends on id, in reverse dependency order, then id
// itself.
func (m *Manager) UninstallChecked(id string) error {
	return m.withLock(true, func() error {
		if _, ok := m.mods[id]; !ok {
			return fmt.Errorf("%w: %s", ErrModNotFound, id)
		}

		order := m.dependentsOf(id)
		order = append(order, id)

		for _, depID := range order {
			mod := m.mods[depID]
			if !mod.Installed() {
				continue
			}
			if err := mod.uninstallUnchecked(m.layout, m.retainedLibs(depID)); err != nil {
				return err
			}
		}
		return m.resolve()
	})
}

// dependentsOf returns every mod that transitively requires id, ordered so
// the furthest-removed dependent comes first (safe removal order).
func (m *Manager) dependentsOf(id string) []string {
	visited := make(map[string]bool)
	var order []string

	var visit func(string)
	visit = func(target string) {
		for depID, mod := range m.mods {
			if visited[depID] {
				continue
			}
			for _, dep := range mod.Manifest.Dependencies {
				if dep.Required && dep.ID == target {
					visited[depID] = true
					visit(depID)
					order = append(order, depID)
					break
				}
			}
		}
	}
	visit(id)
	return order
}

// SetEnabled installs or uninstalls mods to match statuses, accumulating
// (rather than aborting on) per-id failures.
func (m *Manager) SetEnabled(statuses map[string]bool, downloader Downloader) map[string]error {
	failures := make(map[string]error)
	for id, want := range statuses {
		mod, ok := m.mods[id]
		if !ok {
			failures[id] = fmt.Errorf("%w: %s", ErrModNotFound, id)
			continue
		}
		already := mod.Installed()
		if want && !already {
			if err := m.InstallChecked(id, downloader); err != nil {
				failures[id] = err
			}
		} else if !want && already {
			if err := m.UninstallChecked(id); err != nil {
				failures[id] = err
			}
		}
	}
	return failures
}

// WipeAllMods uninstalls and deletes every loaded mod's extracted
// directory.
func (m *Manager) WipeAllMods() error {
	return m.withLock(true, func() error {
		for id, mod := range m.mods {
			if mod.Installed() {
				if err := mod.uninstallUnchecked(m.layout, nil); err != nil {
					return fmt.Errorf("wiping %s: %w", id, err)
				}
			}
			if err := os.RemoveAll(mod.loadedFrom); err != nil {
				return fmt.Errorf("deleting %s: %w", id, err)
			}
		}
		m.mods = make(map[string]*LoadedMod)
		return nil
	})
}
