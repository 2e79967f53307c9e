package modmanager

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/sidequest/modkit/internal/apkzip"
)

// ImportResult is the outcome of dispatching one file to Import; exactly
// one field is non-nil.
type ImportResult struct {
	Mod      *ImportedMod
	Song     *ImportedSong
	FileCopy *ImportedFileCopy
	NonQuest bool // a .dll: not usable on this platform
}

// ImportedMod reports a freshly loaded QMOD.
type ImportedMod struct {
	ID string
}

// ImportedSong reports a song extracted from a .zip import.
type ImportedSong struct {
	ExtractedTo string
}

// ImportedFileCopy reports a file copied via a loaded mod's copyExtensions.
type ImportedFileCopy struct {
	CopiedTo string
	ModID    string
}

// Import dispatches path (a file already saved to local storage, named
// originalName) by its extension: .qmod loads it as a new mod, .zip is
// checked for a song (info.dat/Info.dat) and extracted
// into CustomLevelsDir, .dll is rejected as a non-Quest mod, and anything
// else is matched case-insensitively against every loaded mod's
// copyExtensions, first match wins. Grounded on
// original_source/mbf-agent/src/handlers/import.rs.
func (m *Manager) Import(path, originalName string) (*ImportResult, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(originalName), "."))

	var result *ImportResult
	err := m.withLock(true, func() error {
		var err error
		switch ext {
		case "qmod":
			result, err = m.importQmod(path)
		case "zip":
			result, err = m.importSongZip(path, originalName)
		case "dll":
			result = &ImportResult{NonQuest: true}
		default:
			result, err = m.importFileCopy(path, ext)
		}
		return err
	})
	return result, err
}

func (m *Manager) importQmod(path string) (*ImportResult, error) {
	extractDir, info, err := m.extractArchive(path)
	if err != nil {
		return nil, err
	}
	if err := m.addOrReplace(info, extractDir); err != nil {
		return nil, err
	}
	if err := m.resolve(); err != nil {
		return nil, err
	}
	return &ImportResult{Mod: &ImportedMod{ID: info.ID}}, nil
}

func (m *Manager) importSongZip(path, originalName string) (*ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	rdr, err := apkzip.OpenReader(f, stat.Size())
	if err != nil {
		return nil, ErrNotASong
	}

	_, hasLower := rdr.Entry("info.dat")
	_, hasUpper := rdr.Entry("Info.dat")
	if !hasLower && !hasUpper {
		return nil, ErrNotASong
	}

	stem := strings.TrimSuffix(filepath.Base(originalName), filepath.Ext(originalName))
	dest := filepath.Join(m.layout.CustomLevelsDir, stem)

	if err := os.RemoveAll(dest); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return nil, err
	}

	for _, e := range rdr.Entries() {
		target := filepath.Join(dest, e.Name)
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return nil, err
		}
		content, err := readEntry(rdr, e.Name)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(target, content, 0o644); err != nil {
			return nil, err
		}
	}

	return &ImportResult{Song: &ImportedSong{ExtractedTo: dest}}, nil
}

// importFileCopy matches ext against every loaded mod's copyExtensions,
// case-insensitively. When more than one mod claims the same extension, the
// first encountered wins; the rest are logged as a diagnostic rather than
// refusing the import.
func (m *Manager) importFileCopy(path, ext string) (*ImportResult, error) {
	var winner *CopyExtension
	var winnerMod string

	for _, mod := range m.Mods() {
		for _, ce := range mod.Manifest.CopyExtensions {
			if !strings.EqualFold(strings.TrimPrefix(ce.Extension, "."), ext) {
				continue
			}
			if winner == nil {
				w := ce
				winner, winnerMod = &w, mod.Manifest.ID
				continue
			}
			m.log.Warnf("mod %s also claims extension %q, ignoring in favor of %s", mod.Manifest.ID, ext, winnerMod)
		}
	}

	if winner == nil {
		return nil, ErrNoCopyExtension
	}
	if err := copyFile(path, winner.Destination); err != nil {
		return nil, err
	}
	return &ImportResult{FileCopy: &ImportedFileCopy{
		CopiedTo: winner.Destination,
		ModID:    winnerMod,
	}}, nil
}
