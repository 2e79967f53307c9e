package modmanager

import (
	"fmt"
	"path/filepath"

	"github.com/sidequest/modkit/internal/catalog"
)

// CoreModSource fetches the per-version core-mod index, grounded on
// mbf-res-man's published core_mods.json and its Go client,
// internal/catalog.Client.FetchCoreMods.
type CoreModSource interface {
	FetchCoreMods(url string) (catalog.CoreModIndex, error)
}

// WipeAndInstallCoreMods implements internal/patching.CoreModInstaller: wipe
// every existing mod, fetch the core-mod set for version, download each
// entry's QMOD into the layout's mods directory, then load and install them
// all. Grounded on handlers.rs's install_core_mods, called after
// wipe_all_mods in mod_current_apk's last step.
func (m *Manager) WipeAndInstallCoreMods(source CoreModSource, indexURL string, downloader Downloader, version string) error {
	return m.withLock(true, func() error {
		for id, mod := range m.mods {
			if mod.Installed() {
				if err := mod.uninstallUnchecked(m.layout, nil); err != nil {
					return fmt.Errorf("wiping %s: %w", id, err)
				}
			}
		}

		index, err := source.FetchCoreMods(indexURL)
		if err != nil {
			return fmt.Errorf("fetching core mod index: %w", err)
		}
		versioned, ok := index[version]
		if !ok {
			return fmt.Errorf("%w: no core mods for %s", ErrNoCoreModsForVersion, version)
		}

		for _, core := range versioned.Mods {
			dest := filepath.Join(m.layout.ModsDir, fmt.Sprintf("%s-v%s-CORE.qmod", core.ID, core.Version))
			if err := downloader.DownloadFile(core.DownloadURL, dest); err != nil {
				return fmt.Errorf("downloading core mod %s: %w", core.ID, err)
			}
		}

		if err := m.loadMods(); err != nil {
			return fmt.Errorf("loading core mods: %w", err)
		}

		var ids []string
		for _, core := range versioned.Mods {
			ids = append(ids, core.ID)
		}
		m.SetCore(ids)

		for _, core := range versioned.Mods {
			if err := m.installChecked(core.ID, downloader); err != nil {
				return fmt.Errorf("installing core mod %s: %w", core.ID, err)
			}
		}
		return nil
	})
}
