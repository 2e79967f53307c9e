package modmanager

// Layout is the set of on-disk directories the mod manager reads from and
// writes to, overridable per instance (the original hardcodes these under
// /sdcard; tests point them at a temp directory instead).
type Layout struct {
	// ModsDir holds one entry per loaded mod: either a directory (already
	// extracted) or an archive extracted into a subdirectory named for the
	// manifest's id.
	ModsDir string

	// EarlyModsDir, LateModsDir and LibsDir are the modloader's payload
	// folders a mod's files get copied into/out of.
	EarlyModsDir string
	LateModsDir  string
	LibsDir      string

	// CustomLevelsDir is where imported songs are extracted.
	CustomLevelsDir string

	// LockPath is the advisory-lock file guarding ModsDir mutations.
	// Empty disables locking, for callers (such as tests) that don't need
	// cross-process coordination.
	LockPath string
}

// DefaultLayout returns the well-known on-device paths for packageID,
// mirroring mod_man/mod.rs's QMODS_DIR/EARLY_MODS_DIR/LATE_MODS_DIR/LIBS_DIR
// constants.
func DefaultLayout(packageID string) Layout {
	base := "/sdcard/ModData/" + packageID + "/Modloader/"
	return Layout{
		ModsDir:         "/sdcard/ModsBeforeFriday/Mods",
		EarlyModsDir:    base + "mods",
		LateModsDir:     base + "early_mods",
		LibsDir:         base + "libs",
		CustomLevelsDir: "/sdcard/ModData/" + packageID + "/Mods/Qosmetics/CustomLevels",
		LockPath:        "/sdcard/ModsBeforeFriday/mods.lock",
	}
}
