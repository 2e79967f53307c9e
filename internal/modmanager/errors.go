package modmanager

import "errors"

var (
	// ErrModNotFound is returned when an operation names an id with no
	// loaded mod.
	ErrModNotFound = errors.New("modmanager: mod not found")

	// ErrUnresolvedDependency is returned by a checked install when a
	// required dependency cannot be satisfied: no loaded mod meeting the
	// version range, and no mod_link to download one.
	ErrUnresolvedDependency = errors.New("modmanager: unresolved dependency")

	// ErrNoManifest is returned when an archive contains no mod.json.
	ErrNoManifest = errors.New("modmanager: archive had no mod.json manifest")

	// ErrNotAQuestMod is returned for a .dll import (a PC mod file).
	ErrNotAQuestMod = errors.New("modmanager: file is a non-Quest (PC) mod")

	// ErrNoCopyExtension is returned when no loaded mod claims an
	// imported file's extension.
	ErrNoCopyExtension = errors.New("modmanager: no loaded mod claims this file extension")

	// ErrNotASong is returned when a .zip import contains neither
	// info.dat nor Info.dat.
	ErrNotASong = errors.New("modmanager: zip file is not a recognized song archive")

	// ErrNoCoreModsForVersion is returned when the fetched core-mod index
	// has no entry for the running game version.
	ErrNoCoreModsForVersion = errors.New("modmanager: no core mods published for this version")
)
