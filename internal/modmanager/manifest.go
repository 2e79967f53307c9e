// Package modmanager implements loading, dependency resolution,
// install/uninstall and import dispatch for mods extracted from QMOD
// archives, grounded on
// original_source/mbf-agent-core/src/mod_man/loaded_mod.rs,
// original_source/mbf-agent/src/mod_man/{manifest,lock,util}.rs and
// original_source/mbf-agent/src/handlers/{mod_status,import,mod_management}.rs.
package modmanager

import "github.com/Masterminds/semver"

// ModInfo is a QMOD's mod.json manifest. Field names mirror the original's
// camelCase JSON schema (see original_source/mbf-agent/src/mod_man/manifest.rs).
type ModInfo struct {
	SchemaVersion string `json:"_QPVersion"`
	Name          string `json:"name"`
	ID            string `json:"id"`
	Modloader     string `json:"modloader,omitempty"`
	Author        string `json:"author"`
	Porter        string `json:"porter,omitempty"`
	Version       string `json:"version"`
	PackageID     string `json:"packageId,omitempty"`
	PackageVer    string `json:"packageVersion,omitempty"`
	Description   string `json:"description,omitempty"`
	CoverImage    string `json:"coverImage,omitempty"`
	IsLibrary     bool   `json:"isLibrary,omitempty"`

	Dependencies []Dependency `json:"dependencies"`

	ModFiles       []string        `json:"modFiles"`
	LateModFiles   []string        `json:"lateModFiles"`
	LibraryFiles   []string        `json:"libraryFiles"`
	FileCopies     []FileCopy      `json:"fileCopies"`
	CopyExtensions []CopyExtension `json:"copyExtensions"`
}

// Dependency is one required-or-optional dependency of a mod.
type Dependency struct {
	ID           string `json:"id"`
	VersionRange string `json:"version"`
	ModLink      string `json:"downloadIfMissing,omitempty"`
	Required     bool   `json:"required"`
}

// FileCopy names a file in the QMOD archive and its absolute on-device
// destination.
type FileCopy struct {
	Name        string `json:"name"`
	Destination string `json:"destination"`
}

// CopyExtension registers a file extension this mod claims for the
// "import anything else" dispatch path: files of that extension are copied
// to Destination.
type CopyExtension struct {
	Extension   string `json:"extension"`
	Destination string `json:"destination"`
}

// semverOf parses s, defaulting to 0.0.0 on a blank string (a manifest with
// no version field, matching the original's Default impl).
func semverOf(s string) (*semver.Version, error) {
	if s == "" {
		s = "0.0.0"
	}
	return semver.NewVersion(s)
}
