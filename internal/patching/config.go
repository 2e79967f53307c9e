package patching

import (
	"crypto/rsa"
	"crypto/x509"

	"github.com/sirupsen/logrus"

	"github.com/sidequest/modkit/internal/catalog"
	"github.com/sidequest/modkit/internal/downgrade"
	"github.com/sidequest/modkit/internal/manifest"
)

// splashAssetPath is the conventional in-APK destination for an optional VR
// splash screen image, following Android's asset-folder convention; the
// source only ever names the concept ("vr_splash.png") without pinning an
// in-APK path, so this is a documented decision -- see DESIGN.md.
const splashAssetPath = "assets/vr_splash.png"

const (
	libMainPath  = "lib/arm64-v8a/libmain.so"
	libUnityPath = "lib/arm64-v8a/libunity.so"
	manifestPath = "AndroidManifest.xml"
	sentinelName = "ModsBeforeFriday.modded"

	modloaderFileName = "libsl2.so"
)

// DowngradeRequest bundles everything ApplyDiffSequence needs to walk the
// scratch APK (and its OBBs) back to an earlier version before the rest of
// the pipeline patches it.
type DowngradeRequest struct {
	Index       catalog.DiffIndex
	FromVersion string
	ToVersion   string
	ObbPaths    []string
	Downloader  downgrade.Downloader
	DiffURL     downgrade.DiffURLFunc
}

// Config bundles one patching run's inputs, grounded on mod_current_apk and
// patch_apk_in_place's parameters.
type Config struct {
	PackageID  string
	ApkPath    string
	ObbDir     string
	ScratchDir string

	ManifestMod *manifest.ManifestMod
	ResourceIDs *manifest.ResourceIDTable

	Downgrade *DowngradeRequest

	ModLoaderPayload []byte
	UnityLibrary     []byte // nil if no unstripped Unity build exists for this version
	SplashImage      []byte // nil if the caller supplied no splash image

	// ModloaderDir overrides the directory the modloader payload is copied
	// into (step 12). Defaults to /sdcard/ModData/<PackageID>/Modloader
	// when empty; overridable so tests don't touch real device paths.
	ModloaderDir string

	SignKey  *rsa.PrivateKey
	SignCert *x509.Certificate

	// Repatch skips modloader injection and core-mod install, matching an
	// idempotent re-patch of an already-modded install.
	Repatch bool

	// Alignment is the STORE-entry byte alignment patchApkInPlace writes
	// with; 0 defaults to 4, Android's requirement for directly-mmap'd
	// native libraries (see internal/config.Config.StoreAlignment).
	Alignment uint16

	Installer PlatformInstaller
	Log       *logrus.Entry

	// CoreMods runs step 13 (wipe all mods, install the core-mod set for
	// the patched version) when Repatch is false. internal/modmanager owns
	// that logic; it is injected here rather than imported directly so
	// this package stays usable before/independent of a mod manager.
	CoreMods CoreModInstaller
}

// CoreModInstaller performs the end-of-patch mod-manager bookkeeping: wipe
// every existing mod, then install the core mods required by version.
type CoreModInstaller interface {
	WipeAndInstallCoreMods(packageID, version string) error
}
