package patching

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/sidequest/modkit/internal/apkzip"
	"github.com/sidequest/modkit/internal/axml"
	"github.com/sidequest/modkit/internal/downgrade"
)

// Result reports the outcome of a patching run.
type Result struct {
	// FinalVersion is cfg.Downgrade.ToVersion when a downgrade ran,
	// otherwise empty; the APK's own version is not read.
	FinalVersion string
	// ObbPaths are the (possibly renamed, if downgraded) OBB files restored
	// to cfg.ObbDir.
	ObbPaths []string
}

// Run executes the 13-step patching pipeline against cfg, in order. The
// scratch directory is removed on every exit path.
func Run(ctx context.Context, cfg Config) (*Result, error) {
	log := cfg.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	// Step 1: create a scratch directory.
	if err := os.MkdirAll(cfg.ScratchDir, 0o755); err != nil {
		return nil, stepErr("create scratch directory", err)
	}
	defer func() {
		if err := os.RemoveAll(cfg.ScratchDir); err != nil {
			log.WithError(err).Warn("failed to clean up scratch directory")
		}
	}()

	scratchApk := filepath.Join(cfg.ScratchDir, "mbf-tmp.apk")

	// Step 2: copy APK to scratch.
	if err := copyFile(cfg.ApkPath, scratchApk); err != nil {
		return nil, stepErr("copy apk to scratch", err)
	}

	obbPaths, err := currentObbPaths(cfg.ObbDir)
	if err != nil {
		return nil, stepErr("enumerate obb files", err)
	}

	finalVersion := ""

	// Step 3: downgrade, if requested.
	if cfg.Downgrade != nil {
		log.Info("downgrading scratch APK before patching")
		obbPaths, err = downgrade.GetAndApplyDiffSequence(
			cfg.Downgrade.Index, cfg.Downgrade.FromVersion, cfg.Downgrade.ToVersion,
			cfg.ScratchDir, scratchApk, obbPaths,
			cfg.Downgrade.Downloader, cfg.Downgrade.DiffURL, log)
		if err != nil {
			return nil, stepErr("downgrade apk", err)
		}
		finalVersion = cfg.Downgrade.ToVersion
	}

	if err := patchApkInPlace(scratchApk, cfg); err != nil {
		return nil, err // already a *StepError
	}

	// Step 10 (reinstall): close already happened inside patchApkInPlace;
	// uninstall the vanilla/previous build, then install the patched one.
	if err := cfg.Installer.UninstallAPK(ctx, cfg.PackageID); err != nil {
		return nil, stepErr("uninstall previous apk", err)
	}
	if err := cfg.Installer.InstallAPK(ctx, scratchApk); err != nil {
		return nil, stepErr("install patched apk", err)
	}
	if err := cfg.Installer.GrantExternalStorage(ctx, cfg.PackageID); err != nil {
		return nil, stepErr("grant external storage permission", err)
	}

	// Step 11: restore OBBs into place. The mount points under which the
	// scratch directory and the OBB directory live can differ, so this is
	// a copy, not a rename.
	if err := restoreObbs(cfg.ScratchDir, cfg.ObbDir, obbPaths); err != nil {
		return nil, stepErr("restore obb files", err)
	}
	restoredObbPaths := make([]string, len(obbPaths))
	for i, p := range obbPaths {
		restoredObbPaths[i] = filepath.Join(cfg.ObbDir, filepath.Base(p))
	}

	if !cfg.Repatch {
		// Step 12: install the bundled modloader payload.
		if err := installModloader(cfg.PackageID, cfg.ModloaderDir, cfg.ModLoaderPayload); err != nil {
			return nil, stepErr("install modloader", err)
		}

		// Step 13: wipe mods and install core mods for the patched version.
		if cfg.CoreMods != nil {
			if err := cfg.CoreMods.WipeAndInstallCoreMods(cfg.PackageID, finalVersion); err != nil {
				return nil, stepErr("install core mods", err)
			}
		}
	}

	return &Result{FinalVersion: finalVersion, ObbPaths: restoredObbPaths}, nil
}

// patchApkInPlace runs steps 4-10 (everything between "open the scratch
// copy" and "hand it to the platform installer") against path, translating
// patch_apk_in_place.
func patchApkInPlace(path string, cfg Config) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return stepErr("open scratch apk", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return stepErr("stat scratch apk", err)
	}

	// Step 4: open the scratch APK for read/write.
	rdr, err := apkzip.OpenReader(f, info.Size())
	if err != nil {
		return stepErr("open scratch apk", err)
	}
	alignment := cfg.Alignment
	if alignment == 0 {
		alignment = 4
	}
	w := apkzip.OpenWriter(f, rdr, alignment)

	// Step 5: patch the manifest.
	if err := patchManifest(rdr, w, cfg); err != nil {
		return stepErr("patch manifest", err)
	}

	// Step 6: replace libmain.so with the embedded modloader loader.
	w.DeleteFile(libMainPath)
	if err := w.WriteFile(libMainPath, bytes.NewReader(cfg.ModLoaderPayload), apkzip.MethodDeflate); err != nil {
		return stepErr("write libmain.so", err)
	}

	// Step 7: zero-byte modded sentinel.
	if err := w.WriteFile(sentinelName, bytes.NewReader(nil), apkzip.MethodStore); err != nil {
		return stepErr("write sentinel", err)
	}

	// Step 8: unstripped Unity library, if one exists for this version.
	if cfg.UnityLibrary != nil {
		if err := w.WriteFile(libUnityPath, bytes.NewReader(cfg.UnityLibrary), apkzip.MethodDeflate); err != nil {
			return stepErr("write libunity.so", err)
		}
	}

	// Step 9: splash image, at its conventional asset path.
	if cfg.SplashImage != nil {
		if err := w.WriteFile(splashAssetPath, bytes.NewReader(cfg.SplashImage), apkzip.MethodDeflate); err != nil {
			return stepErr("write splash image", err)
		}
	}

	// Step 10 (first half): re-sign with the v2 scheme.
	if err := w.SaveAndSignV2(cfg.SignKey, cfg.SignCert); err != nil {
		return stepErr("sign apk", err)
	}
	return nil
}

func patchManifest(rdr *apkzip.Reader, w *apkzip.Writer, cfg Config) error {
	manifestBytes, err := readZipEntry(rdr, manifestPath)
	if err != nil {
		return fmt.Errorf("apk had no manifest: %w", err)
	}

	axmlReader, err := axml.NewReader(bytes.NewReader(manifestBytes))
	if err != nil {
		return fmt.Errorf("decoding axml manifest: %w", err)
	}

	var events []axml.Event
	for {
		ev, err := axmlReader.Next()
		if err != nil {
			return fmt.Errorf("reading axml manifest: %w", err)
		}
		if ev == nil {
			break
		}
		events = append(events, *ev)
	}

	mutated, _, err := cfg.ManifestMod.Apply(events, cfg.ResourceIDs)
	if err != nil {
		return fmt.Errorf("applying manifest mod: %w", err)
	}

	axmlWriter := axml.NewWriter()
	for _, ev := range mutated {
		axmlWriter.WriteEvent(ev)
	}
	encoded, err := axmlWriter.Finish()
	if err != nil {
		return fmt.Errorf("encoding axml manifest: %w", err)
	}

	w.DeleteFile(manifestPath)
	return w.WriteFile(manifestPath, bytes.NewReader(encoded), apkzip.MethodDeflate)
}

func readZipEntry(rdr *apkzip.Reader, name string) ([]byte, error) {
	rc, err := rdr.Open(name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
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

// currentObbPaths lists the OBB files in dir, mirroring save_obb's directory
// scan (filtered to the .obb extension).
func currentObbPaths(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".obb" {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	return paths, nil
}

// restoreObbs copies every scratch-resident OBB back into obbDir. A copy,
// not a rename, since the scratch directory and the OBB directory can sit
// on different mount points on-device.
func restoreObbs(scratchDir, obbDir string, obbPaths []string) error {
	if len(obbPaths) == 0 {
		return nil
	}
	if err := os.MkdirAll(obbDir, 0o755); err != nil {
		return err
	}
	for _, src := range obbPaths {
		dst := filepath.Join(obbDir, filepath.Base(src))
		if err := copyFile(src, dst); err != nil {
			return err
		}
	}
	return nil
}

// installModloader writes payload to the well-known external-storage
// directory the on-device modloader shim looks for.
func installModloader(packageID, overrideDir string, payload []byte) error {
	dir := overrideDir
	if dir == "" {
		dir = filepath.Join("/sdcard/ModData", packageID, "Modloader")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, modloaderFileName), payload, 0o644)
}
