// modkit-agent is a minimal command-line entry point wiring internal/patching
// and internal/modmanager together: given an installed (or on-disk) copy of
// the target game, it runs the full patch pipeline and manages the resulting
// mod set. It intentionally does not speak the original agent's
// one-request-per-process stdin/stdout JSON protocol: that framing is a
// launcher/companion-app integration concern, out of scope here.
package main

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sidequest/modkit/internal/apkzip"
	"github.com/sidequest/modkit/internal/applog"
	"github.com/sidequest/modkit/internal/axml"
	"github.com/sidequest/modkit/internal/catalog"
	"github.com/sidequest/modkit/internal/config"
	"github.com/sidequest/modkit/internal/manifest"
	"github.com/sidequest/modkit/internal/modmanager"
	"github.com/sidequest/modkit/internal/patching"
	"github.com/sidequest/modkit/internal/signing"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	cmd, args := os.Args[1], os.Args[2:]
	var err error
	switch cmd {
	case "patch":
		err = runPatch(args)
	case "mods":
		err = runMods(args)
	default:
		usage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintln(os.Stderr, "modkit-agent:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s <patch|mods> [flags]\n", os.Args[0])
}

// runPatch wires a Config out of flags and runs the patching pipeline,
// translating mod_current_apk's top-level orchestration (patching.rs).
func runPatch(args []string) error {
	fs := flag.NewFlagSet("patch", flag.ExitOnError)
	packageID := fs.String("package", "com.beatgames.beatsaber", "Target app package id")
	apkPath := fs.String("apk", "", "Path to the APK to patch")
	obbDir := fs.String("obb-dir", "", "Directory containing the app's OBB expansion files")
	toVersion := fs.String("downgrade-to", "", "Downgrade to this version before patching; empty skips downgrading")
	diffIndexURL := fs.String("diff-index-url", "", "URL of the published version-diff index, required with -downgrade-to")
	coreModsURL := fs.String("core-mods-url", "", "URL of the published core-mod index; empty skips core mod install")
	keystorePath := fs.String("keystore", "", "PKCS12 keystore to sign with")
	keystorePass := fs.String("keystore-pass", "", "Password for -keystore")
	pemPath := fs.String("pem", "", "PEM file (cert + key) to sign with, overrides -keystore")
	repatch := fs.Bool("repatch", false, "Skip modloader install and core mod bookkeeping")
	fs.Parse(args)

	if *apkPath == "" {
		return fmt.Errorf("-apk is required")
	}

	log := applog.NewEntry("patch")
	cfg := config.Load()

	signKey, signCert, err := loadSigningKey(*pemPath, *keystorePath, *keystorePass)
	if err != nil {
		return err
	}

	client := catalog.NewClient(log)
	client.HTTP.Timeout = cfg.HTTPTimeout
	client.DLCfg = cfg.Download

	layout := modmanager.DefaultLayout(*packageID)
	mgr := modmanager.NewManager(layout, log)
	if err := mgr.LoadMods(); err != nil {
		return fmt.Errorf("loading mods: %w", err)
	}

	pc := patching.Config{
		PackageID:   *packageID,
		ApkPath:     *apkPath,
		ObbDir:      *obbDir,
		ScratchDir:  cfg.ScratchRoot + "/modkit-patch-scratch",
		ManifestMod: manifest.NewManifestMod().Debuggable(true).WithPermission("android.permission.MANAGE_EXTERNAL_STORAGE"),
		ResourceIDs: manifest.LoadResourceIDTable(),
		SignKey:     signKey,
		SignCert:    signCert,
		Repatch:     *repatch,
		Alignment:   cfg.StoreAlignment,
		Installer:   patching.NewExecInstaller(),
		Log:         log,
	}

	if *coreModsURL != "" {
		pc.CoreMods = &coreModInstaller{mgr: mgr, client: client, indexURL: *coreModsURL}
	}

	if *toVersion != "" {
		if *diffIndexURL == "" {
			return fmt.Errorf("-diff-index-url is required with -downgrade-to")
		}
		index, err := client.FetchDiffIndex(*diffIndexURL)
		if err != nil {
			return fmt.Errorf("fetching diff index: %w", err)
		}
		fromVersion, err := installedVersion(*apkPath)
		if err != nil {
			return fmt.Errorf("reading installed version: %w", err)
		}
		pc.Downgrade = &patching.DowngradeRequest{
			Index:       index,
			FromVersion: fromVersion,
			ToVersion:   *toVersion,
			Downloader:  client,
			DiffURL:     func(d catalog.Diff) string { return *diffIndexURL + "/../" + d.DiffName },
		}
	}

	res, err := patching.Run(context.Background(), pc)
	if err != nil {
		return err
	}
	log.Infof("patched to version %s, restored %d obb file(s)", res.FinalVersion, len(res.ObbPaths))
	return nil
}

// runMods drives a single LoadMods + SetEnabled batch from a flat list of
// "id=true|false" arguments, standing in for the companion app's mod toggle
// screen (mod_status.rs/mod_management.rs's set_mods_enabled handler).
func runMods(args []string) error {
	fs := flag.NewFlagSet("mods", flag.ExitOnError)
	packageID := fs.String("package", "com.beatgames.beatsaber", "Target app package id")
	modRepoURL := fs.String("mod-repo-url", "", "When non-empty, missing dependencies are downloaded from their own links; the URL itself is not fetched")
	fs.Parse(args)

	log := applog.NewEntry("mods")
	layout := modmanager.DefaultLayout(*packageID)
	mgr := modmanager.NewManager(layout, log)
	if err := mgr.LoadMods(); err != nil {
		return fmt.Errorf("loading mods: %w", err)
	}

	var downloader modmanager.Downloader
	if *modRepoURL != "" {
		downloader = catalog.NewClient(log)
	}

	statuses := make(map[string]bool)
	for _, arg := range fs.Args() {
		id, want, err := parseModToggle(arg)
		if err != nil {
			return err
		}
		statuses[id] = want
	}

	failures := mgr.SetEnabled(statuses, downloader)
	for id, err := range failures {
		log.WithError(err).Errorf("toggling %s failed", id)
	}
	if len(failures) > 0 {
		return fmt.Errorf("%d mod(s) failed to toggle", len(failures))
	}

	for _, mod := range mgr.Mods() {
		fmt.Printf("%-30s %-10s installed=%v core=%v\n", mod.Manifest.ID, mod.Manifest.Version, mod.Installed(), mod.IsCore())
	}
	return nil
}

func parseModToggle(arg string) (id string, want bool, err error) {
	for i := len(arg) - 1; i >= 0; i-- {
		if arg[i] == '=' {
			switch arg[i+1:] {
			case "true":
				return arg[:i], true, nil
			case "false":
				return arg[:i], false, nil
			}
			return "", false, fmt.Errorf("invalid mod toggle %q: want id=true or id=false", arg)
		}
	}
	return "", false, fmt.Errorf("invalid mod toggle %q: want id=true or id=false", arg)
}

// loadSigningKey resolves the key/cert pair to sign the patched APK with: a
// PEM file if given, else a PKCS12 keystore, else an error -- unlike the
// original agent, no signing key is baked into the binary, so one must
// always be supplied explicitly.
func loadSigningKey(pemPath, keystorePath, keystorePass string) (*rsa.PrivateKey, *x509.Certificate, error) {
	if pemPath != "" {
		return signing.LoadPEM(pemPath)
	}
	if keystorePath != "" {
		return signing.LoadKeystore(keystorePath, keystorePass)
	}
	return nil, nil, fmt.Errorf("no signing key given: pass -pem or -keystore")
}

// installedVersion reads the manifest's versionName out of an apk already
// on disk, so a downgrade knows the version it's downgrading from.
func installedVersion(apkPath string) (string, error) {
	f, err := os.Open(apkPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return "", err
	}

	rdr, err := apkzip.OpenReader(f, stat.Size())
	if err != nil {
		return "", fmt.Errorf("opening apk: %w", err)
	}

	entry, err := rdr.Open("AndroidManifest.xml")
	if err != nil {
		return "", fmt.Errorf("opening manifest: %w", err)
	}
	defer entry.Close()

	events, err := decodeManifestEvents(entry)
	if err != nil {
		return "", err
	}

	info, err := manifest.ReadInfo(events)
	if err != nil {
		return "", err
	}
	return info.PackageVersion, nil
}

func decodeManifestEvents(r io.Reader) ([]axml.Event, error) {
	reader, err := axml.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("parsing axml: %w", err)
	}

	var events []axml.Event
	for {
		ev, err := reader.Next()
		if err != nil {
			return nil, fmt.Errorf("parsing axml: %w", err)
		}
		if ev == nil {
			break
		}
		events = append(events, *ev)
	}
	return events, nil
}

// coreModInstaller adapts a Manager plus a bound catalog.Client and index
// URL to patching.CoreModInstaller.
type coreModInstaller struct {
	mgr      *modmanager.Manager
	client   *catalog.Client
	indexURL string
}

func (c *coreModInstaller) WipeAndInstallCoreMods(packageID, version string) error {
	return c.mgr.WipeAndInstallCoreMods(c.client, c.indexURL, c.client, version)
}
