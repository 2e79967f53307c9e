package patching

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sidequest/modkit/internal/apkzip"
	"github.com/sidequest/modkit/internal/axml"
	"github.com/sidequest/modkit/internal/manifest"
)

func genTestCert(t *testing.T) (*rsa.PrivateKey, *x509.Certificate) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "modkit-test"},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).AddDate(30, 0, 0),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return key, cert
}

func baseManifestAxml(t *testing.T) []byte {
	t.Helper()
	events := []axml.Event{
		{Kind: axml.EventStartNamespace, NsPrefix: "android", NsURI: axml.AndroidNamespaceURI},
		{
			Kind: axml.EventStartElement,
			Name: "manifest",
			Attributes: []axml.Attribute{
				{Name: "versionName", Value: axml.StringValue("1.0")},
			},
		},
		{Kind: axml.EventStartElement, Name: "application"},
		{Kind: axml.EventEndElement, Name: "application"},
		{Kind: axml.EventEndElement, Name: "manifest"},
		{Kind: axml.EventEndNamespace, NsPrefix: "android", NsURI: axml.AndroidNamespaceURI},
	}

	w := axml.NewWriter()
	for _, ev := range events {
		w.WriteEvent(ev)
	}
	out, err := w.Finish()
	require.NoError(t, err)
	return out
}

// buildVanillaApk writes an unmodded APK (manifest + a stand-in libmain.so)
// to path.
func buildVanillaApk(t *testing.T, path string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	require.NoError(t, err)
	defer f.Close()

	w := apkzip.NewWriter(f, 4)
	require.NoError(t, w.WriteFile("AndroidManifest.xml", bytes.NewReader(baseManifestAxml(t)), apkzip.MethodDeflate))
	require.NoError(t, w.WriteFile("lib/arm64-v8a/libmain.so", bytes.NewReader([]byte("original native code")), apkzip.MethodDeflate))
	require.NoError(t, w.WriteFile("classes.dex", bytes.NewReader([]byte("dex bytes")), apkzip.MethodDeflate))
	require.NoError(t, w.Save())
}

type fakeInstaller struct {
	uninstallCalls []string
	installCalls   []string
	grantCalls     []string
	installedBytes []byte
}

func (f *fakeInstaller) InstallAPK(ctx context.Context, path string) error {
	f.installCalls = append(f.installCalls, path)
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	f.installedBytes = b
	return nil
}

func (f *fakeInstaller) UninstallAPK(ctx context.Context, packageID string) error {
	f.uninstallCalls = append(f.uninstallCalls, packageID)
	return nil
}

func (f *fakeInstaller) GrantExternalStorage(ctx context.Context, packageID string) error {
	f.grantCalls = append(f.grantCalls, packageID)
	return nil
}

type fakeCoreMods struct {
	calls []string
}

func (f *fakeCoreMods) WipeAndInstallCoreMods(packageID, version string) error {
	f.calls = append(f.calls, packageID+"@"+version)
	return nil
}

func newTestConfig(t *testing.T, apkPath, obbDir, scratchDir, modloaderDir string) (Config, *fakeInstaller, *fakeCoreMods) {
	key, cert := genTestCert(t)
	installer := &fakeInstaller{}
	coreMods := &fakeCoreMods{}

	cfg := Config{
		PackageID:        "com.beatgames.beatsaber",
		ApkPath:          apkPath,
		ObbDir:           obbDir,
		ScratchDir:       scratchDir,
		ManifestMod:      manifest.NewManifestMod().Debuggable(true).WithPermission("android.permission.MANAGE_EXTERNAL_STORAGE"),
		ResourceIDs:      manifest.LoadResourceIDTable(),
		ModLoaderPayload: []byte("modloader bytes"),
		ModloaderDir:     modloaderDir,
		SignKey:          key,
		SignCert:         cert,
		Installer:        installer,
		CoreMods:         coreMods,
	}
	return cfg, installer, coreMods
}

func TestRun_FreshPatchInstallsModloaderAndCoreMods(t *testing.T) {
	dir := t.TempDir()
	apkPath := filepath.Join(dir, "current.apk")
	buildVanillaApk(t, apkPath)

	obbDir := filepath.Join(dir, "obb")
	require.NoError(t, os.MkdirAll(obbDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(obbDir, "main.obb"), []byte("obb content"), 0o644))

	scratchDir := filepath.Join(dir, "scratch")
	modloaderDir := filepath.Join(dir, "modloader")

	cfg, installer, coreMods := newTestConfig(t, apkPath, obbDir, scratchDir, modloaderDir)

	result, err := Run(context.Background(), cfg)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, []string{"com.beatgames.beatsaber"}, installer.uninstallCalls)
	assert.Len(t, installer.installCalls, 1)
	assert.Equal(t, []string{"com.beatgames.beatsaber"}, installer.grantCalls)

	assert.NoDirExists(t, scratchDir, "scratch directory must be removed on success")

	loaderBytes, err := os.ReadFile(filepath.Join(modloaderDir, "libsl2.so"))
	require.NoError(t, err)
	assert.Equal(t, "modloader bytes", string(loaderBytes))

	assert.Equal(t, []string{"com.beatgames.beatsaber@"}, coreMods.calls)

	restoredObb, err := os.ReadFile(filepath.Join(obbDir, "main.obb"))
	require.NoError(t, err)
	assert.Equal(t, "obb content", string(restoredObb))

	assertApkPatched(t, installer.installedBytes)
}

func TestRun_RepatchSkipsModloaderAndCoreMods(t *testing.T) {
	dir := t.TempDir()
	apkPath := filepath.Join(dir, "current.apk")
	buildVanillaApk(t, apkPath)

	scratchDir := filepath.Join(dir, "scratch")
	modloaderDir := filepath.Join(dir, "modloader")
	obbDir := filepath.Join(dir, "obb")

	cfg, installer, coreMods := newTestConfig(t, apkPath, obbDir, scratchDir, modloaderDir)
	cfg.Repatch = true

	_, err := Run(context.Background(), cfg)
	require.NoError(t, err)

	assert.NoDirExists(t, modloaderDir, "repatch must not install the modloader")
	assert.Empty(t, coreMods.calls, "repatch must not install core mods")
	assert.Len(t, installer.installCalls, 1)
}

func TestRun_ScratchRemovedOnFailure(t *testing.T) {
	dir := t.TempDir()
	apkPath := filepath.Join(dir, "current.apk")
	// An invalid zip: opening it for patching must fail cleanly.
	require.NoError(t, os.WriteFile(apkPath, []byte("not a zip"), 0o644))

	scratchDir := filepath.Join(dir, "scratch")
	cfg, _, _ := newTestConfig(t, apkPath, filepath.Join(dir, "obb"), scratchDir, filepath.Join(dir, "modloader"))

	_, err := Run(context.Background(), cfg)
	require.Error(t, err)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.NotEmpty(t, stepErr.Step)
	assert.NoDirExists(t, scratchDir)
}

// assertApkPatched reopens the final installed APK bytes and checks the
// manifest was mutated, libmain.so replaced and the sentinel written.
func assertApkPatched(t *testing.T, apk []byte) {
	t.Helper()
	rdr, err := apkzip.OpenReader(bytes.NewReader(apk), int64(len(apk)))
	require.NoError(t, err)

	_, ok := rdr.Entry(sentinelName)
	assert.True(t, ok, "sentinel entry must be present")

	rc, err := rdr.Open(libMainPath)
	require.NoError(t, err)
	defer rc.Close()
	content, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "modloader bytes", string(content))
}
