package patching

import (
	"context"
	"fmt"
	"os/exec"
)

// PlatformInstaller abstracts the device-facing side effects of a patching
// run -- (un)installing the APK and granting the external-storage permission
// the modloader needs -- so Run is testable without a device
// attached. Grounded on original_source/mbf-agent/src/patching.rs's
// `Command::new("pm"/"appops")` calls.
type PlatformInstaller interface {
	InstallAPK(ctx context.Context, path string) error
	UninstallAPK(ctx context.Context, packageID string) error
	GrantExternalStorage(ctx context.Context, packageID string) error
}

// execInstaller shells out to the on-device `pm` and `appops` tools.
type execInstaller struct{}

// NewExecInstaller returns the real PlatformInstaller used on-device.
func NewExecInstaller() PlatformInstaller { return execInstaller{} }

func (execInstaller) InstallAPK(ctx context.Context, path string) error {
	out, err := exec.CommandContext(ctx, "pm", "install", path).CombinedOutput()
	if err != nil {
		return fmt.Errorf("patching: pm install failed: %w: %s", err, out)
	}
	return nil
}

func (execInstaller) UninstallAPK(ctx context.Context, packageID string) error {
	out, err := exec.CommandContext(ctx, "pm", "uninstall", packageID).CombinedOutput()
	if err != nil {
		return fmt.Errorf("patching: pm uninstall failed: %w: %s", err, out)
	}
	return nil
}

func (execInstaller) GrantExternalStorage(ctx context.Context, packageID string) error {
	out, err := exec.CommandContext(ctx, "appops", "set", "--uid", packageID, "MANAGE_EXTERNAL_STORAGE", "allow").CombinedOutput()
	if err != nil {
		return fmt.Errorf("patching: appops set failed: %w: %s", err, out)
	}
	return nil
}
