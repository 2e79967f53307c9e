// Package config loads the handful of process-wide scalars every other
// package takes as a parameter instead of reading the environment itself:
// scratch directory root, HTTP client timeout, download retry policy, and
// native-library store-alignment level. Grounded on
// original_source/mbf-agent/src/downloads.rs's DownloadConfig defaults and
// original_source/mbf-agent/src/patching.rs's hardcoded alignment constant.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/sidequest/modkit/internal/catalog"
)

// Config is the process configuration, loaded once at startup via Load.
type Config struct {
	// ScratchRoot is the parent directory patching pipelines create their
	// per-run scratch directory under. Defaults to os.TempDir().
	ScratchRoot string

	// HTTPTimeout bounds a single catalog HTTP request.
	HTTPTimeout time.Duration

	// Download controls catalog.Client's retry behavior for diff/mod
	// artifact downloads.
	Download catalog.DownloadConfig

	// StoreAlignment is the byte multiple STORE entries' content must
	// land on; 4 for APKs bundling native libraries (Android's
	// requirement so the dynamic linker can mmap them directly), 1
	// disables alignment.
	StoreAlignment uint16
}

// Default returns the original's hardcoded values, used when no
// environment override is present.
func Default() Config {
	return Config{
		ScratchRoot:    os.TempDir(),
		HTTPTimeout:    30 * time.Second,
		Download:       catalog.DefaultDownloadConfig(),
		StoreAlignment: 4,
	}
}

// Load returns Default with every MODKIT_* environment variable present
// overriding its corresponding field. An invalid value for a numeric or
// duration variable is ignored (the default is kept) rather than erroring,
// since config loading must not crash the host process over a typo.
func Load() Config {
	cfg := Default()

	if v := os.Getenv("MODKIT_SCRATCH_ROOT"); v != "" {
		cfg.ScratchRoot = v
	}
	if v, ok := parseDuration("MODKIT_HTTP_TIMEOUT_SECONDS"); ok {
		cfg.HTTPTimeout = v
	}
	if v, ok := parseInt("MODKIT_MAX_DISCONNECTIONS"); ok {
		cfg.Download.MaxDisconnections = v
	}
	if v, ok := parseDuration("MODKIT_DISCONNECT_WAIT_SECONDS"); ok {
		cfg.Download.DisconnectWaitTime = v
	}
	if v, ok := parseInt("MODKIT_STORE_ALIGNMENT"); ok {
		cfg.StoreAlignment = uint16(v)
	}

	return cfg
}

func parseInt(env string) (int, bool) {
	v := os.Getenv(env)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseDuration(env string) (time.Duration, bool) {
	n, ok := parseInt(env)
	if !ok {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}
