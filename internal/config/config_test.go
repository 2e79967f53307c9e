package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoad_DefaultsWhenUnset(t *testing.T) {
	cfg := Load()
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, uint16(4), cfg.StoreAlignment)
	assert.Equal(t, 5, cfg.Download.MaxDisconnections)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("MODKIT_HTTP_TIMEOUT_SECONDS", "10")
	t.Setenv("MODKIT_STORE_ALIGNMENT", "1")
	t.Setenv("MODKIT_MAX_DISCONNECTIONS", "2")
	t.Setenv("MODKIT_SCRATCH_ROOT", "/tmp/modkit-scratch")

	cfg := Load()
	assert.Equal(t, 10*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, uint16(1), cfg.StoreAlignment)
	assert.Equal(t, 2, cfg.Download.MaxDisconnections)
	assert.Equal(t, "/tmp/modkit-scratch", cfg.ScratchRoot)
}

func TestLoad_InvalidNumericIgnored(t *testing.T) {
	t.Setenv("MODKIT_STORE_ALIGNMENT", "not-a-number")

	cfg := Load()
	assert.Equal(t, uint16(4), cfg.StoreAlignment)
}
