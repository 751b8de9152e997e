package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "attendance-bridge", cfg.ServiceName)
	assert.True(t, cfg.AutoStart)
	assert.Equal(t, DriverNone, cfg.Device.Driver)
	assert.Equal(t, 4370, cfg.Device.Port)
	assert.Equal(t, 5*time.Minute, cfg.Sync.Interval)
	assert.Equal(t, 50, cfg.Sync.BatchSize)
	assert.Equal(t, ScopeUserTime, cfg.Sync.IdentityScope)
	assert.True(t, cfg.Push.Enabled)
	assert.Equal(t, "4370", cfg.Push.Port)
	assert.Equal(t, 3, cfg.HR.RetryAttempts)
	assert.Equal(t, 5*time.Second, cfg.HR.RetryDelay)
	assert.Equal(t, 10*time.Second, cfg.HR.Timeout)
	assert.Equal(t, "Authorization", cfg.HR.AuthHeader)
	assert.False(t, cfg.AlertsEnabled())
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("SYNC_INTERVAL", "30s")
	t.Setenv("BATCH_SIZE", "10")
	t.Setenv("DEVICE_DRIVER", DriverBioTime)
	t.Setenv("IDENTITY_SCOPE", ScopeDeviceUserTime)
	t.Setenv("HR_API_KEY", "s3cret")
	t.Setenv("HR_AUTH_HEADER", "X-API-Key")
	t.Setenv("AUTO_START", "false")
	t.Setenv("ALERT_EMAIL_FROM", "bridge@example.com")
	t.Setenv("ALERT_EMAIL_TO", "ops@example.com")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Sync.Interval)
	assert.Equal(t, 10, cfg.Sync.BatchSize)
	assert.Equal(t, DriverBioTime, cfg.Device.Driver)
	assert.Equal(t, ScopeDeviceUserTime, cfg.Sync.IdentityScope)
	assert.Equal(t, "s3cret", cfg.HR.APIKey)
	assert.Equal(t, "X-API-Key", cfg.HR.AuthHeader)
	assert.False(t, cfg.AutoStart)
	assert.True(t, cfg.AlertsEnabled())
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("HR_BASE_URL: https://hr.example.com\nBATCH_SIZE: 25\n"), 0o600))
	t.Setenv("BRIDGE_CONFIG_FILE", path)
	t.Setenv("BATCH_SIZE", "40")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "https://hr.example.com", cfg.HR.BaseURL)
	assert.Equal(t, 40, cfg.Sync.BatchSize, "environment wins over the file")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	t.Setenv("BRIDGE_CONFIG_FILE", filepath.Join(t.TempDir(), "nope.yaml"))
	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	bad := cfg
	bad.Sync.Interval = 0
	bad.Sync.BatchSize = 0
	bad.HR.RetryAttempts = 0
	bad.Sync.IdentityScope = "serial"
	bad.Device.Driver = "udp"
	bad.Sync.FieldMapping = "employee_code=badge"

	err = bad.Validate()
	require.Error(t, err)
	for _, want := range []string{"SYNC_INTERVAL", "BATCH_SIZE", "HR_RETRY_ATTEMPTS", "IDENTITY_SCOPE", "DEVICE_DRIVER", "FIELD_MAPPING"} {
		assert.Contains(t, err.Error(), want)
	}
}
