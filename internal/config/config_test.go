// file: internal/config/config_test.go
package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chdirTemp 切到空目录，确保找不到任何配置文件。
func chdirTemp(t *testing.T) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err, "配置文件缺席不应是错误")
	assert.Equal(t, 10311, cfg.Server.Port)
	assert.Equal(t, "instance", cfg.Instance.Dir)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 5*time.Minute, cfg.Pool.IdleTTL)
	assert.Equal(t, "admin@hivebase.local", cfg.Admin.Email)
}

func TestLoad_EnvOverrides(t *testing.T) {
	chdirTemp(t)
	t.Setenv("HIVE_SERVER_PORT", "8080")
	t.Setenv("HIVE_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoad_RejectsBadPort(t *testing.T) {
	chdirTemp(t)
	t.Setenv("HIVE_SERVER_PORT", "99999")

	_, err := Load()
	assert.Error(t, err, "越界端口应被拒绝")
}
