package internal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gotest.tools/v3/fs"
)

// chdir moves the test in to dir, as LoadConfig reads '.env' from the
// working directory.
func chdir(t *testing.T, dir string) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
}

func Test_LoadConfig_Defaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("IMMICH_SERVER_URL", "http://immich.local:2283")

	config, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "http://immich.local:2283", config.ImmichURL)
	assert.Equal(t, "ios-shortcut-device", config.DeviceID)
	assert.Equal(t, "ios-shortcut", config.AssetPrefix)
	assert.Equal(t, 3000, config.RestConfig.Port)
	assert.Equal(t, "0.0.0.0:3000", config.RestConfig.Address())
	assert.Equal(t, "50M", config.RestConfig.MaxUploadSize)
	assert.Equal(t, "yt-dlp", config.Tools.YtDlpPath)
	assert.Equal(t, 300*time.Second, config.Tools.timeout())
	assert.Equal(t, 10*time.Minute, config.Sweep.interval())
	assert.Equal(t, time.Hour, config.Sweep.maxAge())
	assert.Equal(t, filepath.Join(os.TempDir(), RELAY_WORK_DIR_SUFFIX), config.getWorkDir())
}

func Test_LoadConfig_DotEnvAndFile(t *testing.T) {
	dir := fs.NewDir(t, "relay-config",
		fs.WithFile(".env", "DEVICE_ID=from-dotenv\nPORT=4000\n"),
		fs.WithFile("config.yaml", "immich_server_url: http://from-file\nwork_dir: /var/relay\ntools:\n  timeout_seconds: 30\n"),
	)
	chdir(t, dir.Path())
	t.Cleanup(func() {
		os.Unsetenv("DEVICE_ID")
		os.Unsetenv("PORT")
	})

	config, err := LoadConfig(dir.Join("config.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "http://from-file", config.ImmichURL)
	assert.Equal(t, "from-dotenv", config.DeviceID)
	assert.Equal(t, 4000, config.RestConfig.Port)
	assert.Equal(t, "/var/relay", config.getWorkDir())
	assert.Equal(t, 30*time.Second, config.Tools.timeout())
}

func Test_LoadConfig_EnvironmentOverridesFile(t *testing.T) {
	dir := fs.NewDir(t, "relay-config", fs.WithFile("config.yaml", "immich_server_url: http://from-file\n"))
	chdir(t, dir.Path())
	t.Setenv("IMMICH_SERVER_URL", "http://from-env")

	config, err := LoadConfig(dir.Join("config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "http://from-env", config.ImmichURL)
}

func Test_LoadConfig_MissingFile(t *testing.T) {
	chdir(t, t.TempDir())

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
