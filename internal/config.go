package internal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hbomb79/immich-relay/internal/api"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/mitchellh/go-homedir"
)

const RELAY_WORK_DIR_SUFFIX = "immich-relay"

// RelayConfig is the struct used to contain the
// various user config supplied by file, or
// via the environment.
type RelayConfig struct {
	ImmichURL   string         `yaml:"immich_server_url" env:"IMMICH_SERVER_URL"`
	DeviceID    string         `yaml:"device_id" env:"DEVICE_ID" env-default:"ios-shortcut-device"`
	AssetPrefix string         `yaml:"device_asset_prefix" env:"DEVICE_ASSET_PREFIX" env-default:"ios-shortcut"`
	LogLevel    string         `yaml:"log_level" env:"LOG_LEVEL" env-default:"INFO"`
	WorkDirPath string         `yaml:"work_dir" env:"WORK_DIR"`
	CookieDir   string         `yaml:"cookie_dir" env:"COOKIE_DIR" env-default:"./cookies"`
	Tools       ToolConfig     `yaml:"tools"`
	Sweep       SweepConfig    `yaml:"sweep"`
	RestConfig  api.RestConfig `yaml:"api"`
}

// ToolConfig locates the external downloaders, and bounds
// how long each invocation may run for.
type ToolConfig struct {
	YtDlpPath      string `yaml:"ytdlp_path" env:"YTDLP_PATH" env-default:"yt-dlp"`
	GalleryDlPath  string `yaml:"gallery_dl_path" env:"GALLERY_DL_PATH" env-default:"gallery-dl"`
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"TOOL_TIMEOUT_SECONDS" env-default:"300"`
}

// SweepConfig controls the periodic removal of abandoned
// download workspaces.
type SweepConfig struct {
	IntervalSeconds int `yaml:"interval_seconds" env:"SWEEP_INTERVAL_SECONDS" env-default:"600"`
	MaxAgeSeconds   int `yaml:"max_age_seconds" env:"SWEEP_MAX_AGE_SECONDS" env-default:"3600"`
}

// LoadConfig reads the relay configuration. A '.env' file in the working
// directory is applied to the environment first (without overriding
// variables already set), then the YAML file at configPath (if provided)
// is read, with environment variables taking precedence over it.
func LoadConfig(configPath string) (*RelayConfig, error) {
	if err := loadEnvFile(".env"); err != nil {
		return nil, err
	}

	config := &RelayConfig{}
	if configPath != "" {
		path, err := homedir.Expand(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to expand config path %s: %w", configPath, err)
		}

		if err := cleanenv.ReadConfig(path, config); err != nil {
			return nil, fmt.Errorf("failed to load configuration from %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(config); err != nil {
		return nil, fmt.Errorf("failed to load configuration from environment: %w", err)
	}

	for _, dir := range []*string{&config.WorkDirPath, &config.CookieDir} {
		expanded, err := homedir.Expand(*dir)
		if err != nil {
			return nil, fmt.Errorf("failed to expand path %s: %w", *dir, err)
		}
		*dir = expanded
	}

	return config, nil
}

func loadEnvFile(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}

		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}

	return nil
}

// getWorkDir returns the directory under which download workspaces are
// created. If none is configured, a directory inside the systems temp
// dir is used.
func (config *RelayConfig) getWorkDir() string {
	if config.WorkDirPath != "" {
		return config.WorkDirPath
	}

	return filepath.Join(os.TempDir(), RELAY_WORK_DIR_SUFFIX)
}

func (config *ToolConfig) timeout() time.Duration {
	return time.Duration(config.TimeoutSeconds) * time.Second
}

func (config *SweepConfig) interval() time.Duration {
	return time.Duration(config.IntervalSeconds) * time.Second
}

func (config *SweepConfig) maxAge() time.Duration {
	return time.Duration(config.MaxAgeSeconds) * time.Second
}
