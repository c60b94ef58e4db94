package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server" yaml:"server"`
	Workers  int            `toml:"workers" yaml:"workers"`
	TempDir  string         `toml:"temp_dir" yaml:"temp_dir"`
	Database DatabaseConfig `toml:"database" yaml:"database"`
	Storage  StorageConfig  `toml:"storage" yaml:"storage"`
	FFmpeg   FFmpegConfig   `toml:"ffmpeg" yaml:"ffmpeg"`
	Log      LogConfig      `toml:"log" yaml:"log"`
}

type ServerConfig struct {
	Port        int   `toml:"port" yaml:"port"`
	MaxUploadMB int64 `toml:"max_upload_mb" yaml:"max_upload_mb"`
}

// DatabaseConfig selects the row store. Driver is "sqlite" or "postgres".
type DatabaseConfig struct {
	Driver string `toml:"driver" yaml:"driver"`
	Path   string `toml:"path" yaml:"path"`
	DSN    string `toml:"dsn" yaml:"dsn"`
}

// StorageConfig selects the blob store. Backend is "fs" or "s3".
type StorageConfig struct {
	Backend   string   `toml:"backend" yaml:"backend"`
	Dir       string   `toml:"dir" yaml:"dir"`
	PublicURL string   `toml:"public_url" yaml:"public_url"`
	S3        S3Config `toml:"s3" yaml:"s3"`
}

type S3Config struct {
	Bucket    string `toml:"bucket" yaml:"bucket"`
	Region    string `toml:"region" yaml:"region"`
	Endpoint  string `toml:"endpoint" yaml:"endpoint"`
	AccessKey string `toml:"access_key" yaml:"access_key"`
	SecretKey string `toml:"secret_key" yaml:"secret_key"`
	PublicURL string `toml:"public_url" yaml:"public_url"`
	PathStyle bool   `toml:"path_style" yaml:"path_style"`
}

type FFmpegConfig struct {
	FFmpeg  string `toml:"ffmpeg" yaml:"ffmpeg"`
	FFprobe string `toml:"ffprobe" yaml:"ffprobe"`
}

type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format"`
}

func cacheHome() string {
	if dir := os.Getenv("XDG_CACHE_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".cache")
}

func dataHome() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return dir
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share")
}

// DefaultDBPath returns the default database path using XDG_CACHE_HOME.
func DefaultDBPath() string {
	return filepath.Join(cacheHome(), "batchpress", "batchpress.db")
}

// DefaultTempDir returns the default directory for uploaded and compressed files.
func DefaultTempDir() string {
	return filepath.Join(cacheHome(), "batchpress", "tmp")
}

// DefaultMediaDir returns the default directory of the filesystem blob store.
func DefaultMediaDir() string {
	return filepath.Join(dataHome(), "batchpress", "media")
}

// DefaultConfigPath returns the config file path using XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "batchpress", "config.toml")
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        8080,
			MaxUploadMB: 512,
		},
		TempDir: DefaultTempDir(),
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   DefaultDBPath(),
		},
		Storage: StorageConfig{
			Backend:   "fs",
			Dir:       DefaultMediaDir(),
			PublicURL: "http://localhost:8080/media",
			S3: S3Config{
				Region:    "us-east-1",
				PathStyle: true,
			},
		},
		FFmpeg: FFmpegConfig{
			FFmpeg:  "ffmpeg",
			FFprobe: "ffprobe",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load builds the configuration from defaults, an optional .env file in the
// working directory, the config file at path (or the default path when it
// exists) and BATCHPRESS_* environment variables, in that order.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultConfigPath()); err == nil {
			path = DefaultConfigPath()
		}
	}
	if path != "" {
		if err := cfg.LoadFile(ExpandPath(path)); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.expandPaths()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFile overlays a TOML or YAML file, chosen by extension.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	default:
		if _, err := toml.Decode(string(data), c); err != nil {
			return fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"BATCHPRESS_TEMP_DIR":        &c.TempDir,
		"BATCHPRESS_DB_DRIVER":       &c.Database.Driver,
		"BATCHPRESS_DB_PATH":         &c.Database.Path,
		"BATCHPRESS_DATABASE_DSN":    &c.Database.DSN,
		"BATCHPRESS_STORAGE_BACKEND": &c.Storage.Backend,
		"BATCHPRESS_STORAGE_DIR":     &c.Storage.Dir,
		"BATCHPRESS_PUBLIC_URL":      &c.Storage.PublicURL,
		"BATCHPRESS_S3_BUCKET":       &c.Storage.S3.Bucket,
		"BATCHPRESS_S3_REGION":       &c.Storage.S3.Region,
		"BATCHPRESS_S3_ENDPOINT":     &c.Storage.S3.Endpoint,
		"BATCHPRESS_S3_ACCESS_KEY":   &c.Storage.S3.AccessKey,
		"BATCHPRESS_S3_SECRET_KEY":   &c.Storage.S3.SecretKey,
		"BATCHPRESS_S3_PUBLIC_URL":   &c.Storage.S3.PublicURL,
		"BATCHPRESS_FFMPEG":          &c.FFmpeg.FFmpeg,
		"BATCHPRESS_FFPROBE":         &c.FFmpeg.FFprobe,
		"BATCHPRESS_LOG_LEVEL":       &c.Log.Level,
		"BATCHPRESS_LOG_FORMAT":      &c.Log.Format,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"BATCHPRESS_PORT":    &c.Server.Port,
		"BATCHPRESS_WORKERS": &c.Workers,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}
	return nil
}

func (c *Config) expandPaths() {
	c.TempDir = ExpandPath(c.TempDir)
	c.Database.Path = ExpandPath(c.Database.Path)
	c.Storage.Dir = ExpandPath(c.Storage.Dir)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.TempDir == "" {
		return errors.New("temp_dir is required")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	switch c.Storage.Backend {
	case "fs":
		if c.Storage.Dir == "" {
			return errors.New("storage.dir is required for fs backend")
		}
		if err := checkAbsURL("storage.public_url", c.Storage.PublicURL); err != nil {
			return err
		}
		if c.Storage.PublicURL == "" {
			return errors.New("storage.public_url is required for fs backend")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return errors.New("storage.s3.bucket is required for s3 backend")
		}
		if err := checkAbsURL("storage.s3.public_url", c.Storage.S3.PublicURL); err != nil {
			return err
		}
		if err := checkAbsURL("storage.s3.endpoint", c.Storage.S3.Endpoint); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	return nil
}

// checkAbsURL rejects a set value that is not an absolute http(s) URL.
// Media URLs of published posts are built from these prefixes.
func checkAbsURL(key, raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s must be an absolute http(s) URL, got %q", key, raw)
	}
	return nil
}

// WorkerCount returns the configured number of workers, or one less than the
// number of usable CPUs (at least one) when unset. GOMAXPROCS follows
// container CPU limits.
func (c *Config) WorkerCount() int {
	if c.Workers > 0 {
		return c.Workers
	}
	return max(runtime.GOMAXPROCS(0)-1, 1)
}
