package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bilicache/bilicache/internal/transfer"
)

const (
	// AppName is the application name.
	AppName = "bilicache"
	// ConfigFileName is the name of the config file (without extension).
	ConfigFileName = "config"
	// ConfigFileExt is the config file extension.
	ConfigFileExt = "toml"
	// EnvPrefix is the prefix for environment variable overrides.
	EnvPrefix = "BILICACHE"
)

// Config holds everything the CLI needs to reach the device and run
// transfers.
type Config struct {
	LogLevel string `mapstructure:"log_level"`
	JSONLog  bool   `mapstructure:"json_log"`

	Rish RishConfig `mapstructure:"rish"`

	// Paths on the device and locally.
	BiliRoot     string `mapstructure:"bili_root"`
	RemoteTmpDir string `mapstructure:"remote_tmp_dir"`
	CacheDir     string `mapstructure:"cache_dir"`
	WorkDir      string `mapstructure:"work_dir"`
	OutputDir    string `mapstructure:"output_dir"`
	ErrorDBPath  string `mapstructure:"error_db_path"`
	FFmpegPath   string `mapstructure:"ffmpeg_path"`

	Transfer TransferConfig `mapstructure:"transfer"`
}

// RishConfig locates the shell binary and its target application.
type RishConfig struct {
	BinPath string `mapstructure:"bin_path"`
	AppID   string `mapstructure:"app_id"`
}

// TransferConfig mirrors transfer.Options knobs.
type TransferConfig struct {
	ChunkSize        int64         `mapstructure:"chunk_size"`
	Overlap          int64         `mapstructure:"overlap"`
	BlockSize        int64         `mapstructure:"block_size"`
	ChunkRetries     int           `mapstructure:"chunk_retries"`
	ChunkBackoffBase time.Duration `mapstructure:"chunk_backoff_base"`
	ChunkBackoffMax  time.Duration `mapstructure:"chunk_backoff_max"`
	TaskRetries      int           `mapstructure:"task_retries"`
	TaskBackoffBase  time.Duration `mapstructure:"task_backoff_base"`
	CleanupRemote    bool          `mapstructure:"cleanup_remote"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
	PackTimeout      time.Duration `mapstructure:"pack_timeout"`
	FetchTimeout     time.Duration `mapstructure:"fetch_timeout"`
	ChecksumTimeout  time.Duration `mapstructure:"checksum_timeout"`
}

// ConfigDir returns the bilicache configuration directory,
// $XDG_CONFIG_HOME/bilicache or ~/.config/bilicache.
func ConfigDir() (string, error) {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, AppName), nil
}

// Default returns the built-in configuration.
func Default() Config {
	home, _ := os.UserHomeDir()
	opts := transfer.DefaultOptions("", "")
	return Config{
		LogLevel:     "info",
		Rish:         RishConfig{BinPath: "rish", AppID: "tv.danmaku.bili"},
		BiliRoot:     "/storage/emulated/0/Android/data/tv.danmaku.bili/download",
		RemoteTmpDir: opts.RemoteTmpDir,
		CacheDir:     filepath.Join(home, ".cache", AppName, "tars"),
		WorkDir:      filepath.Join(home, ".cache", AppName, "work"),
		OutputDir:    filepath.Join(home, "Videos", "bilicache"),
		ErrorDBPath:  filepath.Join(home, ".local", "share", AppName, "events.db"),
		FFmpegPath:   "ffmpeg",
		Transfer: TransferConfig{
			ChunkSize:        opts.Chunk.ChunkSize,
			Overlap:          opts.Chunk.Overlap,
			BlockSize:        opts.Chunk.BlockSize,
			ChunkRetries:     opts.ChunkRetries,
			ChunkBackoffBase: opts.ChunkBackoffBase,
			ChunkBackoffMax:  opts.ChunkBackoffMax,
			TaskRetries:      opts.TaskRetries,
			TaskBackoffBase:  opts.TaskBackoffBase,
			CleanupRemote:    opts.CleanupRemote,
			ProbeTimeout:     opts.ProbeTimeout,
			PackTimeout:      opts.PackTimeout,
			FetchTimeout:     opts.FetchTimeout,
			ChecksumTimeout:  opts.ChecksumTimeout,
		},
	}
}

// Load reads configuration from defaults, an optional config file and
// BILICACHE_* environment variables, in increasing precedence. An empty
// path means the default location; a missing default file is not an
// error.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		cfgDir, err := ConfigDir()
		if err == nil {
			v.SetConfigName(ConfigFileName)
			v.SetConfigType(ConfigFileExt)
			v.AddConfigPath(cfgDir)
			if err := v.ReadInConfig(); err != nil {
				var notFound viper.ConfigFileNotFoundError
				if !errors.As(err, &notFound) {
					return Config{}, fmt.Errorf("read config: %w", err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("json_log", d.JSONLog)
	v.SetDefault("rish.bin_path", d.Rish.BinPath)
	v.SetDefault("rish.app_id", d.Rish.AppID)
	v.SetDefault("bili_root", d.BiliRoot)
	v.SetDefault("remote_tmp_dir", d.RemoteTmpDir)
	v.SetDefault("cache_dir", d.CacheDir)
	v.SetDefault("work_dir", d.WorkDir)
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("error_db_path", d.ErrorDBPath)
	v.SetDefault("ffmpeg_path", d.FFmpegPath)
	v.SetDefault("transfer.chunk_size", d.Transfer.ChunkSize)
	v.SetDefault("transfer.overlap", d.Transfer.Overlap)
	v.SetDefault("transfer.block_size", d.Transfer.BlockSize)
	v.SetDefault("transfer.chunk_retries", d.Transfer.ChunkRetries)
	v.SetDefault("transfer.chunk_backoff_base", d.Transfer.ChunkBackoffBase)
	v.SetDefault("transfer.chunk_backoff_max", d.Transfer.ChunkBackoffMax)
	v.SetDefault("transfer.task_retries", d.Transfer.TaskRetries)
	v.SetDefault("transfer.task_backoff_base", d.Transfer.TaskBackoffBase)
	v.SetDefault("transfer.cleanup_remote", d.Transfer.CleanupRemote)
	v.SetDefault("transfer.probe_timeout", d.Transfer.ProbeTimeout)
	v.SetDefault("transfer.pack_timeout", d.Transfer.PackTimeout)
	v.SetDefault("transfer.fetch_timeout", d.Transfer.FetchTimeout)
	v.SetDefault("transfer.checksum_timeout", d.Transfer.ChecksumTimeout)
}

// Validate checks parameter sanity.
func (c Config) Validate() error {
	t := c.Transfer
	if t.ChunkSize <= 0 {
		return fmt.Errorf("transfer.chunk_size must be positive, got %d", t.ChunkSize)
	}
	if t.BlockSize <= 0 {
		return fmt.Errorf("transfer.block_size must be positive, got %d", t.BlockSize)
	}
	if t.Overlap < 0 {
		return fmt.Errorf("transfer.overlap must be non-negative, got %d", t.Overlap)
	}
	if t.Overlap >= t.ChunkSize {
		return fmt.Errorf("transfer.overlap (%d) must be smaller than transfer.chunk_size (%d)", t.Overlap, t.ChunkSize)
	}
	if t.ChunkRetries < 0 || t.TaskRetries < 0 {
		return fmt.Errorf("retry counts must be non-negative")
	}
	if c.BiliRoot == "" {
		return fmt.Errorf("bili_root must not be empty")
	}
	if c.RemoteTmpDir == "" {
		return fmt.Errorf("remote_tmp_dir must not be empty")
	}
	return nil
}

// TransferOptions converts the config into transfer.Options.
func (c Config) TransferOptions() transfer.Options {
	opts := transfer.DefaultOptions(c.BiliRoot, c.CacheDir)
	opts.RemoteTmpDir = c.RemoteTmpDir
	opts.WorkDir = c.WorkDir
	opts.Chunk.ChunkSize = c.Transfer.ChunkSize
	opts.Chunk.Overlap = c.Transfer.Overlap
	opts.Chunk.BlockSize = c.Transfer.BlockSize
	opts.ChunkRetries = c.Transfer.ChunkRetries
	opts.ChunkBackoffBase = c.Transfer.ChunkBackoffBase
	opts.ChunkBackoffMax = c.Transfer.ChunkBackoffMax
	opts.TaskRetries = c.Transfer.TaskRetries
	opts.TaskBackoffBase = c.Transfer.TaskBackoffBase
	opts.CleanupRemote = c.Transfer.CleanupRemote
	opts.ProbeTimeout = c.Transfer.ProbeTimeout
	opts.PackTimeout = c.Transfer.PackTimeout
	opts.FetchTimeout = c.Transfer.FetchTimeout
	opts.ChecksumTimeout = c.Transfer.ChecksumTimeout
	return opts
}
