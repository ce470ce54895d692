package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/multierr"

	"github.com/luojiyin1987/img-squeeze/internal/compressor"
	"github.com/luojiyin1987/img-squeeze/internal/logger"
)

const mib = 1024 * 1024

// Config represents the main configuration structure
type Config struct {
	Compression CompressionConfig `mapstructure:"compression"`
	Limits      LimitsConfig      `mapstructure:"limits"`
	Upload      UploadConfig      `mapstructure:"upload"`
	Server      ServerConfig      `mapstructure:"server"`
	Watch       WatchConfig       `mapstructure:"watch"`
	Telemetry   TelemetryConfig   `mapstructure:"telemetry"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// CompressionConfig contains default compression options
type CompressionConfig struct {
	Quality    int    `mapstructure:"quality"`
	MaxWidth   int    `mapstructure:"max_width"`
	MaxHeight  int    `mapstructure:"max_height"`
	Format     string `mapstructure:"format"`
	Threads    int    `mapstructure:"threads"`
	Recursive  bool   `mapstructure:"recursive"`
	ScratchDir string `mapstructure:"scratch_dir"`
}

// LimitsConfig contains batch resource limits, sizes in MiB
type LimitsConfig struct {
	MaxFileSizeMiB           int `mapstructure:"max_file_size_mib"`
	MaxBatchFiles            int `mapstructure:"max_batch_files"`
	MaxBatchMemoryMiB        int `mapstructure:"max_batch_memory_mib"`
	LargeImageThresholdMiB   int `mapstructure:"large_image_threshold_mib"`
	MaxConcurrentLargeImages int `mapstructure:"max_concurrent_large_images"`
	MinAvailableMemoryMiB    int `mapstructure:"min_available_memory_mib"`
}

// UploadConfig selects and configures the blob storage backend
type UploadConfig struct {
	Backend string       `mapstructure:"backend"`
	Walrus  WalrusConfig `mapstructure:"walrus"`
	IPFS    IPFSConfig   `mapstructure:"ipfs"`
}

// WalrusConfig contains Walrus endpoints
type WalrusConfig struct {
	AggregatorURL string        `mapstructure:"aggregator_url"`
	PublisherURL  string        `mapstructure:"publisher_url"`
	Epochs        int           `mapstructure:"epochs"`
	Deletable     bool          `mapstructure:"deletable"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

// IPFSConfig contains the IPFS HTTP API endpoint
type IPFSConfig struct {
	APIURL  string        `mapstructure:"api_url"`
	Pin     bool          `mapstructure:"pin"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ServerConfig contains web server settings
type ServerConfig struct {
	Port      int    `mapstructure:"port"`
	OutputDir string `mapstructure:"output_dir"`
}

// WatchConfig contains watch mode settings
type WatchConfig struct {
	Debounce time.Duration `mapstructure:"debounce"`
}

// TelemetryConfig toggles OpenTelemetry export
type TelemetryConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

func defaultLogging() LoggingConfig {
	d := logger.DefaultConfig()
	return LoggingConfig{
		Level:      d.Level,
		Format:     d.Format,
		FilePath:   d.FilePath,
		MaxSize:    d.MaxSize,
		MaxBackups: d.MaxBackups,
		MaxAge:     d.MaxAge,
		Compress:   d.Compress,
	}
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Compression: CompressionConfig{
			Quality: 80,
		},
		Limits: LimitsConfig{
			MaxFileSizeMiB:           100,
			MaxBatchFiles:            10000,
			MaxBatchMemoryMiB:        8192,
			LargeImageThresholdMiB:   50,
			MaxConcurrentLargeImages: 2,
			MinAvailableMemoryMiB:    512,
		},
		Upload: UploadConfig{
			Backend: "walrus",
			Walrus: WalrusConfig{
				AggregatorURL: "https://aggregator.walrus-testnet.walrus.space",
				PublisherURL:  "https://publisher.walrus-testnet.walrus.space",
				Epochs:        10,
				Deletable:     true,
				Timeout:       5 * time.Minute,
			},
			IPFS: IPFSConfig{
				APIURL:  "localhost:5001",
				Pin:     true,
				Timeout: 5 * time.Minute,
			},
		},
		Server: ServerConfig{
			Port:      8080,
			OutputDir: "compressed",
		},
		Watch: WatchConfig{
			Debounce: 2 * time.Second,
		},
		Logging: defaultLogging(),
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Look for config file in current directory and home directory
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.img-squeeze")
		v.AddConfigPath("/etc/img-squeeze")
	}

	// Environment variables such as IMG_SQUEEZE_COMPRESSION_QUALITY override the file
	v.SetEnvPrefix("IMG_SQUEEZE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvKeys(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Config file not found is OK, we'll use defaults
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// bindEnvKeys registers every known key so AutomaticEnv also applies to
// keys that are absent from the config file.
func bindEnvKeys(v *viper.Viper) {
	for _, key := range []string{
		"compression.quality", "compression.max_width", "compression.max_height",
		"compression.format", "compression.threads", "compression.recursive", "compression.scratch_dir",
		"limits.max_file_size_mib", "limits.max_batch_files", "limits.max_batch_memory_mib",
		"limits.large_image_threshold_mib", "limits.max_concurrent_large_images", "limits.min_available_memory_mib",
		"upload.backend", "upload.walrus.aggregator_url", "upload.walrus.publisher_url",
		"upload.walrus.epochs", "upload.walrus.deletable", "upload.walrus.timeout",
		"upload.ipfs.api_url", "upload.ipfs.pin", "upload.ipfs.timeout",
		"server.port", "server.output_dir", "watch.debounce", "telemetry.enabled",
		"logging.level", "logging.format", "logging.file_path",
	} {
		_ = v.BindEnv(key)
	}
}

// Validate validates the configuration and reports every problem found
func (c *Config) Validate() error {
	var errs error

	if c.Compression.Quality < 1 || c.Compression.Quality > 100 {
		errs = multierr.Append(errs, fmt.Errorf("compression.quality must be between 1 and 100, got %d", c.Compression.Quality))
	}
	if c.Compression.MaxWidth < 0 || c.Compression.MaxHeight < 0 {
		errs = multierr.Append(errs, fmt.Errorf("compression.max_width and max_height must not be negative"))
	}
	if c.Compression.Threads < 0 {
		errs = multierr.Append(errs, fmt.Errorf("compression.threads must not be negative, got %d", c.Compression.Threads))
	}
	validFormats := map[string]bool{"": true, "jpeg": true, "jpg": true, "png": true, "webp": true, "bmp": true, "tiff": true, "tif": true, "gif": true}
	c.Compression.Format = strings.ToLower(strings.TrimSpace(c.Compression.Format))
	if !validFormats[c.Compression.Format] {
		errs = multierr.Append(errs, fmt.Errorf("invalid compression.format: %s (valid: jpeg, png, webp, bmp, tiff, gif)", c.Compression.Format))
	}

	if c.Limits.MaxFileSizeMiB < 0 || c.Limits.MaxBatchFiles < 0 || c.Limits.MaxBatchMemoryMiB < 0 ||
		c.Limits.LargeImageThresholdMiB < 0 || c.Limits.MaxConcurrentLargeImages < 0 || c.Limits.MinAvailableMemoryMiB < 0 {
		errs = multierr.Append(errs, fmt.Errorf("limits must not be negative"))
	}

	switch c.Upload.Backend {
	case "walrus":
		if err := validateURL("upload.walrus.publisher_url", c.Upload.Walrus.PublisherURL); err != nil {
			errs = multierr.Append(errs, err)
		}
		if err := validateURL("upload.walrus.aggregator_url", c.Upload.Walrus.AggregatorURL); err != nil {
			errs = multierr.Append(errs, err)
		}
		if c.Upload.Walrus.Epochs <= 0 {
			errs = multierr.Append(errs, fmt.Errorf("upload.walrus.epochs must be positive, got %d", c.Upload.Walrus.Epochs))
		}
	case "ipfs":
		if c.Upload.IPFS.APIURL == "" {
			errs = multierr.Append(errs, fmt.Errorf("upload.ipfs.api_url is required"))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("invalid upload.backend: %s (valid: walrus, ipfs)", c.Upload.Backend))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}
	if c.Watch.Debounce <= 0 {
		c.Watch.Debounce = 2 * time.Second
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		errs = multierr.Append(errs, fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level))
	}
	if f := strings.ToLower(c.Logging.Format); f != "json" && f != "text" {
		errs = multierr.Append(errs, fmt.Errorf("invalid log format: %s (valid: json, text)", c.Logging.Format))
	}

	return errs
}

// MaxFileSize returns the per-file input limit in bytes.
func (l LimitsConfig) MaxFileSize() int64 {
	return int64(l.MaxFileSizeMiB) * mib
}

// MaxBatchMemory returns the batch memory estimate limit in bytes.
func (l LimitsConfig) MaxBatchMemory() uint64 {
	return uint64(l.MaxBatchMemoryMiB) * mib
}

// LargeImageThreshold returns the size above which an image counts as large, in bytes.
func (l LimitsConfig) LargeImageThreshold() int64 {
	return int64(l.LargeImageThresholdMiB) * mib
}

// MinAvailableMemory returns the memory that must stay available, in bytes.
func (l LimitsConfig) MinAvailableMemory() uint64 {
	return uint64(l.MinAvailableMemoryMiB) * mib
}

// Options converts the compression section into validated compressor options.
func (c CompressionConfig) Options() (compressor.CompressionOptions, error) {
	format, err := compressor.ParseFormat(c.Format)
	if err != nil {
		return compressor.CompressionOptions{}, err
	}
	opts := compressor.CompressionOptions{
		Quality:      c.Quality,
		MaxWidth:     c.MaxWidth,
		MaxHeight:    c.MaxHeight,
		OutputFormat: format,
		ThreadCount:  c.Threads,
	}
	if err := opts.Validate(); err != nil {
		return compressor.CompressionOptions{}, err
	}
	return opts, nil
}

// CompressorLimits converts the limits section into byte based limits.
func (l LimitsConfig) CompressorLimits() compressor.Limits {
	return compressor.Limits{
		MaxFileSize:              l.MaxFileSize(),
		MaxBatchFiles:            l.MaxBatchFiles,
		MaxBatchMemory:           l.MaxBatchMemory(),
		LargeImageThreshold:      l.LargeImageThreshold(),
		MaxConcurrentLargeImages: l.MaxConcurrentLargeImages,
		MinAvailableMemory:       l.MinAvailableMemory(),
	}
}

// Helper functions

func validateURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s is not a valid URL: %q", key, raw)
	}
	return nil
}
