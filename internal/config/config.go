// Package config provides configuration management for drift using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxIdleTime = 30 * time.Minute

	defaultProbeTimeout        = 30 * time.Second
	defaultProbeCacheTTL       = 7 * 24 * time.Hour
	defaultKeyframeWindowSecs  = 30
	defaultMaxConcurrent       = 3
	defaultMaxQueueDepth       = 10
	defaultInteractiveTimeout  = 30 * time.Second
	defaultNormalTimeout       = 2 * time.Minute
	defaultBackgroundTimeout   = 10 * time.Minute
	defaultStarvationThreshold = 90 * time.Second
	defaultSweepInterval       = 10 * time.Second
	defaultFailureThreshold    = 3
	defaultPoisonThreshold     = 5
	defaultDecayWindow         = 7 * 24 * time.Hour
	defaultRehabSuccesses      = 3
	defaultSessionIdleTimeout  = 5 * time.Minute
	defaultSegmentDuration     = 4 * time.Second
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Probe     ProbeConfig     `mapstructure:"probe"`
	Admission AdmissionConfig `mapstructure:"admission"`
	Disk      DiskConfig      `mapstructure:"disk"`
	Health    HealthConfig    `mapstructure:"health"`
	Encoder   EncoderConfig   `mapstructure:"encoder"`
	Session   SessionConfig   `mapstructure:"session"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	BaseURL         string        `mapstructure:"base_url"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`  // debug, info, warn, error
	Format    string `mapstructure:"format"` // json, text
	AddSource bool   `mapstructure:"add_source"`
}

// ProbeConfig holds media probing configuration.
type ProbeConfig struct {
	FFprobePath string        `mapstructure:"ffprobe_path"` // empty = find on PATH
	Timeout     time.Duration `mapstructure:"timeout"`
	CacheTTL    Duration      `mapstructure:"cache_ttl"`
	// KeyframeWindowSeconds is the length of each sampled region (start,
	// middle, end) used for keyframe interval analysis.
	KeyframeWindowSeconds int `mapstructure:"keyframe_window_seconds"`
}

// AdmissionConfig holds transcode admission control configuration.
type AdmissionConfig struct {
	MaxConcurrent       int           `mapstructure:"max_concurrent"`
	MaxQueueDepth       int           `mapstructure:"max_queue_depth"`
	InteractiveTimeout  time.Duration `mapstructure:"interactive_timeout"`
	NormalTimeout       time.Duration `mapstructure:"normal_timeout"`
	BackgroundTimeout   time.Duration `mapstructure:"background_timeout"`
	StarvationThreshold time.Duration `mapstructure:"starvation_threshold"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
}

// DiskConfig holds transcode scratch space configuration.
type DiskConfig struct {
	TranscodeDir string `mapstructure:"transcode_dir"`
	// WarningFree and CriticalFree are free-space thresholds. Below warning,
	// background admissions are denied; below critical, all admissions are.
	WarningFree  ByteSize `mapstructure:"warning_free"`
	CriticalFree ByteSize `mapstructure:"critical_free"`
	// TotalCacheMax bounds transcode cache growth; over budget, background
	// admissions are denied until the reaper trims it back. Zero disables.
	TotalCacheMax ByteSize `mapstructure:"total_cache_max"`
}

// HealthConfig holds media health tracking configuration.
type HealthConfig struct {
	FailureThreshold int      `mapstructure:"failure_threshold"`
	PoisonThreshold  int      `mapstructure:"poison_threshold"`
	DecayWindow      Duration `mapstructure:"decay_window"`
	RehabSuccesses   int      `mapstructure:"rehab_successes"`
}

// EncoderConfig describes the server's encoding capabilities.
type EncoderConfig struct {
	FFmpegPath       string            `mapstructure:"ffmpeg_path"` // empty = find on PATH
	HardwareEncoders []string          `mapstructure:"hardware_encoders"`
	Filters          []string          `mapstructure:"filters"`
	DolbyVision      DolbyVisionConfig `mapstructure:"dolby_vision"`
}

// DolbyVisionConfig describes what the local toolchain can do with
// Dolby Vision sources.
type DolbyVisionConfig struct {
	ExtractBaseLayer bool `mapstructure:"extract_base_layer"`
	ConvertHDR10     bool `mapstructure:"convert_hdr10"`
	Tonemap          bool `mapstructure:"tonemap"`
}

// SessionConfig holds playback session configuration.
type SessionConfig struct {
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	SegmentDuration time.Duration `mapstructure:"segment_duration"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration and are
// prefixed with DRIFT_, using underscores for nesting:
// DRIFT_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/drift")
		v.AddConfigPath("$HOME/.drift")
	}

	v.SetEnvPrefix("DRIFT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// No config file is fine, defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// Call before reading the config file so defaults are in place.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.base_url", "")
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "drift.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)

	v.SetDefault("probe.ffprobe_path", "")
	v.SetDefault("probe.timeout", defaultProbeTimeout)
	v.SetDefault("probe.cache_ttl", defaultProbeCacheTTL)
	v.SetDefault("probe.keyframe_window_seconds", defaultKeyframeWindowSecs)

	v.SetDefault("admission.max_concurrent", defaultMaxConcurrent)
	v.SetDefault("admission.max_queue_depth", defaultMaxQueueDepth)
	v.SetDefault("admission.interactive_timeout", defaultInteractiveTimeout)
	v.SetDefault("admission.normal_timeout", defaultNormalTimeout)
	v.SetDefault("admission.background_timeout", defaultBackgroundTimeout)
	v.SetDefault("admission.starvation_threshold", defaultStarvationThreshold)
	v.SetDefault("admission.sweep_interval", defaultSweepInterval)

	v.SetDefault("disk.transcode_dir", "./data/transcode")
	v.SetDefault("disk.warning_free", "5GB")
	v.SetDefault("disk.critical_free", "1GB")
	v.SetDefault("disk.total_cache_max", "100GB")

	v.SetDefault("health.failure_threshold", defaultFailureThreshold)
	v.SetDefault("health.poison_threshold", defaultPoisonThreshold)
	v.SetDefault("health.decay_window", defaultDecayWindow)
	v.SetDefault("health.rehab_successes", defaultRehabSuccesses)

	v.SetDefault("encoder.ffmpeg_path", "")
	v.SetDefault("encoder.hardware_encoders", []string{})
	v.SetDefault("encoder.filters", []string{"scale", "yadif", "fps", "tonemap", "loudnorm"})
	v.SetDefault("encoder.dolby_vision.extract_base_layer", true)
	v.SetDefault("encoder.dolby_vision.convert_hdr10", true)
	v.SetDefault("encoder.dolby_vision.tonemap", true)

	v.SetDefault("session.idle_timeout", defaultSessionIdleTimeout)
	v.SetDefault("session.segment_duration", defaultSegmentDuration)
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Admission.MaxConcurrent < 1 {
		return fmt.Errorf("admission.max_concurrent must be at least 1")
	}
	if c.Admission.MaxQueueDepth < 0 {
		return fmt.Errorf("admission.max_queue_depth must not be negative")
	}

	if c.Disk.TranscodeDir == "" {
		return fmt.Errorf("disk.transcode_dir is required")
	}
	if c.Disk.CriticalFree > c.Disk.WarningFree {
		return fmt.Errorf("disk.critical_free must not exceed disk.warning_free")
	}

	if c.Health.FailureThreshold < 1 {
		return fmt.Errorf("health.failure_threshold must be at least 1")
	}
	if c.Health.PoisonThreshold < c.Health.FailureThreshold {
		return fmt.Errorf("health.poison_threshold must not be below health.failure_threshold")
	}

	if c.Session.SegmentDuration < time.Second {
		return fmt.Errorf("session.segment_duration must be at least 1s")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Timeout returns the queue-wait timeout for the given priority name.
func (c *AdmissionConfig) Timeout(priority string) time.Duration {
	switch priority {
	case "interactive":
		return c.InteractiveTimeout
	case "background":
		return c.BackgroundTimeout
	default:
		return c.NormalTimeout
	}
}
