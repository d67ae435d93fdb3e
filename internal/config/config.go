package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/drfeelgood/core/internal/modules/journal/applog"
	"github.com/drfeelgood/core/internal/pkg/failure"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigPath is used when --config is not provided.
	DefaultConfigPath = "config.yml"
	defaultPort       = 5000
	defaultEnv        = "development"

	DriverGitHub = "github"
	DriverMemory = "memory"

	defaultMoodPath      = "logs/mood_log.json"
	defaultRemindersPath = "logs/reminders.json"
	maxConflictRetries   = 5
)

// AppConfig holds runtime startup configuration loaded from YAML, .env and the environment.
type AppConfig struct {
	Port           int             `yaml:"port"`
	Env            string          `yaml:"env"` // "development" | "production"
	Timezone       string          `yaml:"timezone"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	RedisURL       string          `yaml:"redis_url"`
	Storage        StorageConfig   `yaml:"storage"`
	GitHub         GitHubConfig    `yaml:"github"`
	Logs           LogsConfig      `yaml:"logs"`
	Reference      ReferenceConfig `yaml:"reference"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
	Bark           BarkConfig      `yaml:"bark"`
	S3             S3Config        `yaml:"s3"`
	Log            LogConfig       `yaml:"log"`
}

type StorageConfig struct {
	Driver string `yaml:"driver"` // "github" | "memory"
}

type GitHubConfig struct {
	Token   string        `yaml:"token"`
	Repo    string        `yaml:"repo"`
	Branch  string        `yaml:"branch"`
	APIURL  string        `yaml:"api_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// LogsConfig locates the two JSON logs in the repository.
type LogsConfig struct {
	MoodPath        string `yaml:"mood_path"`
	RemindersPath   string `yaml:"reminders_path"`
	OnMalformed     string `yaml:"on_malformed"` // "reject" | "reset"
	ConflictRetries int    `yaml:"conflict_retries"`
}

type ReferenceConfig struct {
	ICDAPIURL     string        `yaml:"icd_api_url"`
	ICDHumanURL   string        `yaml:"icd_human_url"`
	DSMURL        string        `yaml:"dsm_url"`
	ICDToken      string        `yaml:"icd_token"`
	NoticePath    string        `yaml:"notice_path"`
	Timeout       time.Duration `yaml:"timeout"`
	CheckInterval time.Duration `yaml:"check_interval"` // 0 disables the scheduled check
}

type RateLimitConfig struct {
	Enable    bool `yaml:"enable"`
	PerSecond int  `yaml:"per_second"`
}

type BarkConfig struct {
	Key              string        `yaml:"key"`
	ServerURL        string        `yaml:"server_url"`
	Group            string        `yaml:"group"`
	ReminderInterval time.Duration `yaml:"reminder_interval"`
}

// S3Config enables log snapshots when Bucket is set.
type S3Config struct {
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	Prefix          string        `yaml:"prefix"`
	PathStyle       bool          `yaml:"path_style"`
	Interval        time.Duration `yaml:"interval"` // 0 disables the scheduled backup
}

type LogConfig struct {
	Level string `yaml:"level"`
	Dir   string `yaml:"dir"`
}

// Load reads configPath when it exists, then .env and the environment, and validates the
// result. A missing config file is not an error; every setting has a default or an
// environment override.
func Load(configPath string) (*AppConfig, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		path = DefaultConfigPath
	}

	cfg := defaultAppConfig()
	content, err := os.ReadFile(path)
	switch {
	case err == nil:
		decoder := yaml.NewDecoder(bytes.NewReader(content))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse config file %q: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist) && path == DefaultConfigPath:
	default:
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}

	_ = godotenv.Load()
	applyEnv(&cfg, os.LookupEnv)
	normalize(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %q: %w", path, err)
	}
	return &cfg, nil
}

func defaultAppConfig() AppConfig {
	return AppConfig{
		Port:    defaultPort,
		Env:     defaultEnv,
		Storage: StorageConfig{Driver: DriverGitHub},
		GitHub: GitHubConfig{
			Branch:  "main",
			Timeout: 10 * time.Second,
		},
		Logs: LogsConfig{
			MoodPath:      defaultMoodPath,
			RemindersPath: defaultRemindersPath,
			OnMalformed:   string(applog.Reject),
		},
		Reference: ReferenceConfig{
			Timeout:       10 * time.Second,
			CheckInterval: 720 * time.Hour,
		},
		RateLimit: RateLimitConfig{PerSecond: 50},
		Bark:      BarkConfig{Group: "feelgood", ReminderInterval: time.Hour},
		S3:        S3Config{Prefix: "feelgood-backups", Interval: 24 * time.Hour},
		Log:       LogConfig{Level: "info"},
	}
}

// applyEnv overrides file values with the deployment environment.
func applyEnv(cfg *AppConfig, lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("GITHUB_TOKEN", &cfg.GitHub.Token)
	str("GITHUB_REPO", &cfg.GitHub.Repo)
	str("GITHUB_BRANCH", &cfg.GitHub.Branch)
	str("REDIS_URL", &cfg.RedisURL)
	str("ICD_API_TOKEN", &cfg.Reference.ICDToken)
	str("BARK_KEY", &cfg.Bark.Key)
	str("FEELGOOD_ENV", &cfg.Env)
	str("FEELGOOD_STORAGE_DRIVER", &cfg.Storage.Driver)
	str("AWS_ACCESS_KEY_ID", &cfg.S3.AccessKeyID)
	str("AWS_SECRET_ACCESS_KEY", &cfg.S3.SecretAccessKey)

	var port string
	str("PORT", &port)
	if port != "" {
		if n, err := strconv.Atoi(port); err == nil {
			cfg.Port = n
		} else {
			cfg.Port = -1
		}
	}
}

// Validate reports the first unusable setting. Missing credentials are reported as
// failure.ConfigurationMissing.
func (c *AppConfig) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d, expected 1-65535", c.Port)
	}
	switch c.Storage.Driver {
	case DriverGitHub:
		if c.GitHub.Token == "" {
			return failure.New(failure.ConfigurationMissing, "config", "github.token (GITHUB_TOKEN) is required for the github storage driver")
		}
		if c.GitHub.Repo == "" || strings.Count(c.GitHub.Repo, "/") != 1 {
			return failure.New(failure.ConfigurationMissing, "config", "github.repo (GITHUB_REPO) must be \"owner/name\", got %q", c.GitHub.Repo)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("invalid storage.driver %q, expected github or memory", c.Storage.Driver)
	}
	if _, err := applog.ParsePolicy(c.Logs.OnMalformed); err != nil {
		return fmt.Errorf("invalid logs.on_malformed: %w", err)
	}
	if c.Logs.ConflictRetries < 0 || c.Logs.ConflictRetries > maxConflictRetries {
		return fmt.Errorf("invalid logs.conflict_retries %d, expected 0-%d", c.Logs.ConflictRetries, maxConflictRetries)
	}
	if c.Logs.MoodPath == c.Logs.RemindersPath {
		return fmt.Errorf("logs.mood_path and logs.reminders_path must differ")
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}
	if c.S3.Bucket != "" && c.S3.Region == "" {
		return failure.New(failure.ConfigurationMissing, "config", "s3.region is required when s3.bucket is set")
	}
	if c.RateLimit.PerSecond < 1 {
		return fmt.Errorf("invalid rate_limit.per_second %d, expected >= 1", c.RateLimit.PerSecond)
	}
	return nil
}

func (c *AppConfig) IsDev() bool {
	return c.Env == "development"
}

// Location returns the configured timezone, or the local one when unset. It accepts an
// IANA zone name or a fixed UTC offset such as +08:00.
func (c *AppConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(c.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	if loc, err := time.LoadLocation(tz); err == nil {
		return loc, nil
	}
	if len(tz) == 6 && (tz[0] == '+' || tz[0] == '-') && tz[3] == ':' {
		h, errH := strconv.Atoi(tz[1:3])
		m, errM := strconv.Atoi(tz[4:6])
		if errH == nil && errM == nil && h <= 23 && m <= 59 {
			offset := h*3600 + m*60
			if tz[0] == '-' {
				offset = -offset
			}
			return time.FixedZone(tz, offset), nil
		}
	}
	return nil, fmt.Errorf("expect IANA zone (e.g. Europe/Berlin) or UTC offset (e.g. +08:00)")
}

// MalformedPolicy returns the parsed logs.on_malformed value.
func (c *AppConfig) MalformedPolicy() applog.MalformedPolicy {
	p, _ := applog.ParsePolicy(c.Logs.OnMalformed)
	return p
}

// BackupEnabled reports whether an S3 bucket is configured.
func (c *AppConfig) BackupEnabled() bool {
	return c.S3.Bucket != ""
}
