package config

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

const envPrefix = "DAVKEEP"

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Remote   RemoteConfig   `mapstructure:"remote"`
	Rotation RotationConfig `mapstructure:"rotation"`
	Jobs     []JobConfig    `mapstructure:"jobs"`
	Cleanup  CleanupConfig  `mapstructure:"cleanup"`
	Notify   NotifyConfig   `mapstructure:"notify"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type AppConfig struct {
	Name          string `mapstructure:"name"`
	LogLevel      string `mapstructure:"log_level"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`
}

type RemoteConfig struct {
	Type      string `mapstructure:"type"`
	Directory string `mapstructure:"directory"`

	WebDAV WebDAVConfig `mapstructure:"webdav"`
	S3     S3Config     `mapstructure:"s3"`
	GDrive GDriveConfig `mapstructure:"gdrive"`
	Local  LocalConfig  `mapstructure:"local"`
}

type WebDAVConfig struct {
	URL      string `mapstructure:"url"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	// ProxyURL overrides the HTTP(S)_PROXY environment settings.
	ProxyURL string        `mapstructure:"proxy_url"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type S3Config struct {
	Region       string `mapstructure:"region"`
	Bucket       string `mapstructure:"bucket"`
	AccessKey    string `mapstructure:"access_key"`
	SecretKey    string `mapstructure:"secret_key"`
	Prefix       string `mapstructure:"prefix"`
	Endpoint     string `mapstructure:"endpoint"`
	UsePathStyle bool   `mapstructure:"use_path_style"`
}

type GDriveConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	FolderID        string `mapstructure:"folder_id"`
}

type LocalConfig struct {
	BasePath string `mapstructure:"base_path"`
}

type RotationConfig struct {
	Retention int           `mapstructure:"retention"`
	UTCOffset time.Duration `mapstructure:"utc_offset"`
}

type JobConfig struct {
	Name     string `mapstructure:"name"`
	Source   string `mapstructure:"source"`
	Filename string `mapstructure:"filename"`
	Schedule string `mapstructure:"schedule"`
	Enabled  bool   `mapstructure:"enabled"`
}

type CleanupConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type TelegramConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	BotToken     string `mapstructure:"bot_token"`
	ChatID       string `mapstructure:"chat_id"`
	SendFile     bool   `mapstructure:"send_file"`
	FailuresOnly bool   `mapstructure:"failures_only"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// Load reads the YAML file at path. Values can be overridden from the
// environment as DAVKEEP_SECTION_KEY; envFile (or ./.env when empty) is
// loaded into the environment first.
func Load(path, envFile string) (*Config, error) {
	if err := loadEnvFile(envFile); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyJobDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "davkeep")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("remote.type", "webdav")
	v.SetDefault("remote.directory", "/backups")
	v.SetDefault("rotation.retention", 10)
	v.SetDefault("rotation.utc_offset", 8*time.Hour)
	v.SetDefault("cleanup.enabled", true)
	v.SetDefault("cleanup.schedule", "0 0 3 * * *")
	v.SetDefault("metrics.listen", ":9109")

	// Secrets are usually supplied through the environment only; a default
	// makes the key known to viper so AutomaticEnv applies on Unmarshal.
	for _, key := range []string{
		"remote.webdav.url",
		"remote.webdav.username",
		"remote.webdav.password",
		"remote.s3.access_key",
		"remote.s3.secret_key",
		"notify.telegram.bot_token",
		"notify.telegram.chat_id",
	} {
		v.SetDefault(key, "")
	}
}

func loadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}

	if err := godotenv.Load(path); err != nil {
		if !explicit && errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyJobDefaults() {
	for i := range c.Jobs {
		if c.Jobs[i].Filename == "" && c.Jobs[i].Source != "" {
			c.Jobs[i].Filename = filepath.Base(c.Jobs[i].Source)
		}
	}
}

var cronParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func (c *Config) Validate() error {
	if err := c.Remote.validate(); err != nil {
		return err
	}

	if c.Rotation.Retention < 1 {
		return fmt.Errorf("rotation.retention must be at least 1")
	}

	names := make(map[string]bool)
	filenames := make(map[string]bool)

	for i, job := range c.Jobs {
		if job.Name == "" {
			return fmt.Errorf("jobs[%d]: name is required", i)
		}
		if job.Source == "" {
			return fmt.Errorf("jobs[%d]: source is required", i)
		}
		if strings.ContainsAny(job.Filename, "/\\") {
			return fmt.Errorf("jobs[%d]: filename must not contain path separators", i)
		}
		if names[job.Name] {
			return fmt.Errorf("jobs[%d]: duplicate name %q", i, job.Name)
		}
		if filenames[job.Filename] {
			return fmt.Errorf("jobs[%d]: filename %q is used by another job", i, job.Filename)
		}
		names[job.Name] = true
		filenames[job.Filename] = true

		if job.Enabled {
			if job.Schedule == "" {
				return fmt.Errorf("jobs[%d]: schedule is required when enabled", i)
			}
			if _, err := cronParser.Parse(job.Schedule); err != nil {
				return fmt.Errorf("jobs[%d]: invalid schedule: %w", i, err)
			}
		}
	}

	if c.Cleanup.Enabled {
		if _, err := cronParser.Parse(c.Cleanup.Schedule); err != nil {
			return fmt.Errorf("cleanup.schedule is invalid: %w", err)
		}
	}

	if tg := c.Notify.Telegram; tg.Enabled {
		if tg.BotToken == "" {
			return fmt.Errorf("notify.telegram.bot_token is required when enabled")
		}
		if _, err := strconv.ParseInt(tg.ChatID, 10, 64); err != nil {
			return fmt.Errorf("notify.telegram.chat_id must be numeric")
		}
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		return fmt.Errorf("metrics.listen is required when enabled")
	}

	return nil
}

func (r *RemoteConfig) validate() error {
	if r.Directory == "" {
		return fmt.Errorf("remote.directory is required")
	}

	switch r.Type {
	case "webdav":
		if r.WebDAV.URL == "" {
			return fmt.Errorf("remote.webdav.url is required")
		}
	case "s3":
		if r.S3.Bucket == "" {
			return fmt.Errorf("remote.s3.bucket is required")
		}
		if r.S3.Region == "" {
			return fmt.Errorf("remote.s3.region is required")
		}
	case "gdrive":
		if r.GDrive.CredentialsFile == "" {
			return fmt.Errorf("remote.gdrive.credentials_file is required")
		}
		if r.GDrive.FolderID == "" {
			return fmt.Errorf("remote.gdrive.folder_id is required")
		}
	case "local":
		if r.Local.BasePath == "" {
			return fmt.Errorf("remote.local.base_path is required")
		}
	default:
		return fmt.Errorf("remote.type %q is not supported", r.Type)
	}

	return nil
}

func (c *Config) GetEnabledJobs() []JobConfig {
	var enabled []JobConfig
	for _, job := range c.Jobs {
		if job.Enabled {
			enabled = append(enabled, job)
		}
	}
	return enabled
}

func (c *Config) FindJob(name string) (JobConfig, bool) {
	for _, job := range c.Jobs {
		if job.Name == name {
			return job, true
		}
	}
	return JobConfig{}, false
}
