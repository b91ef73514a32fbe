package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"s3sync/internal/domain"
)

const EnvPrefix = "S3SYNC"

// Config holds application level configuration aggregated from env/config files.
type Config struct {
	AWS struct {
		AccessKeyID     string `mapstructure:"access_key_id"`
		SecretAccessKey string `mapstructure:"secret_access_key"`
		Host            string
		Region          string
		Profile         string
	}
	Storage struct {
		Bucket  string
		Prefix  string
		BaseURL string `mapstructure:"base_url"`
	}
	Media struct {
		Root       string
		BaseURL    string `mapstructure:"base_url"`
		Production bool
	}
	Sync struct {
		Exclude       []string
		Force         bool
		RemoveMissing bool `mapstructure:"remove_missing"`
		DryRun        bool `mapstructure:"dry_run"`
		Gzip          bool
		Expires       bool
	}
	Cache struct {
		Driver           string
		Path             string
		PendingKey       string `mapstructure:"pending_key"`
		PendingDeleteKey string `mapstructure:"pending_delete_key"`
	}
	Server struct {
		Addr      string
		JWTSecret string `mapstructure:"jwt_secret"`
	}
	Schedule struct {
		Media   string
		Pending string
	}
	Notify struct {
		Topic  string
		Region string
	}
	Log struct {
		Level string
		File  string
	}
	Verbosity int
}

// NewViper returns a viper instance with the env binding and defaults in
// place. Callers may bind flags to it before calling Load.
func NewViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("aws.access_key_id", "")
	v.SetDefault("aws.secret_access_key", "")
	v.SetDefault("aws.host", "")
	v.SetDefault("aws.region", "us-east-1")
	v.SetDefault("aws.profile", "")
	v.SetDefault("storage.bucket", "")
	v.SetDefault("storage.prefix", "")
	v.SetDefault("storage.base_url", "")
	v.SetDefault("media.root", "")
	v.SetDefault("media.base_url", "/media/")
	v.SetDefault("media.production", false)
	v.SetDefault("sync.exclude", []string{})
	v.SetDefault("sync.force", false)
	v.SetDefault("sync.remove_missing", false)
	v.SetDefault("sync.dry_run", false)
	v.SetDefault("sync.gzip", false)
	v.SetDefault("sync.expires", false)
	v.SetDefault("cache.driver", "sqlite")
	v.SetDefault("cache.path", "data/s3sync.db")
	v.SetDefault("cache.pending_key", "s3-pending")
	v.SetDefault("cache.pending_delete_key", "s3-pending-delete")
	v.SetDefault("server.addr", "0.0.0.0:8080")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("schedule.media", "")
	v.SetDefault("schedule.pending", "")
	v.SetDefault("notify.topic", "")
	v.SetDefault("notify.region", "")
	v.SetDefault("log.level", "")
	v.SetDefault("log.file", "")
	v.SetDefault("verbosity", 1)
	return v
}

// Load reads configuration from environment variables and an optional
// config file. An explicit file must exist; otherwise config.{yaml,toml,json}
// in the working directory is used when present.
func Load(v *viper.Viper, file string) (Config, error) {
	loadDotEnv(".env")

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", file, err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Storage.Prefix = strings.Trim(cfg.Storage.Prefix, "/")
	return cfg, nil
}

// ValidateSync checks what both sync engines need before touching the bucket.
func (c Config) ValidateSync() error {
	if c.AWS.Profile == "" && (c.AWS.AccessKeyID == "" || c.AWS.SecretAccessKey == "") {
		return domain.MissingConfig("aws.access_key_id/aws.secret_access_key",
			"set S3SYNC_AWS_ACCESS_KEY_ID and S3SYNC_AWS_SECRET_ACCESS_KEY, or aws.profile")
	}
	if c.Storage.Bucket == "" {
		return domain.MissingConfig("storage.bucket", "set S3SYNC_STORAGE_BUCKET")
	}
	return c.ValidateMedia()
}

// ValidateMedia checks what the local media storage needs.
func (c Config) ValidateMedia() error {
	if c.Media.Root == "" {
		return domain.MissingConfig("media.root", "set S3SYNC_MEDIA_ROOT to the local media directory")
	}
	return nil
}

// BucketBaseURL is the public URL objects are served from once uploaded.
func (c Config) BucketBaseURL() string {
	if c.Storage.BaseURL != "" {
		return c.Storage.BaseURL
	}
	if c.Storage.Bucket == "" {
		return ""
	}
	base := "https://" + c.Storage.Bucket + ".s3.amazonaws.com/"
	if c.Storage.Prefix != "" {
		base += c.Storage.Prefix + "/"
	}
	return base
}

// loadDotEnv exports KEY=VALUE lines from path without overriding the
// existing environment.
func loadDotEnv(path string) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimPrefix(line, "export ")

		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		value = strings.Trim(strings.TrimSpace(value), `"'`)

		if _, exists := os.LookupEnv(key); !exists {
			_ = os.Setenv(key, value)
		}
	}
}
