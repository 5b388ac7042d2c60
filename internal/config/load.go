package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// TENDERSCAN_STORE_DSN or TENDERSCAN_CLOUD_SECRET_KEY.
const EnvPrefix = "TENDERSCAN"

// Load reads configuration into a Config. Precedence, highest first: flags
// bound on v, environment (a .env file in the working directory is loaded
// first if present), the config file at path, defaults.
func Load(v *viper.Viper, path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("failed to load .env: %w", err)
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("work_dir", d.WorkDir)
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("store_dsn", d.StoreDSN)
	v.SetDefault("journal_path", d.JournalPath)
	v.SetDefault("workers", d.NumWorkers)
	v.SetDefault("file_workers", d.FileWorkers)
	v.SetDefault("worker_id", "")
	v.SetDefault("manifest", "")
	v.SetDefault("catalog", "")
	v.SetDefault("stop_phrases", "")
	v.SetDefault("lock_ttl", d.LockTTL)
	v.SetDefault("retry_attempts", d.RetryAttempts)
	v.SetDefault("retry_delay", d.RetryDelay)
	v.SetDefault("reprocess", false)
	v.SetDefault("keep_files", false)

	v.SetDefault("match.min_score", d.Match.MinScore)
	v.SetDefault("match.max_matches", d.Match.MaxMatches)
	v.SetDefault("match.context_columns", d.Match.ContextColumns)

	v.SetDefault("verify.mode", d.Verify.Mode)
	v.SetDefault("verify.max_cells", d.Verify.MaxCells)
	v.SetDefault("verify.timeout", d.Verify.Timeout)
	v.SetDefault("verify.max_memory_share", d.Verify.MaxMemoryShare)

	v.SetDefault("tools.unrar", d.Tools.Unrar)
	v.SetDefault("tools.seven_zip", d.Tools.SevenZip)

	v.SetDefault("download.user_agent", d.Download.UserAgent)
	v.SetDefault("download.concurrency", d.Download.Concurrency)
	v.SetDefault("download.min_timeout", d.Download.MinTimeout)
	v.SetDefault("download.max_timeout", d.Download.MaxTimeout)
	v.SetDefault("download.bytes_per_second", d.Download.BytesPerSecond)

	// Keys without defaults are invisible to AutomaticEnv during Unmarshal.
	v.SetDefault("cloud.endpoint", d.Cloud.Endpoint)
	v.SetDefault("cloud.access_key", d.Cloud.AccessKey)
	v.SetDefault("cloud.secret_key", d.Cloud.SecretKey)
	v.SetDefault("cloud.bucket", d.Cloud.Bucket)
	v.SetDefault("cloud.use_ssl", d.Cloud.UseSSL)
}

// Validate checks the settings the pipeline cannot run without.
func (c Config) Validate() error {
	var errs []error
	if c.WorkDir == "" {
		errs = append(errs, errors.New("work_dir is required"))
	}
	if c.StoreDSN == "" {
		errs = append(errs, errors.New("store_dsn is required"))
	}
	if c.NumWorkers < 1 {
		errs = append(errs, fmt.Errorf("workers must be positive, got %d", c.NumWorkers))
	}
	if c.FileWorkers < 1 {
		errs = append(errs, fmt.Errorf("file_workers must be positive, got %d", c.FileWorkers))
	}
	if c.RetryAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry_attempts must be at least 1, got %d", c.RetryAttempts))
	}
	if c.LockTTL <= 0 {
		errs = append(errs, errors.New("lock_ttl must be positive"))
	}
	if c.Match.MinScore < 0 || c.Match.MinScore > 100 {
		errs = append(errs, fmt.Errorf("match.min_score must be within 0..100, got %v", c.Match.MinScore))
	}
	switch c.Verify.Mode {
	case "process", "inline", "off":
	default:
		errs = append(errs, fmt.Errorf("verify.mode must be process, inline or off, got %q", c.Verify.Mode))
	}
	return errors.Join(errs...)
}
