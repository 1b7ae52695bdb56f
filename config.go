package redisom

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/redis/go-redis/v9"
)

// Default environment variable names honored by Connect and the migration
// CLI, per spec.md §6.2.
const (
	EnvRedisURL       = "REDIS_OM_URL"
	EnvMigrationsDir  = "REDIS_OM_MIGRATIONS_DIR"
	defaultMigrations = "migrations"
)

// Connect builds a *redis.Client from REDIS_OM_URL (or the given override),
// delegating URL parsing to go-redis's own redis.ParseURL rather than a
// hand-rolled parser — the library already understands the
// redis[s]://user:pass@host:port/db and unix://... forms spec.md §6.2 names.
func Connect(url string) (*redis.Client, error) {
	if url == "" {
		url = os.Getenv(EnvRedisURL)
	}
	if url == "" {
		url = "redis://localhost:6379/0"
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, &ConnectionError{Op: "parse " + EnvRedisURL, Err: err}
	}
	return redis.NewClient(opts), nil
}

// MigrationsDir resolves the migrations root directory per spec.md §6.2/§6.4,
// defaulting to "migrations" relative to the process working directory.
func MigrationsDir(override string) string {
	if override != "" {
		return override
	}
	if v := os.Getenv(EnvMigrationsDir); v != "" {
		return v
	}
	return defaultMigrations
}

// RunConfig holds the data-migration run defaults loadable from
// "<migrations_dir>/migrate.toml", per spec.md §4.9/§6.6. Zero values mean
// "not set in the file"; RunOptions fields left unset keep runOne's own
// defaults (batch size 1000, progress interval 100, fail-fast).
type RunConfig struct {
	BatchSize            int    `toml:"batch_size"`
	ProgressSaveInterval int    `toml:"progress_save_interval"`
	FailureMode          string `toml:"failure_mode"`
	MaxErrors            int    `toml:"max_errors"`
}

// LoadRunConfig reads "<migrationsDir>/migrate.toml" if present. A missing
// file is not an error: the defaults built into DataMigrator.runOne apply.
func LoadRunConfig(migrationsDir string) (RunConfig, error) {
	var cfg RunConfig
	path := filepath.Join(migrationsDir, "migrate.toml")
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, &MigrationError{Err: err}
	}
	return cfg, nil
}

// ApplyTo overlays cfg's non-zero fields onto opts, letting CLI flags
// (passed in as opts) win over file-configured defaults: a flag explicitly
// set on the command line should not be silently overridden, so callers
// apply the file's config first and then flags, or skip fields already set.
func (cfg RunConfig) ApplyTo(opts RunOptions) RunOptions {
	if opts.BatchSize == 0 {
		opts.BatchSize = cfg.BatchSize
	}
	if opts.ProgressSaveInterval == 0 {
		opts.ProgressSaveInterval = cfg.ProgressSaveInterval
	}
	if opts.FailureMode == "" && cfg.FailureMode != "" {
		opts.FailureMode = FailureMode(cfg.FailureMode)
	}
	if opts.MaxErrors == 0 {
		opts.MaxErrors = cfg.MaxErrors
	}
	return opts
}
