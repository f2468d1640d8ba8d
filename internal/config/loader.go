package config

import (
	"time"

	"github.com/spf13/viper"

	"github.com/ttavares/comexsync/internal/backfill"
	"github.com/ttavares/comexsync/internal/db"
)

// Config is the full runtime configuration: canonical store, local cache and
// backfill tuning.
type Config struct {
	Database  db.Config
	CachePath string
	Backfill  backfill.Config
}

// Load reads config.yaml from configPath (optional) with COMEXSYNC_-prefixed
// environment overrides, on top of defaults.
func Load(configPath string) (Config, error) {
	cfg := Config{
		Database:  db.DefaultConfig(),
		CachePath: "comexsync-cache.db",
		Backfill:  backfill.DefaultConfig(),
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("COMEXSYNC")

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("cache.path")

	// Missing config.yaml is fine: defaults plus env vars stand on their own.
	_ = v.ReadInConfig()

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}
	if v.IsSet("cache.path") {
		cfg.CachePath = v.GetString("cache.path")
	}
	if v.IsSet("backfill.batch_size") {
		cfg.Backfill.BatchSize = v.GetInt("backfill.batch_size")
	}
	if v.IsSet("backfill.retry_limit") {
		cfg.Backfill.RetryLimit = v.GetInt("backfill.retry_limit")
	}
	if v.IsSet("backfill.retry_base_ms") {
		cfg.Backfill.RetryBase = time.Duration(v.GetInt("backfill.retry_base_ms")) * time.Millisecond
	}
	if v.IsSet("backfill.throttle_ms") {
		cfg.Backfill.Throttle = time.Duration(v.GetInt("backfill.throttle_ms")) * time.Millisecond
	}

	return cfg, nil
}
