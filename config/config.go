// Package config contains code to set the default values and read
// config files to be used throughout the whole application
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/spf13/pflag"
	v "github.com/spf13/viper"
)

var (
	runReconcile      = pflag.Bool("reconcile", false, "Runs one reconciliation pass and exits")
	validLogLevels    = []string{"debug", "info", "warn", "error", "fatal"}
	validStoreDrivers = []string{"sqlite", "postgres"}
)

// ReconcileOnce reports whether the process was started for a single
// reconciliation pass instead of serving.
func ReconcileOnce() bool {
	return *runReconcile
}

func genSecret() string {
	b := make([]byte, 64)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// Setup prepares everything config-related so that the app can
// start working. Function will return an error if something
// is critically wrong and the application can't run because of
// that.
func Setup() error {
	pflag.Parse()
	v.BindPFlags(pflag.CommandLine)

	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(".")

	v.AutomaticEnv()

	//
	// ENVS
	//
	v.BindEnv("app.log_level", "app_log_level")

	v.BindEnv("host.port", "host_port")
	v.BindEnv("host.domain", "host_domain")

	v.BindEnv("store.driver", "store_driver")
	v.BindEnv("store.dsn", "store_dsn")

	v.BindEnv("token.secret", "token_secret")
	v.BindEnv("token.secret_salt", "token_secret_salt")
	v.BindEnv("token.ttl", "token_ttl")
	v.BindEnv("token.rate_limit", "token_rate_limit")
	v.BindEnv("token.retention_per_pair", "token_retention_per_pair")

	v.BindEnv("authz.cache_ttl", "authz_cache_ttl")

	v.BindEnv("queue.batch_size", "queue_batch_size")
	v.BindEnv("queue.max_attempts", "queue_max_attempts")
	v.BindEnv("queue.backoff_base", "queue_backoff_base")
	v.BindEnv("queue.backoff_cap", "queue_backoff_cap")
	v.BindEnv("queue.retention", "queue_retention")
	v.BindEnv("queue.drain_deadline", "queue_drain_deadline")

	v.BindEnv("reconcile.stuck_after", "reconcile_stuck_after")
	v.BindEnv("reconcile.page_size", "reconcile_page_size")

	v.BindEnv("upload.max_size", "upload_max_size")

	v.BindEnv("remote.access_key_id", "remote_access_key_id")
	v.BindEnv("remote.secret_access_key", "remote_secret_access_key")
	v.BindEnv("remote.bucket", "remote_bucket")
	v.BindEnv("remote.region", "remote_region")

	//
	// Defaults
	//
	v.SetDefault("app.log_level", "info")

	v.SetDefault("host.port", 8080)
	v.SetDefault("host.domain", "localhost")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.dsn", "database.db")

	v.SetDefault("token.ttl", time.Hour)
	v.SetDefault("token.secret_salt", "stream-vault")
	v.SetDefault("token.rate_limit", 120)
	v.SetDefault("token.retention_per_pair", 5)

	v.SetDefault("authz.cache_ttl", 5*time.Minute)

	v.SetDefault("queue.batch_size", 25)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff_base", time.Minute)
	v.SetDefault("queue.backoff_cap", time.Hour)
	v.SetDefault("queue.retention", 24*time.Hour)
	v.SetDefault("queue.drain_deadline", 15*time.Minute)

	v.SetDefault("reconcile.stuck_after", 2*time.Hour)
	v.SetDefault("reconcile.page_size", 1000)

	v.SetDefault("upload.max_size", 500)

	v.SetDefault("schedule.drain", "@every 1m")
	v.SetDefault("schedule.reconcile", "@hourly")
	v.SetDefault("schedule.token_sweep", "@every 10m")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(v.ConfigFileNotFoundError); ok {
			return errors.New("config.toml file is missing")
		}

		return fmt.Errorf("failed to read config file, %w", err)
	}

	if !slices.Contains(validLogLevels, v.GetString("app.log_level")) {
		return errors.New("invalid log level provided")
	}

	if v.GetInt("host.port") <= 0 {
		return errors.New("invalid port provided")
	}

	if !slices.Contains(validStoreDrivers, v.GetString("store.driver")) {
		return errors.New("invalid store driver provided")
	}

	if v.GetString("store.dsn") == "" {
		return errors.New("store DSN can't be empty")
	}

	if v.GetString("token.secret") == "" {
		fmt.Println("WARNING: You haven't set a token secret, so one has been generated for you. Please set it as an environment variable or in the config.toml file.\nYour random token secret:\n\n" + genSecret() + "\n\nPaste it into your config.toml file.")
		os.Exit(0)
	}

	ttl := v.GetDuration("token.ttl")
	if ttl < 5*time.Minute || ttl > 24*time.Hour {
		return errors.New("token.ttl must be between 5 minutes and 24 hours")
	}

	if v.GetInt("token.rate_limit") < 0 {
		return errors.New("token.rate_limit can't be negative")
	}

	if v.GetDuration("authz.cache_ttl") > 5*time.Minute {
		return errors.New("authz.cache_ttl above 5 minutes is too stale to be safe")
	}

	if v.GetInt("queue.batch_size") <= 0 {
		return errors.New("queue.batch_size must be bigger than 0")
	}

	if v.GetInt("queue.max_attempts") <= 0 {
		return errors.New("queue.max_attempts must be bigger than 0")
	}

	if v.GetDuration("queue.backoff_base") <= 0 {
		return errors.New("queue.backoff_base must be bigger than 0")
	}

	if v.GetDuration("queue.backoff_cap") < v.GetDuration("queue.backoff_base") {
		return errors.New("queue.backoff_cap can't be smaller than queue.backoff_base")
	}

	if v.GetDuration("reconcile.stuck_after") <= 0 {
		return errors.New("reconcile.stuck_after must be bigger than 0")
	}

	if v.GetInt("reconcile.page_size") <= 0 {
		return errors.New("reconcile.page_size must be bigger than 0")
	}

	if v.GetString("remote.access_key_id") == "" {
		return errors.New("remote access key id can't be empty")
	}
	if v.GetString("remote.secret_access_key") == "" {
		return errors.New("remote secret access key can't be empty")
	}
	if v.GetString("remote.bucket") == "" {
		return errors.New("remote bucket can't be empty")
	}

	if v.GetInt("upload.max_size") <= 0 {
		return errors.New("upload.max_size must be bigger than 0")
	}

	v.Set("upload.max_size", v.GetInt64("upload.max_size")<<20)
	return nil
}
