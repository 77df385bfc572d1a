// Package config holds process-wide settings read from the environment:
// a plain struct plus a Default() constructor, with env vars as the
// source of truth since this config governs the process itself, not
// per-user preferences.
package config

import (
	"os"
	"strconv"
)

// Config holds the process settings for the forecasting engine.
type Config struct {
	DBURL                  string
	WorkerPoolSize         int
	TaskQueueHighWater     int
	TaskResultTTLSeconds   int
	MILPTimeLimitSeconds   int
	SyncSimulationCap      int
	HTTPAddr               string
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		DBURL:                "flowcast.db",
		WorkerPoolSize:       0, // 0 means "use NumCPU", resolved by the caller
		TaskQueueHighWater:   1000,
		TaskResultTTLSeconds: 3600,
		MILPTimeLimitSeconds: 10,
		SyncSimulationCap:    5000,
		HTTPAddr:             "127.0.0.1:8080",
	}
}

// FromEnv overlays environment variables onto the defaults. Unset or
// unparseable variables keep the default value.
func FromEnv() *Config {
	c := Default()

	if v := os.Getenv("DB_URL"); v != "" {
		c.DBURL = v
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("TASK_QUEUE_HIGHWATER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.TaskQueueHighWater = n
		}
	}
	if v := os.Getenv("TASK_RESULT_TTL_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.TaskResultTTLSeconds = n
		}
	}
	if v := os.Getenv("MILP_TIME_LIMIT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MILPTimeLimitSeconds = n
		}
	}
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		c.HTTPAddr = v
	}

	return c
}
