// Package config loads process configuration from the environment, the way
// the livedata daemon is tuned at deploy time.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every environment-tunable knob the server reads at startup.
type Config struct {
	PollingThrottle    time.Duration
	PollingInterval    time.Duration
	ForwardedCount     int
	DisableWebsockets  bool
	UseJSessionID      bool
	MongoURI           string
	MongoDatabase      string
	ListenAddr         string
	CacheBackend       string
	RedisAddr          string
	BadgerPath         string
	LogLevel           string
	HeartbeatInterval  time.Duration
	HeartbeatTimeout   time.Duration
}

// FromEnv builds a Config from the process environment, applying the
// defaults spec.md §3 and §6 name explicitly.
func FromEnv() Config {
	return Config{
		PollingThrottle:   durationMs(envInt("METEOR_POLLING_THROTTLE_MS", 50)),
		PollingInterval:   durationMs(envInt("METEOR_POLLING_INTERVAL_MS", 10000)),
		ForwardedCount:    envInt("HTTP_FORWARDED_COUNT", 0),
		DisableWebsockets: envBool("DISABLE_WEBSOCKETS", false),
		UseJSessionID:     envBool("USE_JSESSIONID", false),
		MongoURI:          envString("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:     envString("MONGO_DB", "livedata"),
		ListenAddr:        envString("LISTEN_ADDR", ":3000"),
		CacheBackend:      envString("CACHE_BACKEND", "memory"),
		RedisAddr:         envString("REDIS_ADDR", "localhost:6379"),
		BadgerPath:        envString("BADGER_PATH", "./livedata-cache"),
		LogLevel:          envString("LOG_LEVEL", "info"),
		HeartbeatInterval: durationMs(envInt("HEARTBEAT_INTERVAL_MS", 17500)),
		HeartbeatTimeout:  durationMs(envInt("HEARTBEAT_TIMEOUT_MS", 15000)),
	}
}

func durationMs(ms int) time.Duration { return time.Duration(ms) * time.Millisecond }

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
