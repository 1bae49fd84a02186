package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Config struct {
	Port                string
	ExecutorSecret      string // shared bearer secret for every authenticated endpoint
	Namespace           string
	Hostname            string
	S3Endpoint          string
	S3Bucket            string
	S3AccessKey         string
	S3SecretKey         string
	S3Region            string
	S3UseSSL            bool
	MaintenanceInterval int // seconds between reaper cycles
	InactiveThreshold   int // seconds of idleness before a runtime is scaled to zero
	AllowedOrigins      string
}

func Load() *Config {
	hostname := os.Getenv("HOSTNAME")
	if hostname == "" {
		hostname, _ = os.Hostname()
	}
	return &Config{
		Port:                envOr("PORT", "3000"),
		ExecutorSecret:      os.Getenv("OPR_EXECUTOR_SECRET"),
		Namespace:           envOr("KUBERNETES_NAMESPACE", "default"),
		Hostname:            hostname,
		S3Endpoint:          os.Getenv("S3_ENDPOINT"),
		S3Bucket:            os.Getenv("S3_BUCKET"),
		S3AccessKey:         os.Getenv("S3_ACCESS_KEY_ID"),
		S3SecretKey:         os.Getenv("S3_SECRET_ACCESS_KEY"),
		S3Region:            envOr("S3_REGION", "us-east-1"),
		S3UseSSL:            envOr("S3_USE_SSL", "false") == "true",
		MaintenanceInterval: envIntOr("OPR_EXECUTOR_MAINTENANCE_INTERVAL", 60),
		InactiveThreshold:   envIntOr("OPR_EXECUTOR_INACTIVE_THRESHOLD", 300),
		AllowedOrigins:      os.Getenv("OPR_EXECUTOR_ALLOWED_ORIGINS"),
	}
}

// Validate reports every missing required variable at once so operators
// don't fix them one restart at a time.
func (c *Config) Validate() error {
	var missing []string
	if c.ExecutorSecret == "" {
		missing = append(missing, "OPR_EXECUTOR_SECRET")
	}
	if c.S3Endpoint == "" {
		missing = append(missing, "S3_ENDPOINT")
	}
	if c.S3Bucket == "" {
		missing = append(missing, "S3_BUCKET")
	}
	if c.S3AccessKey == "" {
		missing = append(missing, "S3_ACCESS_KEY_ID")
	}
	if c.S3SecretKey == "" {
		missing = append(missing, "S3_SECRET_ACCESS_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment: %s", strings.Join(missing, ", "))
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
