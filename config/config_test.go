package config

import (
	"strings"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("KUBERNETES_NAMESPACE", "")
	t.Setenv("S3_REGION", "")
	t.Setenv("OPR_EXECUTOR_MAINTENANCE_INTERVAL", "")
	t.Setenv("OPR_EXECUTOR_INACTIVE_THRESHOLD", "")

	cfg := Load()
	if cfg.Port != "3000" {
		t.Fatalf("port = %q", cfg.Port)
	}
	if cfg.Namespace != "default" {
		t.Fatalf("namespace = %q", cfg.Namespace)
	}
	if cfg.S3Region != "us-east-1" {
		t.Fatalf("region = %q", cfg.S3Region)
	}
	if cfg.MaintenanceInterval != 60 || cfg.InactiveThreshold != 300 {
		t.Fatalf("intervals = %d/%d", cfg.MaintenanceInterval, cfg.InactiveThreshold)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("KUBERNETES_NAMESPACE", "functions")
	t.Setenv("OPR_EXECUTOR_MAINTENANCE_INTERVAL", "15")
	t.Setenv("S3_USE_SSL", "true")

	cfg := Load()
	if cfg.Port != "8080" || cfg.Namespace != "functions" {
		t.Fatalf("overrides ignored: %+v", cfg)
	}
	if cfg.MaintenanceInterval != 15 {
		t.Fatalf("interval = %d", cfg.MaintenanceInterval)
	}
	if !cfg.S3UseSSL {
		t.Fatal("ssl flag ignored")
	}
}

func TestEnvIntOrRejectsGarbage(t *testing.T) {
	t.Setenv("OPR_EXECUTOR_MAINTENANCE_INTERVAL", "soon")
	if got := envIntOr("OPR_EXECUTOR_MAINTENANCE_INTERVAL", 60); got != 60 {
		t.Fatalf("envIntOr = %d", got)
	}
	t.Setenv("OPR_EXECUTOR_MAINTENANCE_INTERVAL", "-5")
	if got := envIntOr("OPR_EXECUTOR_MAINTENANCE_INTERVAL", 60); got != 60 {
		t.Fatalf("envIntOr = %d", got)
	}
}

func TestValidateReportsEverything(t *testing.T) {
	cfg := &Config{}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("empty config should not validate")
	}
	for _, name := range []string{
		"OPR_EXECUTOR_SECRET",
		"S3_ENDPOINT",
		"S3_BUCKET",
		"S3_ACCESS_KEY_ID",
		"S3_SECRET_ACCESS_KEY",
	} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error does not mention %s: %v", name, err)
		}
	}

	cfg = &Config{
		ExecutorSecret: "x",
		S3Endpoint:     "minio:9000",
		S3Bucket:       "artifacts",
		S3AccessKey:    "ak",
		S3SecretKey:    "sk",
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("complete config rejected: %v", err)
	}
}
