package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"ADDR", "CACHE_BACKEND", "CACHE_TTL_OVERRIDES", "MAX_UPLOAD_BYTES", "BATCH_PAUSE", "REFRESH_SCHEDULE"} {
		t.Setenv(k, "")
	}
	cfg := FromEnv()
	if cfg.Addr != ":8000" || cfg.CacheBackend != "sqlite" || cfg.NDVIThreshold != 0.3 {
		t.Fatalf("cfg=%+v", cfg)
	}
	if cfg.CacheTTLOvr["satellite"] != 72*time.Hour || cfg.CacheTTLOvr["stats"] != 12*time.Hour {
		t.Fatalf("ttl overrides=%v", cfg.CacheTTLOvr)
	}
	if cfg.MaxUploadBytes != 512<<20 || cfg.BatchPause != 5*time.Second || cfg.RefreshSchedule != "0 2 * * 0" {
		t.Fatalf("upload=%d pause=%v schedule=%q", cfg.MaxUploadBytes, cfg.BatchPause, cfg.RefreshSchedule)
	}
	if cfg.AnalyzerWorkers <= 0 {
		t.Fatalf("workers=%d", cfg.AnalyzerWorkers)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("CACHE_BACKEND", "Redis")
	t.Setenv("CACHE_TTL_OVERRIDES", "satellite=1h, bogus, stats=x")
	t.Setenv("MAX_UPLOAD_BYTES", "64MiB")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("ENABLE_BACKGROUND_TASKS", "no")
	t.Setenv("ANALYZER_WORKERS", "3")

	cfg := FromEnv()
	if cfg.CacheBackend != "redis" || cfg.AnalyzerWorkers != 3 || cfg.BackgroundTasks {
		t.Fatalf("cfg=%+v", cfg)
	}
	if len(cfg.CacheTTLOvr) != 1 || cfg.CacheTTLOvr["satellite"] != time.Hour {
		t.Fatalf("ttl overrides=%v", cfg.CacheTTLOvr)
	}
	if cfg.MaxUploadBytes != 64<<20 {
		t.Fatalf("upload=%d", cfg.MaxUploadBytes)
	}
	if len(cfg.CORSOrigins) != 2 || cfg.CORSOrigins[1] != "https://b.example" {
		t.Fatalf("origins=%v", cfg.CORSOrigins)
	}
}

func TestLoadDotEnv_DoesNotOverrideEnvironment(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, ".env")
	if err := os.WriteFile(p, []byte("GC_TEST_FROM_FILE=file\nGC_TEST_SET=file\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("GC_TEST_SET", "env")
	t.Cleanup(func() { _ = os.Unsetenv("GC_TEST_FROM_FILE") })

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), p); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("GC_TEST_FROM_FILE"); got != "file" {
		t.Fatalf("GC_TEST_FROM_FILE=%q", got)
	}
	if got := os.Getenv("GC_TEST_SET"); got != "env" {
		t.Fatalf("GC_TEST_SET=%q, environment must win", got)
	}
}
