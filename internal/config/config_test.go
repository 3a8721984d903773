package config

import (
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"APP_ENV", "HTTP_PORT", "STORAGE_DRIVER", "STORAGE_FALLBACK", "POSTGRES_DSN", "MYSQL_DSN",
		"SQLITE_PATH", "REDIS_URL", "REDIS_ADDR", "REDIS_USERNAME", "REDIS_PASSWORD", "LOCK_TTL",
		"JWT_SECRET", "TOKEN_TTL", "ALLOWED_ORIGINS", "RELEASE_SLOT_ON_REJECT", "RATE_LIMIT_RPS", "TRUST_PROXY",
		"REDIS_DIAL_TIMEOUT", "REDIS_POOL_SIZE",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "s3cret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StorageDriver != DriverSQLite {
		t.Errorf("driver: got %q", cfg.StorageDriver)
	}
	if cfg.HTTPPort != "8080" {
		t.Errorf("port: got %q", cfg.HTTPPort)
	}
	if cfg.TokenTTL != 12*time.Hour {
		t.Errorf("token ttl: got %s", cfg.TokenTTL)
	}
	if cfg.ReleaseSlotOnReject {
		t.Error("release on reject should default to false")
	}
	if cfg.RedisAddr != "" {
		t.Errorf("redis should be disabled by default, got %q", cfg.RedisAddr)
	}
	if cfg.TrustProxy {
		t.Error("forwarded headers must not be trusted by default")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing secret", map[string]string{}},
		{"unknown driver", map[string]string{"JWT_SECRET": "x", "STORAGE_DRIVER": "oracle"}},
		{"postgres without dsn", map[string]string{"JWT_SECRET": "x", "STORAGE_DRIVER": "postgres"}},
		{"mysql without dsn", map[string]string{"JWT_SECRET": "x", "STORAGE_DRIVER": "mysql"}},
		{"fallback same as primary", map[string]string{"JWT_SECRET": "x", "STORAGE_FALLBACK": "sqlite"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("JWT_SECRET", "x")
	t.Setenv("STORAGE_DRIVER", "MySQL")
	t.Setenv("MYSQL_DSN", "root:@tcp(127.0.0.1:3306)/health")
	t.Setenv("STORAGE_FALLBACK", "sqlite")
	t.Setenv("REDIS_URL", "redis://user:pw@cache:6380")
	t.Setenv("LOCK_TTL", "3")
	t.Setenv("TOKEN_TTL", "90m")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("RELEASE_SLOT_ON_REJECT", "true")
	t.Setenv("TRUST_PROXY", "1")
	t.Setenv("REDIS_DIAL_TIMEOUT", "500ms")
	t.Setenv("REDIS_POOL_SIZE", "4")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.StorageDriver != DriverMySQL || cfg.StorageFallback != DriverSQLite {
		t.Errorf("drivers: %q / %q", cfg.StorageDriver, cfg.StorageFallback)
	}
	if cfg.RedisAddr != "cache:6380" || cfg.RedisUsername != "user" || cfg.RedisPassword != "pw" {
		t.Errorf("redis: %q %q %q", cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	}
	if cfg.LockTTL != 3*time.Second {
		t.Errorf("lock ttl: %s", cfg.LockTTL)
	}
	if cfg.TokenTTL != 90*time.Minute {
		t.Errorf("token ttl: %s", cfg.TokenTTL)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("origins: %v", cfg.AllowedOrigins)
	}
	if !cfg.ReleaseSlotOnReject {
		t.Error("release on reject not parsed")
	}
	if !cfg.TrustProxy {
		t.Error("trust proxy not parsed")
	}
	if cfg.RedisDialTimeout != 500*time.Millisecond || cfg.RedisPoolSize != 4 {
		t.Errorf("redis options: %s %d", cfg.RedisDialTimeout, cfg.RedisPoolSize)
	}
}
