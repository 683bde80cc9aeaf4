package config

import (
	"os"
	"testing"
)

func setEnv(t *testing.T, key, val string) {
	t.Helper()
	old, had := os.LookupEnv(key)
	os.Setenv(key, val)
	t.Cleanup(func() {
		if had {
			os.Setenv(key, old)
		} else {
			os.Unsetenv(key)
		}
	})
}

func TestLoad_Defaults(t *testing.T) {
	setEnv(t, "DATABASE_URL", "postgres://localhost/pharmd_test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if cfg.ReservationTTLMin != 30 {
		t.Errorf("expected default reservation TTL 30, got %d", cfg.ReservationTTLMin)
	}
	if cfg.StockRetryAttempts != 3 {
		t.Errorf("expected default retry attempts 3, got %d", cfg.StockRetryAttempts)
	}
	if cfg.ExpiringWindowDays != 30 {
		t.Errorf("expected default expiring window 30, got %d", cfg.ExpiringWindowDays)
	}
}

func TestLoad_DatabaseURLRequired(t *testing.T) {
	setEnv(t, "DATABASE_URL", "")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
}

func TestLoad_RejectsNegativeTTL(t *testing.T) {
	setEnv(t, "DATABASE_URL", "postgres://localhost/pharmd_test")
	setEnv(t, "RESERVATION_TTL_MINUTES", "-5")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for negative reservation TTL")
	}
}

func TestLoad_RejectsZeroRetries(t *testing.T) {
	setEnv(t, "DATABASE_URL", "postgres://localhost/pharmd_test")
	setEnv(t, "STOCK_RETRY_ATTEMPTS", "0")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error for zero retry attempts")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	setEnv(t, "DATABASE_URL", "postgres://localhost/pharmd_test")
	setEnv(t, "PORT", "9100")
	setEnv(t, "ENV", "production")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "9100" {
		t.Errorf("expected port 9100, got %s", cfg.Port)
	}
	if !cfg.IsProduction() {
		t.Error("expected production mode")
	}
	if cfg.IsDev() {
		t.Error("did not expect dev mode")
	}
}
