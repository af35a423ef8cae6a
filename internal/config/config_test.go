package config

import (
	"strings"
	"testing"
	"time"
	_ "time/tzdata"
)

func setBase(t *testing.T) {
	t.Helper()
	t.Setenv("TICKET_SECRET", "ticket")
	t.Setenv("JWT_SECRET", "jwt")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("CATALOG_DRIVER", "static")
}

func TestLoadConfigDefaults(t *testing.T) {
	setBase(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != "8080" || cfg.SweepInterval != time.Minute || cfg.PaymentWindow != 0 {
		t.Errorf("defaults = port %s interval %s window %s", cfg.Port, cfg.SweepInterval, cfg.PaymentWindow)
	}
	if cfg.Location().String() != "Asia/Ho_Chi_Minh" {
		t.Errorf("location = %s", cfg.Location())
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "http://localhost:3000" {
		t.Errorf("cors = %v", cfg.CORSOrigins)
	}
	if !cfg.IsDevelopment() || cfg.PaymentConfigured() {
		t.Errorf("IsDevelopment = %v, PaymentConfigured = %v", cfg.IsDevelopment(), cfg.PaymentConfigured())
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	setBase(t)
	t.Setenv("SWEEP_INTERVAL", "30s")
	t.Setenv("PAYMENT_WINDOW", "15m")
	t.Setenv("CORS_ORIGINS", "https://a.example,https://b.example")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("TIMEZONE", "UTC")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.SweepInterval != 30*time.Second || cfg.PaymentWindow != 15*time.Minute {
		t.Errorf("durations = %s %s", cfg.SweepInterval, cfg.PaymentWindow)
	}
	if len(cfg.CORSOrigins) != 2 {
		t.Errorf("cors = %v", cfg.CORSOrigins)
	}
	if !cfg.IsProduction() {
		t.Error("IsProduction = false")
	}
}

func TestLoadConfigRejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "mongo without uri", env: map[string]string{"STORE_DRIVER": "mongo"}, want: "MONGODB_URI"},
		{name: "postgres without dsn", env: map[string]string{"STORE_DRIVER": "postgres"}, want: "DATABASE_URL"},
		{name: "unknown store", env: map[string]string{"STORE_DRIVER": "redis"}, want: "STORE_DRIVER"},
		{name: "supabase catalog without url", env: map[string]string{"CATALOG_DRIVER": "supabase"}, want: "SUPABASE_URL"},
		{name: "no token verification", env: map[string]string{"JWT_SECRET": ""}, want: "JWT_SECRET"},
		{name: "bad timezone", env: map[string]string{"TIMEZONE": "Mars/Olympus"}, want: "TIMEZONE"},
		{name: "zero interval", env: map[string]string{"SWEEP_INTERVAL": "0s"}, want: "SWEEP_INTERVAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBase(t)
			t.Setenv("SUPABASE_URL", "")
			t.Setenv("SUPABASE_ANON_KEY", "")
			t.Setenv("MONGODB_URI", "")
			t.Setenv("DATABASE_URL", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error = %v, want mention of %s", err, tt.want)
			}
		})
	}
}
