package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("DB_DSN", "file::memory:")
	t.Setenv("JWT_SECRET", "0123456789abcdef0123")
	t.Setenv("UPI_ID", "shop@upi")
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPPort != "8080" {
		t.Errorf("HTTPPort = %q, want 8080", cfg.HTTPPort)
	}
	if cfg.DBDriver != "mysql" {
		t.Errorf("DBDriver = %q, want mysql", cfg.DBDriver)
	}
	if cfg.UPIPendingTTL != 30*time.Minute {
		t.Errorf("UPIPendingTTL = %v, want 30m", cfg.UPIPendingTTL)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "http://localhost:5173" {
		t.Errorf("CORSOrigins = %v", cfg.CORSOrigins)
	}
	if len(cfg.KafkaBrokers) != 0 {
		t.Errorf("KafkaBrokers = %v, want empty", cfg.KafkaBrokers)
	}
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("DB_DRIVER", "Postgres")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("UPI_PENDING_TTL", "0")
	t.Setenv("ALLOW_REGISTRATION", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DBDriver != "postgres" {
		t.Errorf("DBDriver = %q", cfg.DBDriver)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("KafkaBrokers = %v", cfg.KafkaBrokers)
	}
	if cfg.UPIPendingTTL != 0 {
		t.Errorf("UPIPendingTTL = %v, want 0", cfg.UPIPendingTTL)
	}
	if !cfg.AllowRegistration {
		t.Error("AllowRegistration should be true")
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{"missing upi id", map[string]string{"UPI_ID": ""}, "UPI_ID"},
		{"short secret", map[string]string{"JWT_SECRET": "short"}, "JWT_SECRET"},
		{"bad driver", map[string]string{"DB_DRIVER": "oracle"}, "DB_DRIVER"},
		{"bad duration", map[string]string{"UPI_PENDING_TTL": "soon"}, "UPI_PENDING_TTL"},
		{"bad bool", map[string]string{"METRICS_ENABLED": "maybe"}, "METRICS_ENABLED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %s", err, tt.wantErr)
			}
		})
	}
}
