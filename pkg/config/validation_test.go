package config

import (
	"strings"
	"testing"
	"time"

	"github.com/henricavalcante/tungsten-replicator-sub005/internal/bytesize"
)

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(GetDefaultConfig()); err != nil {
		t.Errorf("Expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Logging.Level = "INVALID"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for invalid log level")
	}
	if !strings.Contains(err.Error(), "oneof") {
		t.Errorf("Expected 'oneof' validation error, got: %v", err)
	}
}

func TestValidate_InvalidMetricsPort(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Metrics.Enabled = true
	cfg.Metrics.Port = 70000

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for port out of range")
	}
	if !strings.Contains(err.Error(), "max") {
		t.Errorf("Expected 'max' validation error, got: %v", err)
	}
}

func TestValidate_Log(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing directory", func(c *Config) { c.Log.Directory = "" }, "Directory"},
		{"unknown checksum", func(c *Config) { c.Log.Checksum = "md5" }, "Checksum"},
		{"unknown visibility", func(c *Config) { c.Log.Visibility = "eventual" }, "Visibility"},
		{"unknown serializer", func(c *Config) { c.Log.Serializer = "avro" }, "Serializer"},
		{"negative timeout", func(c *Config) { c.Log.ReadTimeout = -time.Second }, "ReadTimeout"},
		{"tiny segments", func(c *Config) { c.Log.SegmentSize = 100 }, "segment_size"},
		{"buffer above segment", func(c *Config) {
			c.Log.SegmentSize = 64 * bytesize.KiB
			c.Log.BufferSize = bytesize.MiB
		}, "buffer_size"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := GetDefaultConfig()
			tt.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %q, got: %v", tt.want, err)
			}
		})
	}
}

func TestValidate_Archive(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Archive.Enabled = true
	if err := Validate(cfg); err == nil {
		t.Fatal("Expected error for archive without bucket")
	}

	cfg.Archive.Bucket = "thl-archive"
	if err := Validate(cfg); err == nil || !strings.Contains(err.Error(), "retention") {
		t.Fatalf("Expected retention error, got: %v", err)
	}

	cfg.Log.Retention = 72 * time.Hour
	cfg.Archive.AccessKeyID = "AKIA"
	if err := Validate(cfg); err == nil {
		t.Fatal("Expected error for access key without secret")
	}

	cfg.Archive.SecretAccessKey = "secret"
	cfg.Archive.Endpoint = "http://localhost:9000"
	if err := Validate(cfg); err != nil {
		t.Fatalf("Expected valid archive config, got: %v", err)
	}
}

func TestValidate_TelemetryEnabledWithoutEndpoint(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Telemetry.Enabled = true
	cfg.Telemetry.Endpoint = ""

	err := Validate(cfg)
	if err == nil {
		t.Fatal("Expected validation error for telemetry enabled without endpoint")
	}
	if !strings.Contains(err.Error(), "Endpoint") {
		t.Errorf("Expected error about telemetry endpoint, got: %v", err)
	}
}

func TestValidate_TelemetrySampleRate(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Telemetry.SampleRate = 1.5

	if err := Validate(cfg); err == nil {
		t.Fatal("Expected validation error for sample rate out of range")
	}
}

func TestValidate_LogLevelNormalization(t *testing.T) {
	for _, level := range []string{"info", "INFO", "debug", "DEBUG", "warn", "WARN", "error", "ERROR"} {
		cfg := GetDefaultConfig()
		cfg.Logging.Level = level

		if err := Validate(cfg); err != nil {
			t.Errorf("Validation failed for level %q: %v", level, err)
		}
		// Validation should NOT normalize
		if cfg.Logging.Level != level {
			t.Errorf("Expected level to remain %q after validation, got %q", level, cfg.Logging.Level)
		}
	}
}
