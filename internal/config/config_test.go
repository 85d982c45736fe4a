package config

import "testing"

func validConfig() *Config {
	return &Config{
		Port:               8080,
		CPURejectThreshold: 85.0,
		CPUPauseThreshold:  90.0,
		LogLevel:           "info",
		LogFormat:          "json",
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := validConfig()
	cfg.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for port 0")
	}

	cfg = validConfig()
	cfg.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidateRejectsInvertedCPUThresholds(t *testing.T) {
	cfg := validConfig()
	cfg.CPURejectThreshold = 95.0
	cfg.CPUPauseThreshold = 90.0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when pause threshold is below reject threshold")
	}
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := validConfig()
	cfg.LogLevel = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown log level")
	}
}

func TestValidateRejectsUnknownLogFormat(t *testing.T) {
	cfg := validConfig()
	cfg.LogFormat = "xml"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown log format")
	}
}
