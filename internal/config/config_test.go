package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	tests := []struct {
		name  string
		check func(*Config) bool
	}{
		{"default mode is api", func(c *Config) bool { return c.Mode == "api" }},
		{"default host is 0.0.0.0", func(c *Config) bool { return c.Host == "0.0.0.0" }},
		{"default port is 8080", func(c *Config) bool { return c.Port == 8080 }},
		{"default log level is info", func(c *Config) bool { return c.LogLevel == "info" }},
		{"default log format is json", func(c *Config) bool { return c.LogFormat == "json" }},
		{"default metrics path", func(c *Config) bool { return c.MetricsPath == "/metrics" }},
		{"default max concurrent deliveries", func(c *Config) bool { return c.MaxConcurrentDeliveries == 10 }},
		{"default processing timeout", func(c *Config) bool { return c.ProcessingTimeout.String() == "5m0s" }},
		{"default max payload bytes", func(c *Config) bool { return c.MaxPayloadBytes == 10485760 }},
		{"listen addr format", func(c *Config) bool { return c.ListenAddr() == "0.0.0.0:8080" }},
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !tt.check(cfg) {
				t.Errorf("unexpected value for %s", tt.name)
			}
		})
	}
}
