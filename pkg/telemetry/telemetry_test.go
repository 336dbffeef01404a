package telemetry

import (
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"production", func(c *Config) { *c = *ProductionConfig() }, false},
		{"missing service name", func(c *Config) { c.ServiceName = "" }, true},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, true},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"bad exporter", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "zipkin"
		}, true},
		{"sampling rate out of range", func(c *Config) { c.Tracing.SamplingRate = 1.5 }, true},
		{"metrics without address", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.ListenAddress = ""
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewWithDefaults(t *testing.T) {
	tel, err := New(DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer tel.Shutdown(t.Context())

	if tel.Logger == nil || tel.Tracer == nil || tel.Metrics == nil {
		t.Fatal("subsystems not initialized")
	}
}

func TestMetricsDisabledIsNoOp(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	// None of these may panic on the no-op instance.
	m.RecordRunStarted("publish")
	m.RecordRunCompleted("publish", "succeeded", time.Second)
	m.RecordUnit("publish", "created", time.Second)
	m.RecordBuild("succeeded", false, time.Second)
	m.RecordFeedQuery("local-cache", false)
	m.RecordUpload("org/prod", "created", time.Second)
	m.RecordError("transient", "TIMEOUT")
}

func TestComponentLoggerKeepsConfig(t *testing.T) {
	logger, err := NewLogger(LoggingConfig{Level: "debug", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	child := logger.NewComponentLogger("feed-registry")
	if child.config != logger.config {
		t.Error("component logger lost the parent configuration")
	}
}
