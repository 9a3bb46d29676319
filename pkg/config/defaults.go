package config

import (
	"time"

	"github.com/rsteinwert/csserver/internal/logger"
	"github.com/rsteinwert/csserver/internal/telemetry"
)

// ApplyDefaults fills in zero-valued fields after unmarshaling. It runs
// after viper.Unmarshal and before Validate, so a config file or
// environment variable that sets a field wins and only genuinely unset
// fields get the default.
func ApplyDefaults(cfg *Config) {
	applyServerDefaults(&cfg.Server)
	applyDataDefaults(&cfg.Data)
	applyMetricsDefaults(&cfg.Metrics)
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyProfilingDefaults(&cfg.Profiling)
}

func applyServerDefaults(s *ServerConfig) {
	if s.ListenAddr == "" {
		s.ListenAddr = ":9876"
	}
	if s.CertFile == "" {
		s.CertFile = "sslcerts/certchain.pem"
	}
	if s.KeyFile == "" {
		s.KeyFile = "sslcerts/key.pem"
	}
	if s.WorkerCount == 0 {
		s.WorkerCount = 16
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = 30 * time.Second
	}
}

func applyDataDefaults(d *DataConfig) {
	if d.RootDir == "" {
		d.RootDir = "data"
	}
	if d.RulesFile == "" {
		d.RulesFile = "rules/db.rules"
	}
}

func applyMetricsDefaults(m *MetricsConfig) {
	if m.Addr == "" {
		m.Addr = "127.0.0.1:9877"
	}
}

func applyLoggingDefaults(l *logger.Config) {
	if l.Level == "" {
		l.Level = "INFO"
	}
	if l.Format == "" {
		l.Format = "text"
	}
	if l.Output == "" {
		l.Output = "stdout"
	}
}

func applyTelemetryDefaults(t *telemetry.Config) {
	if t.ServiceName == "" {
		t.ServiceName = "csserver"
	}
	if t.ServiceVersion == "" {
		t.ServiceVersion = "dev"
	}
	if t.Endpoint == "" {
		t.Endpoint = "localhost:4317"
	}
	if t.SampleRate == 0 {
		t.SampleRate = 1.0
	}
}

func applyProfilingDefaults(p *ProfilingConfig) {
	if p.ApplicationName == "" {
		p.ApplicationName = "csserver"
	}
	if p.ServerAddress == "" {
		p.ServerAddress = "http://localhost:4040"
	}
	if len(p.ProfileTypes) == 0 {
		p.ProfileTypes = []string{"cpu", "alloc_objects", "goroutines"}
	}
}

// GetDefaultConfig returns a fully defaulted Config, useful for `csserver
// init` to write a starting file without requiring one to already exist.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
