package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Validate checks struct tags on cfg and applies a few cross-field
// rules the tags alone can't express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if cfg.Server.WorkerCount > 4096 {
		return fmt.Errorf("invalid config: server.worker_count %d exceeds sane maximum of 4096", cfg.Server.WorkerCount)
	}

	if cfg.Telemetry.SampleRate < 0 || cfg.Telemetry.SampleRate > 1 {
		return fmt.Errorf("invalid config: telemetry.sample_rate must be between 0 and 1, got %f", cfg.Telemetry.SampleRate)
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Addr == cfg.Server.ListenAddr {
		return fmt.Errorf("invalid config: metrics.addr must differ from server.listen_addr")
	}

	return nil
}
