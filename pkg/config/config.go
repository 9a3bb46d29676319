// Package config loads csserver's configuration from, in ascending
// precedence, built-in defaults, a YAML config file, and environment
// variables prefixed CSSERVER_, using viper/mapstructure layering. An
// environment variable takes effect only for a key the config file also
// sets; command-line flags are not layered in.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/rsteinwert/csserver/internal/logger"
	"github.com/rsteinwert/csserver/internal/telemetry"
)

// ServerConfig controls the TLS listener and the fixed worker pool.
type ServerConfig struct {
	ListenAddr  string        `mapstructure:"listen_addr" yaml:"listen_addr" validate:"required"`
	CertFile    string        `mapstructure:"cert_file" yaml:"cert_file" validate:"required"`
	KeyFile     string        `mapstructure:"key_file" yaml:"key_file" validate:"required"`
	WorkerCount int           `mapstructure:"worker_count" yaml:"worker_count" validate:"min=1"`
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
}

// DataConfig locates the on-disk collection tree and the rules file
// that gates access to it. One database is ever registered, named db.
type DataConfig struct {
	RootDir   string `mapstructure:"root_dir" yaml:"root_dir" validate:"required"`
	RulesFile string `mapstructure:"rules_file" yaml:"rules_file" validate:"required"`
}

// AdminConfig holds admin account fields carried in the config file;
// no csserver command reads them.
type AdminConfig struct {
	Username string `mapstructure:"username" yaml:"username"`
	Email    string `mapstructure:"email" yaml:"email"`
	Password string `mapstructure:"password" yaml:"password"`
}

// MetricsConfig controls the admin HTTP mux exposing /healthz and
// /metrics. It is a separate listener from the TLS content port.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// Config is the root configuration object for csserver.
type Config struct {
	Server    ServerConfig     `mapstructure:"server" yaml:"server"`
	Data      DataConfig       `mapstructure:"data" yaml:"data"`
	Admin     AdminConfig      `mapstructure:"admin" yaml:"admin"`
	Metrics   MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Logging   logger.Config    `mapstructure:"logging" yaml:"logging"`
	Telemetry telemetry.Config `mapstructure:"telemetry" yaml:"telemetry"`
	Profiling ProfilingConfig  `mapstructure:"profiling" yaml:"profiling"`
}

// ProfilingConfig controls the optional pyroscope continuous profiler.
type ProfilingConfig struct {
	Enabled         bool     `mapstructure:"enabled" yaml:"enabled"`
	ServerAddress   string   `mapstructure:"server_address" yaml:"server_address"`
	ApplicationName string   `mapstructure:"application_name" yaml:"application_name"`
	ProfileTypes    []string `mapstructure:"profile_types" yaml:"profile_types"`
}

const envPrefix = "CSSERVER"

// Load reads configuration from configPath (if non-empty and present),
// layers environment variables and defaults on top, and validates the
// result. An absent config file is not an error; the caller then gets
// the defaults, and no environment variable is applied.
func Load(configPath string) (*Config, error) {
	v := setupViper(configPath)

	found, err := readConfigFile(v, configPath)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg, configDecodeHooks()); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}

	ApplyDefaults(cfg)

	if found {
		logger.Debug("loaded config file", logger.Path(v.ConfigFileUsed()))
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// MustLoad is Load with a friendlier error for the common case of a
// missing config file, pointing the operator at `csserver init`
// instead of a bare "file not found". It does not exit the process;
// callers decide how to react to the error.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			path, _ := GetDefaultConfigPath()
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"initialize one first:\n"+
				"  csserver init\n\n"+
				"or point at an existing file:\n"+
				"  csserver <command> --config /path/to/csserver.yaml", path)
		}
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	return Load(configPath)
}

// InitConfig writes a fresh default configuration file to the default
// config path, refusing to overwrite an existing one unless force is
// set. It returns the path written to.
func InitConfig(force bool) (string, error) {
	path, err := GetDefaultConfigPath()
	if err != nil {
		return "", fmt.Errorf("resolving default config path: %w", err)
	}
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath is InitConfig against an explicit path.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}
	return SaveConfig(GetDefaultConfig(), path)
}

func setupViper(configPath string) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		dir, err := getConfigDir()
		if err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
		v.SetConfigName("csserver")
		v.SetConfigType("yaml")
	}

	return v
}

func readConfigFile(v *viper.Viper, configPath string) (bool, error) {
	err := v.ReadInConfig()
	if err == nil {
		return true, nil
	}

	var notFound viper.ConfigFileNotFoundError
	if errors.As(err, &notFound) {
		return false, nil
	}
	if configPath != "" && os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// SaveConfig writes cfg as YAML to path with owner-only permissions,
// since it may carry the bootstrap admin password.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func configDecodeHooks() viper.DecoderConfigOption {
	return viper.DecodeHook(durationDecodeHook())
}

func durationDecodeHook() func(reflect.Type, reflect.Type, interface{}) (interface{}, error) {
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

func getConfigDir() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "csserver"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "csserver"), nil
}

// GetDefaultConfigPath returns the path `csserver init` writes to and
// Load falls back to when no --config flag is given.
func GetDefaultConfigPath() (string, error) {
	dir, err := getConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "csserver.yaml"), nil
}

// DefaultConfigExists reports whether the default config path already
// has a file on it.
func DefaultConfigExists() bool {
	path, err := GetDefaultConfigPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}
