package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the edgebench configuration file
// (~/.config/edgebench/config.yaml). Numeric fields are pointers so
// config values can be told apart from an absent key.
type Config struct {
	// Device server
	DeviceAddress string `yaml:"device_address"`
	WorkingDir    string `yaml:"working_dir"`
	Warmup        *int64 `yaml:"warmup"`
	Repeat        *int64 `yaml:"repeat"`
	Number        *int64 `yaml:"number"`

	// Compilation server
	CompileAddress string `yaml:"compile_address"`
	Target         string `yaml:"target"`
	CompilerPath   string `yaml:"compiler_path"`

	// Client
	DeviceHost string `yaml:"device_host"`
	DevicePort *int64 `yaml:"device_port"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "edgebench", "config.yaml")
}

// applyLoggingConfig fills logging variables from the config file when
// the corresponding flag was not explicitly set.
func applyLoggingConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}

// applyDeviceServerConfig applies config file defaults to the
// device-server command variables.
func applyDeviceServerConfig(c *cli.Command, cfg Config, addr, workingDir *string, warmup, repeat, number *int64) {
	if cfg.DeviceAddress != "" && !c.IsSet("addr") {
		*addr = cfg.DeviceAddress
	}
	if cfg.WorkingDir != "" && !c.IsSet("working-dir") {
		*workingDir = cfg.WorkingDir
	}
	if cfg.Warmup != nil && !c.IsSet("warmup") {
		*warmup = *cfg.Warmup
	}
	if cfg.Repeat != nil && !c.IsSet("repeat") {
		*repeat = *cfg.Repeat
	}
	if cfg.Number != nil && !c.IsSet("number") {
		*number = *cfg.Number
	}
}

// applyCompileServerConfig applies config file defaults to the
// compile-server command variables.
func applyCompileServerConfig(c *cli.Command, cfg Config, addr, workingDir, target, compiler *string) {
	if cfg.CompileAddress != "" && !c.IsSet("addr") {
		*addr = cfg.CompileAddress
	}
	if cfg.WorkingDir != "" && !c.IsSet("working-dir") {
		*workingDir = cfg.WorkingDir
	}
	if cfg.Target != "" && !c.IsSet("target") {
		*target = cfg.Target
	}
	if cfg.CompilerPath != "" && !c.IsSet("compiler") {
		*compiler = cfg.CompilerPath
	}
	if cfg.DeviceHost != "" && !c.IsSet("device-host") {
		deviceHost = cfg.DeviceHost
	}
	if cfg.DevicePort != nil && !c.IsSet("device-port") {
		devicePort = *cfg.DevicePort
	}
}

// applyClientConfig applies config file defaults to the measure and
// compile command host/port variables.
func applyClientConfig(c *cli.Command, cfg Config) {
	if cfg.DeviceHost != "" && !c.IsSet("host") {
		deviceHost = cfg.DeviceHost
	}
	if cfg.DevicePort != nil && !c.IsSet("port") {
		devicePort = *cfg.DevicePort
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file
// doesn't exist or cannot be parsed.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
