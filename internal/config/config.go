// Package config handles updraft configuration parsing and location resolution.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment overrides, e.g. UPDRAFT_APP_ROOT or
// UPDRAFT_NETWORK_STALL_TIMEOUT.
const EnvPrefix = "UPDRAFT"

// Duration is a time.Duration written as "30s" or "2m" in config files.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// InstallerConfig names the platform installer binaries.
type InstallerConfig struct {
	Bin64 string `yaml:"bin64" toml:"bin64" json:"bin64"`
	Bin32 string `yaml:"bin32" toml:"bin32" json:"bin32"`
	// RequireExternal forces the exit-hook handoff on or off. Unset means
	// "only on windows".
	RequireExternal *bool `yaml:"require_external,omitempty" toml:"require_external,omitempty" json:"require_external,omitempty"`
}

// NetworkConfig bounds download attempts.
type NetworkConfig struct {
	MaxAttempts   int      `yaml:"max_attempts" toml:"max_attempts" json:"max_attempts"`
	HeaderTimeout Duration `yaml:"header_timeout" toml:"header_timeout" json:"header_timeout"`
	StallTimeout  Duration `yaml:"stall_timeout" toml:"stall_timeout" json:"stall_timeout"`
}

// ExtractConfig controls the extraction worker.
type ExtractConfig struct {
	WorkerCommand []string `yaml:"worker_command,omitempty" toml:"worker_command,omitempty" json:"worker_command,omitempty"`
	StartTimeout  Duration `yaml:"start_timeout" toml:"start_timeout" json:"start_timeout"`
}

// ShareDirAuto selects backup.DefaultDir as the share directory.
const ShareDirAuto = "auto"

// LogConfig controls logging output.
type LogConfig struct {
	Format string `yaml:"format" toml:"format" json:"format"`
	Level  string `yaml:"level" toml:"level" json:"level"`
	File   string `yaml:"file,omitempty" toml:"file,omitempty" json:"file,omitempty"`
}

// Config is the parsed configuration file after defaults and overrides.
type Config struct {
	AppRoot             string          `yaml:"app_root" toml:"app_root" json:"app_root"`
	LogDir              string          `yaml:"log_dir,omitempty" toml:"log_dir,omitempty" json:"log_dir,omitempty"`
	ShareDir            string          `yaml:"share_dir,omitempty" toml:"share_dir,omitempty" json:"share_dir,omitempty"`
	ShareKeep           int             `yaml:"share_keep" toml:"share_keep" json:"share_keep"`
	DefaultThrottleKBps float64         `yaml:"default_throttle_kbps" toml:"default_throttle_kbps" json:"default_throttle_kbps"`
	Installer           InstallerConfig `yaml:"installer" toml:"installer" json:"installer"`
	Network             NetworkConfig   `yaml:"network" toml:"network" json:"network"`
	Extract             ExtractConfig   `yaml:"extract" toml:"extract" json:"extract"`
	Log                 LogConfig       `yaml:"log" toml:"log" json:"log"`

	// Path is the file the config was read from, if any.
	Path string `yaml:"-" toml:"-" json:"-"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		AppRoot:             defaultAppRoot(),
		ShareKeep:           3,
		DefaultThrottleKBps: 614.4,
		Installer: InstallerConfig{
			Bin64: "update.exe",
			Bin32: "update32.exe",
		},
		Network: NetworkConfig{
			MaxAttempts:   3,
			HeaderTimeout: Duration{30 * time.Second},
			StallTimeout:  Duration{60 * time.Second},
		},
		Extract: ExtractConfig{
			StartTimeout: Duration{30 * time.Second},
		},
		Log: LogConfig{
			Format: "text",
			Level:  "info",
		},
	}
}

// defaultAppRoot is the directory holding the running executable.
func defaultAppRoot() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	return filepath.Dir(exe)
}

// ResolvedLogDir returns LogDir, defaulting to <app_root>/logs.
func (c *Config) ResolvedLogDir() string {
	if c.LogDir != "" {
		return c.LogDir
	}
	return filepath.Join(c.AppRoot, "logs")
}

// RequireExternalInstaller resolves installer.require_external for goos.
func (c *Config) RequireExternalInstaller(goos string) bool {
	if c.Installer.RequireExternal != nil {
		return *c.Installer.RequireExternal
	}
	return goos == "windows"
}

// FileNames are the config file names searched in each directory.
var FileNames = []string{
	"updraft.toml",
	"updraft.yaml",
	"updraft.yml",
	"updraft.json",
}

// FindConfig searches for a config file in the standard locations.
// An explicit path must exist. Otherwise the first match of
// $UPDRAFT_CONFIG, $XDG_CONFIG_HOME/updraft and the working directory wins.
// An empty path with a nil error means no file was found.
func FindConfig(explicitPath string) (string, error) {
	if explicitPath != "" {
		if _, err := os.Stat(explicitPath); err != nil {
			return "", fmt.Errorf("specified config file not found: %s", explicitPath)
		}
		return explicitPath, nil
	}

	// Check UPDRAFT_CONFIG environment variable
	if envPath := os.Getenv(EnvPrefix + "_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
	}

	var searchPaths []string

	// XDG_CONFIG_HOME or default
	xdgConfig := os.Getenv("XDG_CONFIG_HOME")
	if xdgConfig == "" {
		if home, err := os.UserHomeDir(); err == nil {
			xdgConfig = filepath.Join(home, ".config")
		}
	}
	if xdgConfig != "" {
		searchPaths = append(searchPaths, filepath.Join(xdgConfig, "updraft"))
	}

	// Working directory
	searchPaths = append(searchPaths, ".")

	for _, dir := range searchPaths {
		for _, name := range FileNames {
			path := filepath.Join(dir, name)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
	}

	return "", nil
}

// Load reads the config file at path (if non-empty) over the defaults,
// applies UPDRAFT_* environment variables and any changed flags, and
// validates the result.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}

		format := detectFormat(path, content)
		if format == FormatUnknown {
			return nil, fmt.Errorf("unable to detect file format for %s", path)
		}

		if err := decode(expandEnvVars(content), format, cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		cfg.Path = path
	}

	if err := applyOverrides(cfg, newOverlay(flags)); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// flagKeys maps persistent CLI flags to config keys.
var flagKeys = map[string]string{
	"app-root":   "app_root",
	"log-format": "log.format",
	"log-level":  "log.level",
	"log-file":   "log.file",
}

// overrideKeys are the config keys that can be set from the environment.
var overrideKeys = []string{
	"app_root",
	"log_dir",
	"share_dir",
	"share_keep",
	"default_throttle_kbps",
	"installer.bin64",
	"installer.bin32",
	"installer.require_external",
	"network.max_attempts",
	"network.header_timeout",
	"network.stall_timeout",
	"extract.worker_command",
	"extract.start_timeout",
	"log.format",
	"log.level",
	"log.file",
}

func newOverlay(flags *pflag.FlagSet) *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range overrideKeys {
		_ = v.BindEnv(key)
	}
	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				_ = v.BindPFlag(key, f)
			}
		}
	}
	return v
}

// applyOverrides copies every key set in v onto cfg.
func applyOverrides(cfg *Config, v *viper.Viper) error {
	set := func(key string, apply func()) {
		if v.IsSet(key) {
			apply()
		}
	}

	set("app_root", func() { cfg.AppRoot = v.GetString("app_root") })
	set("log_dir", func() { cfg.LogDir = v.GetString("log_dir") })
	set("share_dir", func() { cfg.ShareDir = v.GetString("share_dir") })
	set("share_keep", func() { cfg.ShareKeep = v.GetInt("share_keep") })
	set("default_throttle_kbps", func() { cfg.DefaultThrottleKBps = v.GetFloat64("default_throttle_kbps") })
	set("installer.bin64", func() { cfg.Installer.Bin64 = v.GetString("installer.bin64") })
	set("installer.bin32", func() { cfg.Installer.Bin32 = v.GetString("installer.bin32") })
	set("installer.require_external", func() {
		b := v.GetBool("installer.require_external")
		cfg.Installer.RequireExternal = &b
	})
	set("network.max_attempts", func() { cfg.Network.MaxAttempts = v.GetInt("network.max_attempts") })
	set("extract.worker_command", func() { cfg.Extract.WorkerCommand = strings.Fields(v.GetString("extract.worker_command")) })
	set("log.format", func() { cfg.Log.Format = v.GetString("log.format") })
	set("log.level", func() { cfg.Log.Level = v.GetString("log.level") })
	set("log.file", func() { cfg.Log.File = v.GetString("log.file") })

	for key, dst := range map[string]*Duration{
		"network.header_timeout": &cfg.Network.HeaderTimeout,
		"network.stall_timeout":  &cfg.Network.StallTimeout,
		"extract.start_timeout":  &cfg.Extract.StartTimeout,
	} {
		if !v.IsSet(key) {
			continue
		}
		if err := dst.UnmarshalText([]byte(v.GetString(key))); err != nil {
			return fmt.Errorf("%s: invalid duration %q: %w", key, v.GetString(key), err)
		}
	}

	return nil
}
