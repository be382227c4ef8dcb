package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/duration"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/fileutil"
)

// ElevationModes lists the accepted elevation.mode values.
var ElevationModes = []string{"auto", "sudo", "doas", "uac", "none"}

// ConfigLoader reads and merges configuration from various sources.
type ConfigLoader struct {
	v          *viper.Viper
	configFile string
	appHomeDir string
	xdg        XDGConfig
	warnings   []string
}

// ConfigLoaderOption defines a functional option for configuring a ConfigLoader.
type ConfigLoaderOption func(*ConfigLoader)

// WithConfigFile sets the configuration file path.
func WithConfigFile(configFile string) ConfigLoaderOption {
	return func(l *ConfigLoader) {
		l.configFile = configFile
	}
}

// WithAppHomeDir places all files below dir, overriding XPIPE_HOME.
func WithAppHomeDir(dir string) ConfigLoaderOption {
	return func(l *ConfigLoader) {
		l.appHomeDir = dir
	}
}

// WithXDG overrides the XDG base directories.
func WithXDG(x XDGConfig) ConfigLoaderOption {
	return func(l *ConfigLoader) {
		l.xdg = x
	}
}

// NewConfigLoader creates a ConfigLoader with the given viper instance and options.
func NewConfigLoader(v *viper.Viper, options ...ConfigLoaderOption) *ConfigLoader {
	loader := &ConfigLoader{v: v, xdg: defaultXDG()}
	for _, opt := range options {
		opt(loader)
	}
	return loader
}

// Load reads the configuration file, applies defaults and environment
// overrides, and returns the resulting Config.
func (l *ConfigLoader) Load() (*Config, error) {
	var paths Paths
	if l.appHomeDir != "" {
		home, err := fileutil.ResolvePath(l.appHomeDir)
		if err != nil {
			return nil, err
		}
		paths = unifiedPaths(home)
	} else {
		paths = ResolvePaths(strings.ToUpper(AppSlug)+"_HOME", l.xdg)
	}

	l.configureViper(paths.ConfigDir, l.configFile)
	l.bindEnvironmentVariables()
	l.setViperDefaultValues(paths)

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	configFileUsed, err := l.resolvePath("config file", l.v.ConfigFileUsed())
	if err != nil {
		return nil, err
	}

	var def Definition
	if err := l.v.Unmarshal(&def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg, err := l.buildConfig(def)
	if err != nil {
		return nil, fmt.Errorf("failed to build config: %w", err)
	}
	cfg.Paths.ConfigDir = paths.ConfigDir
	cfg.Paths.ConfigFileUsed = configFileUsed
	cfg.Warnings = l.warnings
	return cfg, nil
}

func (l *ConfigLoader) buildConfig(def Definition) (*Config, error) {
	cfg := Config{
		Core: Core{
			Debug:        def.Debug,
			LogFormat:    def.LogFormat,
			DefaultShell: def.DefaultShell,
		},
		ConnectionDefaults: def.ConnectionDefaults,
		Connections:        def.Connections,
	}
	if cfg.Core.LogFormat != "text" && cfg.Core.LogFormat != "json" {
		l.warnings = append(l.warnings, fmt.Sprintf("Invalid logFormat value: %s", cfg.Core.LogFormat))
		cfg.Core.LogFormat = "text"
	}

	if err := l.loadPathsConfig(&cfg, def); err != nil {
		return nil, err
	}
	l.loadExecutionConfig(&cfg, def)
	l.loadElevationConfig(&cfg, def)
	if err := l.loadTerminalConfig(&cfg, def); err != nil {
		return nil, err
	}

	cfg.Socket = Socket{Host: def.Socket.Host, Port: def.Socket.Port}
	if cfg.Socket.Port <= 0 || cfg.Socket.Port > 65535 {
		return nil, fmt.Errorf("invalid socket port: %d", cfg.Socket.Port)
	}
	return &cfg, nil
}

func (l *ConfigLoader) loadPathsConfig(cfg *Config, def Definition) error {
	var err error
	if cfg.Paths.DataDir, err = l.resolvePath("dataDir", def.Paths.DataDir); err != nil {
		return err
	}
	if cfg.Paths.LogDir, err = l.resolvePath("logDir", def.Paths.LogDir); err != nil {
		return err
	}
	if cfg.Paths.TempDir, err = l.resolvePath("tempDir", def.Paths.TempDir); err != nil {
		return err
	}
	return nil
}

func (l *ConfigLoader) loadExecutionConfig(cfg *Config, def Definition) {
	cfg.Execution = Execution{
		CommandTimeout: l.parseDuration("execution.commandTimeout", def.Execution.CommandTimeout),
		ExitTimeout:    l.parseDuration("execution.exitTimeout", def.Execution.ExitTimeout),
		StartTimeout:   l.parseDuration("execution.startTimeout", def.Execution.StartTimeout),
		Charset:        def.Execution.Charset,
	}
}

func (l *ConfigLoader) loadElevationConfig(cfg *Config, def Definition) {
	mode := strings.ToLower(def.Elevation.Mode)
	if !slices.Contains(ElevationModes, mode) {
		l.warnings = append(l.warnings, fmt.Sprintf("Invalid elevation.mode value: %s", def.Elevation.Mode))
		mode = "auto"
	}
	cfg.Elevation = Elevation{
		Mode:        mode,
		PasswordEnv: def.Elevation.PasswordEnv,
		Prompt:      def.Elevation.Prompt,
	}
}

func (l *ConfigLoader) loadTerminalConfig(cfg *Config, def Definition) error {
	socket, err := l.resolvePath("terminal.kittySocket", def.Terminal.KittySocket)
	if err != nil {
		return err
	}
	exe := def.Terminal.Executable
	if exe == "" {
		if self, err := os.Executable(); err == nil {
			exe = self
		}
	}
	cfg.Terminal = Terminal{
		Preferred:     def.Terminal.Preferred,
		LaunchTimeout: l.parseDuration("terminal.launchTimeout", def.Terminal.LaunchTimeout),
		KittySocket:   socket,
		Executable:    exe,
	}
	return nil
}

// resolvePath resolves a path to an absolute path. Empty paths are returned as-is.
func (l *ConfigLoader) resolvePath(fieldName, pathValue string) (string, error) {
	if pathValue == "" {
		return "", nil
	}
	resolved, err := fileutil.ResolvePath(pathValue)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s path %q: %w", fieldName, pathValue, err)
	}
	return resolved, nil
}

// parseDuration parses a duration string, returning zero and adding a warning if invalid.
func (l *ConfigLoader) parseDuration(fieldName, value string) time.Duration {
	if value == "" {
		return 0
	}
	d, err := duration.Parse(value)
	if err != nil {
		l.warnings = append(l.warnings, fmt.Sprintf("Invalid %s value: %s", fieldName, value))
		return 0
	}
	return d
}

func (l *ConfigLoader) setViperDefaultValues(paths Paths) {
	// Core
	l.v.SetDefault("debug", false)
	l.v.SetDefault("logFormat", "text")
	l.v.SetDefault("defaultShell", "")

	// Paths
	l.v.SetDefault("paths.dataDir", paths.DataDir)
	l.v.SetDefault("paths.logDir", paths.LogDir)
	l.v.SetDefault("paths.tempDir", paths.TempDir)

	// Execution
	l.v.SetDefault("execution.commandTimeout", "")
	l.v.SetDefault("execution.exitTimeout", "5s")
	l.v.SetDefault("execution.startTimeout", "30s")
	l.v.SetDefault("execution.charset", "")

	// Elevation
	l.v.SetDefault("elevation.mode", "auto")
	l.v.SetDefault("elevation.passwordEnv", "")
	l.v.SetDefault("elevation.prompt", false)

	// Terminal
	l.v.SetDefault("terminal.preferred", "")
	l.v.SetDefault("terminal.launchTimeout", "30s")
	l.v.SetDefault("terminal.kittySocket", filepath.Join(paths.TempDir, "kitty.sock"))
	l.v.SetDefault("terminal.executable", "")

	// Socket
	l.v.SetDefault("socket.host", "127.0.0.1")
	l.v.SetDefault("socket.port", 21721)
}

type envBinding struct {
	key    string
	env    string
	isPath bool
}

var envBindings = []envBinding{
	// Core
	{key: "debug", env: "DEBUG"},
	{key: "logFormat", env: "LOG_FORMAT"},
	{key: "defaultShell", env: "DEFAULT_SHELL"},

	// Paths
	{key: "paths.dataDir", env: "DATA_DIR", isPath: true},
	{key: "paths.logDir", env: "LOG_DIR", isPath: true},
	{key: "paths.tempDir", env: "TEMP_DIR", isPath: true},

	// Execution
	{key: "execution.commandTimeout", env: "COMMAND_TIMEOUT"},
	{key: "execution.exitTimeout", env: "EXIT_TIMEOUT"},
	{key: "execution.startTimeout", env: "START_TIMEOUT"},
	{key: "execution.charset", env: "CHARSET"},

	// Elevation
	{key: "elevation.mode", env: "ELEVATION_MODE"},
	{key: "elevation.passwordEnv", env: "ELEVATION_PASSWORD_ENV"},
	{key: "elevation.prompt", env: "ELEVATION_PROMPT"},

	// Terminal
	{key: "terminal.preferred", env: "TERMINAL_PREFERRED"},
	{key: "terminal.launchTimeout", env: "TERMINAL_LAUNCH_TIMEOUT"},
	{key: "terminal.kittySocket", env: "KITTY_SOCKET", isPath: true},
	{key: "terminal.executable", env: "EXECUTABLE", isPath: true},

	// Socket
	{key: "socket.host", env: "SOCKET_HOST"},
	{key: "socket.port", env: "SOCKET_PORT"},
}

func (l *ConfigLoader) bindEnvironmentVariables() {
	prefix := strings.ToUpper(AppSlug) + "_"

	for _, b := range envBindings {
		fullEnv := prefix + b.env

		if b.isPath {
			if val := os.Getenv(fullEnv); val != "" {
				if abs, err := filepath.Abs(val); err == nil && abs != val {
					_ = os.Setenv(fullEnv, abs)
				}
			}
		}

		_ = l.v.BindEnv(b.key, fullEnv)
	}
}

func (l *ConfigLoader) configureViper(configDir, configFile string) {
	if configFile == "" {
		l.v.AddConfigPath(configDir)
		l.v.SetConfigName("config")
	} else {
		l.v.SetConfigFile(configFile)
	}
	l.v.SetConfigType("yaml")
	l.v.SetEnvPrefix(strings.ToUpper(AppSlug))
	l.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	l.v.AutomaticEnv()
}

// Load is a shortcut for NewConfigLoader(viper.New(), options...).Load().
func Load(options ...ConfigLoaderOption) (*Config, error) {
	return NewConfigLoader(viper.New(), options...).Load()
}
