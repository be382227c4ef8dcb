package config

import (
	"time"
)

// Config holds the overall configuration for the application.
type Config struct {
	Core      Core
	Paths     PathsConfig
	Execution Execution
	Elevation Elevation
	Terminal  Terminal
	Socket    Socket
	// ConnectionDefaults are merged into every connection definition.
	ConnectionDefaults map[string]any
	// Connections are raw connection definitions keyed by name. They are
	// decoded by the connection store.
	Connections map[string]map[string]any
	Warnings    []string
}

// Core holds global settings.
type Core struct {
	Debug     bool
	LogFormat string
	// DefaultShell is the dialect id used for local sessions. Empty means
	// the platform default.
	DefaultShell string
}

// PathsConfig holds the directories the application works in.
type PathsConfig struct {
	ConfigDir      string
	DataDir        string
	LogDir         string
	TempDir        string
	ConfigFileUsed string
}

// Execution holds defaults for sessions and commands.
type Execution struct {
	// CommandTimeout bounds tracked commands. Zero disables the limit.
	CommandTimeout time.Duration
	ExitTimeout    time.Duration
	StartTimeout   time.Duration
	Charset        string
}

// Elevation holds defaults for privileged commands.
type Elevation struct {
	// Mode is one of auto, sudo, doas, uac or none.
	Mode string
	// PasswordEnv names an environment variable holding the sudo password.
	PasswordEnv string
	// Prompt asks for the password on the controlling terminal.
	Prompt bool
}

// Terminal holds terminal launch settings.
type Terminal struct {
	Preferred     string
	LaunchTimeout time.Duration
	KittySocket   string
	// Executable is the xpipe binary called back by launcher scripts.
	Executable string
}

// Socket is the loopback address of the app socket.
type Socket struct {
	Host string
	Port int
}
