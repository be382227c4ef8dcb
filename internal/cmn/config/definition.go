package config

// Definition is the raw configuration as read from file and environment.
type Definition struct {
	Debug        bool   `mapstructure:"debug"`
	LogFormat    string `mapstructure:"logFormat"`
	DefaultShell string `mapstructure:"defaultShell"`

	Paths     PathsDef     `mapstructure:"paths"`
	Execution ExecutionDef `mapstructure:"execution"`
	Elevation ElevationDef `mapstructure:"elevation"`
	Terminal  TerminalDef  `mapstructure:"terminal"`
	Socket    SocketDef    `mapstructure:"socket"`

	ConnectionDefaults map[string]any            `mapstructure:"connectionDefaults"`
	Connections        map[string]map[string]any `mapstructure:"connections"`
}

// PathsDef configures directories.
type PathsDef struct {
	DataDir string `mapstructure:"dataDir"`
	LogDir  string `mapstructure:"logDir"`
	TempDir string `mapstructure:"tempDir"`
}

// ExecutionDef configures command defaults. Durations are Go duration
// strings.
type ExecutionDef struct {
	CommandTimeout string `mapstructure:"commandTimeout"`
	ExitTimeout    string `mapstructure:"exitTimeout"`
	StartTimeout   string `mapstructure:"startTimeout"`
	Charset        string `mapstructure:"charset"`
}

// ElevationDef configures elevation.
type ElevationDef struct {
	Mode        string `mapstructure:"mode"`
	PasswordEnv string `mapstructure:"passwordEnv"`
	Prompt      bool   `mapstructure:"prompt"`
}

// TerminalDef configures terminal launches.
type TerminalDef struct {
	Preferred     string `mapstructure:"preferred"`
	LaunchTimeout string `mapstructure:"launchTimeout"`
	KittySocket   string `mapstructure:"kittySocket"`
	Executable    string `mapstructure:"executable"`
}

// SocketDef configures the app socket.
type SocketDef struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}
