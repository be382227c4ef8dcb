// Package store turns connection definitions from the configuration into
// running shell sessions.
package store

import (
	"fmt"
	"maps"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/go-viper/mapstructure/v2"

	"github.com/CloudEngineHub/xpipe-sub000/internal/errkind"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/dialect"
)

// Kind is the type of a connection.
type Kind string

const (
	KindLocal    Kind = "local"
	KindSSH      Kind = "ssh"
	KindSubShell Kind = "subshell"
)

// LocalName is the connection that always exists.
const LocalName = "local"

// Definition describes how to reach one shell.
type Definition struct {
	Name string `mapstructure:"-"`
	Kind Kind   `mapstructure:"kind"`
	// Shell is the dialect id of the session.
	Shell string `mapstructure:"shell"`
	// ShellPath overrides the dialect's executable.
	ShellPath string `mapstructure:"shellPath"`
	PTY       bool   `mapstructure:"pty"`

	// SSH
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	User           string `mapstructure:"user"`
	IdentityFile   string `mapstructure:"identityFile"`
	PasswordEnv    string `mapstructure:"passwordEnv"`
	KnownHostsFile string `mapstructure:"knownHostsFile"`
	StrictHostKey  bool   `mapstructure:"strictHostKey"`
	// Jump names another ssh connection used as bastion.
	Jump string `mapstructure:"jump"`
	// LoginShell uses the remote login shell instead of launching Shell.
	LoginShell bool `mapstructure:"loginShell"`

	// Parent is the connection a sub-shell runs in.
	Parent string `mapstructure:"parent"`

	Dir     string            `mapstructure:"dir"`
	Env     map[string]string `mapstructure:"env"`
	EnvFile string            `mapstructure:"envFile"`
	Charset string            `mapstructure:"charset"`
	// Elevation overrides the configured elevation mode.
	Elevation string `mapstructure:"elevation"`
	// Timeout bounds session start.
	Timeout time.Duration `mapstructure:"timeout"`
}

// Decode builds the definition name from raw configuration values, filling
// gaps from defaults.
func Decode(name string, raw, defaults map[string]any) (Definition, error) {
	op := "connection " + name
	merged := maps.Clone(raw)
	if merged == nil {
		merged = make(map[string]any)
	}
	if len(defaults) > 0 {
		if err := mergo.Merge(&merged, maps.Clone(defaults)); err != nil {
			return Definition{}, errkind.Wrap(errkind.InternalError, op, err)
		}
	}

	var def Definition
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &def,
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return Definition{}, errkind.Wrap(errkind.InternalError, op, err)
	}
	if err := decoder.Decode(merged); err != nil {
		return Definition{}, errkind.Wrap(errkind.Unsupported, op, err)
	}

	def.Name = name
	if def.Kind == "" {
		def.Kind = KindLocal
		if def.Host != "" {
			def.Kind = KindSSH
		}
	}
	def.Env = normalizeEnv(def.Env)
	if err := def.Validate(); err != nil {
		return Definition{}, err
	}
	return def, nil
}

// Validate checks that the fields required by the kind are present.
func (d Definition) Validate() error {
	op := "connection " + d.Name
	switch d.Kind {
	case KindLocal:
		if d.LoginShell {
			return errkind.Errorf(errkind.Unsupported, op, "local connections have no login shell")
		}
	case KindSSH:
		if d.Host == "" {
			return errkind.Errorf(errkind.Unsupported, op, "ssh connections need a host")
		}
	case KindSubShell:
		if d.Parent == "" {
			return errkind.Errorf(errkind.Unsupported, op, "sub-shells need a parent")
		}
		if d.Parent == d.Name {
			return errkind.Errorf(errkind.Unsupported, op, "connection cannot be its own parent")
		}
	default:
		return errkind.Errorf(errkind.Unsupported, op, "unknown kind %q", d.Kind)
	}
	if d.Shell != "" {
		if _, ok := dialect.Lookup(dialect.ID(strings.ToLower(d.Shell))); !ok {
			return errkind.Errorf(errkind.Unsupported, op, "unknown shell %q", d.Shell)
		}
	}
	return nil
}

// Describe is a one-line summary for listings.
func (d Definition) Describe() string {
	switch d.Kind {
	case KindSSH:
		host := d.Host
		if d.User != "" {
			host = d.User + "@" + host
		}
		if d.Port != 0 && d.Port != 22 {
			host = fmt.Sprintf("%s:%d", host, d.Port)
		}
		if d.Jump != "" {
			host += " via " + d.Jump
		}
		return host
	case KindSubShell:
		return d.Shell + " in " + d.Parent
	}
	if d.Shell != "" {
		return d.Shell
	}
	return "default shell"
}

// normalizeEnv upper-cases names; configuration keys lose their case on
// the way through viper.
func normalizeEnv(env map[string]string) map[string]string {
	if len(env) == 0 {
		return env
	}
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[strings.ToUpper(k)] = v
	}
	return out
}
