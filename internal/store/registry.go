package store

import (
	"context"
	"errors"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"

	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/config"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/fileutil"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger/tag"
	"github.com/CloudEngineHub/xpipe-sub000/internal/errkind"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/askpass"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/dialect"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/transport"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shellctl"
)

// Registry holds the known connections and the sessions opened for them.
type Registry struct {
	defs     map[string]Definition
	exec     config.Execution
	elev     config.Elevation
	shell    string
	password askpass.Provider

	mu   sync.Mutex
	open map[string]*shellctl.Control
}

// NewRegistry decodes the connections of cfg. password supplies sudo and
// ssh passwords that are not given by environment variables.
func NewRegistry(cfg *config.Config, password askpass.Provider) (*Registry, error) {
	if password == nil {
		password = askpass.None()
	}
	r := &Registry{
		defs:     make(map[string]Definition),
		exec:     cfg.Execution,
		elev:     cfg.Elevation,
		shell:    cfg.Core.DefaultShell,
		password: password,
		open:     make(map[string]*shellctl.Control),
	}

	var errs []error
	for name, raw := range cfg.Connections {
		def, err := Decode(name, raw, cfg.ConnectionDefaults)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		r.defs[name] = def
	}
	if _, ok := r.defs[LocalName]; !ok {
		r.defs[LocalName] = Definition{Name: LocalName, Kind: KindLocal, Shell: cfg.Core.DefaultShell}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return r, nil
}

// Names lists the connections in order.
func (r *Registry) Names() []string {
	return slices.Sorted(maps.Keys(r.defs))
}

func (r *Registry) Get(name string) (Definition, bool) {
	def, ok := r.defs[name]
	return def, ok
}

// Open returns the started session of connection name. Sessions are shared:
// a second Open returns the same Control unless it was closed meanwhile.
func (r *Registry) Open(ctx context.Context, name string) (*shellctl.Control, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.openLocked(ctx, name, nil)
}

func (r *Registry) openLocked(ctx context.Context, name string, path []string) (*shellctl.Control, error) {
	if slices.Contains(path, name) {
		return nil, errkind.Errorf(errkind.Unsupported, "open "+name, "parent cycle %s", strings.Join(append(path, name), " -> "))
	}
	if c, ok := r.open[name]; ok {
		switch c.State() {
		case shellctl.StateCreated, shellctl.StateStarted:
			return c, c.Start(ctx)
		}
		if err := c.Close(context.WithoutCancel(ctx)); err != nil {
			logger.Debug(ctx, "Failed to close stale session", tag.Connection(name), tag.Error(err))
		}
		delete(r.open, name)
	}

	def, ok := r.defs[name]
	if !ok {
		return nil, errkind.NotFoundf("open connection", "unknown connection %q", name)
	}
	ctx = logger.WithValues(ctx, tag.Connection(name))

	env, err := def.environment()
	if err != nil {
		return nil, err
	}

	opts := shellctl.Options{
		Name:         name,
		ShellPath:    def.ShellPath,
		LoginShell:   def.LoginShell,
		PTY:          def.PTY,
		StartTimeout: r.exec.StartTimeout,
		ExitTimeout:  r.exec.ExitTimeout,
		Charset:      r.exec.Charset,
		Elevation:    r.elevation(def),
	}
	if def.Shell != "" {
		opts.Dialect = dialect.MustLookup(dialect.ID(strings.ToLower(def.Shell)))
	}
	if def.Timeout > 0 {
		opts.StartTimeout = def.Timeout
	}
	if def.Charset != "" {
		opts.Charset = def.Charset
	}

	var c *shellctl.Control
	switch def.Kind {
	case KindLocal:
		opts.Dir = def.Dir
		opts.Env = envList(env)
		c = shellctl.New(transport.NewLocal(), opts)
	case KindSSH:
		t, err := r.sshTransport(def, opts.Dialect)
		if err != nil {
			return nil, err
		}
		c = shellctl.New(t, opts)
		c.OnInit(initSession(def.Dir, env))
	case KindSubShell:
		parent, err := r.openLocked(ctx, def.Parent, append(path, name))
		if err != nil {
			return nil, err
		}
		c = parent.SubShell(opts)
		c.OnInit(initSession(def.Dir, env))
	}

	c.OnFail(func(_ *shellctl.Control, err error) {
		logger.Warn(ctx, "Connection failed", tag.Error(err))
	})
	logger.Debug(ctx, "Opening connection", tag.Kind(string(def.Kind)))
	if err := c.Start(ctx); err != nil {
		_ = c.Close(context.WithoutCancel(ctx))
		return nil, err
	}
	r.open[name] = c
	return c, nil
}

func (r *Registry) elevation(def Definition) shellctl.Elevation {
	mode := r.elev.Mode
	if def.Elevation != "" {
		mode = def.Elevation
	}
	var providers []askpass.Provider
	if r.elev.PasswordEnv != "" {
		providers = append(providers, askpass.Env(r.elev.PasswordEnv))
	}
	if r.elev.Prompt {
		providers = append(providers, r.password)
	}
	return shellctl.Elevation{Method: mode, Password: askpass.Chain(providers...)}
}

func (r *Registry) sshTransport(def Definition, login dialect.Dialect) (*transport.SSH, error) {
	cfg := transport.SSHConfig{
		User:          def.User,
		Host:          def.Host,
		Port:          strconv.Itoa(def.Port),
		Key:           def.IdentityFile,
		StrictHostKey: def.StrictHostKey,
		KnownHostFile: def.KnownHostsFile,
		Timeout:       def.Timeout,
		LoginDialect:  login,
	}
	if def.PasswordEnv != "" {
		cfg.Password = os.Getenv(def.PasswordEnv)
	}
	if def.Jump != "" {
		jump, ok := r.defs[def.Jump]
		if !ok || jump.Kind != KindSSH {
			return nil, errkind.NotFoundf("connection "+def.Name, "jump host %q is not an ssh connection", def.Jump)
		}
		cfg.Bastion = &transport.BastionConfig{
			User: jump.User,
			Host: jump.Host,
			Port: strconv.Itoa(jump.Port),
			Key:  jump.IdentityFile,
		}
		if jump.PasswordEnv != "" {
			cfg.Bastion.Password = os.Getenv(jump.PasswordEnv)
		}
	}
	t, err := transport.NewSSH(cfg)
	if err != nil {
		return nil, errkind.Wrap(errkind.Unsupported, "connection "+def.Name, err)
	}
	return t, nil
}

// environment merges the env file under the inline env map.
func (d Definition) environment() (map[string]string, error) {
	env := make(map[string]string)
	if d.EnvFile != "" {
		path, err := fileutil.ResolvePath(d.EnvFile)
		if err != nil {
			return nil, errkind.Wrap(errkind.NotFound, "connection "+d.Name, err)
		}
		fileEnv, err := godotenv.Read(path)
		if err != nil {
			return nil, errkind.Errorf(errkind.NotFound, "connection "+d.Name, "read env file %s: %v", path, err)
		}
		maps.Copy(env, fileEnv)
	}
	maps.Copy(env, d.Env)
	return env, nil
}

func envList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for _, k := range slices.Sorted(maps.Keys(env)) {
		out = append(out, k+"="+env[k])
	}
	return out
}

// initSession exports env and changes into dir once the session runs.
func initSession(dir string, env map[string]string) shellctl.InitFunc {
	return func(ctx context.Context, c *shellctl.Control) error {
		for _, k := range slices.Sorted(maps.Keys(env)) {
			if err := c.Export(ctx, k, env[k]); err != nil {
				return err
			}
		}
		if dir != "" {
			return c.ChangeDirectory(ctx, dir)
		}
		return nil
	}
}

// Opened lists the connections with a live session.
func (r *Registry) Opened() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for name, c := range r.open {
		if c.State() == shellctl.StateStarted {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

// Close closes every opened session, children before their parents.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	open := r.open
	r.open = make(map[string]*shellctl.Control)
	r.mu.Unlock()

	controls := slices.Collect(maps.Values(open))
	slices.SortFunc(controls, func(a, b *shellctl.Control) int { return depth(b) - depth(a) })

	var errs []error
	start := time.Now()
	for _, c := range controls {
		if err := c.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	logger.Debug(ctx, "Connections closed", tag.Duration(time.Since(start)))
	return errors.Join(errs...)
}

func depth(c *shellctl.Control) int {
	n := 0
	for p := c.Parent(); p != nil; p = p.Parent() {
		n++
	}
	return n
}
