package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/fileutil"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger/tag"
	"github.com/CloudEngineHub/xpipe-sub000/internal/errkind"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/dialect"
)

const defaultSSHTimeout = 30 * time.Second

// SSHConfig represents SSH connection info.
type SSHConfig struct {
	User          string
	Host          string
	Port          string
	Key           string
	Password      string
	StrictHostKey bool
	KnownHostFile string
	Timeout       time.Duration
	Bastion       *BastionConfig
	// LoginDialect is the dialect of the remote login shell, used to turn
	// argument vectors into the command string SSH transmits.
	LoginDialect dialect.Dialect
}

// BastionConfig is a jump host the target is reached through.
type BastionConfig struct {
	User     string
	Host     string
	Port     string
	Key      string
	Password string
}

var _ Transport = (*SSH)(nil)

// SSH runs processes on a remote host over one shared SSH connection.
type SSH struct {
	cfg        SSHConfig
	hostPort   string
	client     *ssh.ClientConfig
	bastionCfg *bastionClientConfig

	mu      sync.Mutex
	conn    *ssh.Client
	bastion *ssh.Client
	sftp    *sftp.Client
}

type bastionClientConfig struct {
	hostPort string
	cfg      *ssh.ClientConfig
}

// NewSSH validates the configuration and prepares authentication. It does
// not connect; the first Open does.
func NewSSH(cfg SSHConfig) (*SSH, error) {
	if cfg.Host == "" {
		return nil, errkind.New(errkind.InternalError, "ssh host is required")
	}
	if cfg.LoginDialect == nil {
		cfg.LoginDialect = dialect.MustLookup(dialect.Sh)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultSSHTimeout
	}
	if cfg.Port == "" || cfg.Port == "0" {
		cfg.Port = "22"
	}

	authMethod, err := selectAuthMethod(cfg.Key, cfg.Password)
	if err != nil {
		return nil, err
	}
	hostKeyCallback, err := hostKeyCallback(cfg.StrictHostKey, cfg.KnownHostFile)
	if err != nil {
		return nil, fmt.Errorf("failed to setup host key verification: %w", err)
	}

	var bastionCfg *bastionClientConfig
	if cfg.Bastion != nil {
		auth, err := selectAuthMethod(cfg.Bastion.Key, cfg.Bastion.Password)
		if err != nil {
			return nil, fmt.Errorf("bastion: %w", err)
		}
		port := cfg.Bastion.Port
		if port == "" || port == "0" {
			port = "22"
		}
		bastionCfg = &bastionClientConfig{
			hostPort: net.JoinHostPort(cfg.Bastion.Host, port),
			cfg: &ssh.ClientConfig{
				User:            cfg.Bastion.User,
				Auth:            []ssh.AuthMethod{auth},
				HostKeyCallback: hostKeyCallback,
				Timeout:         cfg.Timeout,
			},
		}
	}

	return &SSH{
		cfg:      cfg,
		hostPort: net.JoinHostPort(cfg.Host, cfg.Port),
		client: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            []ssh.AuthMethod{authMethod},
			HostKeyCallback: hostKeyCallback,
			Timeout:         cfg.Timeout,
		},
		bastionCfg: bastionCfg,
	}, nil
}

func (s *SSH) IsLocal() bool { return false }

func (s *SSH) SystemID() string {
	return fmt.Sprintf("ssh:%s@%s", s.cfg.User, s.hostPort)
}

// TerminalArgv runs the system ssh client, which owns the terminal for the
// interactive session.
func (s *SSH) TerminalArgv(_ dialect.Dialect, command string) []string {
	argv := []string{"ssh", "-t"}
	if s.cfg.Port != "22" {
		argv = append(argv, "-p", s.cfg.Port)
	}
	if s.cfg.Key != "" {
		if key, err := fileutil.ResolvePath(s.cfg.Key); err == nil {
			argv = append(argv, "-i", key)
		}
	}
	if !s.cfg.StrictHostKey {
		argv = append(argv, "-o", "StrictHostKeyChecking=no")
	}
	if b := s.cfg.Bastion; b != nil {
		jump := b.Host
		if b.User != "" {
			jump = b.User + "@" + jump
		}
		if b.Port != "" && b.Port != "22" {
			jump += ":" + b.Port
		}
		argv = append(argv, "-J", jump)
	}
	target := s.cfg.Host
	if s.cfg.User != "" {
		target = s.cfg.User + "@" + target
	}
	argv = append(argv, target)
	if command != "" {
		argv = append(argv, command)
	}
	return argv
}

func (s *SSH) connect(ctx context.Context) (*ssh.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return s.conn, nil
	}

	var (
		netConn net.Conn
		err     error
	)
	if s.bastionCfg != nil {
		s.bastion, err = dialSSH(ctx, s.bastionCfg.hostPort, s.bastionCfg.cfg)
		if err != nil {
			return nil, errkind.Wrap(errkind.TransportFailure, "connect to bastion host", err)
		}
		netConn, err = s.bastion.Dial("tcp", s.hostPort)
		if err != nil {
			_ = s.bastion.Close()
			s.bastion = nil
			return nil, errkind.Wrap(errkind.TransportFailure, "dial target through bastion", err)
		}
	} else {
		d := net.Dialer{Timeout: s.client.Timeout}
		netConn, err = d.DialContext(ctx, "tcp", s.hostPort)
		if err != nil {
			return nil, errkind.Wrap(errkind.TransportFailure, "connect to "+s.hostPort, err)
		}
	}

	ncc, chans, reqs, err := ssh.NewClientConn(netConn, s.hostPort, s.client)
	if err != nil {
		_ = netConn.Close()
		return nil, errkind.Wrap(errkind.TransportFailure, "ssh handshake with "+s.hostPort, err)
	}
	s.conn = ssh.NewClient(ncc, chans, reqs)
	logger.Info(ctx, "SSH connection established", tag.Host(s.hostPort))
	return s.conn, nil
}

func dialSSH(ctx context.Context, hostPort string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	d := net.Dialer{Timeout: cfg.Timeout}
	conn, err := d.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		return nil, err
	}
	ncc, chans, reqs, err := ssh.NewClientConn(conn, hostPort, cfg)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return ssh.NewClient(ncc, chans, reqs), nil
}

func (s *SSH) Open(ctx context.Context, launch Launch) (Channel, error) {
	conn, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	session, err := conn.NewSession()
	if err != nil {
		return nil, errkind.Wrap(errkind.TransportFailure, "open ssh session", err)
	}

	fail := func(op string, err error) (Channel, error) {
		_ = session.Close()
		return nil, errkind.Wrap(errkind.TransportFailure, op, err)
	}

	for _, kv := range launch.Env {
		if k, v, ok := cutEnv(kv); ok {
			// servers commonly reject env requests outside AcceptEnv
			_ = session.Setenv(k, v)
		}
	}
	if launch.PTY {
		modes := ssh.TerminalModes{ssh.ECHO: 0, ssh.TTY_OP_ISPEED: 14400, ssh.TTY_OP_OSPEED: 14400}
		if err := session.RequestPty("xterm-256color", 40, 200, modes); err != nil {
			return fail("request pty", err)
		}
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		return fail("stdin pipe", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		return fail("stdout pipe", err)
	}
	var stderr io.Reader
	if !launch.PTY {
		if stderr, err = session.StderrPipe(); err != nil {
			return fail("stderr pipe", err)
		}
	}

	if len(launch.Argv) == 0 {
		err = session.Shell()
	} else {
		line := s.cfg.LoginDialect.JoinArgv(launch.Argv)
		if launch.Dir != "" {
			line = s.cfg.LoginDialect.And(s.cfg.LoginDialect.ChangeDirectory(launch.Dir), line)
		}
		err = session.Start(line)
	}
	if err != nil {
		return fail("start remote process", err)
	}

	return &sshChannel{session: session, stdin: stdin, stdout: stdout, stderr: stderr, exitCode: -1}, nil
}

func (s *SSH) sftpClient(ctx context.Context) (*sftp.Client, error) {
	conn, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sftp == nil {
		c, err := sftp.NewClient(conn)
		if err != nil {
			return nil, errkind.Wrap(errkind.Unsupported, "start sftp subsystem", err)
		}
		s.sftp = c
	}
	return s.sftp, nil
}

// WriteFile uploads data through SFTP, creating parent directories.
func (s *SSH) WriteFile(ctx context.Context, p string, data []byte, perm os.FileMode) error {
	client, err := s.sftpClient(ctx)
	if err != nil {
		return err
	}
	if dir := path.Dir(filepath.ToSlash(p)); dir != "." {
		if err := client.MkdirAll(dir); err != nil {
			return errkind.Wrap(errkind.TransportFailure, "create remote directory", err)
		}
	}
	f, err := client.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return errkind.Wrap(errkind.TransportFailure, "create remote file", err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return errkind.Wrap(errkind.TransportFailure, "write remote file", err)
	}
	if err := f.Close(); err != nil {
		return errkind.Wrap(errkind.TransportFailure, "close remote file", err)
	}
	if err := client.Chmod(p, perm); err != nil {
		logger.Debug(ctx, "Failed to set remote file mode", tag.File(p), tag.Error(err))
	}
	return nil
}

func (s *SSH) RemoveFile(ctx context.Context, p string) error {
	client, err := s.sftpClient(ctx)
	if err != nil {
		return err
	}
	if err := client.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errkind.Wrap(errkind.TransportFailure, "remove remote file", err)
	}
	return nil
}

func (s *SSH) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	if s.sftp != nil {
		errs = append(errs, s.sftp.Close())
		s.sftp = nil
	}
	if s.conn != nil {
		errs = append(errs, s.conn.Close())
		s.conn = nil
	}
	if s.bastion != nil {
		errs = append(errs, s.bastion.Close())
		s.bastion = nil
	}
	return errors.Join(errs...)
}

type sshChannel struct {
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader
	stderr  io.Reader

	waitOnce sync.Once
	waitErr  error
	exitCode int
}

func (c *sshChannel) Stdin() io.WriteCloser { return c.stdin }
func (c *sshChannel) Stdout() io.Reader     { return c.stdout }
func (c *sshChannel) Stderr() io.Reader     { return c.stderr }
func (c *sshChannel) Pid() int              { return 0 }

func (c *sshChannel) Wait() error {
	c.waitOnce.Do(func() {
		err := c.session.Wait()
		var exitErr *ssh.ExitError
		switch {
		case err == nil:
			c.exitCode = 0
		case errors.As(err, &exitErr):
			c.exitCode = exitErr.ExitStatus()
		}
		c.waitErr = err
	})
	return c.waitErr
}

func (c *sshChannel) ExitCode() int { return c.exitCode }

// Kill signals the remote process and tears down the channel; servers that
// ignore signals still terminate the process once the channel closes.
func (c *sshChannel) Kill() error {
	_ = c.session.Signal(ssh.SIGKILL)
	return c.session.Close()
}

func (c *sshChannel) Close() error {
	err := c.session.Close()
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func cutEnv(kv string) (string, string, bool) {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return kv[:i], kv[i+1:], i > 0
		}
	}
	return "", "", false
}

// hostKeyCallback verifies host keys against known_hosts unless the user
// opted out.
func hostKeyCallback(strict bool, knownHostFile string) (ssh.HostKeyCallback, error) {
	if !strict {
		return ssh.InsecureIgnoreHostKey(), nil // nolint: gosec
	}
	if knownHostFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		knownHostFile = filepath.Join(home, ".ssh", "known_hosts")
	}
	resolved, err := fileutil.ResolvePath(knownHostFile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve known_hosts path: %w", err)
	}
	return knownhosts.New(resolved)
}

func defaultKeys() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	dir := filepath.Join(home, ".ssh")
	return []string{
		filepath.Join(dir, "id_ed25519"),
		filepath.Join(dir, "id_ecdsa"),
		filepath.Join(dir, "id_rsa"),
	}
}

// selectAuthMethod prefers an explicit key, then a password, then the
// default keys in ~/.ssh.
func selectAuthMethod(key, password string) (ssh.AuthMethod, error) {
	if key != "" {
		keyPath, err := fileutil.ResolvePath(key)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve key path: %w", err)
		}
		signer, err := loadSigner(keyPath)
		if err != nil {
			return nil, errkind.Wrap(errkind.NotFound, "load ssh key "+keyPath, err)
		}
		return ssh.PublicKeys(signer), nil
	}
	if password != "" {
		return ssh.Password(password), nil
	}
	for _, k := range defaultKeys() {
		if !fileutil.FileExists(k) {
			continue
		}
		if signer, err := loadSigner(k); err == nil {
			return ssh.PublicKeys(signer), nil
		}
	}
	return nil, errkind.NotFoundf("ssh auth", "no authentication method available: provide a key or password")
}

func loadSigner(path string) (ssh.Signer, error) {
	key, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(key)
}

// PortString formats a numeric port for SSHConfig.
func PortString(port int) string {
	if port <= 0 {
		return ""
	}
	return strconv.Itoa(port)
}
