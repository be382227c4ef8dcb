package app

import (
	"bytes"
	"context"
	"os"

	"github.com/samber/lo"

	"github.com/CloudEngineHub/xpipe-sub000/internal/appsocket"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/config"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/duration"
	"github.com/CloudEngineHub/xpipe-sub000/internal/errkind"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/command"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shell/ostype"
	"github.com/CloudEngineHub/xpipe-sub000/internal/shellctl"
	"github.com/CloudEngineHub/xpipe-sub000/internal/store"
	"github.com/CloudEngineHub/xpipe-sub000/internal/terminal"
)

// Message types served on the app socket.
const (
	MessageVersion         = "version"
	MessageTerminalPrepare = "terminalPrepare"
	MessageExec            = "exec"
	MessageOpen            = "open"
	MessageConnections     = "connections"
)

type VersionResponse struct {
	Version string `json:"version"`
	OS      string `json:"os"`
	PID     int    `json:"pid"`
}

type TerminalPrepareRequest struct {
	RequestID string `json:"requestId"`
}

type TerminalPrepareResponse struct {
	Target string `json:"target"`
}

// ExecRequest runs Args, quoted for the target shell, or the raw Line.
type ExecRequest struct {
	Connection string   `json:"connection"`
	Args       []string `json:"args,omitempty"`
	Line       string   `json:"line,omitempty"`
	Timeout    string   `json:"timeout,omitempty"`
	Dir        string   `json:"dir,omitempty"`
	Elevated   bool     `json:"elevated,omitempty"`
	Charset    string   `json:"charset,omitempty"`
}

type ExecResponse struct {
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

type OpenRequest struct {
	Connection string   `json:"connection"`
	Terminal   string   `json:"terminal,omitempty"`
	Title      string   `json:"title,omitempty"`
	Color      string   `json:"color,omitempty"`
	Dir        string   `json:"dir,omitempty"`
	Clear      bool     `json:"clear,omitempty"`
	Args       []string `json:"args,omitempty"`
}

type ConnectionInfo struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Description string `json:"description"`
	Open        bool   `json:"open"`
}

func (a *App) registerHandlers() {
	a.Socket.Handle(MessageVersion, func(context.Context, *appsocket.Request) (any, error) {
		return a.Version(), nil
	})
	a.Socket.Handle(MessageTerminalPrepare, func(ctx context.Context, req *appsocket.Request) (any, error) {
		var in TerminalPrepareRequest
		if err := req.Decode(&in); err != nil {
			return nil, err
		}
		target, err := a.Terminals.Prepare(ctx, in.RequestID)
		if err != nil {
			return nil, err
		}
		return TerminalPrepareResponse{Target: target}, nil
	})
	a.Socket.Handle(MessageExec, func(ctx context.Context, req *appsocket.Request) (any, error) {
		var in ExecRequest
		if err := req.Decode(&in); err != nil {
			return nil, err
		}
		return a.Exec(ctx, in, req.Body)
	})
	a.Socket.Handle(MessageOpen, func(ctx context.Context, req *appsocket.Request) (any, error) {
		var in OpenRequest
		if err := req.Decode(&in); err != nil {
			return nil, err
		}
		return struct{}{}, a.Open(ctx, in)
	})
	a.Socket.Handle(MessageConnections, func(context.Context, *appsocket.Request) (any, error) {
		return a.Connections(), nil
	})
}

func (a *App) Version() VersionResponse {
	return VersionResponse{Version: config.Version, OS: ostype.Local().String(), PID: os.Getpid()}
}

// Exec runs a command on a connection and returns its output. A nonzero
// exit is reported in the response, not as an error.
func (a *App) Exec(ctx context.Context, in ExecRequest, stdin []byte) (ExecResponse, error) {
	if len(in.Args) == 0 && in.Line == "" {
		return ExecResponse{}, errkind.Errorf(errkind.Unsupported, "exec", "no command given")
	}
	c, err := a.Stores.Open(ctx, lo.CoalesceOrEmpty(in.Connection, store.LocalName))
	if err != nil {
		return ExecResponse{}, err
	}

	var opts []shellctl.CommandOption
	if in.Timeout != "" {
		d, err := duration.Parse(in.Timeout)
		if err != nil {
			return ExecResponse{}, errkind.Errorf(errkind.Unsupported, "exec", "invalid timeout %q", in.Timeout)
		}
		opts = append(opts, shellctl.WithTimeout(d))
	} else if d := a.Config.Execution.CommandTimeout; d > 0 {
		opts = append(opts, shellctl.WithTimeout(d))
	}
	if in.Dir != "" {
		opts = append(opts, shellctl.WithWorkingDirectory(in.Dir))
	}
	if in.Elevated {
		opts = append(opts, shellctl.Elevated())
	}
	if in.Charset != "" {
		opts = append(opts, shellctl.WithCharset(in.Charset))
	}

	var cc *shellctl.CommandControl
	if len(in.Args) > 0 {
		cc = c.Command(command.Of(in.Args[0]).AddQuoted(in.Args[1:]...), opts...)
	} else {
		cc = c.RawCommand(in.Line, opts...)
	}
	if len(stdin) > 0 {
		cc.SetStdin(bytes.NewReader(stdin))
	}
	stdout, stderr, err := cc.ReadStdoutAndStderr(ctx)
	if err != nil {
		return ExecResponse{}, err
	}
	return ExecResponse{ExitCode: cc.ExitCode(), Stdout: stdout, Stderr: stderr}, nil
}

// Open shows a connection in a terminal.
func (a *App) Open(ctx context.Context, in OpenRequest) error {
	c, err := a.Stores.Open(ctx, lo.CoalesceOrEmpty(in.Connection, store.LocalName))
	if err != nil {
		return err
	}
	var b *command.Builder
	if len(in.Args) > 0 {
		b = command.Of(in.Args[0]).AddQuoted(in.Args[1:]...)
	}
	return a.Terminals.Open(ctx, c, terminal.OpenOptions{
		Terminal: terminal.Type(in.Terminal),
		Title:    lo.CoalesceOrEmpty(in.Title, c.Name()),
		Color:    in.Color,
		Dir:      in.Dir,
		Clear:    in.Clear,
		Command:  b,
	})
}

// Connections lists the configured connections.
func (a *App) Connections() []ConnectionInfo {
	opened := a.Stores.Opened()
	return lo.Map(a.Stores.Names(), func(name string, _ int) ConnectionInfo {
		def, _ := a.Stores.Get(name)
		return ConnectionInfo{
			Name:        name,
			Kind:        string(def.Kind),
			Description: def.Describe(),
			Open:        lo.Contains(opened, name),
		}
	})
}

// Serve runs the app socket until ctx is done.
func (a *App) Serve(ctx context.Context, listen chan error) error {
	ctx = a.Context(ctx)
	stop := context.AfterFunc(ctx, func() { _ = a.Socket.Shutdown(context.WithoutCancel(ctx)) })
	defer stop()
	return a.Socket.Serve(ctx, listen)
}
