package terminal

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/backoff"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger"
	"github.com/CloudEngineHub/xpipe-sub000/internal/cmn/logger/tag"
	"github.com/CloudEngineHub/xpipe-sub000/internal/errkind"
)

const (
	kittyPrefix = "\x1bP@kitty-cmd"
	kittySuffix = "\x1b\\"

	kittyIOTimeout = 10 * time.Second
)

var kittyVersion = []int{0, 26, 0}

type kittyCommand struct {
	Cmd        string `json:"cmd"`
	Version    []int  `json:"version"`
	NoResponse bool   `json:"no_response,omitempty"`
	Payload    any    `json:"payload,omitempty"`
}

type kittyResponse struct {
	OK    bool            `json:"ok"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error string          `json:"error,omitempty"`
}

type kittyLaunch struct {
	Args     []string `json:"args"`
	Type     string   `json:"type"`
	TabTitle string   `json:"tab_title,omitempty"`
	Cwd      string   `json:"cwd,omitempty"`
}

type kittyTabColor struct {
	Match  string            `json:"match"`
	Colors map[string]string `json:"colors"`
}

// encodeKittyCommand frames a remote control command.
func encodeKittyCommand(cmd string, payload any) ([]byte, error) {
	body, err := json.Marshal(kittyCommand{Cmd: cmd, Version: kittyVersion, Payload: payload})
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	buf.WriteString(kittyPrefix)
	buf.Write(body)
	buf.WriteString(kittySuffix)
	return buf.Bytes(), nil
}

// readKittyResponse reads one framed response.
func readKittyResponse(r *bufio.Reader) (kittyResponse, error) {
	var frame []byte
	for !bytes.HasSuffix(frame, []byte(kittySuffix)) {
		chunk, err := r.ReadBytes('\\')
		frame = append(frame, chunk...)
		if err != nil {
			return kittyResponse{}, err
		}
	}
	body := bytes.TrimSuffix(frame, []byte(kittySuffix))
	i := bytes.Index(body, []byte(kittyPrefix))
	if i < 0 {
		return kittyResponse{}, fmt.Errorf("malformed kitty response %q", body)
	}
	var resp kittyResponse
	if err := json.Unmarshal(body[i+len(kittyPrefix):], &resp); err != nil {
		return kittyResponse{}, err
	}
	return resp, nil
}

func kittyRequest(rw io.ReadWriter, r *bufio.Reader, cmd string, payload any) (json.RawMessage, error) {
	msg, err := encodeKittyCommand(cmd, payload)
	if err != nil {
		return nil, err
	}
	if _, err := rw.Write(msg); err != nil {
		return nil, err
	}
	resp, err := readKittyResponse(r)
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		return nil, fmt.Errorf("kitty %s: %s", cmd, resp.Error)
	}
	return resp.Data, nil
}

// kittyConn connects to the kitty control socket, starting a listening
// kitty instance first if nobody answers.
func (l *Launcher) kittyConn(ctx context.Context, exe string) (net.Conn, error) {
	l.kittyMu.Lock()
	defer l.kittyMu.Unlock()

	if conn, err := l.dial(ctx, "unix", l.kittySocket); err == nil {
		return conn, nil
	}

	logger.Info(ctx, "Starting kitty with remote control", tag.File(l.kittySocket))
	argv := []string{exe, "-o", "allow_remote_control=socket-only", "--listen-on", "unix:" + l.kittySocket, "--detach"}
	if err := l.run(ctx, argv, ""); err != nil {
		return nil, err
	}

	var conn net.Conn
	err := backoff.Retry(ctx, func(ctx context.Context) error {
		c, err := l.dial(ctx, "unix", l.kittySocket)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, l.retry, nil)
	if err != nil {
		return nil, errkind.Wrap(errkind.Timeout, "connect to kitty", err)
	}
	return conn, nil
}

func (l *Launcher) launchKitty(ctx context.Context, exe string, cfg LaunchConfiguration) error {
	conn, err := l.kittyConn(ctx, exe)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(time.Now().Add(kittyIOTimeout))

	r := bufio.NewReader(conn)
	data, err := kittyRequest(conn, r, "launch", kittyLaunch{
		Args:     cfg.Argv,
		Type:     "tab",
		TabTitle: cfg.Title,
		Cwd:      cfg.Dir,
	})
	if err != nil {
		return errkind.Wrap(errkind.TransportFailure, "launch kitty tab", err)
	}
	if cfg.Color == "" {
		return nil
	}

	windowID := strings.Trim(strings.TrimSpace(string(data)), `"`)
	_, err = kittyRequest(conn, r, "set-tab-color", kittyTabColor{
		Match:  "window_id:" + windowID,
		Colors: map[string]string{"active_bg": cfg.Color, "inactive_bg": cfg.Color},
	})
	if err != nil {
		logger.Warn(ctx, "Failed to set kitty tab color", tag.Error(err))
	}
	return nil
}
