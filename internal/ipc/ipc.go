// Package ipc is the local control channel between vox-ctl and the daemon:
// one JSON request and one JSON reply per unix socket connection.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	log "log/slog"

	"voxphone/internal/session"
)

const (
	CmdListen  = "listen"
	CmdStop    = "stop"
	CmdClear   = "clear"
	CmdStatus  = "status"
	CmdHistory = "history"
	CmdSay     = "say"
)

const ioTimeout = 5 * time.Second

type ControlMessage struct {
	Cmd  string `json:"cmd"`
	Text string `json:"text,omitempty"`
}

type ControlReply struct {
	OK       bool              `json:"ok"`
	Error    string            `json:"error,omitempty"`
	Snapshot *session.Snapshot `json:"snapshot,omitempty"`
}

type Handler func(ctx context.Context, msg ControlMessage) ControlReply

// DefaultSocketPath prefers the per-user runtime directory.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "voxphone.sock")
	}
	return filepath.Join(os.TempDir(), "voxphone.sock")
}

type Server struct {
	ln      net.Listener
	path    string
	handler Handler
}

// Listen removes a stale socket at path and starts serving in the background.
func Listen(path string, handler Handler) (*Server, error) {
	_ = os.Remove(path)

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	s := &Server{ln: ln, path: path, handler: handler}
	go s.serve()

	return s, nil
}

func (s *Server) Close() error {
	err := s.ln.Close()
	_ = os.Remove(s.path)
	return err
}

func (s *Server) serve() {
	for {
		conn, err := s.ln.Accept()
		if errors.Is(err, net.ErrClosed) {
			return
		}
		if err != nil {
			log.Warn("Accept failed", "err", err)
			continue
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(ioTimeout))

	var msg ControlMessage
	if err := json.NewDecoder(conn).Decode(&msg); err != nil {
		log.Warn("Bad control message", "err", err)
		return
	}

	log.Debug("Control message", "cmd", msg.Cmd)

	// Typed prompts run a whole turn before the reply goes out.
	_ = conn.SetDeadline(time.Time{})
	reply := s.handler(context.Background(), msg)

	_ = conn.SetWriteDeadline(time.Now().Add(ioTimeout))
	if err := json.NewEncoder(conn).Encode(reply); err != nil {
		log.Warn("Failed to send control reply", "err", err)
	}
}

// SendCommand sends msg to the daemon at path and waits for its reply.
func SendCommand(ctx context.Context, path string, msg ControlMessage) (ControlReply, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return ControlReply{}, err
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		return ControlReply{}, fmt.Errorf("send: %w", err)
	}

	var reply ControlReply
	if err := json.NewDecoder(conn).Decode(&reply); err != nil {
		return ControlReply{}, fmt.Errorf("read reply: %w", err)
	}

	if !reply.OK {
		return reply, errors.New(reply.Error)
	}
	return reply, nil
}
