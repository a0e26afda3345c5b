// Package ipc is the control socket of a running sender: one JSON request
// per connection, one JSON response back.
package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"os"
	"time"
)

const (
	DefaultSocketPath = "/tmp/vadlink.sock"

	CmdFlush  = "flush"
	CmdStatus = "status"

	ioTimeout = 5 * time.Second
)

type Request struct {
	Cmd string `json:"cmd"`
}

type Response struct {
	OK     bool            `json:"ok"`
	Error  string          `json:"error,omitempty"`
	Status json.RawMessage `json:"status,omitempty"`
}

type Handler func(Request) Response

type Server struct {
	path string
	ln   net.Listener
}

// Listen binds the socket at path, replacing a stale one.
func Listen(path string) (*Server, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	return &Server{path: path, ln: ln}, nil
}

// Serve answers requests until ctx is done and removes the socket on return.
func (s *Server) Serve(ctx context.Context, handler Handler) error {
	stop := context.AfterFunc(ctx, func() { s.ln.Close() })
	defer stop()
	defer os.Remove(s.path)

	for {
		conn, err := s.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Warn("Control accept failed", "err", err)
			continue
		}
		go handleConn(conn, handler)
	}
}

func handleConn(conn net.Conn, handler Handler) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(ioTimeout))

	var req Request
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		log.Debug("Bad control request", "err", err)
		json.NewEncoder(conn).Encode(Response{Error: "bad request: " + err.Error()})
		return
	}

	resp := handler(req)
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		log.Debug("Failed to write control response", "err", err)
	}
}

// SendCommand sends cmd to the sender listening at path and returns its
// answer.
func SendCommand(path, cmd string) (Response, error) {
	conn, err := net.DialTimeout("unix", path, ioTimeout)
	if err != nil {
		return Response{}, err
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(ioTimeout))

	if err := json.NewEncoder(conn).Encode(Request{Cmd: cmd}); err != nil {
		return Response{}, fmt.Errorf("send: %w", err)
	}

	var resp Response
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return Response{}, fmt.Errorf("read response: %w", err)
	}
	return resp, nil
}
