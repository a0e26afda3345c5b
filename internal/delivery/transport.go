package delivery

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/proxy"

	"vadlink/pkg/protocol"
)

const (
	DefaultDialTimeout  = 5 * time.Second
	DefaultWriteTimeout = 30 * time.Second
)

// Transport delivers one payload. Any error means the payload was not
// delivered.
type Transport interface {
	Send(ctx context.Context, data []byte) error
}

// TCPTransport opens one connection per payload and writes a single framed
// message. Nothing is read back.
type TCPTransport struct {
	Addr         string
	Dialer       proxy.ContextDialer
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

func NewTCPTransport(addr string, dialer proxy.ContextDialer) *TCPTransport {
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	return &TCPTransport{
		Addr:         addr,
		Dialer:       dialer,
		DialTimeout:  DefaultDialTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
}

func (t *TCPTransport) Send(ctx context.Context, data []byte) error {
	if t.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.DialTimeout)
		defer cancel()
	}

	conn, err := t.Dialer.DialContext(ctx, "tcp", t.Addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.Addr, err)
	}

	if t.WriteTimeout > 0 {
		if err := conn.SetWriteDeadline(time.Now().Add(t.WriteTimeout)); err != nil {
			conn.Close()
			return fmt.Errorf("set write deadline: %w", err)
		}
	}

	werr := protocol.WriteMessage(conn, data)
	cerr := conn.Close()
	if werr != nil {
		return fmt.Errorf("send to %s: %w", t.Addr, werr)
	}
	if cerr != nil {
		return fmt.Errorf("close connection to %s: %w", t.Addr, cerr)
	}
	return nil
}
