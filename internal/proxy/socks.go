package proxy

import (
	"errors"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/proxy"
)

// NewDialer returns a dialer for outbound delivery: direct when socksAddr is
// empty, otherwise through the SOCKS5 proxy at socksAddr.
func NewDialer(socksAddr string, timeout time.Duration) (proxy.ContextDialer, error) {
	direct := &net.Dialer{Timeout: timeout}
	if socksAddr == "" {
		return direct, nil
	}

	dialer, err := proxy.SOCKS5("tcp", socksAddr, nil, direct)
	if err != nil {
		return nil, fmt.Errorf("socks5 %s: %w", socksAddr, err)
	}

	cd, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, errors.New("socks5 dialer does not support contexts")
	}
	return cd, nil
}
