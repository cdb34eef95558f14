package uploader

import (
	"context"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/proxy"
)

// Dialer opens the stream connection to the intake server.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// NewDialer returns a direct TCP dialer, or one that tunnels through the
// SOCKS5 proxy at socksAddr when it is set. A zero timeout leaves the OS
// default in place.
func NewDialer(socksAddr string, timeout time.Duration) (Dialer, error) {
	direct := &net.Dialer{Timeout: timeout}
	if socksAddr == "" {
		return direct, nil
	}

	d, err := proxy.SOCKS5("tcp", socksAddr, nil, direct)
	if err != nil {
		return nil, fmt.Errorf("socks5 dialer for %s: %w", socksAddr, err)
	}
	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 dialer for %s does not support contexts", socksAddr)
	}
	return cd, nil
}
