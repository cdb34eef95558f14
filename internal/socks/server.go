package socks

import (
	"errors"
	"io"
	"log/slog"
	"net"
	"slices"
	"sync"
)

// Proxy is a no-auth SOCKS5 server that only supports CONNECT.
type Proxy struct {
	listener net.Listener
}

func NewProxy() *Proxy {
	return &Proxy{}
}

func (p *Proxy) Up(addr string) error {
	var err error
	if p.listener, err = net.Listen("tcp", addr); err != nil {
		slog.Error("fatal error while Up", "error", err)
		return err
	}
	return nil
}

func (p *Proxy) Addr() net.Addr {
	return p.listener.Addr()
}

func (p *Proxy) Close() error {
	return p.listener.Close()
}

// Serve accepts until the listener is closed.
func (p *Proxy) Serve() error {
	for {
		conn, err := p.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			slog.Error("can't accept while serve", "error", err)
			return err
		}
		go handleConn(conn)
	}
}

func handleConn(client net.Conn) {
	defer client.Close()

	methods, err := ReadMethodSelection(client)
	if err != nil {
		slog.Info("Handshake read error", "error", err)
		return
	}
	if !slices.Contains(methods, MethodNoAuth) {
		WriteMethodChoice(client, MethodNone)
		slog.Info("Handshake rejected", "error", ErrNoMethod)
		return
	}
	if err := WriteMethodChoice(client, MethodNoAuth); err != nil {
		slog.Info("Handshake reply error", "error", err)
		return
	}

	dest, err := ReadConnectRequest(client)
	if err != nil {
		slog.Info("Request read error", "error", err)
		switch {
		case errors.Is(err, ErrCommand):
			WriteReply(client, RepCmdNotSupported, nil)
		case errors.Is(err, ErrAddressType):
			WriteReply(client, RepAddrTypeNotSupported, nil)
		}
		return
	}

	remote, err := net.Dial("tcp", dest)
	if err != nil {
		slog.Info("Dial to dest failed", "destination", dest, "error", err)
		WriteReply(client, RepGenFailure, nil)
		return
	}
	defer remote.Close()

	if err := WriteReply(client, RepSuccess, remote.LocalAddr().(*net.TCPAddr)); err != nil {
		slog.Info("Reply write error", "error", err)
		return
	}

	relay(client.(*net.TCPConn), remote.(*net.TCPConn))
}

// relay copies both directions until each side has finished sending,
// forwarding a half-close so the far end sees EOF without losing the
// other direction.
func relay(a, b *net.TCPConn) {
	var wg sync.WaitGroup
	wg.Add(2)
	pipe := func(dst, src *net.TCPConn) {
		defer wg.Done()
		if _, err := io.Copy(dst, src); err != nil {
			slog.Debug("relay copy ended", "error", err)
		}
		dst.CloseWrite()
	}
	go pipe(a, b)
	go pipe(b, a)
	wg.Wait()
}
