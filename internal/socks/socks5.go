package socks

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
)

const (
	Ver          = 0x05
	MethodNoAuth = 0x00
	MethodNone   = 0xFF
	CmdConnect   = 0x01

	AtypIPv4       = 0x01
	AtypDomainName = 0x03
	AtypIPv6       = 0x04

	RepSuccess              = 0x00
	RepGenFailure           = 0x01
	RepCmdNotSupported      = 0x07
	RepAddrTypeNotSupported = 0x08
)

var (
	ErrVersion     = errors.New("unsupported socks version")
	ErrNoMethod    = errors.New("no acceptable auth method")
	ErrCommand     = errors.New("unsupported command")
	ErrAddressType = errors.New("unsupported address type")
)

// ReadMethodSelection reads the client greeting and returns the offered
// auth methods.
func ReadMethodSelection(r io.Reader) ([]byte, error) {
	header := make([]byte, 2)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	if header[0] != Ver {
		return nil, fmt.Errorf("%w: %d", ErrVersion, header[0])
	}

	methods := make([]byte, header[1])
	if _, err := io.ReadFull(r, methods); err != nil {
		return nil, err
	}
	return methods, nil
}

func WriteMethodChoice(w io.Writer, method byte) error {
	_, err := w.Write([]byte{Ver, method})
	return err
}

// addrLen is the fixed DST.ADDR length per address type. Domain names
// carry their own length byte instead.
var addrLen = map[byte]int{
	AtypIPv4: net.IPv4len,
	AtypIPv6: net.IPv6len,
}

// ReadConnectRequest reads a CONNECT request and returns the destination
// as host:port.
func ReadConnectRequest(r io.Reader) (string, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return "", err
	}
	ver, cmd, atyp := hdr[0], hdr[1], hdr[3]
	switch {
	case ver != Ver:
		return "", fmt.Errorf("%w: %d", ErrVersion, ver)
	case cmd != CmdConnect:
		return "", fmt.Errorf("%w: %d", ErrCommand, cmd)
	}

	n, fixed := addrLen[atyp]
	if !fixed {
		if atyp != AtypDomainName {
			return "", fmt.Errorf("%w: %d", ErrAddressType, atyp)
		}
		var l [1]byte
		if _, err := io.ReadFull(r, l[:]); err != nil {
			return "", err
		}
		n = int(l[0])
	}

	// address followed by a big-endian port
	buf := make([]byte, n+2)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	host := string(buf[:n])
	if fixed {
		host = net.IP(buf[:n]).String()
	}
	port := binary.BigEndian.Uint16(buf[n:])
	return net.JoinHostPort(host, strconv.Itoa(int(port))), nil
}

// WriteReply sends a reply carrying the bound address, or 0.0.0.0:0 when
// bound is nil.
func WriteReply(w io.Writer, rep byte, bound *net.TCPAddr) error {
	resp := []byte{Ver, rep, 0x00}
	ip := net.IPv4zero.To4()
	port := 0
	if bound != nil {
		ip, port = bound.IP, bound.Port
	}
	if ip4 := ip.To4(); ip4 != nil {
		resp = append(resp, AtypIPv4)
		resp = append(resp, ip4...)
	} else {
		resp = append(resp, AtypIPv6)
		resp = append(resp, ip.To16()...)
	}
	resp = binary.BigEndian.AppendUint16(resp, uint16(port))
	_, err := w.Write(resp)
	return err
}
