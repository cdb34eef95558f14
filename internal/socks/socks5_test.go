package socks

import (
	"bytes"
	"encoding/binary"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadMethodSelection(t *testing.T) {
	methods, err := ReadMethodSelection(bytes.NewReader([]byte{Ver, 2, MethodNoAuth, 0x02}))
	require.NoError(t, err)
	assert.Equal(t, []byte{MethodNoAuth, 0x02}, methods)

	_, err = ReadMethodSelection(bytes.NewReader([]byte{0x04, 1, MethodNoAuth}))
	assert.ErrorIs(t, err, ErrVersion)
}

func TestReadConnectRequest(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		want    string
		wantErr error
	}{
		{"ipv4", []byte{Ver, CmdConnect, 0, AtypIPv4, 127, 0, 0, 1, 0x47, 0x25}, "127.0.0.1:18213", nil},
		{"domain", append(append([]byte{Ver, CmdConnect, 0, AtypDomainName, 9}, "localhost"...), 0x1f, 0x90), "localhost:8080", nil},
		{"ipv6", append(append([]byte{Ver, CmdConnect, 0, AtypIPv6}, net.IPv6loopback...), 0, 80), "[::1]:80", nil},
		{"bind", []byte{Ver, 0x02, 0, AtypIPv4}, "", ErrCommand},
		{"bad atyp", []byte{Ver, CmdConnect, 0, 0x09}, "", ErrAddressType},
		{"bad version", []byte{0x04, CmdConnect, 0, AtypIPv4}, "", ErrVersion},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadConnectRequest(bytes.NewReader(tt.input))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWriteReply(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteReply(&buf, RepSuccess, &net.TCPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 1080}))
	assert.Equal(t, []byte{Ver, RepSuccess, 0, AtypIPv4, 10, 0, 0, 2, 0x04, 0x38}, buf.Bytes())

	buf.Reset()
	require.NoError(t, WriteReply(&buf, RepGenFailure, nil))
	assert.Equal(t, []byte{Ver, RepGenFailure, 0, AtypIPv4, 0, 0, 0, 0, 0, 0}, buf.Bytes())
}

func TestProxyRelays(t *testing.T) {
	echo, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer echo.Close()
	go func() {
		c, err := echo.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		io.Copy(c, c)
	}()

	p := NewProxy()
	require.NoError(t, p.Up("127.0.0.1:0"))
	go p.Serve()
	defer p.Close()

	c, err := net.Dial("tcp", p.Addr().String())
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = c.Write([]byte{Ver, 1, MethodNoAuth})
	require.NoError(t, err)
	choice := make([]byte, 2)
	_, err = io.ReadFull(c, choice)
	require.NoError(t, err)
	assert.Equal(t, []byte{Ver, MethodNoAuth}, choice)

	target := echo.Addr().(*net.TCPAddr)
	req := []byte{Ver, CmdConnect, 0, AtypIPv4}
	req = append(req, target.IP.To4()...)
	req = append(req, byte(target.Port>>8), byte(target.Port))
	_, err = c.Write(req)
	require.NoError(t, err)

	reply := make([]byte, 10)
	_, err = io.ReadFull(c, reply)
	require.NoError(t, err)
	assert.Equal(t, byte(RepSuccess), reply[1])

	_, err = c.Write([]byte("ping"))
	require.NoError(t, err)
	pong := make([]byte, 4)
	_, err = io.ReadFull(c, pong)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(pong))
}

func TestProxyRejectsAuthOnlyClients(t *testing.T) {
	p := NewProxy()
	require.NoError(t, p.Up("127.0.0.1:0"))
	go p.Serve()
	defer p.Close()

	c, err := net.Dial("tcp", p.Addr().String())
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = c.Write([]byte{Ver, 1, 0x02})
	require.NoError(t, err)
	choice := make([]byte, 2)
	_, err = io.ReadFull(c, choice)
	require.NoError(t, err)
	assert.Equal(t, []byte{Ver, MethodNone}, choice)
}

// dialThrough completes the no-auth CONNECT handshake with p for target.
func dialThrough(t *testing.T, p *Proxy, target *net.TCPAddr) *net.TCPConn {
	t.Helper()
	c, err := net.Dial("tcp", p.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = c.Write([]byte{Ver, 1, MethodNoAuth})
	require.NoError(t, err)
	choice := make([]byte, 2)
	_, err = io.ReadFull(c, choice)
	require.NoError(t, err)
	require.Equal(t, []byte{Ver, MethodNoAuth}, choice)

	req := append([]byte{Ver, CmdConnect, 0, AtypIPv4}, target.IP.To4()...)
	req = binary.BigEndian.AppendUint16(req, uint16(target.Port))
	_, err = c.Write(req)
	require.NoError(t, err)
	reply := make([]byte, 10)
	_, err = io.ReadFull(c, reply)
	require.NoError(t, err)
	require.Equal(t, byte(RepSuccess), reply[1])

	return c.(*net.TCPConn)
}

func TestProxyForwardsHalfClose(t *testing.T) {
	echo, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer echo.Close()
	go func() {
		c, err := echo.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		io.Copy(c, c)
	}()

	p := NewProxy()
	require.NoError(t, p.Up("127.0.0.1:0"))
	go p.Serve()
	defer p.Close()

	c := dialThrough(t, p, echo.Addr().(*net.TCPAddr))
	_, err = c.Write([]byte("mm_malloc"))
	require.NoError(t, err)
	require.NoError(t, c.CloseWrite())

	// The echo side only finishes once it sees EOF through the relay.
	got, err := io.ReadAll(c)
	require.NoError(t, err)
	assert.Equal(t, "mm_malloc", string(got))
}
