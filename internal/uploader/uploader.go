package uploader

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"

	"networks_nsu/submit/internal/wire"
)

const (
	DefaultAddr  = "lnxsrv06.seas.ucla.edu:18213"
	DefaultInput = "mm.c"
)

// Result describes one finished upload.
type Result struct {
	Input string
	Name  string
	Size  int64
	Sent  int64
}

func (r Result) String() string {
	return fmt.Sprintf("Sent %s as %s: %d bytes sent", r.Input, r.Name, r.Sent)
}

// SizeMismatch reports whether the file changed size between stat and
// streaming. The header already declared Size, so the peer saw a body of
// the wrong length.
func (r Result) SizeMismatch() bool {
	return r.Sent != r.Size
}

type Uploader struct {
	addr   string
	input  string
	dialer Dialer
}

type Option func(*Uploader)

func WithAddr(addr string) Option {
	return func(u *Uploader) { u.addr = addr }
}

func WithInput(path string) Option {
	return func(u *Uploader) { u.input = path }
}

func WithDialer(d Dialer) Option {
	return func(u *Uploader) { u.dialer = d }
}

func New(opts ...Option) *Uploader {
	u := &Uploader{
		addr:   DefaultAddr,
		input:  DefaultInput,
		dialer: &net.Dialer{},
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Upload sends the input file as identifier's submission. The file is
// opened and the header validated before dialing, so a missing file or an
// unencodable field never produces a connection.
//
// Success means every write completed. A file that changes size mid-upload
// is not an error; callers check Result.SizeMismatch.
func (u *Uploader) Upload(ctx context.Context, identifier string) (Result, error) {
	f, err := os.Open(u.input)
	if err != nil {
		return Result{}, fmt.Errorf("cannot open file %q: %w", u.input, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return Result{}, fmt.Errorf("stat failed: %w", err)
	}
	if fi.IsDir() {
		return Result{}, fmt.Errorf("%q is a directory", u.input)
	}

	hdr := wire.Header{Name: wire.UploadName(identifier), Size: uint64(fi.Size())}
	hdrBytes, err := hdr.Bytes()
	if err != nil {
		return Result{}, fmt.Errorf("build header: %w", err)
	}

	conn, err := u.dialer.DialContext(ctx, "tcp", u.addr)
	if err != nil {
		return Result{}, fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	res := Result{Input: u.input, Name: hdr.Name, Size: fi.Size()}

	w := bufio.NewWriter(conn)
	if _, err := w.Write(hdrBytes); err != nil {
		return res, fmt.Errorf("write header failed: %w", err)
	}
	if err := w.Flush(); err != nil {
		return res, fmt.Errorf("flush header failed: %w", err)
	}

	res.Sent, err = stream(conn, f)
	if err != nil {
		return res, fmt.Errorf("sending file content failed after %d bytes: %w", res.Sent, err)
	}
	return res, nil
}

// stream copies src to dst one chunk at a time until EOF. io.Copy is not
// used because *net.TCPConn would take over through ReadFrom.
func stream(dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, wire.ChunkSize)

	var sent int64
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			sent += int64(wn)
			if werr != nil {
				return sent, werr
			}
			if wn != n {
				return sent, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return sent, nil
		}
		if rerr != nil {
			return sent, rerr
		}
	}
}
