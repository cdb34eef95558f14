package receiver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"networks_nsu/submit/internal/wire"
)

const (
	DefaultMaxName        = 255
	DefaultReportInterval = 3 * time.Second
	DefaultIdleTimeout    = time.Minute
)

var (
	ErrBadName       = errors.New("upload name is not a usable file name")
	ErrTruncatedBody = errors.New("connection closed before the declared size was received")
)

// Submission is one stored upload.
type Submission struct {
	ID       uuid.UUID
	Name     string
	Size     uint64
	Path     string
	Duration time.Duration
}

type Receiver struct {
	dir            string
	maxName        int
	reportInterval time.Duration
	idleTimeout    time.Duration
	metrics        *Metrics
	log            *slog.Logger

	wg sync.WaitGroup
}

type Option func(*Receiver)

func WithMaxName(n int) Option {
	return func(r *Receiver) { r.maxName = n }
}

func WithReportInterval(d time.Duration) Option {
	return func(r *Receiver) { r.reportInterval = d }
}

// WithIdleTimeout drops a connection that delivers nothing for d. Zero
// disables the limit.
func WithIdleTimeout(d time.Duration) Option {
	return func(r *Receiver) { r.idleTimeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(r *Receiver) { r.log = l }
}

// New creates a receiver storing submissions under dir, which is created
// if missing.
func New(dir string, metrics *Metrics, opts ...Option) (*Receiver, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("cannot create uploads dir: %w", err)
	}
	r := &Receiver{
		dir:            dir,
		maxName:        DefaultMaxName,
		reportInterval: DefaultReportInterval,
		idleTimeout:    DefaultIdleTimeout,
		metrics:        metrics,
		log:            slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Serve accepts connections on ln until ctx is done or the listener is
// closed, handling each one in its own goroutine. Cancelling ctx also
// closes every live connection, so Serve returns promptly even when a
// client has stalled mid-transfer.
func (r *Receiver) Serve(ctx context.Context, ln net.Listener) error {
	var (
		mu       sync.Mutex
		live     = make(map[net.Conn]struct{})
		shutdown bool
	)
	stop := context.AfterFunc(ctx, func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		shutdown = true
		for c := range live {
			c.Close()
		}
	})
	defer stop()
	defer r.wg.Wait()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			r.log.Error("accept error", "error", err)
			return err
		}

		mu.Lock()
		if shutdown {
			mu.Unlock()
			conn.Close()
			return nil
		}
		live[conn] = struct{}{}
		mu.Unlock()

		r.wg.Add(1)
		go func(c net.Conn) {
			defer r.wg.Done()
			defer func() {
				mu.Lock()
				delete(live, c)
				mu.Unlock()
				c.Close()
			}()
			r.Handle(c)
		}(conn)
	}
}

// Handle reads and stores a single submission from conn. Nothing is
// written back to the peer.
func (r *Receiver) Handle(conn net.Conn) (Submission, error) {
	sub := Submission{ID: uuid.New()}
	log := r.log.With("id", sub.ID, "remote", conn.RemoteAddr().String())

	if r.metrics != nil {
		r.metrics.ActiveConnections.Inc()
		defer r.metrics.ActiveConnections.Dec()
	}

	start := time.Now()
	err := r.receive(conn, &sub, log)
	sub.Duration = time.Since(start)

	if r.metrics != nil {
		r.metrics.TransferDuration.Observe(sub.Duration.Seconds())
		outcome := "stored"
		if err != nil {
			outcome = "failed"
		}
		r.metrics.Submissions.WithLabelValues(outcome).Inc()
	}

	if err != nil {
		log.Warn("failed to receive submission", "name", sub.Name, "error", err)
		return sub, err
	}
	log.Info("received submission", "name", sub.Name, "bytes", sub.Size, "path", sub.Path)
	return sub, nil
}

func (r *Receiver) receive(conn net.Conn, sub *Submission, log *slog.Logger) error {
	var src io.Reader = conn
	if r.idleTimeout > 0 {
		src = &idleReader{conn: conn, timeout: r.idleTimeout}
	}
	br := bufio.NewReader(src)

	hdr, err := wire.ReadHeader(br, r.maxName)
	if err != nil {
		return err
	}
	sub.Name = hdr.Name
	sub.Size = hdr.Size

	safeName := filepath.Base(hdr.Name)
	if safeName == "." || safeName == ".." || safeName == string(filepath.Separator) {
		return fmt.Errorf("%w: %q", ErrBadName, hdr.Name)
	}

	tmp, err := os.CreateTemp(r.dir, "."+safeName+".part-*")
	if err != nil {
		return fmt.Errorf("cannot create temp file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	m := startMeter(log, r.reportInterval)
	n, err := io.CopyN(tmp, &countingReader{r: br, m: m, metrics: r.metrics}, int64(hdr.Size))
	m.Stop()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: expected %d, got %d", ErrTruncatedBody, hdr.Size, n)
		}
		return fmt.Errorf("read body: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	dst := filepath.Join(r.dir, safeName)
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("store %q: %w", dst, err)
	}
	sub.Path = dst
	return nil
}

// idleReader pushes the read deadline forward before every read.
type idleReader struct {
	conn    net.Conn
	timeout time.Duration
}

func (r *idleReader) Read(p []byte) (int, error) {
	if err := r.conn.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
		return 0, err
	}
	return r.conn.Read(p)
}

type countingReader struct {
	r       io.Reader
	m       *meter
	metrics *Metrics
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.m.Add(n)
		if c.metrics != nil {
			c.metrics.BytesReceived.Add(float64(n))
		}
	}
	return n, err
}
