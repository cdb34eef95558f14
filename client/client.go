package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"

	"networks_nsu/submit/internal/uploader"
)

var errUsage = errors.New("usage")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdout)
	switch {
	case errors.Is(err, errUsage):
		os.Exit(2)
	case err != nil:
		log.Fatalf("%v", err)
	}
}

// run parses args (without the program name), performs one upload and
// prints the confirmation line to stdout.
func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	serverAddr := fs.String("addr", uploader.DefaultAddr, "server address host:port")
	filePath := fs.String("file", uploader.DefaultInput, "path to the file to send")
	socksAddr := fs.String("socks5", "", "optional SOCKS5 proxy host:port")
	timeout := fs.Duration("timeout", 0, "dial timeout, 0 keeps the OS default")
	fs.Usage = func() {
		fmt.Fprintln(fs.Output(), "usage: submit [flags] <username>")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errUsage
	}
	username := fs.Arg(0)

	dialer, err := uploader.NewDialer(*socksAddr, *timeout)
	if err != nil {
		return err
	}

	up := uploader.New(
		uploader.WithAddr(*serverAddr),
		uploader.WithInput(*filePath),
		uploader.WithDialer(dialer),
	)
	res, err := up.Upload(ctx, username)
	if err != nil {
		return fmt.Errorf("upload of %q to %s failed: %w", *filePath, *serverAddr, err)
	}

	if res.SizeMismatch() {
		log.Printf("warning: %s changed size during upload: header declared %d bytes, %d were sent",
			res.Input, res.Size, res.Sent)
	}
	fmt.Fprintln(stdout, res)
	return nil
}
