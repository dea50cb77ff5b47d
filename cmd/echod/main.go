// Command echod runs a tiny echo server over the TCP-over-TUN stack in
// package stream: every byte a client sends is written back on the
// same connection.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/lucasig11/trust-go/internal/tunif"
	"github.com/lucasig11/trust-go/internal/xlog"
	"github.com/lucasig11/trust-go/stream"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "echod:", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		port    = pflag.Uint16P("port", "p", 9000, "TCP port to listen on")
		tunName = pflag.String("tun", "tun0", "name of the TUN interface to open")
		localIP = pflag.IPP("local", "l", localAddrDefault(), "local tunnel IP address")
		verbose = pflag.BoolP("verbose", "v", false, "enable debug logging")
		trace   = pflag.Bool("trace", false, "enable per-segment trace logging")
	)
	pflag.Parse()
	if pflag.NArg() > 0 {
		if _, err := fmt.Sscan(pflag.Arg(0), port); err != nil {
			return fmt.Errorf("invalid port %q: %w", pflag.Arg(0), err)
		}
	}

	level := slog.LevelInfo
	if *trace {
		level = xlog.LevelTrace
	} else if *verbose {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	log := xlog.Logger{Log: slog.New(handler)}

	dev, err := tunif.Open(*tunName)
	if err != nil {
		return fmt.Errorf("opening tun device: %w", err)
	}
	defer dev.Close()

	var addr [4]byte
	copy(addr[:], localIP.To4())

	iface := stream.New(dev, addr, 1<<16, 1500, log)
	listener, err := iface.Listen(*port)
	if err != nil {
		return fmt.Errorf("listening on port %d: %w", *port, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	runErrs := make(chan error, 1)
	go func() { runErrs <- iface.Run(ctx) }()

	go acceptLoop(ctx, listener, log)

	select {
	case <-ctx.Done():
		iface.Close()
		<-runErrs
		return nil
	case err := <-runErrs:
		return err
	}
}

func acceptLoop(ctx context.Context, l *stream.Listener, log xlog.Logger) {
	for {
		s, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("accept failed", slog.String("err", err.Error()))
			return
		}
		go echo(s, log)
	}
}

func echo(s *stream.Stream, log xlog.Logger) {
	log.Info("connection accepted", slog.String("quad", s.Quad().String()))
	n, err := io.Copy(s, s)
	if err != nil && err != io.EOF {
		log.Error("echo session ended with error", slog.String("quad", s.Quad().String()), slog.String("err", err.Error()))
	} else {
		log.Info("echo session closed", slog.String("quad", s.Quad().String()), slog.Int64("bytes", n))
	}
	s.Close()
}

func localAddrDefault() net.IP {
	return net.IPv4(10, 0, 0, 1)
}
