// Binary kvdaemon is the key/value server: spec.md §6's CLI contract, `server
// [config-path]`, with no config argument meaning built-in defaults.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/kvdaemon/kvdaemon/internal/config"
	"github.com/kvdaemon/kvdaemon/server"
)

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [config-path]\n", os.Args[0])
	}
	flag.Parse()

	cfg := config.Default()
	if path := flag.Arg(0); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// spec.md §6: SIGHUP and SIGPIPE are ignored; there is no graceful reload.
	signal.Ignore(syscall.SIGHUP, syscall.SIGPIPE)

	// spec.md §6: default port 6379; no config directive overrides it.
	srv, err := server.New(cfg, ":6379")
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
