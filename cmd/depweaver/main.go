package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"depweaver/internal/cli"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitInternalError)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = wd
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Run(ctx, cli.Env{
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		WorkDir: wd,
		HomeDir: home,
		Version: version,
	}, os.Args[1:])
	stop()
	os.Exit(code)
}
