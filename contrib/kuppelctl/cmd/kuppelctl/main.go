package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kuppel/kuppel.go/contrib/kuppelctl"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := kuppelctl.Main(ctx, os.Args[1:], kuppelctl.Env{Out: os.Stdout, Err: os.Stderr})
	stop()
	os.Exit(code)
}
