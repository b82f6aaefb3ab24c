package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/sundayezeilo/openlinks/internal/app"
	"github.com/sundayezeilo/openlinks/internal/cli"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// Initialize application
	application, err := app.New(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return cli.ExitFailure
	}
	defer func() {
		_ = application.Shutdown()
	}()

	return application.Run(ctx, os.Args[1:])
}
