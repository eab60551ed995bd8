package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
)

func main() {
	// Initialize context that cancelled on SIGINT or SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout, os.Getenv, os.Getwd, os.Args[1:]); err != nil {
		if !errors.Is(err, pflag.ErrHelp) {
			slog.Error("storefront failed", "error", err.Error())
		}
		cancel()
		os.Exit(1)
	}
}

func run(
	ctx context.Context,
	out io.Writer,
	getenv func(string) string,
	getwd func() (string, error),
	args []string,
) error {
	c := NewConfig()

	if err := c.LoadDotEnv(getwd); err != nil {
		return fmt.Errorf("can't load .env: %w", err)
	}
	if err := c.LoadEnv(getenv); err != nil {
		return err
	}
	cmd, err := c.ParseFlags(args)
	if err != nil {
		return err
	}
	if err := c.Validate(); err != nil {
		return err
	}
	if len(cmd) == 0 {
		return errUsage
	}

	app, err := NewApp(c)
	if err != nil {
		return err
	}
	defer app.Close()

	return app.Exec(ctx, out, cmd[0], cmd[1:])
}
