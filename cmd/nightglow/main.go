package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/orderout/nightglow/cmd/nightglow/commands"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := commands.Execute(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)

		var exit *commands.ExitError
		if errors.As(err, &exit) {
			os.Exit(exit.Code)
		}

		os.Exit(commands.ExitInternal)
	}
}
