package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dimes/labelsync/cli/commands"
	"github.com/dimes/labelsync/runlog"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	root := commands.NewRootCommand()
	err := root.ExecuteContext(ctx)
	stop()

	if err != nil {
		runlog.Errorf("Error executing %s: %v", root.Name(), err)
		os.Exit(commands.ExitCode(err))
	}
}
