// Package commands implements the tasksync commands and the registry they
// add themselves to.
package commands

import (
	"context"
	"flag"
	"io"

	"tasksync/internal/config"
	"tasksync/internal/service"
)

// Command is one tasksync subcommand.
type Command interface {
	Name() string
	Aliases() []string

	// Synopsis and Usage feed the help output.
	Synopsis() string
	Usage() string

	// NeedsService reports whether Run talks to the backend. When false, Run
	// receives a nil service.
	NeedsService() bool

	RegisterFlags(fs *flag.FlagSet)

	// Run executes the command with its positional args and returns the exit
	// code. cfg has its settings loaded.
	Run(ctx context.Context, cfg *config.Config, svc service.Service, args []string, out, errOut io.Writer) int
}
