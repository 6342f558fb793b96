// Package cli turns command-line arguments into a command invocation.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"tasksync/internal/backend"
	"tasksync/internal/commands"
	"tasksync/internal/config"
	"tasksync/internal/exitcode"
	"tasksync/internal/service"
)

// DefaultCommand runs when no arguments are given.
const DefaultCommand = "list"

// ServiceFactory opens the backend for commands that need one. Tests pass a
// factory returning a fake.
type ServiceFactory func(ctx context.Context, cfg *config.Config) (service.Service, error)

// Dispatcher resolves a command, parses its flags, loads settings and runs it.
type Dispatcher struct {
	registry *commands.Registry
	factory  ServiceFactory
}

// NewDispatcher creates a dispatcher over registry. factory may be nil when
// only commands without a backend are run.
func NewDispatcher(registry *commands.Registry, factory ServiceFactory) *Dispatcher {
	return &Dispatcher{registry: registry, factory: factory}
}

// commonFlags are accepted by every command.
type commonFlags struct {
	configDir string
	quiet     bool
	debug     bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configDir, "config", "", "")
	fs.BoolVar(&c.quiet, "quiet", false, "")
	fs.BoolVar(&c.debug, "debug", false, "")
}

// Run dispatches args and returns the process exit code.
func (d *Dispatcher) Run(ctx context.Context, args []string, out, errOut io.Writer) int {
	name, rest := DefaultCommand, []string(nil)
	if len(args) > 0 {
		name, rest = args[0], args[1:]
	}

	// Flags must follow the command name.
	cmd, ok := d.registry.Find(name)
	if strings.HasPrefix(name, "-") || !ok {
		fmt.Fprintf(errOut, "error: unknown command: %s\n", name)
		return exitcode.UserError
	}

	var common commonFlags
	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	common.register(fs)
	cmd.RegisterFlags(fs)

	if err := fs.Parse(rest); err != nil {
		msg := err.Error()
		if flagName, ok := strings.CutPrefix(msg, "flag provided but not defined: "); ok {
			msg = "unknown flag: " + flagName
		}
		fmt.Fprintf(errOut, "error: %s\n", msg)
		return exitcode.UserError
	}
	positional := fs.Args()
	if len(positional) > 0 && strings.HasPrefix(positional[0], "-") {
		fmt.Fprintf(errOut, "error: unknown flag: %s\n", positional[0])
		return exitcode.UserError
	}

	cfg, err := config.New(common.configDir)
	if err != nil {
		fmt.Fprintf(errOut, "error: %s\n", err)
		return exitcode.UserError
	}
	cfg.Quiet = common.quiet
	cfg.Debug = common.debug
	cfg.Logger = config.NewLogger(errOut, common.debug)

	if err := cfg.Load(); err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitcode.AuthError
	}

	if !cmd.NeedsService() {
		return cmd.Run(ctx, cfg, nil, positional, out, errOut)
	}

	svc, code := d.openService(ctx, cfg, cmd, errOut)
	if svc == nil {
		return code
	}
	defer func() {
		if err := svc.Close(); err != nil {
			cfg.Log().Debug("closing backend", "error", err)
		}
	}()

	return cmd.Run(ctx, cfg, svc, positional, out, errOut)
}

// openService calls the factory and classifies its failure: unusable
// settings are exit code 2, anything else a backend error.
func (d *Dispatcher) openService(ctx context.Context, cfg *config.Config, cmd commands.Command, errOut io.Writer) (service.Service, int) {
	if d.factory == nil {
		fmt.Fprintf(errOut, "error: no backend configured for %s\n", cmd.Name())
		return nil, exitcode.BackendError
	}

	svc, err := d.factory(ctx, cfg)
	switch {
	case errors.Is(err, backend.ErrConfig):
		fmt.Fprintf(errOut, "error: %v\n", err)
		return nil, exitcode.AuthError
	case err != nil:
		fmt.Fprintf(errOut, "error: backend error: %v\n", err)
		return nil, exitcode.BackendError
	}

	cfg.Log().Debug("backend ready", "command", cmd.Name(), "backend", cfg.Settings.Backend)
	return svc, exitcode.Success
}
