package commands

import (
	"context"
	"flag"
	"fmt"
	"io"

	"tasksync/internal/backend"
	"tasksync/internal/backend/local"
	"tasksync/internal/config"
	"tasksync/internal/exitcode"
	"tasksync/internal/service"
)

func init() {
	Register(&ServeCmd{})
}

// ServeCmd runs the HTTP surface of the local backend: stored attachments,
// a health check and a task snapshot.
type ServeCmd struct {
	addr string
}

func (c *ServeCmd) Name() string       { return "serve" }
func (c *ServeCmd) Aliases() []string  { return nil }
func (c *ServeCmd) Synopsis() string   { return "Serve the local backend over HTTP" }
func (c *ServeCmd) Usage() string      { return "tasksync serve [common flags] [--addr <host:port>]" }
func (c *ServeCmd) NeedsService() bool { return false }

func (c *ServeCmd) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.addr, "addr", "", "")
}

func (c *ServeCmd) Run(ctx context.Context, cfg *config.Config, svc service.Service, args []string, out, errOut io.Writer) int {
	if cfg.Settings.Backend != config.BackendLocal {
		fmt.Fprintf(errOut, "error: serve requires backend: %s (got %q)\n", config.BackendLocal, cfg.Settings.Backend)
		return exitcode.AuthError
	}
	if err := cfg.Settings.Validate(); err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitcode.AuthError
	}

	addr := c.addr
	if addr == "" {
		addr = cfg.Settings.ServeAddr
	}

	b, err := backend.OpenLocal(ctx, cfg)
	if err != nil {
		fmt.Fprintf(errOut, "error: backend error: %v\n", err)
		return exitcode.BackendError
	}
	defer b.Close()

	if !cfg.Quiet {
		fmt.Fprintf(out, "listening on %s\n", addr)
	}
	srv := local.NewServer(b, cfg.Settings.RateLimitPerMinute, cfg.Log())
	if err := srv.Run(ctx, addr); err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitcode.BackendError
	}
	return exitcode.Success
}
