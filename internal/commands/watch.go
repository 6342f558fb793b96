package commands

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"tasksync/internal/config"
	"tasksync/internal/exitcode"
	"tasksync/internal/output"
	"tasksync/internal/service"
)

func init() {
	Register(&WatchCmd{})
}

var errSignedOut = errors.New("signed out")

// WatchCmd implements the watch command: one bulk load, then the list is
// reprinted after every change from the feed until interrupted or signed out.
type WatchCmd struct{}

func (c *WatchCmd) Name() string       { return "watch" }
func (c *WatchCmd) Aliases() []string  { return nil }
func (c *WatchCmd) Synopsis() string   { return "Follow the task list live" }
func (c *WatchCmd) Usage() string      { return "tasksync watch [common flags]" }
func (c *WatchCmd) NeedsService() bool { return true }

func (c *WatchCmd) RegisterFlags(fs *flag.FlagSet) {}

func (c *WatchCmd) Run(ctx context.Context, cfg *config.Config, svc service.Service, args []string, out, errOut io.Writer) int {
	store, code := requireSession(ctx, cfg, svc, errOut)
	if store == nil {
		return code
	}
	defer store.Close()

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	store.OnChange(func(sess *service.Session) {
		if sess == nil {
			cancel(errSignedOut)
		}
	})

	m := newManager(cfg, svc, store)
	defer m.Close()

	if err := m.Load(ctx); err != nil {
		return reportError(errOut, err)
	}

	output.FormatTasks(out, m.List().Snapshot(), false)
	m.List().OnChange(func(snapshot []service.Task) {
		output.FormatSnapshot(out, snapshot)
	})

	if err := m.Subscribe(ctx); err != nil {
		return reportError(errOut, err)
	}

	<-ctx.Done()
	if errors.Is(context.Cause(ctx), errSignedOut) {
		fmt.Fprintf(errOut, "error: %v\n", errNotLoggedIn)
		return exitcode.AuthError
	}
	return exitcode.Success
}
