package commands

import (
	"context"
	"flag"
	"fmt"
	"io"

	"tasksync/internal/config"
	"tasksync/internal/exitcode"
	"tasksync/internal/service"
	"tasksync/internal/tasks"
)

func init() {
	Register(&EditCmd{})
}

// EditCmd implements the edit command: load, edit the local record, save.
type EditCmd struct {
	title       optionalString
	description optionalString
}

// SetTitle sets the new title (for testing).
func (c *EditCmd) SetTitle(title string) { c.title.Set(title) }

// SetDescription sets the new description (for testing).
func (c *EditCmd) SetDescription(description string) { c.description.Set(description) }

func (c *EditCmd) Name() string      { return "edit" }
func (c *EditCmd) Aliases() []string { return nil }
func (c *EditCmd) Synopsis() string  { return "Change a task's title or description" }
func (c *EditCmd) Usage() string {
	return "tasksync edit [common flags] [--title <text>] [--description <text>] <id>"
}
func (c *EditCmd) NeedsService() bool { return true }

func (c *EditCmd) RegisterFlags(fs *flag.FlagSet) {
	fs.Var(&c.title, "title", "")
	fs.Var(&c.title, "t", "")
	fs.Var(&c.description, "description", "")
	fs.Var(&c.description, "d", "")
}

func (c *EditCmd) Run(ctx context.Context, cfg *config.Config, svc service.Service, args []string, out, errOut io.Writer) int {
	id, err := parseTaskID(args)
	if err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitcode.UserError
	}
	if !c.title.set && !c.description.set {
		fmt.Fprintln(errOut, "error: nothing to change (use --title or --description)")
		return exitcode.UserError
	}

	store, code := requireSession(ctx, cfg, svc, errOut)
	if store == nil {
		return code
	}
	defer store.Close()

	m := newManager(cfg, svc, store)
	if err := m.Load(ctx); err != nil {
		return reportError(errOut, err)
	}

	task, ok := m.List().Find(id)
	if !ok {
		fmt.Fprintf(errOut, "error: %v: %d\n", tasks.ErrTaskNotFound, id)
		return exitcode.UserError
	}

	m.List().BeginEdit(id)
	title, description := task.Title, task.Description
	if c.title.set {
		title = c.title.value
	}
	if c.description.set {
		description = c.description.value
	}
	m.List().SetFields(id, title, description)

	if err := m.Save(ctx, id); err != nil {
		return reportError(errOut, err)
	}

	if !cfg.Quiet {
		fmt.Fprintln(out, "ok")
	}
	return exitcode.Success
}

// optionalString is a flag value that records whether it was given.
type optionalString struct {
	value string
	set   bool
}

func (o *optionalString) String() string { return o.value }

func (o *optionalString) Set(s string) error {
	o.value = s
	o.set = true
	return nil
}
