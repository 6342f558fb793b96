package commands

import (
	"context"
	"flag"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"tasksync/internal/config"
	"tasksync/internal/exitcode"
	"tasksync/internal/service"
	"tasksync/internal/tasks"
)

func init() {
	Register(&AddCmd{})
}

// AddCmd implements the add command.
type AddCmd struct {
	description string
	image       string
}

// SetDescription sets the description (for testing).
func (c *AddCmd) SetDescription(description string) {
	c.description = description
}

// SetImage sets the attachment path (for testing).
func (c *AddCmd) SetImage(path string) {
	c.image = path
}

func (c *AddCmd) Name() string      { return "add" }
func (c *AddCmd) Aliases() []string { return []string{"create"} }
func (c *AddCmd) Synopsis() string  { return "Create a task" }
func (c *AddCmd) Usage() string {
	return "tasksync add [common flags] --description <text> [--image <path>] <title...>"
}
func (c *AddCmd) NeedsService() bool { return true }

func (c *AddCmd) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.description, "description", "", "")
	fs.StringVar(&c.description, "d", "", "")
	fs.StringVar(&c.image, "image", "", "")
	fs.StringVar(&c.image, "i", "", "")
}

func (c *AddCmd) Run(ctx context.Context, cfg *config.Config, svc service.Service, args []string, out, errOut io.Writer) int {
	draft := tasks.Draft{
		Title:       strings.TrimSpace(strings.Join(args, " ")),
		Description: strings.TrimSpace(c.description),
	}
	if draft.Title == "" {
		return reportError(errOut, tasks.ErrTitleRequired)
	}
	if draft.Description == "" {
		return reportError(errOut, tasks.ErrDescriptionRequired)
	}

	if c.image != "" {
		f, err := os.Open(c.image)
		if err != nil {
			fmt.Fprintf(errOut, "error: cannot read image: %v\n", err)
			return exitcode.UserError
		}
		defer f.Close()
		draft.Attachment = &tasks.Attachment{
			Name:        filepath.Base(c.image),
			ContentType: contentType(c.image),
			Body:        f,
		}
	}

	store, code := requireSession(ctx, cfg, svc, errOut)
	if store == nil {
		return code
	}
	defer store.Close()

	if err := newManager(cfg, svc, store).Create(ctx, draft); err != nil {
		return reportError(errOut, err)
	}

	if !cfg.Quiet {
		fmt.Fprintln(out, "ok")
	}
	return exitcode.Success
}

// contentType guesses a file's MIME type from its extension.
func contentType(path string) string {
	if t := mime.TypeByExtension(filepath.Ext(path)); t != "" {
		return t
	}
	return "application/octet-stream"
}
