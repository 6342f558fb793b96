package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"

	"tasksync/internal/config"
	"tasksync/internal/exitcode"
	"tasksync/internal/service"
	"tasksync/internal/session"
	"tasksync/internal/tasks"
)

// PasswordEnv names the environment variable read before prompting for a password.
const PasswordEnv = "TASKSYNC_PASSWORD"

var (
	errNotLoggedIn      = errors.New("not logged in (run: tasksync login)")
	errEmailRequired    = errors.New("email required")
	errPasswordRequired = errors.New("password required")
)

// startSession starts a session store over the backend's auth. The caller
// closes it.
func startSession(ctx context.Context, cfg *config.Config, svc service.Service) *session.Store {
	store := session.New(svc.Auth(), cfg.Log())
	store.Start(ctx)
	return store
}

// requireSession starts a session store and fails with AuthError when
// nobody is signed in.
func requireSession(ctx context.Context, cfg *config.Config, svc service.Service, errOut io.Writer) (*session.Store, int) {
	store := startSession(ctx, cfg, svc)
	if !store.Active() {
		store.Close()
		fmt.Fprintf(errOut, "error: %v\n", errNotLoggedIn)
		return nil, exitcode.AuthError
	}
	return store, exitcode.Success
}

// newManager creates a task manager for the signed-in user.
func newManager(cfg *config.Config, svc service.Service, store *session.Store) *tasks.Manager {
	s := cfg.Settings
	return tasks.NewManager(tasks.Config{
		Store:    svc.Tasks(),
		Feed:     svc.Changes(),
		Objects:  svc.Storage(),
		Identity: store,
		Filter:   service.Filter{Channel: s.Channel, Schema: s.Schema, Table: s.Table},
		Logger:   cfg.Log(),
	})
}

// reportError prints err and returns the exit code for its class.
func reportError(errOut io.Writer, err error) int {
	switch {
	case errors.Is(err, tasks.ErrTitleRequired),
		errors.Is(err, tasks.ErrDescriptionRequired),
		errors.Is(err, tasks.ErrTaskNotFound):
		fmt.Fprintf(errOut, "error: %v\n", err)
		return exitcode.UserError
	case errors.Is(err, service.ErrAuth):
		fmt.Fprintf(errOut, "error: auth error: %v\n", err)
		return exitcode.AuthError
	default:
		fmt.Fprintf(errOut, "error: backend error: %v\n", err)
		return exitcode.BackendError
	}
}

// parseTaskID parses the single task ID argument.
func parseTaskID(args []string) (int64, error) {
	if len(args) == 0 {
		return 0, errors.New("task id required")
	}
	if len(args) > 1 {
		return 0, fmt.Errorf("unexpected arguments: %s", strings.Join(args[1:], " "))
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid task id: %s", args[0])
	}
	return id, nil
}

// readPassword returns the password from PasswordEnv, a hidden prompt when
// in is a terminal, or the first line of in.
func readPassword(in io.Reader, errOut io.Writer) (string, error) {
	if p := os.Getenv(PasswordEnv); p != "" {
		return p, nil
	}

	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(errOut, "Password: ")
		p, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(errOut)
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		if len(p) == 0 {
			return "", errPasswordRequired
		}
		return string(p), nil
	}

	if in == nil {
		return "", errPasswordRequired
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errPasswordRequired
	}
	return line, nil
}
