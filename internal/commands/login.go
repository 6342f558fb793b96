package commands

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"tasksync/internal/config"
	"tasksync/internal/exitcode"
	"tasksync/internal/service"
)

func init() {
	Register(&LoginCmd{})
	Register(&SignupCmd{})
}

// credentialFlags holds the email flag and password source shared by login and signup.
type credentialFlags struct {
	email string
	in    io.Reader
}

// SetInput sets where the password is read from (for testing).
func (c *credentialFlags) SetInput(in io.Reader) {
	c.in = in
}

func (c *credentialFlags) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.email, "email", "", "")
	fs.StringVar(&c.email, "e", "", "")
}

// read returns the email and password, or prints the problem and returns a
// non-zero exit code.
func (c *credentialFlags) read(errOut io.Writer) (string, string, int) {
	email := strings.TrimSpace(c.email)
	if email == "" {
		fmt.Fprintf(errOut, "error: %v\n", errEmailRequired)
		return "", "", exitcode.UserError
	}

	in := c.in
	if in == nil {
		in = os.Stdin
	}
	password, err := readPassword(in, errOut)
	if err != nil {
		fmt.Fprintf(errOut, "error: %v\n", err)
		return "", "", exitcode.UserError
	}
	return email, password, exitcode.Success
}

// LoginCmd implements the login command.
type LoginCmd struct {
	credentialFlags
}

func (c *LoginCmd) Name() string       { return "login" }
func (c *LoginCmd) Aliases() []string  { return []string{"signin"} }
func (c *LoginCmd) Synopsis() string   { return "Sign in with email and password" }
func (c *LoginCmd) Usage() string      { return "tasksync login [common flags] --email <email>" }
func (c *LoginCmd) NeedsService() bool { return true }

func (c *LoginCmd) Run(ctx context.Context, cfg *config.Config, svc service.Service, args []string, out, errOut io.Writer) int {
	email, password, code := c.read(errOut)
	if code != exitcode.Success {
		return code
	}

	store := startSession(ctx, cfg, svc)
	defer store.Close()

	if err := store.SignIn(ctx, email, password); err != nil {
		return reportError(errOut, err)
	}

	if !cfg.Quiet {
		fmt.Fprintln(out, "ok")
	}
	return exitcode.Success
}

// SignupCmd implements the signup command.
type SignupCmd struct {
	credentialFlags
}

func (c *SignupCmd) Name() string       { return "signup" }
func (c *SignupCmd) Aliases() []string  { return nil }
func (c *SignupCmd) Synopsis() string   { return "Create an account" }
func (c *SignupCmd) Usage() string      { return "tasksync signup [common flags] --email <email>" }
func (c *SignupCmd) NeedsService() bool { return true }

func (c *SignupCmd) Run(ctx context.Context, cfg *config.Config, svc service.Service, args []string, out, errOut io.Writer) int {
	email, password, code := c.read(errOut)
	if code != exitcode.Success {
		return code
	}

	store := startSession(ctx, cfg, svc)
	defer store.Close()

	signedIn, err := store.SignUp(ctx, email, password)
	if err != nil {
		return reportError(errOut, err)
	}

	if !cfg.Quiet {
		if signedIn {
			fmt.Fprintln(out, "ok")
		} else {
			fmt.Fprintln(out, "check your email to confirm your account, then run: tasksync login")
		}
	}
	return exitcode.Success
}
