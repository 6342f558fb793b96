package commands_test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"testing"

	"tasksync/internal/commands"
	"tasksync/internal/exitcode"
	"tasksync/internal/service"
	"tasksync/internal/testutil"
)

// TestLoginCommand_Success verifies login signs in with the password from stdin
func TestLoginCommand_Success(t *testing.T) {
	t.Setenv(commands.PasswordEnv, "")
	svc := testutil.NewFakeService()
	svc.AddUser(testEmail, "secret123")

	cmd := &commands.LoginCmd{}
	cmd.SetInput(strings.NewReader("secret123\n"))
	setEmail(t, cmd, testEmail)

	stdout, stderr, code := runCommand(t, cmd, svc, nil, false)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d (%s)", exitcode.Success, code, stderr)
	}
	if stdout != "ok\n" {
		t.Errorf("expected 'ok\\n', got %q", stdout)
	}
	sess, _ := svc.Auth().Session(context.Background())
	if sess == nil || sess.User.Email != testEmail {
		t.Errorf("expected session for %s, got %+v", testEmail, sess)
	}
	if svc.AuthListeners() != 0 {
		t.Errorf("expected auth listener to be released, got %d", svc.AuthListeners())
	}
}

// TestLoginCommand_PasswordFromEnv verifies TASKSYNC_PASSWORD wins over stdin
func TestLoginCommand_PasswordFromEnv(t *testing.T) {
	t.Setenv(commands.PasswordEnv, "secret123")
	svc := testutil.NewFakeService()
	svc.AddUser(testEmail, "secret123")

	cmd := &commands.LoginCmd{}
	cmd.SetInput(strings.NewReader("wrong\n"))
	setEmail(t, cmd, testEmail)

	_, stderr, code := runCommand(t, cmd, svc, nil, true)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d (%s)", exitcode.Success, code, stderr)
	}
}

// TestLoginCommand_BadCredentials verifies a rejected sign-in is an auth error
func TestLoginCommand_BadCredentials(t *testing.T) {
	t.Setenv(commands.PasswordEnv, "")
	svc := testutil.NewFakeService()
	svc.AddUser(testEmail, "secret123")

	cmd := &commands.LoginCmd{}
	cmd.SetInput(strings.NewReader("nope\n"))
	setEmail(t, cmd, testEmail)

	stdout, stderr, code := runCommand(t, cmd, svc, nil, false)

	if code != exitcode.AuthError {
		t.Errorf("expected exit code %d, got %d", exitcode.AuthError, code)
	}
	if stdout != "" {
		t.Errorf("expected no stdout, got %q", stdout)
	}
	if !strings.Contains(stderr, "invalid login credentials") {
		t.Errorf("unexpected stderr %q", stderr)
	}
}

// TestLoginCommand_MissingInput verifies email and password are required
func TestLoginCommand_MissingInput(t *testing.T) {
	t.Setenv(commands.PasswordEnv, "")

	cmd := &commands.LoginCmd{}
	cmd.SetInput(strings.NewReader("secret123\n"))
	_, stderr, code := runCommand(t, cmd, testutil.NewFakeService(), nil, false)
	if code != exitcode.UserError || stderr != "error: email required\n" {
		t.Errorf("expected email required, got %d %q", code, stderr)
	}

	cmd = &commands.LoginCmd{}
	cmd.SetInput(strings.NewReader(""))
	setEmail(t, cmd, testEmail)
	_, stderr, code = runCommand(t, cmd, testutil.NewFakeService(), nil, false)
	if code != exitcode.UserError || stderr != "error: password required\n" {
		t.Errorf("expected password required, got %d %q", code, stderr)
	}
}

// TestSignupCommand verifies signup signs in or asks for confirmation
func TestSignupCommand(t *testing.T) {
	t.Setenv(commands.PasswordEnv, "secret123")

	t.Run("signed in", func(t *testing.T) {
		svc := testutil.NewFakeService()
		cmd := &commands.SignupCmd{}
		setEmail(t, cmd, testEmail)

		stdout, _, code := runCommand(t, cmd, svc, nil, false)

		if code != exitcode.Success {
			t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
		}
		if stdout != "ok\n" {
			t.Errorf("expected 'ok\\n', got %q", stdout)
		}
	})

	t.Run("duplicate", func(t *testing.T) {
		svc := testutil.NewFakeService()
		svc.AddUser(testEmail, "other")
		cmd := &commands.SignupCmd{}
		setEmail(t, cmd, testEmail)

		_, stderr, code := runCommand(t, cmd, svc, nil, false)

		if code != exitcode.AuthError {
			t.Errorf("expected exit code %d, got %d", exitcode.AuthError, code)
		}
		if !strings.Contains(stderr, "already registered") {
			t.Errorf("unexpected stderr %q", stderr)
		}
	})

	t.Run("backend failure", func(t *testing.T) {
		svc := testutil.NewFakeService()
		svc.SignUpErr = fmt.Errorf("%w: %w", service.ErrAuth, errors.New("signups disabled"))
		cmd := &commands.SignupCmd{}
		setEmail(t, cmd, testEmail)

		_, _, code := runCommand(t, cmd, svc, nil, false)

		if code != exitcode.AuthError {
			t.Errorf("expected exit code %d, got %d", exitcode.AuthError, code)
		}
	})
}

// TestLogoutCommand_SignsOut verifies logout ends the session
func TestLogoutCommand_SignsOut(t *testing.T) {
	svc := signedIn()

	stdout, stderr, code := runCommand(t, &commands.LogoutCmd{}, svc, nil, false)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	if stderr != "" {
		t.Errorf("expected no stderr, got %q", stderr)
	}
	if stdout != "ok\n" {
		t.Errorf("expected 'ok\\n', got %q", stdout)
	}
	if sess, _ := svc.Auth().Session(context.Background()); sess != nil {
		t.Errorf("expected no session, got %+v", sess)
	}
}

// TestLogoutCommand_NotLoggedIn verifies logout handles not being logged in
func TestLogoutCommand_NotLoggedIn(t *testing.T) {
	stdout, stderr, code := runCommand(t, &commands.LogoutCmd{}, testutil.NewFakeService(), nil, false)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	if stderr != "" {
		t.Errorf("expected no stderr, got %q", stderr)
	}
	if stdout != "not logged in\n" {
		t.Errorf("expected 'not logged in\\n', got %q", stdout)
	}
}

// TestLogoutCommand_NotLoggedInQuiet verifies logout is quiet when not logged in
func TestLogoutCommand_NotLoggedInQuiet(t *testing.T) {
	stdout, stderr, code := runCommand(t, &commands.LogoutCmd{}, testutil.NewFakeService(), nil, true)

	if code != exitcode.Success {
		t.Errorf("expected exit code %d, got %d", exitcode.Success, code)
	}
	if stderr != "" {
		t.Errorf("expected no stderr, got %q", stderr)
	}
	if stdout != "" {
		t.Errorf("expected no stdout in quiet mode, got %q", stdout)
	}
}

// TestLogoutCommand_Failure verifies a failed sign-out keeps the session
func TestLogoutCommand_Failure(t *testing.T) {
	svc := signedIn()
	svc.SignOutErr = fmt.Errorf("%w: network unreachable", service.ErrAuth)

	_, stderr, code := runCommand(t, &commands.LogoutCmd{}, svc, nil, false)

	if code != exitcode.AuthError {
		t.Errorf("expected exit code %d, got %d", exitcode.AuthError, code)
	}
	if !strings.Contains(stderr, "network unreachable") {
		t.Errorf("unexpected stderr %q", stderr)
	}
}

// TestWhoamiCommand verifies whoami prints the session email
func TestWhoamiCommand(t *testing.T) {
	stdout, _, code := runCommand(t, &commands.WhoamiCmd{}, signedIn(), nil, false)
	if code != exitcode.Success || stdout != testEmail+"\n" {
		t.Errorf("expected %q, got %d %q", testEmail+"\n", code, stdout)
	}

	_, stderr, code := runCommand(t, &commands.WhoamiCmd{}, testutil.NewFakeService(), nil, false)
	if code != exitcode.AuthError {
		t.Errorf("expected exit code %d, got %d", exitcode.AuthError, code)
	}
	if stderr != "error: not logged in (run: tasksync login)\n" {
		t.Errorf("unexpected stderr %q", stderr)
	}
}

// setEmail parses --email through the command's own flags.
func setEmail(t *testing.T, cmd commands.Command, email string) {
	t.Helper()
	fs := flag.NewFlagSet(cmd.Name(), flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	cmd.RegisterFlags(fs)
	if err := fs.Parse([]string{"--email", email}); err != nil {
		t.Fatalf("failed to parse flags: %v", err)
	}
}
