// Package exitcode defines the process exit codes of tasksync.
package exitcode

const (
	// Success indicates successful completion.
	Success = 0

	// UserError indicates bad input: arguments, flags, a missing task or an
	// unreadable attachment.
	UserError = 1

	// AuthError indicates a missing or rejected session, or unusable settings.
	AuthError = 2

	// BackendError indicates a failed query, upload or subscription.
	BackendError = 3
)
