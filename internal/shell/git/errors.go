package git

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrRepoExists means Init found an initialized repository already in
	// place for the app.
	ErrRepoExists = errors.New("repository already exists")

	// ErrWorkspaceMissing means an operation needed a checked-out
	// workspace that does not exist.
	ErrWorkspaceMissing = errors.New("workspace not found")

	// ErrNotAWorkspace means the path where a workspace should live is
	// occupied by a directory this service does not manage. It is never
	// replaced or deleted.
	ErrNotAWorkspace = errors.New("directory is not a managed workspace")
)

// GitError wraps errors with the operation and app they belong to.
type GitError struct {
	Op  string // Operation that failed
	App string // Application name
	Err error
}

func (e *GitError) Error() string {
	if e.App != "" {
		return fmt.Sprintf("git %s for %s: %v", e.Op, e.App, e.Err)
	}
	return fmt.Sprintf("git %s: %v", e.Op, e.Err)
}

func (e *GitError) Unwrap() error {
	return e.Err
}

// NewGitError creates a new GitError.
func NewGitError(op, app string, err error) *GitError {
	return &GitError{Op: op, App: app, Err: err}
}
