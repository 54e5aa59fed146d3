// Package git keeps each application's source of truth: a bare repository
// at <root>/<app>.git and a synced checkout at <root>/<app>-workspace.
// Scaffolds and generated files are committed to the workspace and pushed
// to the bare repo; builds always run against a workspace hard-reset to
// origin/main.
//
// All operations shell out to the git binary.
package git

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/artpar/shipyard/internal/core/genfiles"
)

// Committer identity for all automated commits.
const (
	committerName  = "Shipyard"
	committerEmail = "shipyard@local"
)

// commandRunner executes git with the given args in dir, returning trimmed
// stdout. Tests inject a fake; production uses execGit.
type commandRunner func(ctx context.Context, dir string, extraEnv []string, args ...string) (string, error)

// =============================================================================
// Client Interface
// =============================================================================

// Client is the pipeline's view of version control.
type Client interface {
	Init(ctx context.Context, app string) error
	Scaffold(ctx context.Context, app, template string, files map[string]string) error
	ApplyFiles(ctx context.Context, app string, files []genfiles.File) error
	Sync(ctx context.Context, app string) error
	Snapshot(ctx context.Context, app string) (map[string]string, error)
	SnapshotPaths(ctx context.Context, app string) ([]string, error)
	Destroy(ctx context.Context, app string) error
	RepoPath(app string) string
	WorkspacePath(app string) string
}

// =============================================================================
// CLI Implementation
// =============================================================================

// CLIClient manages bare repos and workspaces under a single root directory.
type CLIClient struct {
	root    string
	timeout time.Duration
	run     commandRunner
}

// NewClient creates a git client rooted at root. The root must be an
// absolute path; it is created on first use.
func NewClient(root string, timeout time.Duration) (*CLIClient, error) {
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("git root must be absolute: %s", root)
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	c := &CLIClient{root: root, timeout: timeout}
	c.run = c.execGit
	return c, nil
}

// RepoPath returns the bare repository path for an app.
func (c *CLIClient) RepoPath(app string) string {
	return filepath.Join(c.root, app+".git")
}

// WorkspacePath returns the checkout path for an app.
func (c *CLIClient) WorkspacePath(app string) string {
	return filepath.Join(c.root, app+"-workspace")
}

// =============================================================================
// Repository lifecycle
// =============================================================================

// Init creates the bare repository for an app. An already-initialized
// repository is reported as ErrRepoExists so stale state surfaces as a
// conflict instead of being silently reused.
func (c *CLIClient) Init(ctx context.Context, app string) error {
	repo := c.RepoPath(app)

	if _, err := os.Stat(filepath.Join(repo, "HEAD")); err == nil {
		return NewGitError("init", app, ErrRepoExists)
	}
	if err := os.MkdirAll(repo, 0o755); err != nil {
		return NewGitError("init", app, err)
	}
	if _, err := c.run(ctx, c.root, nil, "init", "--bare", "-b", "main", repo); err != nil {
		return NewGitError("init", app, err)
	}
	return nil
}

// Scaffold creates a fresh workspace containing files, makes the initial
// commit, and pushes it to the bare repo. An existing managed workspace is
// replaced; anything else at that path aborts with ErrNotAWorkspace.
func (c *CLIClient) Scaffold(ctx context.Context, app, template string, files map[string]string) error {
	ws := c.WorkspacePath(app)

	if info, err := os.Stat(ws); err == nil {
		if !info.IsDir() || !isWorkspace(ws) {
			return NewGitError("scaffold", app, ErrNotAWorkspace)
		}
		if err := os.RemoveAll(ws); err != nil {
			return NewGitError("scaffold", app, err)
		}
	}
	if err := os.MkdirAll(ws, 0o755); err != nil {
		return NewGitError("scaffold", app, err)
	}

	if err := c.initWorkspace(ctx, app); err != nil {
		return NewGitError("scaffold", app, err)
	}
	if err := writeTree(ws, files); err != nil {
		return NewGitError("scaffold", app, err)
	}

	if _, err := c.run(ctx, ws, nil, "add", "."); err != nil {
		return NewGitError("scaffold", app, err)
	}
	msg := fmt.Sprintf("Scaffold %s for %s", template, app)
	if _, err := c.run(ctx, ws, committerEnv(), "commit", "-m", msg); err != nil {
		return NewGitError("scaffold", app, err)
	}
	if _, err := c.run(ctx, ws, committerEnv(), "push", "-u", "origin", "main"); err != nil {
		return NewGitError("scaffold", app, err)
	}
	return nil
}

// ApplyFiles writes generated files into the workspace, then commits and
// pushes only when the staged tree actually changed. Re-applying identical
// content is a no-op, keeping the operation idempotent.
func (c *CLIClient) ApplyFiles(ctx context.Context, app string, files []genfiles.File) error {
	ws := c.WorkspacePath(app)
	if !isWorkspace(ws) {
		return NewGitError("apply", app, ErrWorkspaceMissing)
	}

	tree := make(map[string]string, len(files))
	for _, f := range files {
		tree[f.Path] = f.Content
	}
	if err := writeTree(ws, tree); err != nil {
		return NewGitError("apply", app, err)
	}

	if _, err := c.run(ctx, ws, nil, "add", "."); err != nil {
		return NewGitError("apply", app, err)
	}

	staged, err := c.run(ctx, ws, nil, "diff", "--cached", "--name-only")
	if err != nil {
		return NewGitError("apply", app, err)
	}
	if staged == "" {
		return nil
	}

	if _, err := c.run(ctx, ws, committerEnv(), "commit", "-m", "Update: generated code"); err != nil {
		return NewGitError("apply", app, err)
	}
	if _, err := c.run(ctx, ws, committerEnv(), "push", "-u", "origin", "main"); err != nil {
		return NewGitError("apply", app, err)
	}
	return nil
}

// Sync brings the workspace to origin/main, recreating the checkout if it
// vanished. Local modifications are discarded.
func (c *CLIClient) Sync(ctx context.Context, app string) error {
	ws := c.WorkspacePath(app)

	if info, err := os.Stat(ws); err == nil {
		if !info.IsDir() || !isWorkspace(ws) {
			return NewGitError("sync", app, ErrNotAWorkspace)
		}
	} else {
		if err := os.MkdirAll(ws, 0o755); err != nil {
			return NewGitError("sync", app, err)
		}
		if err := c.initWorkspace(ctx, app); err != nil {
			return NewGitError("sync", app, err)
		}
	}

	if _, err := c.run(ctx, ws, nil, "fetch", "origin"); err != nil {
		return NewGitError("sync", app, err)
	}
	if _, err := c.run(ctx, ws, nil, "reset", "--hard", "origin/main"); err != nil {
		return NewGitError("sync", app, err)
	}
	return nil
}

// Snapshot returns the workspace tree as path to content, .git excluded.
// A missing workspace yields an empty map.
func (c *CLIClient) Snapshot(ctx context.Context, app string) (map[string]string, error) {
	ws := c.WorkspacePath(app)
	if _, err := os.Stat(ws); err != nil {
		return map[string]string{}, nil
	}

	files := make(map[string]string)
	err := filepath.WalkDir(ws, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(ws, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		return nil, NewGitError("snapshot", app, err)
	}
	return files, nil
}

// SnapshotPaths returns the sorted relative paths in the workspace.
func (c *CLIClient) SnapshotPaths(ctx context.Context, app string) ([]string, error) {
	files, err := c.Snapshot(ctx, app)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

// Destroy removes the bare repo and workspace. Missing paths are fine; a
// foreign directory at the workspace path is not.
func (c *CLIClient) Destroy(ctx context.Context, app string) error {
	ws := c.WorkspacePath(app)
	if info, err := os.Stat(ws); err == nil {
		if !info.IsDir() || !isWorkspace(ws) {
			return NewGitError("destroy", app, ErrNotAWorkspace)
		}
		if err := os.RemoveAll(ws); err != nil {
			return NewGitError("destroy", app, err)
		}
	}

	repo := c.RepoPath(app)
	if _, err := os.Stat(repo); err == nil {
		if _, err := os.Stat(filepath.Join(repo, "HEAD")); err != nil {
			return NewGitError("destroy", app, ErrNotAWorkspace)
		}
		if err := os.RemoveAll(repo); err != nil {
			return NewGitError("destroy", app, err)
		}
	}
	return nil
}

// =============================================================================
// Internals
// =============================================================================

// initWorkspace turns an empty directory into a checkout wired to the bare
// repo as origin.
func (c *CLIClient) initWorkspace(ctx context.Context, app string) error {
	ws := c.WorkspacePath(app)
	if _, err := c.run(ctx, ws, nil, "init", "-b", "main"); err != nil {
		return err
	}
	if _, err := c.run(ctx, ws, nil, "remote", "add", "origin", c.RepoPath(app)); err != nil {
		return err
	}
	return nil
}

// isWorkspace reports whether dir is a checkout this service created.
func isWorkspace(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ".git"))
	return err == nil && info.IsDir()
}

// writeTree writes files under root, creating parent directories.
func writeTree(root string, files map[string]string) error {
	for rel, content := range files {
		dest := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(dest, []byte(content), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func committerEnv() []string {
	return []string{
		"GIT_AUTHOR_NAME=" + committerName,
		"GIT_AUTHOR_EMAIL=" + committerEmail,
		"GIT_COMMITTER_NAME=" + committerName,
		"GIT_COMMITTER_EMAIL=" + committerEmail,
	}
}

// execGit runs the git binary with a per-command timeout. Stderr is folded
// into the returned error.
func (c *CLIClient) execGit(ctx context.Context, dir string, extraEnv []string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	if len(extraEnv) > 0 {
		cmd.Env = append(os.Environ(), extraEnv...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("git %s: timeout after %v", args[0], c.timeout)
		}
		return "", fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return strings.TrimSpace(stdout.String()), nil
}
