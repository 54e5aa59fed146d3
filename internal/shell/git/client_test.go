package git

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/shipyard/internal/core/genfiles"
)

// fakeGit records git invocations and mimics the side effects the client
// depends on (git init creating .git). Outputs can be canned per
// subcommand.
type fakeGit struct {
	calls   [][]string
	envs    [][]string
	outputs map[string]string
	errs    map[string]error
}

func newFakeGit() *fakeGit {
	return &fakeGit{outputs: map[string]string{}, errs: map[string]error{}}
}

func (f *fakeGit) run(ctx context.Context, dir string, extraEnv []string, args ...string) (string, error) {
	f.calls = append(f.calls, args)
	f.envs = append(f.envs, extraEnv)

	if err := f.errs[args[0]]; err != nil {
		return "", err
	}
	if args[0] == "init" && !contains(args, "--bare") {
		if err := os.MkdirAll(filepath.Join(dir, ".git"), 0o755); err != nil {
			return "", err
		}
	}
	return f.outputs[args[0]], nil
}

func (f *fakeGit) commands() []string {
	var cmds []string
	for _, c := range f.calls {
		cmds = append(cmds, c[0])
	}
	return cmds
}

func contains(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

func setupTestClient(t *testing.T) (*CLIClient, *fakeGit) {
	t.Helper()
	fake := newFakeGit()
	c, err := NewClient(t.TempDir(), time.Minute)
	require.NoError(t, err)
	c.run = fake.run
	return c, fake
}

// makeWorkspace creates a managed workspace directory on disk.
func makeWorkspace(t *testing.T, c *CLIClient, app string) string {
	t.Helper()
	ws := c.WorkspacePath(app)
	require.NoError(t, os.MkdirAll(filepath.Join(ws, ".git"), 0o755))
	return ws
}

func TestNewClientRequiresAbsoluteRoot(t *testing.T) {
	_, err := NewClient("relative/path", time.Minute)
	assert.Error(t, err)
}

func TestInitCreatesBareRepo(t *testing.T) {
	c, fake := setupTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Init(ctx, "blog"))

	require.Len(t, fake.calls, 1)
	assert.Equal(t, []string{"init", "--bare", "-b", "main", c.RepoPath("blog")}, fake.calls[0])
	assert.DirExists(t, c.RepoPath("blog"))
}

func TestInitExistingRepo(t *testing.T) {
	c, _ := setupTestClient(t)
	ctx := context.Background()

	repo := c.RepoPath("blog")
	require.NoError(t, os.MkdirAll(repo, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "HEAD"), []byte("ref: refs/heads/main\n"), 0o644))

	err := c.Init(ctx, "blog")
	assert.ErrorIs(t, err, ErrRepoExists)

	var gitErr *GitError
	require.ErrorAs(t, err, &gitErr)
	assert.Equal(t, "init", gitErr.Op)
	assert.Equal(t, "blog", gitErr.App)
}

func TestScaffoldWritesFilesAndPushes(t *testing.T) {
	c, fake := setupTestClient(t)
	ctx := context.Background()

	files := map[string]string{
		"app.py":     "print('hi')\n",
		"Dockerfile": "FROM python:3.12-slim\n",
	}
	require.NoError(t, c.Scaffold(ctx, "blog", "simple-api", files))

	ws := c.WorkspacePath("blog")
	data, err := os.ReadFile(filepath.Join(ws, "app.py"))
	require.NoError(t, err)
	assert.Equal(t, "print('hi')\n", string(data))

	assert.Equal(t, []string{"init", "remote", "add", "commit", "push"}, fake.commands())

	// Commit message carries template and app name.
	for _, call := range fake.calls {
		if call[0] == "commit" {
			assert.Contains(t, call, "Scaffold simple-api for blog")
		}
	}
}

func TestScaffoldPinsCommitterIdentity(t *testing.T) {
	c, fake := setupTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Scaffold(ctx, "blog", "webhook", map[string]string{"app.py": "x\n"}))

	var commitEnv []string
	for i, call := range fake.calls {
		if call[0] == "commit" {
			commitEnv = fake.envs[i]
		}
	}
	assert.Contains(t, commitEnv, "GIT_COMMITTER_NAME=Shipyard")
	assert.Contains(t, commitEnv, "GIT_AUTHOR_EMAIL=shipyard@local")
}

func TestScaffoldReplacesManagedWorkspace(t *testing.T) {
	c, _ := setupTestClient(t)
	ctx := context.Background()

	ws := makeWorkspace(t, c, "blog")
	require.NoError(t, os.WriteFile(filepath.Join(ws, "stale.txt"), []byte("old"), 0o644))

	require.NoError(t, c.Scaffold(ctx, "blog", "simple-api", map[string]string{"app.py": "new\n"}))

	assert.NoFileExists(t, filepath.Join(ws, "stale.txt"))
	assert.FileExists(t, filepath.Join(ws, "app.py"))
}

func TestScaffoldRefusesForeignDirectory(t *testing.T) {
	c, fake := setupTestClient(t)
	ctx := context.Background()

	// Directory exists but has no .git; it was not created by us.
	require.NoError(t, os.MkdirAll(c.WorkspacePath("blog"), 0o755))

	err := c.Scaffold(ctx, "blog", "simple-api", map[string]string{"app.py": "x\n"})
	assert.ErrorIs(t, err, ErrNotAWorkspace)
	assert.Empty(t, fake.calls, "no git commands should run against a foreign directory")
}

func TestApplyFilesMissingWorkspace(t *testing.T) {
	c, _ := setupTestClient(t)

	err := c.ApplyFiles(context.Background(), "blog", []genfiles.File{{Path: "a.py", Content: "x\n"}})
	assert.ErrorIs(t, err, ErrWorkspaceMissing)
}

func TestApplyFilesCommitsWhenStaged(t *testing.T) {
	c, fake := setupTestClient(t)
	ctx := context.Background()
	ws := makeWorkspace(t, c, "blog")

	fake.outputs["diff"] = "app.py"

	files := []genfiles.File{
		{Path: "app.py", Content: "v2\n"},
		{Path: "static/index.html", Content: "<h1>hi</h1>\n"},
	}
	require.NoError(t, c.ApplyFiles(ctx, "blog", files))

	assert.Equal(t, []string{"add", "diff", "commit", "push"}, fake.commands())
	assert.FileExists(t, filepath.Join(ws, "static", "index.html"))
}

func TestApplyFilesIdempotentWhenUnchanged(t *testing.T) {
	c, fake := setupTestClient(t)
	ctx := context.Background()
	makeWorkspace(t, c, "blog")

	fake.outputs["diff"] = "" // nothing staged

	require.NoError(t, c.ApplyFiles(ctx, "blog", []genfiles.File{{Path: "app.py", Content: "same\n"}}))

	cmds := fake.commands()
	assert.NotContains(t, cmds, "commit")
	assert.NotContains(t, cmds, "push")
}

func TestSyncExistingWorkspace(t *testing.T) {
	c, fake := setupTestClient(t)
	makeWorkspace(t, c, "blog")

	require.NoError(t, c.Sync(context.Background(), "blog"))

	assert.Equal(t, []string{"fetch", "reset"}, fake.commands())
	assert.Equal(t, []string{"reset", "--hard", "origin/main"}, fake.calls[1])
}

func TestSyncRecreatesMissingWorkspace(t *testing.T) {
	c, fake := setupTestClient(t)

	require.NoError(t, c.Sync(context.Background(), "blog"))

	assert.Equal(t, []string{"init", "remote", "fetch", "reset"}, fake.commands())
	assert.DirExists(t, c.WorkspacePath("blog"))
}

func TestSyncRefusesForeignDirectory(t *testing.T) {
	c, _ := setupTestClient(t)
	require.NoError(t, os.MkdirAll(c.WorkspacePath("blog"), 0o755))

	err := c.Sync(context.Background(), "blog")
	assert.ErrorIs(t, err, ErrNotAWorkspace)
}

func TestSnapshotSkipsGitDir(t *testing.T) {
	c, _ := setupTestClient(t)
	ws := makeWorkspace(t, c, "blog")

	require.NoError(t, os.WriteFile(filepath.Join(ws, ".git", "config"), []byte("[core]"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ws, "app.py"), []byte("code\n"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(ws, "static"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ws, "static", "main.css"), []byte("body{}\n"), 0o644))

	files, err := c.Snapshot(context.Background(), "blog")
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"app.py":          "code\n",
		"static/main.css": "body{}\n",
	}, files)
}

func TestSnapshotMissingWorkspace(t *testing.T) {
	c, _ := setupTestClient(t)

	files, err := c.Snapshot(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestSnapshotPathsSorted(t *testing.T) {
	c, _ := setupTestClient(t)
	ws := makeWorkspace(t, c, "blog")
	require.NoError(t, os.WriteFile(filepath.Join(ws, "b.py"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ws, "a.py"), []byte("a"), 0o644))

	paths, err := c.SnapshotPaths(context.Background(), "blog")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py", "b.py"}, paths)
}

func TestDestroyIdempotent(t *testing.T) {
	c, _ := setupTestClient(t)
	assert.NoError(t, c.Destroy(context.Background(), "never-existed"))
}

func TestDestroyRemovesRepoAndWorkspace(t *testing.T) {
	c, _ := setupTestClient(t)
	ws := makeWorkspace(t, c, "blog")
	repo := c.RepoPath("blog")
	require.NoError(t, os.MkdirAll(repo, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(repo, "HEAD"), []byte("ref: refs/heads/main\n"), 0o644))

	require.NoError(t, c.Destroy(context.Background(), "blog"))

	assert.NoDirExists(t, ws)
	assert.NoDirExists(t, repo)
}

func TestDestroyRefusesForeignDirectory(t *testing.T) {
	c, _ := setupTestClient(t)
	ws := c.WorkspacePath("blog")
	require.NoError(t, os.MkdirAll(ws, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(ws, "precious.txt"), []byte("keep"), 0o644))

	err := c.Destroy(context.Background(), "blog")
	assert.ErrorIs(t, err, ErrNotAWorkspace)
	assert.FileExists(t, filepath.Join(ws, "precious.txt"))
}

func TestGitErrorFormat(t *testing.T) {
	err := NewGitError("sync", "blog", ErrWorkspaceMissing)
	assert.Equal(t, "git sync for blog: workspace not found", err.Error())
	assert.ErrorIs(t, err, ErrWorkspaceMissing)
}

func TestExecGitTimeoutMessage(t *testing.T) {
	// Uses the real runner with an absurd timeout to confirm wiring; the
	// command itself is invalid so it must fail fast without hanging.
	c, err := NewClient(t.TempDir(), time.Minute)
	require.NoError(t, err)

	_, runErr := c.run(context.Background(), c.root, nil, "definitely-not-a-subcommand")
	require.Error(t, runErr)
	assert.True(t, strings.HasPrefix(runErr.Error(), "git definitely-not-a-subcommand:"))
}
