package vcs

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func initRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	run(t, dir, "init", "-q")
	run(t, dir, "config", "user.name", "cwm-test")
	run(t, dir, "config", "user.email", "cwm-test@localhost")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0644))
	run(t, dir, "add", "-A")
	run(t, dir, "commit", "-q", "-m", "initial")
	return dir
}

func run(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
}

func TestCommitIsNoopWhenNothingStaged(t *testing.T) {
	dir := initRepo(t)
	repo := NewRepo(dir)

	sha, err := repo.Commit(1, "MissingDependency")
	require.NoError(t, err)
	require.Empty(t, sha, "no staged changes means no commit")
}

func TestCommitCreatesDeterministicMessage(t *testing.T) {
	dir := initRepo(t)
	repo := NewRepo(dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "requirements.txt"), []byte("requests\n"), 0644))
	require.NoError(t, repo.StageAll())

	sha, err := repo.Commit(1, "MissingDependency")
	require.NoError(t, err)
	require.NotEmpty(t, sha)

	out, err := repo.run("log", "-1", "--format=%B")
	require.NoError(t, err)
	require.Contains(t, out, "auto-fix(iter=1): MissingDependency")
	require.Contains(t, out, "Timestamp:")
}

func TestHasChangesReflectsWorkingTree(t *testing.T) {
	dir := initRepo(t)
	repo := NewRepo(dir)

	changed, err := repo.HasChanges()
	require.NoError(t, err)
	require.False(t, changed)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x"), 0644))
	changed, err = repo.HasChanges()
	require.NoError(t, err)
	require.True(t, changed)
}

func TestAllPathsIgnoredWithNoGitignore(t *testing.T) {
	dir := initRepo(t)
	require.False(t, AllPathsIgnored(dir, []string{"foo.txt"}))
}

func TestAllPathsIgnoredWithGitignore(t *testing.T) {
	dir := initRepo(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("*.log\n"), 0644))

	require.True(t, AllPathsIgnored(dir, []string{"build.log"}))
	require.False(t, AllPathsIgnored(dir, []string{"build.log", "main.go"}))
}
