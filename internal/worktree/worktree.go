// Package worktree manages git worktree provisioning for Worker agents:
// branch naming, worktree creation (go-git for inspection, the git CLI for
// mutating worktree operations), cleanup, and hash-suffix retry for
// healthcheck full recovery, per spec §4.6 and §4.11.
package worktree

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/multi-agent-mcp/orchestrator/internal/orcherr"
)

// Worktree represents one provisioned git worktree for a Worker agent.
type Worktree struct {
	RepoPath      string
	WorktreePath  string
	BranchName    string
	BaseCommitSHA string
}

// BuildWorkerTaskBranch names a Worker's branch from a base branch, worker
// number, and task id, per spec §4.6, never duplicating the feature/
// prefix (e.g. "feature/x" + worker 3 + task T => "feature/x-worker-3-T").
func BuildWorkerTaskBranch(baseBranch string, workerNo int, taskID string) string {
	trimmed := strings.TrimPrefix(baseBranch, "feature/")
	suffix := fmt.Sprintf("-worker-%d", workerNo)
	if taskID != "" {
		suffix += "-" + taskID
	}
	if trimmed == baseBranch {
		// baseBranch never had the feature/ prefix; add it once.
		return "feature/" + baseBranch + suffix
	}
	return "feature/" + trimmed + suffix
}

// New builds a Worktree descriptor for branchName under
// <repoPath>/.worktrees/<branchName-derived-dir>.
func New(repoPath, branchName string) *Worktree {
	dirName := strings.ReplaceAll(branchName, "/", "-")
	return &Worktree{
		RepoPath:     repoPath,
		WorktreePath: filepath.Join(repoPath, ".worktrees", dirName),
		BranchName:   branchName,
	}
}

// Setup creates the worktree, reusing the branch if it already exists or
// creating a fresh branch from HEAD otherwise.
func (w *Worktree) Setup() error {
	repo, err := git.PlainOpen(w.RepoPath)
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "open repository", err)
	}

	branchRef := plumbing.NewBranchReferenceName(w.BranchName)
	if _, err := repo.Reference(branchRef, false); err == nil {
		return w.setupFromExistingBranch()
	}
	return w.setupNewWorktree(repo)
}

func (w *Worktree) setupFromExistingBranch() error {
	if err := os.MkdirAll(filepath.Dir(w.WorktreePath), 0o755); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "create worktrees directory", err)
	}
	_, _ = runGit(w.RepoPath, "worktree", "remove", "-f", w.WorktreePath)

	if _, err := runGit(w.RepoPath, "worktree", "add", w.WorktreePath, w.BranchName); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "create worktree from existing branch", err)
	}
	return nil
}

func (w *Worktree) setupNewWorktree(repo *git.Repository) error {
	if err := os.MkdirAll(filepath.Dir(w.WorktreePath), 0o755); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "create worktrees directory", err)
	}
	_, _ = runGit(w.RepoPath, "worktree", "remove", "-f", w.WorktreePath)

	branchRef := plumbing.NewBranchReferenceName(w.BranchName)
	if _, err := repo.Reference(branchRef, false); err == nil {
		if err := repo.Storer.RemoveReference(branchRef); err != nil {
			return orcherr.Wrap(orcherr.KindInternal, "remove stale branch ref", err)
		}
	} else if err != plumbing.ErrReferenceNotFound {
		return orcherr.Wrap(orcherr.KindInternal, "check branch existence", err)
	}

	output, err := runGit(w.RepoPath, "rev-parse", "HEAD")
	if err != nil {
		if strings.Contains(err.Error(), "ambiguous argument 'HEAD'") || strings.Contains(err.Error(), "not a valid object name") {
			return orcherr.New(orcherr.KindInvalidState, "brand new repository: create an initial commit before provisioning a worktree")
		}
		return orcherr.Wrap(orcherr.KindInternal, "get HEAD commit", err)
	}
	headCommit := strings.TrimSpace(output)
	w.BaseCommitSHA = headCommit

	if _, err := runGit(w.RepoPath, "worktree", "add", "-b", w.BranchName, w.WorktreePath, headCommit); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "create worktree from HEAD", err)
	}
	return nil
}

// SetupWithHashRetry retries Setup with a short hash suffix appended to the
// branch/worktree path after any Setup failure, for healthcheck full recovery
// (spec §4.11). attempts bounds the number of suffixes tried.
func SetupWithHashRetry(repoPath, branchName string, attempts int, hashSuffix func(attempt int) string) (*Worktree, error) {
	if attempts <= 0 {
		attempts = 3
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		name := branchName
		if i > 0 {
			name = branchName + "-" + hashSuffix(i)
		}
		w := New(repoPath, name)
		if err := w.Setup(); err != nil {
			lastErr = err
			continue
		}
		return w, nil
	}
	return nil, orcherr.Wrap(orcherr.KindUnavailable, "worktree setup failed after retries", lastErr)
}

// Cleanup removes the worktree and its branch, aggregating any failures.
func (w *Worktree) Cleanup() error {
	var errs []error

	if _, err := os.Stat(w.WorktreePath); err == nil {
		if _, err := runGit(w.RepoPath, "worktree", "remove", "-f", w.WorktreePath); err != nil {
			errs = append(errs, err)
		}
	} else if !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("check worktree path: %w", err))
	}

	repo, err := git.PlainOpen(w.RepoPath)
	if err != nil {
		errs = append(errs, fmt.Errorf("open repository for cleanup: %w", err))
		return orcherr.Join(errs...)
	}

	branchRef := plumbing.NewBranchReferenceName(w.BranchName)
	if _, err := repo.Reference(branchRef, false); err == nil {
		if err := repo.Storer.RemoveReference(branchRef); err != nil {
			errs = append(errs, fmt.Errorf("remove branch %s: %w", w.BranchName, err))
		}
	} else if err != plumbing.ErrReferenceNotFound {
		errs = append(errs, fmt.Errorf("check branch %s existence: %w", w.BranchName, err))
	}

	if err := w.Prune(); err != nil {
		errs = append(errs, err)
	}

	return orcherr.Join(errs...)
}

// Remove removes the worktree but keeps the branch.
func (w *Worktree) Remove() error {
	if _, err := runGit(w.RepoPath, "worktree", "remove", "-f", w.WorktreePath); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "remove worktree", err)
	}
	return nil
}

// Prune removes stale worktree administrative files.
func (w *Worktree) Prune() error {
	if _, err := runGit(w.RepoPath, "worktree", "prune"); err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "prune worktrees", err)
	}
	return nil
}

// CleanupAll removes every worktree under repoPath's .worktrees directory,
// mirroring the teacher's GitCleanupWorktrees scan-and-remove sweep.
func CleanupAll(repoPath string) error {
	output, err := runGit(repoPath, "worktree", "list", "--porcelain")
	if err != nil {
		return orcherr.Wrap(orcherr.KindInternal, "list worktrees", err)
	}

	var errs []error
	for _, path := range parseWorktreePaths(output) {
		if !strings.Contains(path, string(filepath.Separator)+".worktrees"+string(filepath.Separator)) {
			continue
		}
		if _, err := runGit(repoPath, "worktree", "remove", "-f", path); err != nil {
			errs = append(errs, fmt.Errorf("remove worktree %s: %w", path, err))
		}
	}
	return orcherr.Join(errs...)
}

func parseWorktreePaths(output string) []string {
	var paths []string
	for _, line := range strings.Split(output, "\n") {
		if strings.HasPrefix(line, "worktree ") {
			paths = append(paths, strings.TrimPrefix(line, "worktree "))
		}
	}
	return paths
}

func runGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("git %s: %w: %s", strings.Join(args, " "), err, output)
	}
	return string(output), nil
}
