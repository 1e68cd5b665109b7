package builtin

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/ggoodman/mcp-gateway-go/tools"
)

type GitStatusArgs struct {
	RepoDir string `json:"repo_dir" jsonschema:"description=Path to the Git repository directory"`
}

type GitStatusResult struct {
	Branch         string   `json:"branch" jsonschema:"description=Current branch name"`
	CommitHash     string   `json:"commit_hash" jsonschema:"description=Short SHA of HEAD"`
	CommitMessage  string   `json:"commit_message"`
	IsDirty        bool     `json:"is_dirty" jsonschema:"description=True when tracked files have uncommitted changes"`
	ModifiedFiles  []string `json:"modified_files"`
	UntrackedFiles []string `json:"untracked_files"`
	RemoteURL      *string  `json:"remote_url"`
}

const detachedBranch = "HEAD (detached)"

type gitStatus struct {
	root string
	log  *slog.Logger
}

// NewGitStatus returns the git_status tool. When allowedRoot is non-empty,
// only repositories beneath it may be inspected.
func NewGitStatus(allowedRoot string, log *slog.Logger) tools.Unit {
	g := &gitStatus{root: allowedRoot, log: log}
	return tools.New(tools.Spec{
		Name: "git_status",
		Description: "Get Git repository status including current branch, commit hash, " +
			"commit message, modified files, and untracked files.",
		RequiredRoles: []string{"developer"},
	}, g.execute, tools.WithInit(g.init))
}

func (g *gitStatus) init(context.Context) error {
	if _, err := exec.LookPath("git"); err != nil {
		return fmt.Errorf("git executable not found: %w", err)
	}
	if g.root != "" {
		abs, err := filepath.Abs(g.root)
		if err != nil {
			return err
		}
		real, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return fmt.Errorf("allowed root: %w", err)
		}
		g.root = real
	}
	return nil
}

func (g *gitStatus) execute(ctx context.Context, args GitStatusArgs, principal string) (GitStatusResult, error) {
	dir, err := g.resolve(args.RepoDir)
	if err != nil {
		return GitStatusResult{}, err
	}
	g.log.InfoContext(ctx, "tool.git_status.run", slog.String("repo_dir", dir), slog.String("principal", principal))

	if out, err := git(ctx, dir, "rev-parse", "--is-inside-work-tree"); err != nil || strings.TrimSpace(out) != "true" {
		return GitStatusResult{}, fmt.Errorf("not a Git repository: %s", args.RepoDir)
	}

	res := GitStatusResult{Branch: detachedBranch, ModifiedFiles: []string{}, UntrackedFiles: []string{}}

	if out, err := git(ctx, dir, "symbolic-ref", "--short", "-q", "HEAD"); err == nil {
		res.Branch = strings.TrimSpace(out)
	}

	out, err := git(ctx, dir, "log", "-1", "--format=%H%x00%B")
	if err != nil {
		return GitStatusResult{}, fmt.Errorf("git status failed: %w", err)
	}
	hash, msg, _ := strings.Cut(out, "\x00")
	if len(hash) > 8 {
		hash = hash[:8]
	}
	res.CommitHash = hash
	res.CommitMessage = strings.TrimSpace(msg)

	out, err = git(ctx, dir, "status", "--porcelain=v1", "-z", "--untracked-files=all")
	if err != nil {
		return GitStatusResult{}, fmt.Errorf("git status failed: %w", err)
	}
	res.ModifiedFiles, res.UntrackedFiles = parsePorcelain(out)
	res.IsDirty = len(res.ModifiedFiles) > 0

	if out, err := git(ctx, dir, "remote", "get-url", "origin"); err == nil {
		u := strings.TrimSpace(out)
		res.RemoteURL = &u
	}
	return res, nil
}

func (g *gitStatus) resolve(repoDir string) (string, error) {
	abs, err := filepath.Abs(repoDir)
	if err != nil {
		return "", err
	}
	fi, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("repository path does not exist: %s", repoDir)
	}
	if !fi.IsDir() {
		return "", fmt.Errorf("repository path is not a directory: %s", repoDir)
	}
	// Confinement is checked on the resolved path so links cannot leave the root.
	real, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("repository path does not exist: %s", repoDir)
	}
	if g.root != "" {
		rel, err := filepath.Rel(g.root, real)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", fmt.Errorf("repository path is outside the allowed root: %s", repoDir)
		}
	}
	return real, nil
}

// parsePorcelain splits `git status --porcelain=v1 -z` output into modified
// (staged or unstaged) and untracked paths.
func parsePorcelain(out string) (modified, untracked []string) {
	modified, untracked = []string{}, []string{}
	entries := strings.Split(out, "\x00")
	for i := 0; i < len(entries); i++ {
		e := entries[i]
		if len(e) < 4 {
			continue
		}
		code, path := e[:2], e[3:]
		switch {
		case code == "??":
			untracked = append(untracked, path)
		case code == "!!":
		default:
			modified = append(modified, path)
			// Renames and copies carry the original path as the next entry.
			if code[0] == 'R' || code[0] == 'C' {
				i++
			}
		}
	}
	return modified, untracked
}

func git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("git %s: %s", args[0], msg)
		}
		return "", fmt.Errorf("git %s: %w", args[0], err)
	}
	return stdout.String(), nil
}
