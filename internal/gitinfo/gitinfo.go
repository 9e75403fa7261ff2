// Package gitinfo detects the repository name and branch for a working
// directory. Detection is best-effort: a directory outside any git
// repository, or a machine without git, yields empty fields rather
// than an error, so session creation never fails on version control.
package gitinfo

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Info is what the registry records about a session's checkout.
type Info struct {
	Repo   string
	Branch string
}

// runner executes git in dir; swapped out in tests.
type runner func(dir string, args ...string) (string, error)

// Detect returns the repo name and current branch for dir.
func Detect(dir string) Info {
	return detect(dir, runGit)
}

func detect(dir string, run runner) Info {
	var info Info
	if dir == "" {
		return info
	}
	out, err := run(dir, "rev-parse", "--abbrev-ref", "HEAD")
	if err != nil {
		return info
	}
	info.Branch = strings.TrimSpace(out)

	if out, err := run(dir, "remote", "get-url", "origin"); err == nil {
		info.Repo = repoName(strings.TrimSpace(out))
	}
	if info.Repo == "" {
		if out, err := run(dir, "rev-parse", "--show-toplevel"); err == nil {
			info.Repo = filepath.Base(strings.TrimSpace(out))
		}
	}
	return info
}

// repoName extracts the final path segment of a remote URL, handling
// both scp-like (git@host:owner/repo.git) and URL forms.
func repoName(url string) string {
	s := strings.TrimSuffix(strings.TrimRight(url, "/"), ".git")
	if i := strings.LastIndexAny(s, "/:"); i >= 0 {
		s = s[i+1:]
	}
	return s
}

// gitEnvBlacklist lists git environment variables that must be stripped
// so subprocess git commands resolve against dir, not a parent repo.
var gitEnvBlacklist = map[string]bool{
	"GIT_DIR":                          true,
	"GIT_WORK_TREE":                    true,
	"GIT_INDEX_FILE":                   true,
	"GIT_OBJECT_DIRECTORY":             true,
	"GIT_ALTERNATE_OBJECT_DIRECTORIES": true,
}

func runGit(dir string, args ...string) (string, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	for _, e := range os.Environ() {
		if k, _, ok := strings.Cut(e, "="); ok && gitEnvBlacklist[k] {
			continue
		}
		cmd.Env = append(cmd.Env, e)
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("git %s: %s: %w", strings.Join(args, " "), strings.TrimSpace(string(out)), err)
	}
	return string(out), nil
}
