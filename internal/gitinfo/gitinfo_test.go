package gitinfo

import (
	"errors"
	"testing"
)

// scriptGit returns canned output per git subcommand.
func scriptGit(outputs map[string]string, errs map[string]error) runner {
	return func(dir string, args ...string) (string, error) {
		key := args[0]
		if len(args) > 1 && args[0] == "rev-parse" {
			key = args[1]
		}
		if err, ok := errs[key]; ok {
			return "", err
		}
		return outputs[key], nil
	}
}

func TestDetectUsesOriginURLTail(t *testing.T) {
	run := scriptGit(map[string]string{
		"--abbrev-ref": "feature/retry\n",
		"remote":       "git@github.com:acme/billing.git\n",
	}, nil)

	info := detect("/work/billing", run)
	if info.Repo != "billing" {
		t.Errorf("Repo = %q, want %q", info.Repo, "billing")
	}
	if info.Branch != "feature/retry" {
		t.Errorf("Branch = %q, want %q", info.Branch, "feature/retry")
	}
}

func TestDetectFallsBackToToplevelBase(t *testing.T) {
	run := scriptGit(map[string]string{
		"--abbrev-ref":    "main\n",
		"--show-toplevel": "/home/dev/scratchpad\n",
	}, map[string]error{
		"remote": errors.New("fatal: no such remote 'origin'"),
	})

	info := detect("/home/dev/scratchpad/sub", run)
	if info.Repo != "scratchpad" {
		t.Errorf("Repo = %q, want %q", info.Repo, "scratchpad")
	}
}

func TestDetectOutsideRepoIsEmpty(t *testing.T) {
	run := scriptGit(nil, map[string]error{
		"--abbrev-ref": errors.New("fatal: not a git repository"),
	})

	info := detect("/tmp", run)
	if info != (Info{}) {
		t.Errorf("Detect outside repo = %+v, want zero", info)
	}
}

func TestDetectEmptyDir(t *testing.T) {
	called := false
	run := func(dir string, args ...string) (string, error) {
		called = true
		return "", nil
	}
	if info := detect("", run); info != (Info{}) {
		t.Errorf("Detect(\"\") = %+v, want zero", info)
	}
	if called {
		t.Error("git invoked for empty directory")
	}
}

func TestRepoName(t *testing.T) {
	tests := []struct{ url, want string }{
		{"git@github.com:acme/billing.git", "billing"},
		{"https://github.com/acme/billing.git", "billing"},
		{"https://github.com/acme/billing", "billing"},
		{"https://github.com/acme/billing/", "billing"},
		{"ssh://git@host/team/tools.git", "tools"},
		{"local-bare", "local-bare"},
	}
	for _, tt := range tests {
		if got := repoName(tt.url); got != tt.want {
			t.Errorf("repoName(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}
