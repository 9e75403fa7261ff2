package k8s

import (
	"errors"
	"fmt"
	"testing"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	"github.com/steveyegge/overcode/internal/mux"
)

// addRunningPod seeds the fake with a running window pod.
func addRunningPod(fake *fakeK8sOps, group, window string) string {
	podName := podNameFor(group, window)
	fake.pods[podName] = &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name: podName,
			Labels: map[string]string{
				"app":       "oc-agent",
				"oc-group":  SanitizeLabel(group),
				"oc-window": SanitizeLabel(window),
			},
			Annotations: map[string]string{"oc-window-name": window},
		},
		Status: corev1.PodStatus{Phase: corev1.PodRunning},
	}
	return podName
}

func TestNewWindowCreatesPodAndReturnsHandle(t *testing.T) {
	fake := newFakeK8sOps()
	m := newMuxWithOps(fake)

	handle, err := m.NewWindow("agents", "acme", "/workspace/acme")
	if err != nil {
		t.Fatalf("NewWindow: %v", err)
	}
	if handle != podNameFor("agents", "acme") {
		t.Errorf("handle = %q, want pod name", handle)
	}
	if _, ok := fake.pods[handle]; !ok {
		t.Error("pod was not created")
	}
}

func TestNewWindowRejectsDuplicateLiveWindow(t *testing.T) {
	fake := newFakeK8sOps()
	m := newMuxWithOps(fake)

	podName := addRunningPod(fake, "agents", "acme")
	fake.setExecResult(podName, []string{"tmux", "has-session", "-t", tmuxSession}, "", nil)

	if _, err := m.NewWindow("agents", "acme", "/workspace"); err == nil {
		t.Error("NewWindow succeeded for existing live window")
	}
}

func TestNewWindowReplacesStalePod(t *testing.T) {
	fake := newFakeK8sOps()
	m := newMuxWithOps(fake)

	// Existing pod whose tmux has died.
	podName := addRunningPod(fake, "agents", "acme")
	fake.setExecResult(podName, []string{"tmux", "has-session", "-t", tmuxSession},
		"", fmt.Errorf("no session: main"))

	handle, err := m.NewWindow("agents", "acme", "/workspace")
	if err != nil {
		t.Fatalf("NewWindow over stale pod: %v", err)
	}
	if handle != podName {
		t.Errorf("handle = %q, want %q", handle, podName)
	}

	// Delete then create must both have happened.
	var deleted, created bool
	for _, c := range fake.calls {
		if c.method == "deletePod" && c.pod == podName {
			deleted = true
		}
		if c.method == "createPod" && c.pod == podName {
			created = true
		}
	}
	if !deleted || !created {
		t.Errorf("stale pod not replaced: deleted=%v created=%v", deleted, created)
	}

	// The fresh pod's tmux check is keyed the same; clear the error so
	// the window registers as live.
	fake.setExecResult(podName, []string{"tmux", "has-session", "-t", tmuxSession}, "", nil)
}

func TestKillWindowDeletesPod(t *testing.T) {
	fake := newFakeK8sOps()
	m := newMuxWithOps(fake)

	podName := addRunningPod(fake, "agents", "acme")
	if err := m.KillWindow("agents", podName); err != nil {
		t.Fatalf("KillWindow: %v", err)
	}
	if _, exists := fake.pods[podName]; exists {
		t.Error("pod still exists after KillWindow")
	}

	if err := m.KillWindow("agents", podName); !errors.Is(err, mux.ErrNotFound) {
		t.Errorf("second KillWindow = %v, want ErrNotFound", err)
	}
}

func TestListWindowsFiltersByGroup(t *testing.T) {
	fake := newFakeK8sOps()
	m := newMuxWithOps(fake)

	addRunningPod(fake, "agents", "acme")
	addRunningPod(fake, "agents", "beta")
	addRunningPod(fake, "other", "gamma")

	windows, err := m.ListWindows("agents")
	if err != nil {
		t.Fatalf("ListWindows: %v", err)
	}
	if len(windows) != 2 {
		t.Fatalf("got %d windows, want 2: %+v", len(windows), windows)
	}
	for _, w := range windows {
		if w.Name != "acme" && w.Name != "beta" {
			t.Errorf("unexpected window %+v", w)
		}
	}
}

func TestCapturePaneScrapesTmux(t *testing.T) {
	fake := newFakeK8sOps()
	m := newMuxWithOps(fake)

	podName := addRunningPod(fake, "agents", "acme")
	fake.setExecResult(podName,
		[]string{"tmux", "capture-pane", "-t", tmuxSession, "-p", "-S", "-50"},
		"\x1b[1mworking\x1b[0m on it\n> \n", nil)

	out, err := m.CapturePane("agents", podName, 50)
	if err != nil {
		t.Fatalf("CapturePane: %v", err)
	}
	if out != "working on it\n> " {
		t.Errorf("capture = %q", out)
	}
}

func TestCapturePaneMissingPod(t *testing.T) {
	fake := newFakeK8sOps()
	m := newMuxWithOps(fake)

	fake.setExecResult("nope",
		[]string{"tmux", "capture-pane", "-t", tmuxSession, "-p", "-S", "-50"},
		"", fmt.Errorf("pod not found"))

	if _, err := m.CapturePane("agents", "nope", 50); !errors.Is(err, mux.ErrNotFound) {
		t.Errorf("CapturePane = %v, want ErrNotFound", err)
	}
}

func TestSendTextUsesLiteralKeys(t *testing.T) {
	fake := newFakeK8sOps()
	m := newMuxWithOps(fake)

	podName := addRunningPod(fake, "agents", "acme")
	text := "first line\nsecond line"
	if err := m.SendText("agents", podName, text, true); err != nil {
		t.Fatalf("SendText: %v", err)
	}

	var sawLiteral, sawEnter bool
	for _, c := range fake.calls {
		if c.method != "execInPod" || len(c.cmd) < 2 || c.cmd[1] != "send-keys" {
			continue
		}
		if c.cmd[len(c.cmd)-1] == text {
			sawLiteral = true
		}
		if c.cmd[len(c.cmd)-1] == "Enter" {
			sawEnter = true
		}
	}
	if !sawLiteral {
		t.Error("multiline text was split or not sent literally")
	}
	if !sawEnter {
		t.Error("Enter was not sent")
	}
}

func TestSendKeyNamedKey(t *testing.T) {
	fake := newFakeK8sOps()
	m := newMuxWithOps(fake)

	podName := addRunningPod(fake, "agents", "acme")
	if err := m.SendKey("agents", podName, "C-c"); err != nil {
		t.Fatalf("SendKey: %v", err)
	}

	last := fake.calls[len(fake.calls)-1]
	if last.cmd[len(last.cmd)-1] != "C-c" {
		t.Errorf("cmd = %v, want trailing C-c", last.cmd)
	}
}
