package k8s

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"

	"github.com/steveyegge/overcode/internal/mux"
)

// Compile-time interface check.
var _ mux.Multiplexer = (*Mux)(nil)

// startTimeout bounds pod scheduling and tmux readiness for NewWindow.
// Unlike the per-op mux.OpTimeout, window creation legitimately waits
// for the image pull and container start.
const startTimeout = 120 * time.Second

// Mux is a [mux.Multiplexer] that hosts each agent window in its own
// Kubernetes pod. The window handle is the pod name.
type Mux struct {
	ops        k8sOps
	namespace  string
	image      string
	k8sContext string
	cpuRequest string
	memRequest string
	cpuLimit   string
	memLimit   string
	stderr     io.Writer // warning output (default os.Stderr)
}

// New creates a pod-backed multiplexer. namespace and image come from
// configuration; kubeContext overrides the current kubectl context.
//
// Uses rest.InClusterConfig() when running in a pod, falls back to
// clientcmd.BuildConfigFromFlags() for local development.
func New(namespace, image, kubeContext string) (*Mux, error) {
	if namespace == "" {
		namespace = "overcode"
	}

	restConfig, err := buildRESTConfig(kubeContext)
	if err != nil {
		return nil, fmt.Errorf("building K8s config: %w", err)
	}
	clientset, err := kubernetes.NewForConfig(restConfig)
	if err != nil {
		return nil, fmt.Errorf("creating K8s clientset: %w", err)
	}

	return &Mux{
		ops: &realK8sOps{
			clientset:  clientset,
			restConfig: restConfig,
			namespace:  namespace,
		},
		namespace:  namespace,
		image:      image,
		k8sContext: kubeContext,
		cpuRequest: envOrDefault("OC_K8S_CPU_REQUEST", "500m"),
		memRequest: envOrDefault("OC_K8S_MEM_REQUEST", "1Gi"),
		cpuLimit:   envOrDefault("OC_K8S_CPU_LIMIT", "2"),
		memLimit:   envOrDefault("OC_K8S_MEM_LIMIT", "4Gi"),
		stderr:     os.Stderr,
	}, nil
}

// newMuxWithOps creates a Mux with a custom k8sOps (for testing).
func newMuxWithOps(ops k8sOps) *Mux {
	return &Mux{
		ops:        ops,
		namespace:  "test-ns",
		image:      "test-image:latest",
		cpuRequest: "500m",
		memRequest: "1Gi",
		cpuLimit:   "2",
		memLimit:   "4Gi",
		stderr:     io.Discard,
	}
}

// NewWindow creates a pod for the window and waits for its tmux
// session to come up. Returns the pod name as the window handle.
func (m *Mux) NewWindow(group, name, workDir string) (string, error) {
	if m.image == "" {
		return "", fmt.Errorf("creating window %q: multiplexer image is required", name)
	}

	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()

	podName := podNameFor(group, name)

	// A leftover pod with a dead tmux is stale; replace it.
	if existing, err := m.ops.getPod(ctx, podName); err == nil {
		if existing.Status.Phase == corev1.PodRunning {
			if _, tmuxErr := m.ops.execInPod(ctx, podName, "agent",
				[]string{"tmux", "has-session", "-t", tmuxSession}, nil); tmuxErr == nil {
				return "", fmt.Errorf("window %q already exists (pod: %s)", name, podName)
			}
		}
		_ = m.ops.deletePod(ctx, podName, 5)
		_ = waitForDeletion(ctx, m.ops, podName, 30*time.Second)
	}

	pod := buildPod(m, group, name, workDir)
	if _, err := m.ops.createPod(ctx, pod); err != nil {
		return "", fmt.Errorf("creating pod for window %q: %w", name, err)
	}
	if err := waitForPodRunning(ctx, m.ops, podName, startTimeout); err != nil {
		return "", fmt.Errorf("waiting for pod %q: %w", podName, err)
	}
	if err := waitForTmux(ctx, m.ops, podName, 60*time.Second); err != nil {
		return "", fmt.Errorf("waiting for tmux in pod %q: %w", podName, err)
	}

	// Pane logging aids postmortems on vanished agents.
	_, _ = m.ops.execInPod(ctx, podName, "agent",
		[]string{"tmux", "pipe-pane", "-t", tmuxSession, "-o", "cat >> /tmp/agent-output.log"}, nil)

	return podName, nil
}

// KillWindow deletes the window's pod. Missing pods and timeouts
// report [mux.ErrNotFound].
func (m *Mux) KillWindow(_ string, handle string) error {
	ctx, cancel := context.WithTimeout(context.Background(), mux.OpTimeout)
	defer cancel()

	if err := m.ops.deletePod(ctx, handle, 5); err != nil {
		return mux.ErrNotFound
	}
	return nil
}

// ListWindows lists the group's live pods as windows.
func (m *Mux) ListWindows(group string) ([]mux.Window, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mux.OpTimeout)
	defer cancel()

	selector := "app=oc-agent,oc-group=" + SanitizeLabel(group)
	pods, err := m.ops.listPods(ctx, selector, "status.phase=Running")
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, fmt.Errorf("listing windows in %s: %w", group, err)
	}

	var windows []mux.Window
	for i := range pods {
		pod := &pods[i]
		name := pod.Annotations["oc-window-name"]
		if name == "" {
			name = pod.Labels["oc-window"]
		}
		windows = append(windows, mux.Window{Handle: pod.Name, Name: name})
	}
	return windows, nil
}

// CapturePane scrapes the pod's tmux pane. A missing pod, a dead tmux,
// or a timeout all yield ("", mux.ErrNotFound).
func (m *Mux) CapturePane(_ string, handle string, maxLines int) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), mux.OpTimeout)
	defer cancel()

	cmd := []string{"tmux", "capture-pane", "-t", tmuxSession, "-p"}
	if maxLines > 0 {
		cmd = append(cmd, "-S", "-"+strconv.Itoa(maxLines))
	}
	out, err := m.ops.execInPod(ctx, handle, "agent", cmd, nil)
	if err != nil {
		return "", mux.ErrNotFound
	}
	return mux.TailLines(mux.StripANSI(out), maxLines), nil
}

// SendText types text into the pod's tmux session with send-keys -l,
// preserving embedded newlines, then optionally presses Enter.
func (m *Mux) SendText(_ string, handle, text string, pressEnter bool) error {
	ctx, cancel := context.WithTimeout(context.Background(), mux.OpTimeout)
	defer cancel()

	if _, err := m.ops.execInPod(ctx, handle, "agent",
		[]string{"tmux", "send-keys", "-t", tmuxSession, "-l", "--", text}, nil); err != nil {
		return mux.ErrNotFound
	}
	if !pressEnter {
		return nil
	}
	if _, err := m.ops.execInPod(ctx, handle, "agent",
		[]string{"tmux", "send-keys", "-t", tmuxSession, "Enter"}, nil); err != nil {
		return mux.ErrNotFound
	}
	return nil
}

// SendKey sends one named tmux key to the pod's session.
func (m *Mux) SendKey(_ string, handle, key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), mux.OpTimeout)
	defer cancel()

	if _, err := m.ops.execInPod(ctx, handle, "agent",
		[]string{"tmux", "send-keys", "-t", tmuxSession, key}, nil); err != nil {
		return mux.ErrNotFound
	}
	return nil
}

// waitForDeletion waits for a pod to be deleted.
func waitForDeletion(ctx context.Context, ops k8sOps, name string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := ops.getPod(ctx, name); err != nil {
			return nil // gone
		}
		time.Sleep(time.Second)
	}
	return fmt.Errorf("pod %s not deleted after %s", name, timeout)
}

// waitForPodRunning waits for the pod to reach Running phase.
func waitForPodRunning(ctx context.Context, ops k8sOps, name string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		pod, err := ops.getPod(ctx, name)
		if err != nil {
			time.Sleep(time.Second)
			continue
		}
		switch pod.Status.Phase {
		case corev1.PodRunning:
			return nil
		case corev1.PodFailed:
			return fmt.Errorf("pod %s failed", name)
		}
		time.Sleep(time.Second)
	}
	return fmt.Errorf("pod %s not running after %s", name, timeout)
}

// waitForTmux waits for the tmux session to be available inside the pod.
func waitForTmux(ctx context.Context, ops k8sOps, name string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := ops.execInPod(ctx, name, "agent",
			[]string{"tmux", "has-session", "-t", tmuxSession}, nil); err == nil {
			return nil
		}
		time.Sleep(time.Second)
	}
	return fmt.Errorf("tmux session not ready in pod %s after %s", name, timeout)
}

func buildRESTConfig(kubeContext string) (*rest.Config, error) {
	// Try in-cluster first.
	cfg, err := rest.InClusterConfig()
	if err == nil {
		return cfg, nil
	}
	// Fall back to kubeconfig.
	rules := clientcmd.NewDefaultClientConfigLoadingRules()
	overrides := &clientcmd.ConfigOverrides{}
	if kubeContext != "" {
		overrides.CurrentContext = kubeContext
	}
	return clientcmd.NewNonInteractiveDeferredLoadingClientConfig(rules, overrides).ClientConfig()
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
