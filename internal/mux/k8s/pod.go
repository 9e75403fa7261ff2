package k8s

import (
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// buildPod creates the manifest for one agent window. The container
// starts a detached tmux session and idles; the agent command arrives
// later via SendText, exactly as it would in a local tmux window.
func buildPod(m *Mux, group, name, workDir string) *corev1.Pod {
	podName := podNameFor(group, name)
	if workDir == "" {
		workDir = "/workspace"
	}

	// Credentials for the agent CLI arrive via an optional secret;
	// missing secrets leave the mount empty rather than blocking.
	entry := fmt.Sprintf(
		`mkdir -p $HOME/.claude && cp -rL /tmp/agent-secret/. $HOME/.claude/ 2>/dev/null; mkdir -p %s && cd %s && tmux new-session -d -s %s && sleep infinity`,
		workDir, workDir, tmuxSession,
	)

	resources := corev1.ResourceRequirements{
		Requests: corev1.ResourceList{
			corev1.ResourceCPU:    resource.MustParse(m.cpuRequest),
			corev1.ResourceMemory: resource.MustParse(m.memRequest),
		},
		Limits: corev1.ResourceList{
			corev1.ResourceCPU:    resource.MustParse(m.cpuLimit),
			corev1.ResourceMemory: resource.MustParse(m.memLimit),
		},
	}

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      podName,
			Namespace: m.namespace,
			Labels: map[string]string{
				"app":       "oc-agent",
				"oc-group":  SanitizeLabel(group),
				"oc-window": SanitizeLabel(name),
			},
			Annotations: map[string]string{
				"oc-window-name": name,
			},
		},
		Spec: corev1.PodSpec{
			RestartPolicy: corev1.RestartPolicyNever,
			Containers: []corev1.Container{{
				Name:            "agent",
				Image:           m.image,
				ImagePullPolicy: corev1.PullIfNotPresent,
				WorkingDir:      workDir,
				Command:         []string{"/bin/sh", "-c"},
				Args:            []string{entry},
				Env: []corev1.EnvVar{
					{Name: "OC_WINDOW", Value: name},
					{Name: "OC_GROUP", Value: group},
					{Name: "OC_WORKDIR", Value: workDir},
				},
				Stdin:        true,
				TTY:          true,
				Resources:    resources,
				VolumeMounts: []corev1.VolumeMount{{Name: "agent-config", MountPath: "/tmp/agent-secret", ReadOnly: true}},
			}},
			Volumes: []corev1.Volume{{
				Name: "agent-config",
				VolumeSource: corev1.VolumeSource{
					Secret: &corev1.SecretVolumeSource{
						SecretName: "agent-credentials",
						Optional:   boolPtr(true),
					},
				},
			}},
		},
	}
}

// podNameFor derives the pod name (and window handle) from group and
// window name.
func podNameFor(group, name string) string {
	return SanitizeName("oc-" + group + "-" + name)
}

func boolPtr(b bool) *bool { return &b }
