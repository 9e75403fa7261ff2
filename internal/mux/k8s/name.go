// Package k8s implements a pod-per-window multiplexer backend using
// client-go.
//
// Each agent window is a Kubernetes pod running a single-window tmux
// server; the pod name doubles as the window handle. Groups map to a
// label so that one cluster namespace can host several fleets side by
// side. Pane I/O goes through exec-in-pod tmux calls over reused
// HTTP/2 connections.
package k8s

import (
	"strings"
	"unicode"
)

// tmuxSession is the tmux session name inside each pod (one per pod).
const tmuxSession = "main"

// SanitizeName converts a window name to a valid K8s resource name.
// K8s names: lowercase, alphanumeric + '-', max 63 chars, must
// start/end with alphanumeric.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	s := b.String()

	s = strings.TrimLeft(s, "-")
	if len(s) > 63 {
		s = s[:63]
	}
	s = strings.TrimRight(s, "-")

	return s
}

// SanitizeLabel converts a value to a valid K8s label value.
// Label values: alphanumeric + '-', '_', '.', max 63 chars, must
// start/end with alphanumeric. Empty returned as "unknown".
func SanitizeLabel(value string) string {
	var b strings.Builder
	for _, r := range value {
		if isLabelChar(r) {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	s := b.String()

	s = strings.TrimLeftFunc(s, func(r rune) bool {
		return !isAlphanumeric(r)
	})
	if len(s) > 63 {
		s = s[:63]
	}
	s = strings.TrimRightFunc(s, func(r rune) bool {
		return !isAlphanumeric(r)
	})

	if s == "" {
		return "unknown"
	}
	return s
}

func isAlphanumeric(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func isLabelChar(r rune) bool {
	return isAlphanumeric(r) || r == '-' || r == '_' || r == '.'
}
