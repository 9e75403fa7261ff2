package notify

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestNotifyRunsCommandWithMessage(t *testing.T) {
	var ran []string
	n := New(`notify-send "Overcode" "{{message}}"`, &bytes.Buffer{})
	n.run = func(_ context.Context, command string) error {
		ran = append(ran, command)
		return nil
	}

	if err := n.Notify([]string{"acme", "billing"}); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	if len(ran) != 1 {
		t.Fatalf("command ran %d times, want 1 (coalesced)", len(ran))
	}
	want := `notify-send "Overcode" "acme, billing are waiting for input"`
	if ran[0] != want {
		t.Errorf("ran %q, want %q", ran[0], want)
	}
}

func TestNotifySingleName(t *testing.T) {
	var ran string
	n := New(placeholder, &bytes.Buffer{})
	n.run = func(_ context.Context, command string) error {
		ran = command
		return nil
	}

	if err := n.Notify([]string{"acme"}); err != nil {
		t.Fatal(err)
	}
	if ran != "acme is waiting for input" {
		t.Errorf("message = %q", ran)
	}
}

func TestNotifyEmptyListIsNoOp(t *testing.T) {
	n := New("false", &bytes.Buffer{})
	n.run = func(_ context.Context, _ string) error {
		t.Error("command ran for empty list")
		return nil
	}
	if err := n.Notify(nil); err != nil {
		t.Errorf("Notify(nil) = %v", err)
	}
}

func TestNotifyFallsBackToBell(t *testing.T) {
	var out bytes.Buffer
	n := New("", &out)

	if err := n.Notify([]string{"acme"}); err != nil {
		t.Fatalf("Notify failed: %v", err)
	}
	got := out.String()
	if !strings.HasPrefix(got, "\a") {
		t.Errorf("output lacks bell character: %q", got)
	}
	if !strings.Contains(got, "acme is waiting for input") {
		t.Errorf("output lacks message: %q", got)
	}
}

func TestNotifyCommandFailure(t *testing.T) {
	n := New("exit 1", &bytes.Buffer{})
	n.run = func(_ context.Context, _ string) error {
		return errors.New("exit status 1")
	}
	if err := n.Notify([]string{"acme"}); err == nil {
		t.Error("Notify swallowed command failure")
	}
}
