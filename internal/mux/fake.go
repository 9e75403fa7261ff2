package mux

import (
	"fmt"
	"strings"
	"sync"
)

// Fake is an in-memory [Multiplexer] for testing. It records all calls
// (spy) and simulates window state (fake). Safe for concurrent use.
//
// When broken is true (via [NewFailFake]), all operations fail and
// captures return nothing. Calls are still recorded.
type Fake struct {
	mu      sync.Mutex
	windows map[string][]Window // group → windows in creation order
	nextID  int
	Calls   []Call            // recorded calls in order
	broken  bool              // when true, all ops fail
	Panes   map[string]string // group:handle → canned capture output
	Sent    map[string]string // group:handle → concatenated sent text
}

// Call records a single method invocation on [Fake].
type Call struct {
	Method  string // method name (e.g. "NewWindow", "SendText")
	Group   string // multiplexer group argument
	Handle  string // window handle argument
	Name    string // only set for NewWindow calls
	WorkDir string // only set for NewWindow calls
	Text    string // only set for SendText calls
	Enter   bool   // only set for SendText calls
	Key     string // only set for SendKey calls
	Lines   int    // only set for CapturePane calls
}

// NewFake returns a ready-to-use [Fake].
func NewFake() *Fake {
	return &Fake{
		windows: make(map[string][]Window),
		Panes:   make(map[string]string),
		Sent:    make(map[string]string),
	}
}

// NewFailFake returns a [Fake] where every operation fails. Useful
// for testing multiplexer-outage paths.
func NewFailFake() *Fake {
	f := NewFake()
	f.broken = true
	return f
}

// SetPane sets the canned output returned by [Fake.CapturePane] for
// the given window. Used in test setup.
func (f *Fake) SetPane(group, handle, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Panes[group+":"+handle] = content
}

// AddWindow registers a pre-existing window without recording a call.
// Returns the allocated handle. Used in test setup.
func (f *Fake) AddWindow(group, name string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.addLocked(group, name)
}

func (f *Fake) addLocked(group, name string) string {
	f.nextID++
	h := fmt.Sprintf("@%d", f.nextID)
	f.windows[group] = append(f.windows[group], Window{Handle: h, Name: name})
	return h
}

func (f *Fake) findLocked(group, handle string) int {
	for i, w := range f.windows[group] {
		if w.Handle == handle {
			return i
		}
	}
	return -1
}

// NewWindow creates a fake window and returns its handle.
// When broken, always returns an error.
func (f *Fake) NewWindow(group, name, workDir string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Call{Method: "NewWindow", Group: group, Name: name, WorkDir: workDir})
	if f.broken {
		return "", fmt.Errorf("multiplexer unavailable")
	}
	return f.addLocked(group, name), nil
}

// KillWindow removes a fake window. Returns [ErrNotFound] if the
// handle is unknown.
func (f *Fake) KillWindow(group, handle string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Call{Method: "KillWindow", Group: group, Handle: handle})
	if f.broken {
		return fmt.Errorf("multiplexer unavailable")
	}
	i := f.findLocked(group, handle)
	if i < 0 {
		return ErrNotFound
	}
	f.windows[group] = append(f.windows[group][:i], f.windows[group][i+1:]...)
	return nil
}

// ListWindows returns the fake windows in the group.
func (f *Fake) ListWindows(group string) ([]Window, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Call{Method: "ListWindows", Group: group})
	if f.broken {
		return nil, fmt.Errorf("multiplexer unavailable")
	}
	out := make([]Window, len(f.windows[group]))
	copy(out, f.windows[group])
	return out, nil
}

// CapturePane returns the canned pane content, trimmed to the last
// maxLines lines. Returns ("", [ErrNotFound]) for unknown handles.
func (f *Fake) CapturePane(group, handle string, maxLines int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Call{Method: "CapturePane", Group: group, Handle: handle, Lines: maxLines})
	if f.broken {
		return "", fmt.Errorf("multiplexer unavailable")
	}
	if f.findLocked(group, handle) < 0 {
		return "", ErrNotFound
	}
	content := f.Panes[group+":"+handle]
	lines := strings.Split(content, "\n")
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return strings.Join(lines, "\n"), nil
}

// SendText records the text and appends it (plus "\n" when pressEnter)
// to the Sent transcript for the window.
func (f *Fake) SendText(group, handle, text string, pressEnter bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Call{Method: "SendText", Group: group, Handle: handle, Text: text, Enter: pressEnter})
	if f.broken {
		return fmt.Errorf("multiplexer unavailable")
	}
	if f.findLocked(group, handle) < 0 {
		return ErrNotFound
	}
	f.Sent[group+":"+handle] += text
	if pressEnter {
		f.Sent[group+":"+handle] += "\n"
	}
	return nil
}

// SendKey records the key press.
func (f *Fake) SendKey(group, handle, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Calls = append(f.Calls, Call{Method: "SendKey", Group: group, Handle: handle, Key: key})
	if f.broken {
		return fmt.Errorf("multiplexer unavailable")
	}
	if f.findLocked(group, handle) < 0 {
		return ErrNotFound
	}
	return nil
}
