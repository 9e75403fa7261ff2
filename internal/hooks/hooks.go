// Package hooks manages the agent CLI settings entries that route
// lifecycle events to `oc hook`. Entries are merged into the existing
// settings.json rather than replacing it, so user-authored keys and
// unrelated hooks survive install and uninstall. The canonical entry
// shape is embedded at build time.
package hooks

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/steveyegge/overcode/internal/fsys"
	"github.com/steveyegge/overcode/internal/hookstate"
)

//go:embed config/*
var configFS embed.FS

// Command is the hook command written into settings entries. The agent
// CLI runs it inside the window, whose environment already carries
// SESSION_NAME and MULTIPLEXER_GROUP from launch.
const Command = "oc hook"

// Events lists the lifecycle events the receiver consumes, in the
// order install reports them.
var Events = []string{
	hookstate.EventUserPromptSubmit,
	hookstate.EventPostToolUse,
	hookstate.EventStop,
	hookstate.EventPermissionRequest,
	hookstate.EventSessionEnd,
}

// SettingsPath returns the agent settings file under dir. Pass a home
// directory for user scope or a project root for project scope.
func SettingsPath(dir string) string {
	return filepath.Join(dir, ".claude", "settings.json")
}

// Install merges the embedded hook entries into the settings file at
// path, creating the file and parent directory if missing. Returns the
// events that were newly wired. Events already routed to the hook
// command are left untouched, so repeated installs are no-ops.
func Install(fs fsys.FS, path string) ([]string, error) {
	doc, err := readSettings(fs, path)
	if errors.Is(err, os.ErrNotExist) {
		doc = map[string]any{}
	} else if err != nil {
		return nil, err
	}
	tmpl, err := template()
	if err != nil {
		return nil, err
	}

	hooks := asObject(doc["hooks"])
	var added []string
	for _, event := range Events {
		groups, _ := hooks[event].([]any)
		if hasCommand(groups) {
			continue
		}
		hooks[event] = append(groups, tmpl[event]...)
		added = append(added, event)
	}
	if len(added) == 0 {
		return nil, nil
	}
	doc["hooks"] = hooks
	if err := writeSettings(fs, path, doc); err != nil {
		return nil, err
	}
	return added, nil
}

// Uninstall removes every hook entry whose command matches ours from
// the settings file at path, dropping matcher groups and event keys
// left empty. Returns the events that were unwired. A missing file is
// not an error.
func Uninstall(fs fsys.FS, path string) ([]string, error) {
	doc, err := readSettings(fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	hooks := asObject(doc["hooks"])
	var removed []string
	for _, event := range Events {
		groups, _ := hooks[event].([]any)
		kept, changed := stripCommand(groups)
		if !changed {
			continue
		}
		removed = append(removed, event)
		if len(kept) == 0 {
			delete(hooks, event)
		} else {
			hooks[event] = kept
		}
	}
	if len(removed) == 0 {
		return nil, nil
	}
	if len(hooks) == 0 {
		delete(doc, "hooks")
	} else {
		doc["hooks"] = hooks
	}
	if err := writeSettings(fs, path, doc); err != nil {
		return nil, err
	}
	return removed, nil
}

// Status reports, for each event, whether the settings file at path
// routes it to the hook command. A missing file means nothing is
// installed.
func Status(fs fsys.FS, path string) (map[string]bool, error) {
	installed := make(map[string]bool, len(Events))
	doc, err := readSettings(fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return installed, nil
		}
		return nil, err
	}
	hooks := asObject(doc["hooks"])
	for _, event := range Events {
		groups, _ := hooks[event].([]any)
		installed[event] = hasCommand(groups)
	}
	return installed, nil
}

// template returns the embedded per-event matcher groups as generic
// JSON values, ready to splice into a settings document.
func template() (map[string][]any, error) {
	data, err := configFS.ReadFile("config/claude.json")
	if err != nil {
		return nil, fmt.Errorf("reading embedded template: %w", err)
	}
	var doc struct {
		Hooks map[string][]any `json:"hooks"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing embedded template: %w", err)
	}
	return doc.Hooks, nil
}

// readSettings parses the settings file into a generic document,
// preserving numbers verbatim. Not-exist errors pass through unwrapped
// so callers can branch on them.
func readSettings(fs fsys.FS, path string) (map[string]any, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	doc := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return doc, nil
}

// writeSettings re-encodes the document with stable two-space
// indentation and no HTML escaping.
func writeSettings(fs fsys.FS, path string, doc map[string]any) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := fs.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

// asObject coerces a decoded JSON value to an object, returning a
// fresh one when the value is missing or of another type.
func asObject(v any) map[string]any {
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// hasCommand reports whether any matcher group in groups carries a
// hook entry with our command.
func hasCommand(groups []any) bool {
	for _, g := range groups {
		group, ok := g.(map[string]any)
		if !ok {
			continue
		}
		entries, _ := group["hooks"].([]any)
		for _, e := range entries {
			entry, ok := e.(map[string]any)
			if !ok {
				continue
			}
			if cmd, _ := entry["command"].(string); cmd == Command {
				return true
			}
		}
	}
	return false
}

// stripCommand filters our hook entries out of groups. Matcher groups
// left with no entries are dropped; groups we did not touch are kept
// as decoded. Reports whether anything changed.
func stripCommand(groups []any) ([]any, bool) {
	changed := false
	var kept []any
	for _, g := range groups {
		group, ok := g.(map[string]any)
		if !ok {
			kept = append(kept, g)
			continue
		}
		entries, _ := group["hooks"].([]any)
		keptEntries := make([]any, 0, len(entries))
		for _, e := range entries {
			if entry, ok := e.(map[string]any); ok {
				if cmd, _ := entry["command"].(string); cmd == Command {
					changed = true
					continue
				}
			}
			keptEntries = append(keptEntries, e)
		}
		if len(keptEntries) != len(entries) {
			if len(keptEntries) == 0 {
				continue
			}
			group["hooks"] = keptEntries
		}
		kept = append(kept, group)
	}
	return kept, changed
}
