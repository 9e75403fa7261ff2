// Package docgen generates JSON Schema and markdown reference docs
// from Overcode's Go structs and the live cobra command tree. UI and
// federation collaborators consume the schemas; the reference docs are
// committed under docs/ and kept current by the docsync test.
package docgen

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"
	"github.com/steveyegge/overcode/internal/config"
	"github.com/steveyegge/overcode/internal/state"
)

// modulePath maps source directories to import paths for doc-comment
// extraction.
const modulePath = "github.com/steveyegge/overcode"

// ModuleRoot finds the repo root by walking up from the current
// directory looking for go.mod. Returns the absolute path.
func ModuleRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("go.mod not found in any parent of %s", dir)
		}
		dir = parent
	}
}

// newReflector creates a jsonschema.Reflector that names fields by the
// given struct tag and pulls Go doc comments from the source tree as
// descriptions.
//
// AddGoComments requires the path parameter to be "." with the working
// directory at the module root, so filepath.Walk produces paths like
// "internal/config" that map to the right import path.
func newReflector(fieldTag string) (*jsonschema.Reflector, error) {
	root, err := ModuleRoot()
	if err != nil {
		return nil, err
	}

	orig, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting working directory: %w", err)
	}
	if err := os.Chdir(root); err != nil {
		return nil, fmt.Errorf("chdir to module root: %w", err)
	}
	defer func() { _ = os.Chdir(orig) }()

	r := &jsonschema.Reflector{
		FieldNameTag: fieldTag,
	}
	if err := r.AddGoComments(modulePath, "."); err != nil {
		return nil, fmt.Errorf("extracting Go comments: %w", err)
	}
	return r, nil
}

// GenerateConfigSchema produces a JSON Schema for overcode.toml. It
// reflects config.Config using TOML field names and doc comments as
// descriptions.
func GenerateConfigSchema() (*jsonschema.Schema, error) {
	r, err := newReflector("toml")
	if err != nil {
		return nil, err
	}
	s := r.Reflect(&config.Config{})
	s.Title = "Overcode Configuration"
	s.Description = "Schema for overcode.toml, the configuration file for an Overcode instance."
	return s, nil
}

// GenerateSessionSchema produces a JSON Schema for one entry in the
// sessions.json registry document.
func GenerateSessionSchema() (*jsonschema.Schema, error) {
	r, err := newReflector("json")
	if err != nil {
		return nil, err
	}
	s := r.Reflect(&state.Session{})
	s.Title = "Agent Session"
	s.Description = "Schema for a session record in sessions.json, the registry's on-disk state for one supervised agent."
	return s, nil
}

// GenerateMonitorSchema produces a JSON Schema for the per-tick fleet
// snapshot in monitor_daemon_state.json.
func GenerateMonitorSchema() (*jsonschema.Schema, error) {
	r, err := newReflector("json")
	if err != nil {
		return nil, err
	}
	s := r.Reflect(&state.MonitorState{})
	s.Title = "Monitor State"
	s.Description = "Schema for monitor_daemon_state.json, the fleet snapshot the Monitor Loop writes every tick."
	return s, nil
}
