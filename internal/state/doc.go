package state

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/steveyegge/overcode/internal/fsys"
)

// SaveJSON writes v to path atomically: marshal with indentation and a
// trailing newline, write to a sibling temp file, then rename over the
// destination. Readers therefore see either the old document or the new
// one, never a partial write.
func SaveJSON(fs fsys.FS, path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling %s: %w", path, err)
	}
	data = append(data, '\n')
	tmp := path + ".tmp"
	if err := fs.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := fs.Rename(tmp, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// LoadJSON reads the document at path into out. A missing file is
// returned as-is (callers check os.IsNotExist and treat it as empty
// state); malformed content is an error for the caller to log and
// treat as absent data.
func LoadJSON(fs fsys.FS, path string, out any) error {
	data, err := fs.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return err
		}
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}
