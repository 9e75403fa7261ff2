// Package history owns the append-only status transition log and the
// read side of the externally-written presence signal. Both are CSV
// files under the state directory; readers are deliberately tolerant
// because other processes (and humans) touch these files.
package history

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/steveyegge/overcode/internal/fsys"
	"github.com/steveyegge/overcode/internal/state"
)

// header is the first line of a fresh status history file.
const header = "timestamp,agent,status,activity"

// maxActivityLen bounds the activity column on write.
const maxActivityLen = 100

// Row is one status observation for one agent.
type Row struct {
	Timestamp time.Time
	Agent     string
	Status    state.Status
	Activity  string
}

// Log appends to and reads one group's status_history.csv.
type Log struct {
	fs   fsys.FS
	path string
}

// NewLog returns a Log backed by the CSV at path.
func NewLog(fs fsys.FS, path string) *Log {
	return &Log{fs: fs, path: path}
}

// Append writes one CSV row per entry, creating the file with its
// header on first use. Activities are truncated to 100 characters.
func (l *Log) Append(rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	var buf bytes.Buffer
	if _, err := l.fs.Stat(l.path); err != nil {
		buf.WriteString(header + "\n")
	}
	w := csv.NewWriter(&buf)
	for _, r := range rows {
		rec := []string{
			r.Timestamp.UTC().Format(time.RFC3339),
			r.Agent,
			string(r.Status),
			truncateActivity(r.Activity),
		}
		if err := w.Write(rec); err != nil {
			return fmt.Errorf("encoding history row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("encoding history rows: %w", err)
	}
	if err := l.fs.AppendFile(l.path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("appending history: %w", err)
	}
	return nil
}

// Since returns the rows at or after cutoff, oldest first. Rows with a
// malformed timestamp are skipped silently; a missing file yields an
// empty slice.
func (l *Log) Since(cutoff time.Time) ([]Row, error) {
	all, err := l.readAll()
	if err != nil {
		return nil, err
	}
	var out []Row
	for _, r := range all {
		if !r.Timestamp.Before(cutoff) {
			out = append(out, r)
		}
	}
	return out, nil
}

// ClearOlderThan atomically rewrites the log keeping only rows newer
// than now minus the given horizon. Returns how many rows were
// dropped. Calling it twice with the same arguments is a no-op the
// second time.
func (l *Log) ClearOlderThan(hours float64, now time.Time) (int, error) {
	cutoff := now.Add(-time.Duration(hours * float64(time.Hour)))

	all, err := l.readAll()
	if err != nil {
		return 0, err
	}
	if len(all) == 0 {
		return 0, nil
	}

	var kept []Row
	for _, r := range all {
		if !r.Timestamp.Before(cutoff) {
			kept = append(kept, r)
		}
	}
	dropped := len(all) - len(kept)
	if dropped == 0 {
		return 0, nil
	}

	var buf bytes.Buffer
	buf.WriteString(header + "\n")
	w := csv.NewWriter(&buf)
	for _, r := range kept {
		rec := []string{
			r.Timestamp.UTC().Format(time.RFC3339),
			r.Agent,
			string(r.Status),
			r.Activity,
		}
		if err := w.Write(rec); err != nil {
			return 0, fmt.Errorf("encoding history row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, fmt.Errorf("encoding history rows: %w", err)
	}

	tmp := l.path + ".tmp"
	if err := l.fs.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return 0, fmt.Errorf("writing %s: %w", tmp, err)
	}
	if err := l.fs.Rename(tmp, l.path); err != nil {
		return 0, fmt.Errorf("replacing %s: %w", l.path, err)
	}
	return dropped, nil
}

// readAll parses every well-formed row in file order.
func (l *Log) readAll() ([]Row, error) {
	data, err := l.fs.ReadFile(l.path)
	if err != nil {
		return nil, nil // missing log reads as empty
	}
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var out []Row
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // malformed line, keep reading
		}
		if len(rec) < 3 {
			continue
		}
		ts, err := time.Parse(time.RFC3339, strings.TrimSpace(rec[0]))
		if err != nil {
			continue // header or garbage timestamp
		}
		row := Row{Timestamp: ts, Agent: rec[1], Status: state.Status(rec[2])}
		if len(rec) > 3 {
			row.Activity = rec[3]
		}
		out = append(out, row)
	}
	return out, nil
}

// truncateActivity bounds the activity column, cutting on a rune
// boundary so multi-byte text never splits mid-character.
func truncateActivity(s string) string {
	runes := []rune(s)
	if len(runes) <= maxActivityLen {
		return s
	}
	return string(runes[:maxActivityLen])
}
