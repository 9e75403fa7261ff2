package history

import (
	"bytes"
	"encoding/csv"
	"io"
	"strings"
	"time"

	"github.com/steveyegge/overcode/internal/fsys"
)

// Presence is the coarse user-presence signal an external sensor may
// report. Overcode only ever reads it.
type Presence string

const (
	PresenceUnknown       Presence = "unknown"
	PresenceLockedOrSleep Presence = "locked_or_sleep"
	PresenceInactive      Presence = "inactive"
	PresenceActive        Presence = "active"
)

// presenceStates maps the sensor's numeric state column.
var presenceStates = map[string]Presence{
	"1": PresenceLockedOrSleep,
	"2": PresenceInactive,
	"3": PresenceActive,
}

// ReadPresence returns the freshest presence row's state. A missing
// file, no parseable row, or a freshest row older than twice the tick
// interval all report unknown.
func ReadPresence(fs fsys.FS, path string, now time.Time, tick time.Duration) Presence {
	data, err := fs.ReadFile(path)
	if err != nil {
		return PresenceUnknown
	}
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var (
		freshest time.Time
		latest   Presence
	)
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil || len(rec) < 2 {
			continue
		}
		ts, err := time.Parse(time.RFC3339, strings.TrimSpace(rec[0]))
		if err != nil {
			continue
		}
		if ts.After(freshest) {
			freshest = ts
			latest = presenceStates[strings.TrimSpace(rec[1])]
			if latest == "" {
				latest = PresenceUnknown
			}
		}
	}
	if latest == "" || now.Sub(freshest) > 2*tick {
		return PresenceUnknown
	}
	return latest
}
