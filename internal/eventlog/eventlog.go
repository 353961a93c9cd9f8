// Package eventlog persists omnimem's append-only event log.
//
// Events land in monthly JSONL files (events/events-YYYY-MM.jsonl, bucketed
// by UTC event time). The log is the single durable ordering authority:
// every state change appends here first, and replaying all files in name
// order reproduces the indexed view exactly. Lines are never rewritten or
// deleted, which keeps the files merge-friendly under git sync.
package eventlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"omnimem/internal/config"
	"omnimem/internal/logging"
	"omnimem/internal/types"
)

// maxLineBytes bounds one event line during scans. Payload extras stay
// small; the bound exists so a corrupt line cannot wedge the scanner.
const maxLineBytes = 4 * 1024 * 1024

// Log is the append-only event log rooted at one memory home.
type Log struct {
	paths config.Paths
	mu    sync.Mutex
}

// Open returns a Log for the given home layout. The events directory is
// created lazily on first append.
func Open(paths config.Paths) *Log {
	return &Log{paths: paths}
}

// NewEventID mints an event identifier: "evt-" plus 32 hex characters.
func NewEventID() string {
	return "evt-" + strings.ReplaceAll(uuid.New().String(), "-", "")
}

// NewEvent assembles an event line with a fresh id.
func NewEvent(t types.EventType, at time.Time, memoryID string, payload types.EventPayload) types.Event {
	return types.Event{
		EventID:   NewEventID(),
		EventType: t,
		EventTime: at.UTC(),
		MemoryID:  memoryID,
		Payload:   payload,
	}
}

// Append validates ev and appends it to the monthly file for its event
// time. The line is fsynced before Append returns; a crash after Append
// never loses the event.
func (l *Log) Append(ev types.Event) error {
	if !ev.EventType.Valid() {
		return types.NewError(types.ErrInvalidArgument, "invalid event type %q", ev.EventType)
	}
	if ev.MemoryID == "" {
		return types.NewError(types.ErrInvalidArgument, "event %s has no memory id", ev.EventID)
	}
	if ev.EventTime.IsZero() {
		return types.NewError(types.ErrInvalidArgument, "event %s has no event time", ev.EventID)
	}
	if ev.EventID == "" {
		ev.EventID = NewEventID()
	}
	if ev.EventType.CarriesEnvelope() && ev.Payload.Envelope == nil {
		return types.NewError(types.ErrInvalidArgument,
			"%s event %s must carry an envelope", ev.EventType, ev.EventID)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return types.WrapError(types.ErrInvalidArgument, err, "marshal event %s", ev.EventID)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	path := l.paths.EventFile(ev.EventTime)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return types.WrapError(types.ErrTransientExternal, err, "create events directory")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return types.WrapError(types.ErrTransientExternal, err, "open %s", path)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return types.WrapError(types.ErrTransientExternal, err, "append to %s", path)
	}
	if err := f.Sync(); err != nil {
		return types.WrapError(types.ErrTransientExternal, err, "fsync %s", path)
	}

	logging.EventLogDebug("appended %s %s memory=%s file=%s",
		ev.EventType, ev.EventID, ev.MemoryID, filepath.Base(path))
	return nil
}

// ScanStats summarizes one pass over the log.
type ScanStats struct {
	Files     int `json:"files"`
	Events    int `json:"events"`
	Malformed int `json:"malformed"`
}

// Scan replays every event in log order (monthly files sorted by name,
// lines in append order). Malformed lines are counted and skipped so one
// bad merge cannot block replay. The callback stops the scan by returning
// a non-nil error, which Scan passes through.
func (l *Log) Scan(fn func(types.Event) error) (ScanStats, error) {
	var stats ScanStats
	files, err := l.Files()
	if err != nil {
		return stats, err
	}
	for _, path := range files {
		stats.Files++
		if err := l.scanFile(path, &stats, fn); err != nil {
			return stats, err
		}
	}
	logging.EventLogDebug("scan complete: %d events, %d malformed across %d files",
		stats.Events, stats.Malformed, stats.Files)
	return stats, nil
}

func (l *Log) scanFile(path string, stats *ScanStats, fn func(types.Event) error) (err error) {
	f, err := os.Open(path)
	if err != nil {
		return types.WrapError(types.ErrTransientExternal, err, "open %s", path)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(strings.TrimSpace(string(line))) == 0 {
			continue
		}
		var ev types.Event
		if jerr := json.Unmarshal(line, &ev); jerr != nil || !ev.EventType.Valid() {
			stats.Malformed++
			continue
		}
		stats.Events++
		if err := fn(ev); err != nil {
			return err
		}
	}
	return scanner.Err()
}

// Files returns the monthly log files sorted by name, which is also
// chronological order.
func (l *Log) Files() ([]string, error) {
	entries, err := os.ReadDir(l.paths.EventsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, types.WrapError(types.ErrTransientExternal, err, "read events directory")
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "events-") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		files = append(files, filepath.Join(l.paths.EventsDir(), name))
	}
	sort.Strings(files)
	return files, nil
}

// Months lists the months with at least one event file, as "YYYY-MM".
func (l *Log) Months() ([]string, error) {
	files, err := l.Files()
	if err != nil {
		return nil, err
	}
	months := make([]string, 0, len(files))
	for _, f := range files {
		name := filepath.Base(f)
		months = append(months, strings.TrimSuffix(strings.TrimPrefix(name, "events-"), ".jsonl"))
	}
	return months, nil
}

// Corruption locates one undecodable log line.
type Corruption struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Size int    `json:"size"`
}

// VerifyReport is the outcome of a log integrity pass.
type VerifyReport struct {
	Files       int          `json:"files"`
	Events      int          `json:"events"`
	Corruptions []Corruption `json:"corruptions,omitempty"`
}

// Verify walks every file and pinpoints undecodable lines. Unlike Scan it
// reports positions instead of silently skipping, so an operator can
// inspect the damage. A non-empty corruption list is reported alongside a
// LogCorruption error.
func (l *Log) Verify() (VerifyReport, error) {
	var report VerifyReport
	files, err := l.Files()
	if err != nil {
		return report, err
	}
	for _, path := range files {
		report.Files++
		f, err := os.Open(path)
		if err != nil {
			return report, types.WrapError(types.ErrTransientExternal, err, "open %s", path)
		}
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := scanner.Bytes()
			if len(strings.TrimSpace(string(line))) == 0 {
				continue
			}
			var ev types.Event
			if jerr := json.Unmarshal(line, &ev); jerr != nil || !ev.EventType.Valid() {
				report.Corruptions = append(report.Corruptions, Corruption{
					File: filepath.Base(path),
					Line: lineNo,
					Size: len(line),
				})
				continue
			}
			report.Events++
		}
		serr := scanner.Err()
		f.Close()
		if serr != nil {
			return report, serr
		}
	}
	if len(report.Corruptions) > 0 {
		logging.EventLogError("verify found %d corrupt lines", len(report.Corruptions))
		return report, types.NewError(types.ErrLogCorruption,
			"%d undecodable event lines", len(report.Corruptions)).
			WithRemediation("inspect the listed files; restore the damaged months from a synced replica or excise the bad lines by hand")
	}
	return report, nil
}
