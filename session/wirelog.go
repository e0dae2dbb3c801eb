package session

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// WireLog timestamps and fixed-width-labels every control line crossing
// a session's wire, one line per direction per call, to a single file.
// It generalizes the teacher's apiLogger/connLogger pair to a single
// session rather than a pool of connections.
type WireLog struct {
	mu   sync.Mutex
	file *os.File
}

// NewWireLog opens path for writing, truncating any existing content.
// An empty path is a valid no-op WireLog.
func NewWireLog(path string) (*WireLog, error) {
	if path == "" {
		return &WireLog{}, nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, err
	}
	return &WireLog{file: f}, nil
}

// Close flushes and closes the underlying file, if any.
func (w *WireLog) Close() error {
	if w == nil || w.file == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.file.Sync(); err != nil {
		_ = w.file.Close()
		return err
	}
	return w.file.Close()
}

// LogInbound records a line received on the named leg.
func (w *WireLog) LogInbound(label, line string) { w.log("IN", label, line) }

// LogOutbound records a line sent on the named leg.
func (w *WireLog) LogOutbound(label, line string) { w.log("OUT", label, line) }

func (w *WireLog) log(direction, label, line string) {
	if w == nil || w.file == nil {
		return
	}
	ts := time.Now().UTC().Format("2006-01-02T15:04:05.000000Z")
	entry := fmt.Sprintf("%s %s %s %s\n", ts, fixedWidth(direction, 4), fixedWidth(label, 12), sanitizeWireMessage(line))
	w.mu.Lock()
	_, _ = w.file.WriteString(entry)
	w.mu.Unlock()
}

func fixedWidth(s string, width int) string {
	if len(s) > width {
		return s[:width]
	}
	return fmt.Sprintf("%-*s", width, s)
}

func sanitizeWireMessage(msg string) string {
	msg = strings.TrimRight(msg, "\r\n")
	if msg == "" {
		return "<empty>"
	}
	return msg
}
