// Package audit implements the append-only JSONL audit log every
// state-changing operation writes to.
package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/snbb/scheduler/pkg/model"
)

// Logger appends AuditEvents to a JSONL file, one record per line.
type Logger struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
}

// New returns a Logger writing to path. The parent directory is created on
// first write.
func New(path string) *Logger {
	return &Logger{path: path, now: time.Now}
}

// Entry carries the optional fields an audit event may record, beyond the
// event kind itself.
type Entry struct {
	Subject   string
	Session   string
	Procedure string
	JobID     string
	Detail    string
	OldStatus string
	NewStatus string
}

// Log appends one audit event.
func (l *Logger) Log(kind model.AuditEventKind, e Entry) error {
	event := model.AuditEvent{
		Timestamp: l.now().UTC(),
		Event:     kind,
		Subject:   e.Subject,
		Session:   e.Session,
		Procedure: e.Procedure,
		JobID:     e.JobID,
		Detail:    e.Detail,
		OldStatus: e.OldStatus,
		NewStatus: e.NewStatus,
	}

	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling audit event: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("creating audit log directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening audit log %s: %w", l.path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if _, err := w.Write(line); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}
	if err := w.WriteByte('\n'); err != nil {
		return fmt.Errorf("writing audit event: %w", err)
	}
	return w.Flush()
}
