package status

import (
	"encoding/json"
	"os"
	"path/filepath"
	"syscall"
	"time"

	mailhoard_errors "github.com/mailhoard/mailhoard/errors"
	"github.com/mailhoard/mailhoard/internal/enum"
	"github.com/mailhoard/mailhoard/internal/utils"
)

// Status is the live sync-status file. Its presence with a live PID is
// the cross-process lock for the working tree.
type Status struct {
	PID            int            `json:"pid"`
	Operation      enum.Operation `json:"operation"`
	Account        string         `json:"account"`
	Folder         string         `json:"folder"`
	Total          int            `json:"total"`
	Completed      int            `json:"completed"`
	Skipped        int            `json:"skipped"`
	Failed         int            `json:"failed"`
	CurrentSubject string         `json:"current_subject,omitempty"`
	Started        time.Time      `json:"started"`
}

// Writer owns the status file for the duration of one engine run.
type Writer struct {
	path   string
	status Status
}

// Acquire takes the working-tree lock. It fails with a
// ConcurrencyError when an existing status file points at a PID that
// is still alive; a dead PID means a stale file and is overwritten.
func Acquire(path string, operation enum.Operation, account, folder string) (*Writer, error) {
	if existing, err := Read(path); err != nil {
		return nil, err
	} else if existing != nil && pidAlive(existing.PID) {
		return nil, &mailhoard_errors.ConcurrencyError{
			Operation: existing.Operation.String(),
			PID:       existing.PID,
		}
	}

	w := &Writer{
		path: path,
		status: Status{
			PID:       os.Getpid(),
			Operation: operation,
			Account:   account,
			Folder:    folder,
			Started:   utils.Now(),
		},
	}
	if err := w.flush(); err != nil {
		return nil, err
	}
	return w, nil
}

// Update publishes new counters. Writes are atomic so readers never
// see a torn file.
func (w *Writer) Update(total, completed, skipped, failed int, currentSubject string) error {
	w.status.Total = total
	w.status.Completed = completed
	w.status.Skipped = skipped
	w.status.Failed = failed
	w.status.CurrentSubject = currentSubject
	return w.flush()
}

func (w *Writer) flush() error {
	data, err := json.MarshalIndent(&w.status, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return err
	}
	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return &mailhoard_errors.WriteError{Path: w.path, Err: err}
	}
	if err := os.Rename(tmp, w.path); err != nil {
		return &mailhoard_errors.WriteError{Path: w.path, Err: err}
	}
	return nil
}

// Release removes the status file. Safe to call more than once.
func (w *Writer) Release() {
	os.Remove(w.path)
}

// Read returns the current status, nil when absent, and nil on a
// partial or garbled file so pollers never crash mid-write.
func Read(path string) (*Status, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var s Status
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, nil
	}
	if s.PID == 0 {
		return nil, nil
	}
	return &s, nil
}

// pidAlive probes with signal 0. EPERM still means the process exists.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}
