package braid

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// FileHistory is a ChatHistory persisted as JSON Lines: one serialized
// Message per line. Reads ignore blank lines; every mutation atomically
// rewrites the whole file (write temp, rename). Suited to small histories;
// the context window keeps the file bounded.
type FileHistory struct {
	mu     sync.Mutex
	path   string
	window int
}

// NewFileHistory opens (or creates on first write) a JSONL-backed history
// at path, holding at most window messages.
func NewFileHistory(path string, window int) *FileHistory {
	if window <= 0 {
		window = DefaultContextWindow
	}
	return &FileHistory{path: path, window: window}
}

func (h *FileHistory) Add(_ context.Context, msg Message) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs, err := h.load()
	if err != nil {
		return err
	}
	msgs = append(msgs, msg)
	if n := len(msgs) - h.window; n > 0 {
		msgs = msgs[n:]
	}
	return h.rewrite(msgs)
}

func (h *FileHistory) Messages(_ context.Context) ([]Message, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.load()
}

func (h *FileHistory) RemoveOldest(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	msgs, err := h.load()
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		return nil
	}
	return h.rewrite(msgs[1:])
}

func (h *FileHistory) Clear(_ context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rewrite(nil)
}

// ContextWindow returns the configured message cap.
func (h *FileHistory) ContextWindow() int { return h.window }

// load reads and decodes the file. A missing file is an empty history.
// Caller holds the lock.
func (h *FileHistory) load() ([]Message, error) {
	f, err := os.Open(h.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, &ChatHistoryError{Op: "read", Err: err}
	}
	defer f.Close()

	var msgs []Message
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, &ChatHistoryError{Op: "read", Err: fmt.Errorf("line %d: %w", line, err)}
		}
		msgs = append(msgs, msg)
	}
	if err := sc.Err(); err != nil {
		return nil, &ChatHistoryError{Op: "read", Err: err}
	}
	return msgs, nil
}

// rewrite atomically replaces the file with the given messages.
// Caller holds the lock.
func (h *FileHistory) rewrite(msgs []Message) error {
	dir := filepath.Dir(h.path)
	tmp, err := os.CreateTemp(dir, ".history-*.jsonl")
	if err != nil {
		return &ChatHistoryError{Op: "write", Err: err}
	}
	tmpName := tmp.Name()
	w := bufio.NewWriter(tmp)
	for _, msg := range msgs {
		raw, err := json.Marshal(msg)
		if err != nil {
			tmp.Close()
			os.Remove(tmpName)
			return &ChatHistoryError{Op: "write", Err: err}
		}
		w.Write(raw)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &ChatHistoryError{Op: "write", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &ChatHistoryError{Op: "write", Err: err}
	}
	if err := os.Rename(tmpName, h.path); err != nil {
		os.Remove(tmpName)
		return &ChatHistoryError{Op: "write", Err: err}
	}
	return nil
}

var _ ChatHistory = (*FileHistory)(nil)
