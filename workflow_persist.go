package braid

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// WorkflowPersistence stores interrupted-workflow snapshots keyed by
// workflow id. Implementations must be safe under concurrent workflow
// instances.
type WorkflowPersistence interface {
	Save(ctx context.Context, id string, interrupt *WorkflowInterrupt) error
	// Load returns the saved snapshot, or nil with no error when none
	// exists.
	Load(ctx context.Context, id string) (*WorkflowInterrupt, error)
	Delete(ctx context.Context, id string) error
}

// MemoryPersistence keeps snapshots in a mutex-guarded map. Snapshots are
// cloned on the way in and out so callers cannot mutate stored state.
type MemoryPersistence struct {
	mu    sync.Mutex
	saved map[string]*WorkflowInterrupt
}

func NewMemoryPersistence() *MemoryPersistence {
	return &MemoryPersistence{saved: make(map[string]*WorkflowInterrupt)}
}

func (p *MemoryPersistence) Save(_ context.Context, id string, interrupt *WorkflowInterrupt) error {
	if interrupt == nil {
		return &WorkflowError{WorkflowID: id, Message: "nil interrupt"}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved[id] = cloneInterrupt(interrupt)
	return nil
}

func (p *MemoryPersistence) Load(_ context.Context, id string) (*WorkflowInterrupt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	intr, ok := p.saved[id]
	if !ok {
		return nil, nil
	}
	return cloneInterrupt(intr), nil
}

func (p *MemoryPersistence) Delete(_ context.Context, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.saved, id)
	return nil
}

func cloneInterrupt(i *WorkflowInterrupt) *WorkflowInterrupt {
	return &WorkflowInterrupt{
		NodeID:     i.NodeID,
		State:      i.State.Clone(),
		DataToSave: i.DataToSave.Clone(),
	}
}

// FilePersistence stores one JSON file per workflow id in a directory.
// Writes go through a temp file and rename so a crash never leaves a
// partial snapshot. State values must be JSON-encodable; decoded values
// come back with encoding/json's shapes (numbers as float64).
type FilePersistence struct {
	dir string
}

func NewFilePersistence(dir string) (*FilePersistence, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create persistence dir: %w", err)
	}
	return &FilePersistence{dir: dir}, nil
}

func (p *FilePersistence) path(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return "", &WorkflowError{WorkflowID: id, Message: "invalid workflow id for file persistence"}
	}
	return filepath.Join(p.dir, id+".json"), nil
}

func (p *FilePersistence) Save(_ context.Context, id string, interrupt *WorkflowInterrupt) error {
	if interrupt == nil {
		return &WorkflowError{WorkflowID: id, Message: "nil interrupt"}
	}
	path, err := p.path(id)
	if err != nil {
		return err
	}
	data, err := json.Marshal(interrupt)
	if err != nil {
		return &WorkflowError{WorkflowID: id, Message: "encode interrupt", Err: err}
	}

	tmp, err := os.CreateTemp(p.dir, "workflow-*.tmp")
	if err != nil {
		return &WorkflowError{WorkflowID: id, Message: "create temp file", Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &WorkflowError{WorkflowID: id, Message: "write snapshot", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &WorkflowError{WorkflowID: id, Message: "close snapshot", Err: err}
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return &WorkflowError{WorkflowID: id, Message: "rename snapshot", Err: err}
	}
	return nil
}

func (p *FilePersistence) Load(_ context.Context, id string) (*WorkflowInterrupt, error) {
	path, err := p.path(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &WorkflowError{WorkflowID: id, Message: "read snapshot", Err: err}
	}
	var intr WorkflowInterrupt
	if err := json.Unmarshal(data, &intr); err != nil {
		return nil, &WorkflowError{WorkflowID: id, Message: "decode snapshot", Err: err}
	}
	return &intr, nil
}

func (p *FilePersistence) Delete(_ context.Context, id string) error {
	path, err := p.path(id)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &WorkflowError{WorkflowID: id, Message: "delete snapshot", Err: err}
	}
	return nil
}

var (
	_ WorkflowPersistence = (*MemoryPersistence)(nil)
	_ WorkflowPersistence = (*FilePersistence)(nil)
)
