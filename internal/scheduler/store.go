package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"VaultKeeper/internal/model"
)

// Store persists the schedule state. Load returns model.ErrNoState when
// nothing was saved yet and model.ErrCorruptState when the stored document
// cannot be used.
type Store interface {
	Load(ctx context.Context) (model.ScheduleState, error)
	Save(ctx context.Context, s model.ScheduleState) error
	Name() string
}

func decodeState(data []byte) (model.ScheduleState, error) {
	var s model.ScheduleState
	if err := json.Unmarshal(data, &s); err != nil {
		return model.ScheduleState{}, fmt.Errorf("%w: %v", model.ErrCorruptState, err)
	}
	if s.NextRun.IsZero() || s.CycleCount < 0 {
		return model.ScheduleState{}, fmt.Errorf("%w: missing nextRun", model.ErrCorruptState)
	}
	return s, nil
}

// FileStore keeps the state in a JSON file. Writes go to a temp file that is
// renamed over the target so a crash never leaves a half-written file.
type FileStore struct {
	Path string
}

func NewFileStore(path string) *FileStore { return &FileStore{Path: path} }

func (f *FileStore) Name() string { return "file:" + f.Path }

func (f *FileStore) Load(_ context.Context) (model.ScheduleState, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.ScheduleState{}, model.ErrNoState
		}
		return model.ScheduleState{}, fmt.Errorf("read %s: %w", f.Path, err)
	}
	return decodeState(data)
}

func (f *FileStore) Save(_ context.Context, s model.ScheduleState) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", model.ErrPersist, err)
	}
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", model.ErrPersist, err)
	}
	tmp, err := os.CreateTemp(dir, ".schedule-*.json")
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrPersist, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: write: %v", model.ErrPersist, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("%w: sync: %v", model.ErrPersist, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close: %v", model.ErrPersist, err)
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		return fmt.Errorf("%w: rename: %v", model.ErrPersist, err)
	}
	return nil
}

// MemStore keeps the state in memory. FailSaves makes the next n saves fail.
type MemStore struct {
	mu        sync.Mutex
	state     *model.ScheduleState
	FailSaves int
	Saves     int
}

// NewMemStore returns a store preloaded with s, or empty when s is nil.
func NewMemStore(s *model.ScheduleState) *MemStore {
	m := &MemStore{}
	if s != nil {
		cp := *s
		m.state = &cp
	}
	return m
}

func (m *MemStore) Name() string { return "memory" }

func (m *MemStore) Load(_ context.Context) (model.ScheduleState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return model.ScheduleState{}, model.ErrNoState
	}
	return *m.state, nil
}

func (m *MemStore) Save(_ context.Context, s model.ScheduleState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSaves > 0 {
		m.FailSaves--
		return fmt.Errorf("%w: injected failure", model.ErrPersist)
	}
	m.Saves++
	m.state = &s
	return nil
}

// Stored returns the last saved state.
func (m *MemStore) Stored() (model.ScheduleState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return model.ScheduleState{}, false
	}
	return *m.state, true
}
