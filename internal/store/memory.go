package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	appLog "planner/internal/log"
	"planner/internal/model"
)

// Snapshot is the on-disk shape of the data file.
type Snapshot struct {
	Workspaces []model.Workspace `yaml:"workspaces"`
	Plans      []model.Plan      `yaml:"plans"`
	Stages     []model.Stage     `yaml:"stages"`
	Tasks      []model.Task      `yaml:"tasks"`
	Events     []model.Event     `yaml:"events"`
}

// Memory is an in-process Store. When opened from a file, writes are
// persisted back to it.
type Memory struct {
	mu   sync.RWMutex
	data Snapshot
	path string
}

// NewMemory returns a Memory holding s and no backing file.
func NewMemory(s Snapshot) *Memory {
	return &Memory{data: s}
}

// Open loads a YAML data file. A missing file yields an empty store that
// will be created on the first write.
func Open(path string) (*Memory, error) {
	if path == "" {
		return nil, errors.New("store: data path is empty")
	}

	m := &Memory{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			appLog.Info("store: data file missing, starting empty", "path", path)
			return m, nil
		}
		return nil, fmt.Errorf("store: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &m.data); err != nil {
		return nil, fmt.Errorf("store: decode %s: %w", path, err)
	}

	appLog.Info("store: loaded",
		"path", path,
		"workspaces", len(m.data.Workspaces),
		"tasks", len(m.data.Tasks),
		"events", len(m.data.Events),
	)
	return m, nil
}

// Snapshot returns a copy of the current contents.
func (m *Memory) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Snapshot{
		Workspaces: append([]model.Workspace(nil), m.data.Workspaces...),
		Plans:      append([]model.Plan(nil), m.data.Plans...),
		Stages:     append([]model.Stage(nil), m.data.Stages...),
		Tasks:      append([]model.Task(nil), m.data.Tasks...),
		Events:     append([]model.Event(nil), m.data.Events...),
	}
}

func (m *Memory) Workspace(ctx context.Context, id string) (model.Workspace, error) {
	if err := ctx.Err(); err != nil {
		return model.Workspace{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.workspaceLocked(id)
}

func (m *Memory) workspaceLocked(id string) (model.Workspace, error) {
	for _, ws := range m.data.Workspaces {
		if ws.ID == id {
			return ws, nil
		}
	}
	return model.Workspace{}, fmt.Errorf("%w: %q", ErrWorkspaceNotFound, id)
}

func (m *Memory) Plans(ctx context.Context, workspaceID string) ([]model.Plan, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, err := m.workspaceLocked(workspaceID); err != nil {
		return nil, err
	}
	return filter(m.data.Plans, func(p model.Plan) bool { return p.WorkspaceID == workspaceID }), nil
}

func (m *Memory) Stages(ctx context.Context, workspaceID string) ([]model.Stage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, err := m.workspaceLocked(workspaceID); err != nil {
		return nil, err
	}

	plans := make(map[string]bool)
	for _, p := range m.data.Plans {
		if p.WorkspaceID == workspaceID {
			plans[p.ID] = true
		}
	}
	return filter(m.data.Stages, func(s model.Stage) bool { return plans[s.PlanID] }), nil
}

func (m *Memory) Tasks(ctx context.Context, workspaceID string) ([]model.Task, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, err := m.workspaceLocked(workspaceID); err != nil {
		return nil, err
	}
	return filter(m.data.Tasks, func(t model.Task) bool { return t.WorkspaceID == workspaceID }), nil
}

func (m *Memory) Events(ctx context.Context, workspaceID string) ([]model.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, err := m.workspaceLocked(workspaceID); err != nil {
		return nil, err
	}
	return filter(m.data.Events, func(e model.Event) bool { return e.WorkspaceID == workspaceID }), nil
}

// ReplaceSourceEvents drops every event of (workspaceID, sourceID) and
// inserts events in their place. Events without an ID get a fresh UUID.
func (m *Memory) ReplaceSourceEvents(ctx context.Context, workspaceID, sourceID string, events []model.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if sourceID == "" {
		return errors.New("store: source id is empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.workspaceLocked(workspaceID); err != nil {
		return err
	}

	next := m.data
	next.Events = filter(m.data.Events, func(e model.Event) bool {
		return e.WorkspaceID != workspaceID || e.SourceID != sourceID
	})
	for _, ev := range events {
		ev.WorkspaceID = workspaceID
		ev.SourceID = sourceID
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		next.Events = append(next.Events, ev)
	}

	// The file is written first so a failed save leaves memory untouched.
	if m.path != "" {
		if err := m.write(next); err != nil {
			return fmt.Errorf("store: save %s: %w", m.path, err)
		}
	}
	m.data = next
	return nil
}

// Save writes the contents to the backing file, if any.
func (m *Memory) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.path == "" {
		return errors.New("store: no backing file")
	}
	return m.write(m.data)
}

// write stores data atomically via a temp file + rename with 0600 perms.
func (m *Memory) write(data Snapshot) error {
	dir := filepath.Dir(m.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	body, err := yaml.Marshal(&data)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".planner-data-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, m.path)
}

func filter[T any](in []T, keep func(T) bool) []T {
	out := make([]T, 0, len(in))
	for _, v := range in {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}
