package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"masterplan/internal/domain"
	"masterplan/internal/logger"
)

// Version of the on-disk envelope. Files with another version are discarded.
const Version = "1.0"

type envelope struct {
	Version string   `json:"version"`
	Data    snapshot `json:"data"`
}

type snapshot struct {
	Events      []domain.CalendarEvent `json:"events"`
	LastUpdated time.Time              `json:"lastUpdated"`
	FileName    string                 `json:"fileName,omitempty"`
}

// FileStore persists the local event collection as JSON.
type FileStore struct {
	Path string
	// FileName records the source spreadsheet alongside the events.
	FileName string
	Now      func() time.Time
	Log      logger.Logger
}

// Load returns the persisted events, or nil when nothing usable is stored.
func (s FileStore) Load(ctx context.Context) ([]domain.CalendarEvent, error) {
	data, err := os.ReadFile(s.Path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode %s: %w", s.Path, err)
	}
	if env.Version != Version {
		logger.OrNop(s.Log).Warnf("cache %s has version %q, want %s; clearing", s.Path, env.Version, Version)
		if err := s.Clear(ctx); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return env.Data.Events, nil
}

// Save writes events atomically through a temp file.
func (s FileStore) Save(ctx context.Context, events []domain.CalendarEvent) error {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	if events == nil {
		events = []domain.CalendarEvent{}
	}
	data, err := json.MarshalIndent(envelope{
		Version: Version,
		Data:    snapshot{Events: events, LastUpdated: now().UTC(), FileName: s.FileName},
	}, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.Path), 0o755); err != nil {
		return err
	}
	tmp := s.Path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.Path)
}

// Clear removes the file.
func (s FileStore) Clear(ctx context.Context) error {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// Memory keeps the collection in process.
type Memory struct {
	mu     sync.Mutex
	events []domain.CalendarEvent
	saved  bool
}

func (m *Memory) Load(ctx context.Context) ([]domain.CalendarEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.saved {
		return nil, nil
	}
	return append([]domain.CalendarEvent{}, m.events...), nil
}

func (m *Memory) Save(ctx context.Context, events []domain.CalendarEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append([]domain.CalendarEvent{}, events...)
	m.saved = true
	return nil
}

func (m *Memory) Clear(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events, m.saved = nil, false
	return nil
}
