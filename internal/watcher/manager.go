package watcher

import (
	"context"
	"log/slog"
	"sync"
)

// Manager owns at most one active Watcher process-wide. Starting a new one
// stops the previous one first.
type Manager struct {
	logger *slog.Logger

	mu     sync.Mutex
	active *Watcher
}

// NewManager creates a manager with no active watcher
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger}
}

// StartWatching replaces the active watcher with one serving h
func (m *Manager) StartWatching(ctx context.Context, h Handler, opts Options) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		if err := m.active.Stop(); err != nil {
			m.logger.Warn("stopping previous watcher", slog.Any("error", err))
		}
		m.active = nil
	}

	w, err := Start(ctx, h, opts)
	if err != nil {
		return err
	}
	m.active = w
	return nil
}

// StopWatching stops the active watcher, if any
func (m *Manager) StopWatching() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked()
}

// Release stops the active watcher only when it serves h
func (m *Manager) Release(h Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil || m.active.handler != h {
		return nil
	}
	return m.stopLocked()
}

func (m *Manager) stopLocked() error {
	if m.active == nil {
		return nil
	}
	err := m.active.Stop()
	m.active = nil
	return err
}

// Serving reports whether the active watcher serves h
func (m *Manager) Serving(h Handler) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active != nil && m.active.handler == h
}

// Active returns the watched root, or "" when nothing is watched
func (m *Manager) Active() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return ""
	}
	return m.active.Root()
}
