// Package session implements the local agent's invocation-session state
// machine, persisted to a JSON file across restarts — grounded on the
// reference implementation's SessionManager (src/claude/session_manager.py).
package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/finml-sage/agent-swarm-protocol/internal/model"
)

// Manager tracks whether the local agent's invocation is idle, active, or
// suspended, persisting the record to disk after every mutation.
type Manager struct {
	mu      sync.Mutex
	path    string
	timeout time.Duration
	data    model.Session
}

// NewManager loads the session file at path if present, or starts a fresh
// idle session. timeout controls ShouldResume's staleness check.
func NewManager(path string, timeout time.Duration) (*Manager, error) {
	m := &Manager{path: path, timeout: timeout}

	if loaded, err := load(path); err == nil {
		m.data = *loaded
		return m, nil
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	m.data = model.Session{
		SessionID:  uuid.NewString(),
		State:      model.SessionStateIdle,
		StartedAt:  time.Now(),
		LastActive: time.Now(),
	}
	if err := m.save(); err != nil {
		return nil, err
	}
	return m, nil
}

func load(path string) (*model.Session, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s model.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (m *Manager) save() error {
	raw, err := json.MarshalIndent(m.data, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(m.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	tmp := m.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return err
	}
	return os.Rename(tmp, m.path)
}

// Snapshot returns a copy of the current session record.
func (m *Manager) Snapshot() model.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data
}

// Restore replaces the in-memory session wholesale with s and persists it,
// used when importing a full state snapshot (§8 property 7) rather than
// transitioning through the normal lifecycle.
func (m *Manager) Restore(s model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = s
	return m.save()
}

// ShouldResume reports whether the session is suspended and was last active
// less than timeout ago, so that a wake should resume it rather than start a
// new session.
func (m *Manager) ShouldResume() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data.State != model.SessionStateSuspended {
		return false
	}
	return time.Since(m.data.LastActive) < m.timeout
}

// IsActive reports whether a session is currently active and was last
// touched less than timeout ago — the single-flight check a wake callback
// uses to avoid double-invoking an agent that is already running (§4.9).
func (m *Manager) IsActive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data.State != model.SessionStateActive {
		return false
	}
	return time.Since(m.data.LastActive) < m.timeout
}

// StartSession transitions to active with a fresh session ID.
func (m *Manager) StartSession(swarmID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = model.Session{
		SessionID:    uuid.NewString(),
		State:        model.SessionStateActive,
		StartedAt:    time.Now(),
		LastActive:   time.Now(),
		CurrentSwarm: swarmID,
	}
	return m.save()
}

// UpdateActivity bumps LastActive and increments MessagesProcessed.
func (m *Manager) UpdateActivity(contextSummary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.LastActive = time.Now()
	m.data.MessagesProcessed++
	if contextSummary != "" {
		m.data.ContextSummary = contextSummary
	}
	return m.save()
}

// Suspend transitions to suspended without ending the session.
func (m *Manager) Suspend() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.State = model.SessionStateSuspended
	m.data.LastActive = time.Now()
	return m.save()
}

// EndSession transitions back to idle.
func (m *Manager) EndSession() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data.State = model.SessionStateIdle
	m.data.LastActive = time.Now()
	m.data.CurrentSwarm = ""
	return m.save()
}
