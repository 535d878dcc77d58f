// Package authstate manages persisted browser authentication state: the
// state.json storage snapshot saved after a successful Google login, the
// cookie-based expiry heuristic, and recovery actions when state goes bad.
package authstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// authCookieNames are the Google session cookies that carry authentication.
// A state snapshot without at least one unexpired cookie from this list
// cannot produce a logged-in page.
var authCookieNames = map[string]bool{
	"SID":            true,
	"HSID":           true,
	"SSID":           true,
	"__Secure-1PSID": true,
	"__Secure-3PSID": true,
}

// Cookie mirrors one entry of the persisted storage state. Expires is a unix
// timestamp in seconds; -1 marks a session cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// OriginState carries per-origin web storage captured at save time.
type OriginState struct {
	Origin       string      `json:"origin"`
	LocalStorage []StorageKV `json:"localStorage,omitempty"`
}

// StorageKV is one localStorage or sessionStorage entry.
type StorageKV struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// State is the full persisted snapshot written after login.
type State struct {
	Cookies []Cookie      `json:"cookies"`
	Origins []OriginState `json:"origins,omitempty"`

	// SessionStorage is keyed by origin; session storage does not survive a
	// browser restart on its own so it is captured separately.
	SessionStorage map[string]map[string]string `json:"sessionStorage,omitempty"`

	SavedAt time.Time `json:"savedAt,omitempty"`
}

// Manager owns the state files under one directory, typically an account's
// private dir.
type Manager struct {
	dir string
	log zerolog.Logger
}

// NewManager returns a manager rooted at dir. The directory is created on
// first save, not here.
func NewManager(dir string, log zerolog.Logger) *Manager {
	return &Manager{dir: dir, log: log}
}

// StatePath is where the storage snapshot lives.
func (m *Manager) StatePath() string { return filepath.Join(m.dir, "state.json") }

// HasSavedState reports whether a snapshot exists on disk, regardless of
// freshness.
func (m *Manager) HasSavedState() bool {
	info, err := os.Stat(m.StatePath())
	return err == nil && !info.IsDir()
}

// Load parses the snapshot. Callers that only need freshness should use
// IsStateExpired instead.
func (m *Manager) Load() (*State, error) {
	data, err := os.ReadFile(m.StatePath())
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	return &st, nil
}

// Save writes the snapshot atomically with owner-only permissions.
func (m *Manager) Save(st *State) error {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	st.SavedAt = time.Now().UTC()
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	tmp := m.StatePath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, m.StatePath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write state: %w", err)
	}
	m.log.Debug().Int("cookies", len(st.Cookies)).Msg("auth state saved")
	return nil
}

// IsStateExpired reports whether the snapshot can still authenticate a page.
// Missing or unreadable state counts as expired, as does a snapshot whose
// Google auth cookies have all passed their expiry.
func (m *Manager) IsStateExpired() bool {
	st, err := m.Load()
	if err != nil {
		return true
	}

	now := float64(time.Now().Unix())
	for _, c := range st.Cookies {
		if !authCookieNames[c.Name] {
			continue
		}
		// Session cookies (expires < 0) do not expire by timestamp.
		if c.Expires < 0 || c.Expires > now {
			return false
		}
	}
	return true
}

// ValidStatePath returns the snapshot path when it exists and is fresh, or
// the empty string when a login is needed first.
func (m *Manager) ValidStatePath() string {
	if !m.HasSavedState() || m.IsStateExpired() {
		return ""
	}
	return m.StatePath()
}

// LoadSessionStorage returns the captured sessionStorage for an origin, or
// nil when nothing was captured.
func (m *Manager) LoadSessionStorage(origin string) map[string]string {
	st, err := m.Load()
	if err != nil {
		return nil
	}
	return st.SessionStorage[origin]
}

// ClearState deletes the snapshot but keeps the browser profile, forcing a
// fresh login that can still reuse remembered-device signals.
func (m *Manager) ClearState() error {
	err := os.Remove(m.StatePath())
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear state: %w", err)
	}
	m.log.Info().Str("path", m.StatePath()).Msg("auth state cleared")
	return nil
}

// HardReset wipes the entire state directory, profile included. Recovery of
// last resort when the profile itself is corrupt.
func (m *Manager) HardReset() error {
	if err := os.RemoveAll(m.dir); err != nil {
		return fmt.Errorf("hard reset: %w", err)
	}
	m.log.Warn().Str("dir", m.dir).Msg("auth state hard reset")
	return nil
}
