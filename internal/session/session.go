// Package session tracks live NotebookLM conversations. Each session pins a
// notebook URL to a browser page so follow-up questions keep their chat
// context, and the registry bounds how many run at once.
package session

import (
	"sync"
	"time"

	"github.com/nlmcp/nlmcp/internal/browser"
)

// Session is one conversation against a single notebook.
type Session struct {
	ID          string
	NotebookURL string
	AccountID   string
	CreatedAt   time.Time

	mu           sync.Mutex
	lastActivity time.Time
	messageCount int
	busy         bool
	page         browser.Page
	profileDir   string
}

func newSession(id, notebookURL, profileDir string) *Session {
	now := time.Now()
	return &Session{
		ID:           id,
		NotebookURL:  notebookURL,
		CreatedAt:    now,
		lastActivity: now,
		profileDir:   profileDir,
	}
}

// Touch marks the session as just used.
func (s *Session) Touch() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastActivity = time.Now()
}

// LastActivity returns when the session last saw use.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// MessageCount returns how many questions this session has answered.
func (s *Session) MessageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messageCount
}

// IsExpired reports whether the session has sat idle longer than
// timeoutMinutes. Fractional minutes are honored; zero or negative means
// the session never expires.
func (s *Session) IsExpired(timeoutMinutes float64) bool {
	if timeoutMinutes <= 0 {
		return false
	}
	limit := time.Duration(timeoutMinutes * float64(time.Minute))
	return time.Since(s.LastActivity()) > limit
}

func (s *Session) beginAsk() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy {
		return false
	}
	s.busy = true
	return true
}

func (s *Session) endAsk() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = false
}

func (s *Session) isBusy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

func (s *Session) recordMessage() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messageCount++
	s.lastActivity = time.Now()
	return s.messageCount
}

// Info is the wire shape of a session for status tools.
type Info struct {
	ID              string `json:"id"`
	NotebookURL     string `json:"notebook_url"`
	AccountID       string `json:"account_id,omitempty"`
	MessageCount    int    `json:"message_count"`
	AgeSeconds      int    `json:"age_seconds"`
	InactiveSeconds int    `json:"inactive_seconds"`
	CreatedAt       string `json:"created_at"`
	LastActivity    string `json:"last_activity"`
}

// Info snapshots the session for reporting.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	return Info{
		ID:              s.ID,
		NotebookURL:     s.NotebookURL,
		AccountID:       s.AccountID,
		MessageCount:    s.messageCount,
		AgeSeconds:      int(now.Sub(s.CreatedAt).Seconds()),
		InactiveSeconds: int(now.Sub(s.lastActivity).Seconds()),
		CreatedAt:       s.CreatedAt.UTC().Format(time.RFC3339),
		LastActivity:    s.lastActivity.UTC().Format(time.RFC3339),
	}
}
