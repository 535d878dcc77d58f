package session

import (
	"context"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nlmcp/nlmcp/internal/browser"
	"github.com/nlmcp/nlmcp/internal/config"
)

// ValidationError rejects malformed notebook URLs before any browser work.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// ValidateNotebookURL checks that a notebook URL is usable. NotebookLM only
// serves over https, so anything else is refused up front.
func ValidateNotebookURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return &ValidationError{Message: "Notebook URL is required"}
	}
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return &ValidationError{Message: "Notebook URL must be an absolute URL"}
	}
	if u.Scheme != "https" {
		return &ValidationError{Message: "Notebook URL must use https"}
	}
	return nil
}

type pageOpener interface {
	AcquirePage(ctx context.Context, profileDir string) (browser.Page, error)
	ReleasePage(p browser.Page)
}

type authChecker interface {
	ValidStatePath() string
}

type usageRecorder interface {
	RecordUsage(id string) error
}

// Registry owns every live session. It caps the pool at the configured
// maximum, evicting the least recently used session to make room.
type Registry struct {
	cfg      *config.Config
	browsers pageOpener
	auth     authChecker
	usage    usageRecorder
	log      zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry(cfg *config.Config, browsers pageOpener, auth authChecker, log zerolog.Logger) *Registry {
	return &Registry{
		cfg:      cfg,
		browsers: browsers,
		auth:     auth,
		log:      log,
		sessions: make(map[string]*Session),
	}
}

// SetUsageRecorder wires per-account quota tracking into the ask path.
func (r *Registry) SetUsageRecorder(rec usageRecorder) { r.usage = rec }

// Option customizes a freshly created session.
type Option func(*Session)

// WithAccount binds the session to an account so its browser profile and
// quota are used.
func WithAccount(accountID, profileDir string) Option {
	return func(s *Session) {
		s.AccountID = accountID
		if profileDir != "" {
			s.profileDir = profileDir
		}
	}
}

// GetOrCreateSession returns the session registered under id, or creates one
// for the given notebook. An empty id gets a generated one. The URL is
// validated before anything else happens.
func (r *Registry) GetOrCreateSession(id, notebookURL string, opts ...Option) (*Session, error) {
	if err := ValidateNotebookURL(notebookURL); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	} else if s, ok := r.sessions[id]; ok {
		s.Touch()
		return s, nil
	}

	if len(r.sessions) >= r.cfg.MaxSessions {
		r.evictOldestLocked()
	}

	s := newSession(id, notebookURL, r.cfg.BrowserStateDir())
	for _, opt := range opts {
		opt(s)
	}
	r.sessions[id] = s

	r.log.Info().
		Str("session", id).
		Str("notebook", notebookURL).
		Int("active", len(r.sessions)).
		Msg("session created")
	return s, nil
}

// GetSession returns the session with the given id, or nil.
func (r *Registry) GetSession(id string) *Session {
	if id == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id]
}

// CloseSession tears down one session. It reports whether the id was known.
func (r *Registry) CloseSession(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return false
	}
	r.closeLocked(s)
	return true
}

// CloseAllSessions tears down every session and returns how many were open.
func (r *Registry) CloseAllSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := len(r.sessions)
	for _, s := range r.sessions {
		r.closeLocked(s)
	}
	return n
}

// CleanupInactiveSessions closes sessions idle past the configured timeout
// and returns how many were reaped. Sessions with a question in flight are
// left alone.
func (r *Registry) CleanupInactiveSessions() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	reaped := 0
	for _, s := range r.sessions {
		if s.isBusy() || !s.IsExpired(r.cfg.SessionTimeoutMinutes) {
			continue
		}
		r.log.Info().Str("session", s.ID).Msg("reaping inactive session")
		r.closeLocked(s)
		reaped++
	}
	return reaped
}

// Stats is the wire shape of registry health for status tools.
type Stats struct {
	ActiveSessions       int     `json:"active_sessions"`
	MaxSessions          int     `json:"max_sessions"`
	SessionTimeout       float64 `json:"session_timeout"`
	TotalMessages        int     `json:"total_messages"`
	OldestSessionSeconds int     `json:"oldest_session_seconds"`
}

func (r *Registry) GetStats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := Stats{
		ActiveSessions: len(r.sessions),
		MaxSessions:    r.cfg.MaxSessions,
		SessionTimeout: r.cfg.SessionTimeoutMinutes,
	}
	for _, s := range r.sessions {
		stats.TotalMessages += s.MessageCount()
		if age := int(time.Since(s.CreatedAt).Seconds()); age > stats.OldestSessionSeconds {
			stats.OldestSessionSeconds = age
		}
	}
	return stats
}

// GetAllSessionsInfo lists every session, oldest first.
func (r *Registry) GetAllSessionsInfo() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()

	all := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		all = append(all, s)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })

	out := make([]Info, 0, len(all))
	for _, s := range all {
		out = append(out, s.Info())
	}
	return out
}

// evictOldestLocked drops the least recently active session. Sessions with a
// question in flight are passed over unless every session is busy.
func (r *Registry) evictOldestLocked() {
	pick := func(skipBusy bool) *Session {
		var oldest *Session
		for _, s := range r.sessions {
			if skipBusy && s.isBusy() {
				continue
			}
			if oldest == nil || s.LastActivity().Before(oldest.LastActivity()) {
				oldest = s
			}
		}
		return oldest
	}

	oldest := pick(true)
	if oldest == nil {
		oldest = pick(false)
	}
	if oldest != nil {
		r.log.Warn().Str("session", oldest.ID).Msg("session limit reached, evicting least recently used")
		r.closeLocked(oldest)
	}
}

func (r *Registry) closeLocked(s *Session) {
	s.mu.Lock()
	page := s.page
	s.page = nil
	s.mu.Unlock()

	if page != nil && r.browsers != nil {
		r.browsers.ReleasePage(page)
	}
	delete(r.sessions, s.ID)
}
