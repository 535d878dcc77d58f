package session

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlmcp/nlmcp/internal/config"
)

const notebookURL = "https://notebooklm.google.com/notebook/test123"

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DataDir:               t.TempDir(),
		MaxSessions:           5,
		SessionTimeoutMinutes: 30,
		AnswerTimeout:         time.Second,
		PollInterval:          time.Millisecond,
		StableReads:           2,
	}
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(testConfig(t), nil, nil, zerolog.Nop())
}

func TestValidateNotebookURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr string
	}{
		{"valid", notebookURL, ""},
		{"empty", "", "Notebook URL is required"},
		{"whitespace", "   ", "Notebook URL is required"},
		{"relative path", "/notebook/test123", "Notebook URL must be an absolute URL"},
		{"bare word", "not-a-url", "Notebook URL must be an absolute URL"},
		{"http", "http://notebooklm.google.com/notebook/x", "Notebook URL must use https"},
		{"ftp", "ftp://notebooklm.google.com/notebook/x", "Notebook URL must use https"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateNotebookURL(tt.url)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.wantErr, vErr.Message)
		})
	}
}

func TestGetOrCreateSessionValidatesFirst(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.GetOrCreateSession("s-1", "")
	assert.ErrorContains(t, err, "Notebook URL is required")
	assert.Nil(t, r.GetSession("s-1"))
}

func TestGetOrCreateSessionReturnsExisting(t *testing.T) {
	r := newTestRegistry(t)

	s1, err := r.GetOrCreateSession("s-1", notebookURL)
	require.NoError(t, err)
	s2, err := r.GetOrCreateSession("s-1", notebookURL)
	require.NoError(t, err)
	assert.Same(t, s1, s2)
}

func TestGetOrCreateSessionGeneratesID(t *testing.T) {
	r := newTestRegistry(t)

	s1, err := r.GetOrCreateSession("", notebookURL)
	require.NoError(t, err)
	s2, err := r.GetOrCreateSession("", notebookURL)
	require.NoError(t, err)

	assert.NotEmpty(t, s1.ID)
	assert.NotEmpty(t, s2.ID)
	assert.NotEqual(t, s1.ID, s2.ID)
}

func TestGetSessionUnknown(t *testing.T) {
	r := newTestRegistry(t)

	assert.Nil(t, r.GetSession("non-existent"))
	assert.Nil(t, r.GetSession(""))
}

func TestCloseSession(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.GetOrCreateSession("s-1", notebookURL)
	require.NoError(t, err)

	assert.True(t, r.CloseSession("s-1"))
	assert.Nil(t, r.GetSession("s-1"))
	assert.False(t, r.CloseSession("s-1"))
	assert.False(t, r.CloseSession("non-existent"))
}

func TestCloseAllSessions(t *testing.T) {
	r := newTestRegistry(t)

	assert.Equal(t, 0, r.CloseAllSessions())

	for _, id := range []string{"a", "b", "c"} {
		_, err := r.GetOrCreateSession(id, notebookURL)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, r.CloseAllSessions())
	assert.Equal(t, 0, r.GetStats().ActiveSessions)
}

func TestCleanupInactiveSessions(t *testing.T) {
	cfg := testConfig(t)
	cfg.SessionTimeoutMinutes = 0.001 // 60ms
	r := NewRegistry(cfg, nil, nil, zerolog.Nop())

	assert.Equal(t, 0, r.CleanupInactiveSessions())

	_, err := r.GetOrCreateSession("stale", notebookURL)
	require.NoError(t, err)
	busy, err := r.GetOrCreateSession("busy", notebookURL)
	require.NoError(t, err)
	require.True(t, busy.beginAsk())

	time.Sleep(100 * time.Millisecond)

	assert.Equal(t, 1, r.CleanupInactiveSessions())
	assert.Nil(t, r.GetSession("stale"))
	assert.NotNil(t, r.GetSession("busy"))
}

func TestSessionLimitEvictsLRU(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxSessions = 2
	r := NewRegistry(cfg, nil, nil, zerolog.Nop())

	_, err := r.GetOrCreateSession("old", notebookURL)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	_, err = r.GetOrCreateSession("newer", notebookURL)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)

	// Touching the oldest makes "newer" the eviction candidate.
	r.GetSession("old").Touch()

	_, err = r.GetOrCreateSession("newest", notebookURL)
	require.NoError(t, err)

	assert.Equal(t, 2, r.GetStats().ActiveSessions)
	assert.NotNil(t, r.GetSession("old"))
	assert.Nil(t, r.GetSession("newer"))
	assert.NotNil(t, r.GetSession("newest"))
}

func TestSessionLimitEvictionSkipsBusySessions(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxSessions = 2
	r := NewRegistry(cfg, nil, nil, zerolog.Nop())

	busy, err := r.GetOrCreateSession("busy", notebookURL)
	require.NoError(t, err)
	require.True(t, busy.beginAsk())
	time.Sleep(5 * time.Millisecond)
	_, err = r.GetOrCreateSession("idle", notebookURL)
	require.NoError(t, err)

	// "busy" is the least recently active, but its question is still in
	// flight, so "idle" is evicted instead.
	_, err = r.GetOrCreateSession("third", notebookURL)
	require.NoError(t, err)

	assert.NotNil(t, r.GetSession("busy"))
	assert.Nil(t, r.GetSession("idle"))
	assert.NotNil(t, r.GetSession("third"))
}

func TestGetStats(t *testing.T) {
	r := newTestRegistry(t)

	stats := r.GetStats()
	assert.Equal(t, 0, stats.ActiveSessions)
	assert.Equal(t, 5, stats.MaxSessions)
	assert.Equal(t, float64(30), stats.SessionTimeout)
	assert.Equal(t, 0, stats.TotalMessages)
	assert.Equal(t, 0, stats.OldestSessionSeconds)

	s, err := r.GetOrCreateSession("s-1", notebookURL)
	require.NoError(t, err)
	s.recordMessage()
	s.recordMessage()

	stats = r.GetStats()
	assert.Equal(t, 1, stats.ActiveSessions)
	assert.Equal(t, 2, stats.TotalMessages)
	assert.GreaterOrEqual(t, stats.OldestSessionSeconds, 0)
}

func TestGetAllSessionsInfoOrdersByCreation(t *testing.T) {
	r := newTestRegistry(t)

	for _, id := range []string{"first", "second", "third"} {
		_, err := r.GetOrCreateSession(id, notebookURL)
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	infos := r.GetAllSessionsInfo()
	require.Len(t, infos, 3)
	assert.Equal(t, "first", infos[0].ID)
	assert.Equal(t, "second", infos[1].ID)
	assert.Equal(t, "third", infos[2].ID)
	assert.Equal(t, notebookURL, infos[0].NotebookURL)
}
