package mcpserver

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nlmcp/nlmcp/internal/accounts"
	"github.com/nlmcp/nlmcp/internal/browser"
	"github.com/nlmcp/nlmcp/internal/config"
	"github.com/nlmcp/nlmcp/internal/session"
	"github.com/nlmcp/nlmcp/internal/vault"
)

const notebookURL = "https://notebooklm.google.com/notebook/test123"

// fakeNotebookPage answers every submitted question with a fixed reply.
type fakeNotebookPage struct {
	reply     string
	responses []string
}

func (p *fakeNotebookPage) Count(_ context.Context, sel string) (int, error) {
	switch sel {
	case "textarea.query-box-input", "button[aria-label='Submit']":
		return 1, nil
	case ".to-user-container .message-text-content":
		return len(p.responses), nil
	}
	return 0, nil
}

func (p *fakeNotebookPage) Text(_ context.Context, sel string, idx int) (string, error) {
	if sel != ".to-user-container .message-text-content" || idx >= len(p.responses) {
		return "", fmt.Errorf("no element %s[%d]", sel, idx)
	}
	return p.responses[idx], nil
}

func (p *fakeNotebookPage) Click(_ context.Context, sel string) error {
	if sel == "button[aria-label='Submit']" {
		p.responses = append(p.responses, p.reply)
	}
	return nil
}

func (p *fakeNotebookPage) Navigate(context.Context, string) error          { return nil }
func (p *fakeNotebookPage) Location(context.Context) (string, error)        { return "", nil }
func (p *fakeNotebookPage) WaitVisible(context.Context, string) error       { return nil }
func (p *fakeNotebookPage) Type(context.Context, string, string) error      { return nil }
func (p *fakeNotebookPage) Visible(context.Context, string, int) (bool, error) {
	return true, nil
}
func (p *fakeNotebookPage) Hover(context.Context, string, int) error          { return nil }
func (p *fakeNotebookPage) MoveMouse(context.Context, float64, float64) error { return nil }
func (p *fakeNotebookPage) Evaluate(context.Context, string, any) error       { return nil }
func (p *fakeNotebookPage) Screenshot(context.Context) ([]byte, error)        { return nil, nil }
func (p *fakeNotebookPage) Cookies(context.Context) ([]browser.Cookie, error) { return nil, nil }

func (p *fakeNotebookPage) Attribute(context.Context, string, int, string) (string, bool, error) {
	return "", false, nil
}

type fakeOpener struct{ page browser.Page }

func (o *fakeOpener) AcquirePage(context.Context, string) (browser.Page, error) {
	return o.page, nil
}
func (o *fakeOpener) ReleasePage(browser.Page) {}

type fakeAuth struct{}

func (fakeAuth) ValidStatePath() string { return "/tmp/state.json" }

func testServer(t *testing.T, page browser.Page) *Server {
	t.Helper()
	cfg := &config.Config{
		DataDir:               t.TempDir(),
		MaxSessions:           5,
		SessionTimeoutMinutes: 30,
		AnswerTimeout:         time.Second,
		PollInterval:          time.Millisecond,
		StableReads:           2,
	}
	reg := session.NewRegistry(cfg, &fakeOpener{page: page}, fakeAuth{}, zerolog.Nop())
	return New(cfg, reg, nil, zerolog.Nop(), "test")
}

func TestHandleAsk(t *testing.T) {
	page := &fakeNotebookPage{reply: "Paris is the capital of France."}
	s := testServer(t, page)

	_, res, err := s.handleAsk(context.Background(), nil, askArgs{
		NotebookURL: notebookURL,
		Question:    "What is the capital of France?",
	})
	require.NoError(t, err)
	assert.Equal(t, "Paris is the capital of France.", res.Answer)
	assert.Equal(t, 1, res.MessageCount)
	assert.NotEmpty(t, res.SessionID)
}

func TestHandleAskRejectsBadURL(t *testing.T) {
	s := testServer(t, &fakeNotebookPage{})

	_, _, err := s.handleAsk(context.Background(), nil, askArgs{
		NotebookURL: "not-a-url",
		Question:    "Q?",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "absolute URL")
}

func TestHandleListAndCloseSessions(t *testing.T) {
	page := &fakeNotebookPage{reply: "ok"}
	s := testServer(t, page)

	_, res, err := s.handleAsk(context.Background(), nil, askArgs{
		NotebookURL: notebookURL,
		Question:    "Q?",
		SessionID:   "s-1",
	})
	require.NoError(t, err)
	require.Equal(t, "s-1", res.SessionID)

	_, listed, err := s.handleListSessions(context.Background(), nil, struct{}{})
	require.NoError(t, err)
	require.Len(t, listed.Sessions, 1)
	assert.Equal(t, "s-1", listed.Sessions[0].ID)
	assert.Equal(t, 1, listed.Stats.ActiveSessions)
	assert.Equal(t, 1, listed.Stats.TotalMessages)

	_, closed, err := s.handleCloseSession(context.Background(), nil, closeSessionArgs{SessionID: "s-1"})
	require.NoError(t, err)
	assert.True(t, closed.Closed)

	_, closed, err = s.handleCloseSession(context.Background(), nil, closeSessionArgs{SessionID: "s-1"})
	require.NoError(t, err)
	assert.False(t, closed.Closed)

	_, _, err = s.handleCloseSession(context.Background(), nil, closeSessionArgs{})
	assert.ErrorContains(t, err, "session_id is required")
}

func TestHandleAccountHealth(t *testing.T) {
	s := testServer(t, &fakeNotebookPage{})

	_, _, err := s.handleAccountHealth(context.Background(), nil, struct{}{})
	assert.ErrorContains(t, err, "account store is not configured")

	dir := t.TempDir()
	v := vault.New("", filepath.Join(dir, "encryption.key"), zerolog.Nop())
	store := accounts.NewStore(dir, v, zerolog.Nop())
	require.NoError(t, store.Initialize())
	_, err = store.AddAccount("user@gmail.com", "secret", "")
	require.NoError(t, err)
	s.store = store

	_, health, err := s.handleAccountHealth(context.Background(), nil, struct{}{})
	require.NoError(t, err)
	require.Len(t, health.Accounts, 1)
	assert.Equal(t, "user@gmail.com", health.Accounts[0].Email)
	assert.Equal(t, "least_used", health.Strategy)
	assert.True(t, health.AutoLogin)
}

func TestHandleDiscoverMetadata(t *testing.T) {
	reply := `{"name": "test-notebook", "description": "A test notebook. With data.", "tags": ["a", "b", "c", "d", "e", "f", "g", "h"]}`
	s := testServer(t, &fakeNotebookPage{reply: reply})

	zero := 0
	_, meta, err := s.handleDiscoverMetadata(context.Background(), nil, discoverArgs{
		NotebookURL: notebookURL,
		MaxRetries:  &zero,
	})
	require.NoError(t, err)
	assert.Equal(t, "test-notebook", meta.Name)
	assert.Len(t, meta.Tags, 8)
}
