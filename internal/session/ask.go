package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/nlmcp/nlmcp/internal/answer"
	"github.com/nlmcp/nlmcp/internal/browser"
	"github.com/nlmcp/nlmcp/internal/citations"
)

var (
	// ErrAuthRequired means no saved login state is valid. The caller has to
	// run a login first.
	ErrAuthRequired = errors.New("authentication required: no valid saved login state")

	// ErrSessionBusy means the session already has a question in flight.
	ErrSessionBusy = errors.New("session is busy with another question")
)

// queryBoxSelectors locate the chat input, most specific first.
var queryBoxSelectors = []string{
	"textarea.query-box-input",
	"rich-textarea textarea",
	"textarea[placeholder*='Ask']",
	"textarea",
}

var submitSelectors = []string{
	"button[aria-label='Submit']",
	"button.submit-button",
	"button[type='submit']",
}

// AskError reports a failed question together with the session and notebook
// it ran against, so callers never see a bare failure without context.
type AskError struct {
	SessionID   string
	NotebookURL string
	Question    string
	Err         error
}

func (e *AskError) Error() string {
	return fmt.Sprintf("ask %q on %s (session %s): %v", e.Question, e.NotebookURL, e.SessionID, e.Err)
}

func (e *AskError) Unwrap() error { return e.Err }

// AskResult is the outcome of one question round-trip.
type AskResult struct {
	SessionID       string               `json:"session_id"`
	Answer          string               `json:"answer"`
	FormattedAnswer string               `json:"formatted_answer"`
	Citations       []citations.Citation `json:"citations,omitempty"`
	Format          citations.Format     `json:"citation_format"`
	MessageCount    int                  `json:"message_count"`
}

// Ask types the question into the session's notebook, waits for the answer
// to stabilize, and runs citation extraction in the requested format. One
// question per session runs at a time.
func (r *Registry) Ask(ctx context.Context, s *Session, question string, format citations.Format) (*AskResult, error) {
	fail := func(err error) (*AskResult, error) {
		return nil, &AskError{SessionID: s.ID, NotebookURL: s.NotebookURL, Question: question, Err: err}
	}

	if question == "" {
		return fail(&ValidationError{Message: "Question is required"})
	}
	if !citations.ValidFormat(format) {
		return fail(&ValidationError{Message: fmt.Sprintf("Unknown citation format %q", format)})
	}
	if r.auth != nil && r.auth.ValidStatePath() == "" {
		return fail(ErrAuthRequired)
	}
	if !s.beginAsk() {
		return fail(ErrSessionBusy)
	}
	defer s.endAsk()

	page, err := r.ensurePage(ctx, s)
	if err != nil {
		return fail(err)
	}

	waiter := answer.NewWaiter(page, r.log)
	ignore := waiter.SnapshotAllResponses(ctx)

	if err := r.submitQuestion(ctx, page, question); err != nil {
		return fail(err)
	}

	text, err := waiter.WaitForAnswer(ctx, answer.Options{
		Question:     question,
		IgnoreTexts:  ignore,
		Timeout:      r.cfg.AnswerTimeout,
		PollInterval: r.cfg.PollInterval,
		StableReads:  r.cfg.StableReads,
	})
	if err != nil {
		return fail(fmt.Errorf("waiting for answer: %w", err))
	}

	extraction := citations.NewExtractor(page, r.log).Extract(ctx, text, format)
	count := s.recordMessage()

	if r.usage != nil && s.AccountID != "" {
		if err := r.usage.RecordUsage(s.AccountID); err != nil {
			r.log.Warn().Err(err).Str("account", s.AccountID).Msg("recording usage failed")
		}
	}

	r.log.Info().
		Str("session", s.ID).
		Int("messages", count).
		Int("citations", len(extraction.Citations)).
		Msg("question answered")

	return &AskResult{
		SessionID:       s.ID,
		Answer:          extraction.OriginalAnswer,
		FormattedAnswer: extraction.FormattedAnswer,
		Citations:       extraction.Citations,
		Format:          format,
		MessageCount:    count,
	}, nil
}

// ensurePage lazily opens the session's browser page and navigates to the
// notebook. A cached page is probed first; if its browser went away (for
// example a sibling session on the same profile was torn down mid-restart),
// a fresh page is opened in its place.
func (r *Registry) ensurePage(ctx context.Context, s *Session) (browser.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page != nil {
		if _, err := s.page.Location(ctx); err == nil {
			return s.page, nil
		}
		r.log.Warn().Str("session", s.ID).Msg("cached page no longer responds, reopening")
		r.browsers.ReleasePage(s.page)
		s.page = nil
	}

	page, err := r.browsers.AcquirePage(ctx, s.profileDir)
	if err != nil {
		return nil, fmt.Errorf("open browser page: %w", err)
	}
	if err := page.Navigate(ctx, s.NotebookURL); err != nil {
		r.browsers.ReleasePage(page)
		return nil, fmt.Errorf("open notebook: %w", err)
	}
	s.page = page
	return page, nil
}

func (r *Registry) submitQuestion(ctx context.Context, page browser.Page, question string) error {
	var box string
	for _, sel := range queryBoxSelectors {
		n, err := page.Count(ctx, sel)
		if err == nil && n > 0 {
			box = sel
			break
		}
	}
	if box == "" {
		return errors.New("chat input box not found on page")
	}
	if err := page.Type(ctx, box, question); err != nil {
		return fmt.Errorf("type question: %w", err)
	}

	for _, sel := range submitSelectors {
		n, err := page.Count(ctx, sel)
		if err != nil || n == 0 {
			continue
		}
		if err := page.Click(ctx, sel); err == nil {
			return nil
		}
	}
	// No submit button matched, fall back to the Enter key.
	return page.Type(ctx, box, "\n")
}
