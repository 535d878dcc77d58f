// Package answer implements the polling protocol that waits for NotebookLM
// to finish generating a response. The chat UI streams text into the page,
// shows localized placeholder blurbs while thinking, and sometimes echoes the
// question back, so a read is only accepted once it survives classification
// and stays byte-identical across several consecutive polls.
package answer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nlmcp/nlmcp/internal/browser"
)

// ErrTimeout means no stable answer appeared within the wait window.
var ErrTimeout = errors.New("timed out waiting for answer")

// responseSelectors locate assistant messages, most specific first. The
// leading selector matches the current NotebookLM DOM; the rest are fallbacks
// for UI experiments Google ships without notice.
var responseSelectors = []string{
	".to-user-container .message-text-content",
	"[data-message-author='bot']",
	"[data-message-author='assistant']",
	"[data-message-role='assistant']",
	"[data-author='assistant']",
	"[data-renderer*='assistant']",
	"[data-automation-id='response-text']",
	"[data-automation-id='assistant-response']",
	"[data-automation-id='chat-response']",
	"[data-testid*='assistant']",
	"[data-testid*='response']",
	"[aria-live='polite']",
	"[role='listitem'][data-message-author]",
}

// placeholderSnippets are thinking-state blurbs, lowercased. The German
// entries show up when the Google account locale is not English.
var placeholderSnippets = []string{
	"antwort wird erstellt",
	"answer wird erstellt",
	"answer is being created",
	"answer is being generated",
	"creating answer",
	"generating answer",
	"wird erstellt",
	"getting the context",
	"loading",
	"please wait",
}

const (
	DefaultTimeout      = 120 * time.Second
	DefaultPollInterval = time.Second
	DefaultStableReads  = 8
)

// Options tunes one wait. Zero values take the defaults above.
type Options struct {
	// Question, when set, rejects reads that merely echo it back.
	Question string

	// IgnoreTexts are full responses already on screen before the question
	// was asked; matching reads are never accepted as the new answer.
	IgnoreTexts []string

	Timeout      time.Duration
	PollInterval time.Duration
	StableReads  int
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.PollInterval <= 0 {
		o.PollInterval = DefaultPollInterval
	}
	if o.StableReads <= 0 {
		o.StableReads = DefaultStableReads
	}
	return o
}

// Waiter runs the answer-wait protocol against one page.
type Waiter struct {
	page browser.Page
	log  zerolog.Logger
}

func NewWaiter(page browser.Page, log zerolog.Logger) *Waiter {
	return &Waiter{page: page, log: log}
}

// WaitForAnswer polls until the newest assistant message is a real answer
// that has stopped changing, and returns its text. ErrTimeout means nothing
// acceptable stabilized in time.
func (w *Waiter) WaitForAnswer(ctx context.Context, opts Options) (string, error) {
	opts = opts.withDefaults()

	deadline := time.Now().Add(opts.Timeout)
	ignore := make(map[string]bool, len(opts.IgnoreTexts))
	for _, t := range opts.IgnoreTexts {
		ignore[strings.TrimSpace(t)] = true
	}
	question := strings.TrimSpace(opts.Question)

	var lastText string
	stable := 0

	ticker := time.NewTicker(opts.PollInterval)
	defer ticker.Stop()

	for {
		if time.Now().After(deadline) {
			w.log.Debug().Dur("timeout", opts.Timeout).Msg("answer wait timed out")
			return "", ErrTimeout
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}

		text, ok := w.SnapshotLatestResponse(ctx)
		if !ok {
			stable = 0
			lastText = ""
			continue
		}

		switch {
		case text == "":
			w.log.Debug().Msg("empty read, waiting")
			stable, lastText = 0, ""
			continue
		case isPlaceholder(text):
			w.log.Debug().Str("text", truncateForLog(text)).Msg("placeholder read, waiting")
			stable, lastText = 0, ""
			continue
		case question != "" && strings.EqualFold(text, question):
			w.log.Debug().Msg("question echo read, waiting")
			stable, lastText = 0, ""
			continue
		case ignore[text]:
			w.log.Debug().Str("text", truncateForLog(text)).Msg("known response read, waiting")
			stable, lastText = 0, ""
			continue
		}

		if text == lastText {
			stable++
		} else {
			stable = 1
			lastText = text
		}
		w.log.Debug().Int("stable", stable).Int("len", len(text)).Msg("candidate read")

		if stable >= opts.StableReads {
			return text, nil
		}
	}
}

// SnapshotLatestResponse reads the newest assistant message, trying each
// selector until one matches. The second return is false when no response
// element exists.
func (w *Waiter) SnapshotLatestResponse(ctx context.Context) (string, bool) {
	for _, sel := range responseSelectors {
		n, err := w.page.Count(ctx, sel)
		if err != nil || n == 0 {
			continue
		}
		text, err := w.page.Text(ctx, sel, n-1)
		if err != nil {
			continue
		}
		return strings.TrimSpace(text), true
	}
	return "", false
}

// SnapshotAllResponses captures every non-empty assistant message currently
// on screen, oldest first. Used to build the ignore list before asking.
func (w *Waiter) SnapshotAllResponses(ctx context.Context) []string {
	out := []string{}
	for _, sel := range responseSelectors {
		n, err := w.page.Count(ctx, sel)
		if err != nil || n == 0 {
			continue
		}
		for i := 0; i < n; i++ {
			text, err := w.page.Text(ctx, sel, i)
			if err != nil {
				continue
			}
			if t := strings.TrimSpace(text); t != "" {
				out = append(out, t)
			}
		}
		break
	}
	return out
}

// CountResponseElements counts visible assistant messages.
func (w *Waiter) CountResponseElements(ctx context.Context) int {
	for _, sel := range responseSelectors {
		n, err := w.page.Count(ctx, sel)
		if err != nil || n == 0 {
			continue
		}
		visible := 0
		for i := 0; i < n; i++ {
			v, err := w.page.Visible(ctx, sel, i)
			if err != nil {
				continue
			}
			if v {
				visible++
			}
		}
		return visible
	}
	return 0
}

func isPlaceholder(text string) bool {
	lower := strings.ToLower(text)
	for _, snippet := range placeholderSnippets {
		if strings.Contains(lower, snippet) {
			return true
		}
	}
	return false
}

func truncateForLog(text string) string {
	if len(text) > 80 {
		return text[:80] + "..."
	}
	return text
}
