package browser

import (
	"math/rand"
	"time"

	"github.com/chromedp/chromedp"
)

// Typing and click pacing. Google's login flow rejects obviously scripted
// input, so keystrokes and clicks carry small randomized delays.
const (
	minKeyDelay = 50 * time.Millisecond
	maxKeyDelay = 150 * time.Millisecond

	minPause = 200 * time.Millisecond
	maxPause = 600 * time.Millisecond
)

func randomDelay(min, max time.Duration) time.Duration {
	return min + time.Duration(rand.Int63n(int64(max-min)))
}

// pacePause is a short randomized settle before an interaction.
func pacePause() chromedp.Action {
	return chromedp.Sleep(randomDelay(minPause, maxPause))
}

// humanKeystrokes types text one rune at a time with per-key jitter.
func humanKeystrokes(text string) []chromedp.Action {
	actions := make([]chromedp.Action, 0, len(text)*2)
	for _, r := range text {
		actions = append(actions,
			chromedp.Sleep(randomDelay(minKeyDelay, maxKeyDelay)),
			chromedp.KeyEvent(string(r)),
		)
	}
	return actions
}
