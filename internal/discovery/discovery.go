// Package discovery asks a notebook to describe itself and turns the reply
// into registry-ready metadata: a short kebab-case name, a capped
// description, and a tag list.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Metadata is the self-description a notebook produces.
type Metadata struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
}

// Asker runs one question against a notebook and returns the raw answer.
type Asker interface {
	AskNotebook(ctx context.Context, notebookURL, question string) (string, error)
}

const (
	minTags        = 8
	maxTags        = 10
	maxDescription = 150

	defaultBackoff = 2 * time.Second
)

var nameRE = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+){0,2}$`)

const discoveryPrompt = `Summarize this notebook as JSON with exactly these fields:
{"name": "<kebab-case identifier, 1 to 3 words>", "description": "<one or two sentences, at most 150 characters>", "tags": ["<8 to 10 short topic tags>"]}
Respond with only the JSON object, no prose.`

// Discoverer drives metadata discovery over an existing ask pipeline.
type Discoverer struct {
	ask Asker
	log zerolog.Logger

	backoff time.Duration
}

func NewDiscoverer(ask Asker, log zerolog.Logger) *Discoverer {
	return &Discoverer{ask: ask, log: log, backoff: defaultBackoff}
}

// DiscoverMetadata asks the notebook to self-describe and validates the
// reply. The question is retried up to maxRetries extra times with a growing
// backoff before the last error is reported.
func (d *Discoverer) DiscoverMetadata(ctx context.Context, notebookURL string, maxRetries int) (*Metadata, error) {
	attempts := maxRetries + 1
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if attempt > 1 {
			d.log.Info().Int("attempt", attempt).Msg("retrying metadata discovery")
			sleepCtx(ctx, time.Duration(attempt-1)*d.backoff)
		}

		answer, err := d.ask.AskNotebook(ctx, notebookURL, discoveryPrompt)
		if err != nil {
			lastErr = err
			d.log.Warn().Err(err).Int("attempt", attempt).Msg("discovery ask failed")
			continue
		}

		meta, err := parseMetadata(answer)
		if err != nil {
			lastErr = err
			d.log.Warn().Err(err).Int("attempt", attempt).Msg("discovery reply rejected")
			continue
		}

		d.log.Info().Str("name", meta.Name).Int("tags", len(meta.Tags)).Msg("metadata discovered")
		return meta, nil
	}
	return nil, fmt.Errorf("auto-discovery failed after %d attempt(s): %w", attempts, lastErr)
}

// parseMetadata strips markdown fences, parses the JSON, and enforces the
// metadata rules.
func parseMetadata(answer string) (*Metadata, error) {
	cleaned := stripCodeFences(answer)

	var meta Metadata
	if err := json.Unmarshal([]byte(cleaned), &meta); err != nil {
		return nil, fmt.Errorf("invalid JSON response: %w", err)
	}

	if meta.Name == "" || meta.Description == "" || len(meta.Tags) == 0 {
		return nil, fmt.Errorf("missing required fields (need name, description, tags)")
	}
	if !nameRE.MatchString(meta.Name) {
		return nil, fmt.Errorf("invalid name format %q (want kebab-case, 1 to 3 words)", meta.Name)
	}
	if len(meta.Tags) < minTags || len(meta.Tags) > maxTags {
		return nil, fmt.Errorf("invalid tags count %d (want %d to %d)", len(meta.Tags), minTags, maxTags)
	}
	for i, tag := range meta.Tags {
		if strings.TrimSpace(tag) == "" {
			return nil, fmt.Errorf("invalid tag at index %d: blank", i)
		}
	}

	meta.Description = truncateDescription(meta.Description)
	return &meta, nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// truncateDescription caps the description, preferring to cut at the last
// full sentence and falling back to an ellipsis mid-sentence.
func truncateDescription(desc string) string {
	runes := []rune(desc)
	if len(runes) <= maxDescription {
		return desc
	}
	cut := string(runes[:maxDescription])
	if i := strings.LastIndex(cut, "."); i > 0 {
		return cut[:i+1]
	}
	return string(runes[:maxDescription-3]) + "..."
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
