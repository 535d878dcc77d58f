// Package citations extracts source attributions from NotebookLM answers.
//
// NotebookLM renders citation markers ([1], superscript numbers, or glued
// digit runs) whose source excerpts only exist in hover tooltips. The
// extractor discovers the marker elements, hovers each one, captures the
// tooltip text, and rewrites the answer in the requested format.
package citations

import (
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/nlmcp/nlmcp/internal/browser"
)

// Format selects how extracted sources are merged into the answer.
type Format string

const (
	FormatNone      Format = "none"      // no extraction, answer unchanged
	FormatInline    Format = "inline"    // [1] becomes [1: "excerpt"]
	FormatFootnotes Format = "footnotes" // sources appended under the answer
	FormatJSON      Format = "json"      // answer unchanged, citations returned separately
	FormatExpanded  Format = "expanded"  // [1] replaced by the quoted excerpt
)

// ValidFormat reports whether f is a known source format.
func ValidFormat(f Format) bool {
	switch f {
	case FormatNone, FormatInline, FormatFootnotes, FormatJSON, FormatExpanded:
		return true
	}
	return false
}

// Citation is one extracted source reference.
type Citation struct {
	Marker     string `json:"marker"` // e.g. "[1]"
	Number     int    `json:"number"`
	SourceText string `json:"sourceText"`
	SourceName string `json:"sourceName,omitempty"`
}

// Result carries the rewritten answer plus everything extracted along the
// way. Success stays true on partial extraction; markers whose tooltips
// never appeared are simply absent from Citations.
type Result struct {
	OriginalAnswer  string     `json:"originalAnswer"`
	FormattedAnswer string     `json:"formattedAnswer"`
	Citations       []Citation `json:"citations"`
	Format          Format     `json:"format"`
	Success         bool       `json:"success"`
	Error           string     `json:"error,omitempty"`
}

// citationSelectors find marker elements, most specific first.
var citationSelectors = []string{
	".citation-link",
	".citation-marker",
	"[data-citation]",
	"[data-citation-id]",
	"[data-source-id]",
	"sup.citation",
	"sup[data-citation]",
	"sup a",
	".reference-marker",
	"[role='button'][aria-label*='citation']",
	"[role='button'][aria-label*='source']",
	".source-citation",
	".inline-citation",
	"button.citation",
	"[class*='citation']",
	"[class*='source-ref']",
}

// tooltipSelectors find the popover that appears while hovering a marker.
var tooltipSelectors = []string{
	"[role='tooltip']",
	".tooltip",
	".popover",
	".citation-tooltip",
	".citation-popover",
	".source-preview",
	".source-tooltip",
	".mdc-tooltip",
	".mat-tooltip",
	"[class*='tooltip']",
	"[class*='popover']",
	".citation-preview",
	".source-card",
	".source-snippet",
	"[data-tooltip]",
	"[aria-describedby]",
}

const responseContainerSelector = ".to-user-container .message-text-content"

var markerNumberRE = regexp.MustCompile(`\[?(\d+)\]?`)

// elemRef addresses a specific marker element for hovering.
type elemRef struct {
	sel string
	idx int
}

type markerElement struct {
	ref    elemRef
	marker string
	number int
}

// Extractor runs hover-based citation extraction against one page.
type Extractor struct {
	page browser.Page
	log  zerolog.Logger
}

func NewExtractor(page browser.Page, log zerolog.Logger) *Extractor {
	return &Extractor{page: page, log: log}
}

// Extract pulls sources for every citation marker in the answer and formats
// the result. FormatNone short-circuits without touching the page.
func (e *Extractor) Extract(ctx context.Context, answer string, format Format) Result {
	res := Result{
		OriginalAnswer:  answer,
		FormattedAnswer: answer,
		Citations:       []Citation{},
		Format:          format,
		Success:         true,
	}
	if format == FormatNone {
		return res
	}

	e.log.Info().Str("format", string(format)).Msg("extracting citation sources")

	elements := e.findMarkerElements(ctx, answer)
	if err := ctx.Err(); err != nil {
		res.Success = false
		res.Error = err.Error()
		return res
	}
	if len(elements) == 0 {
		e.log.Info().Msg("no citation markers found in response")
		return res
	}
	e.log.Info().Int("markers", len(elements)).Msg("citation markers located")

	for _, el := range elements {
		if err := ctx.Err(); err != nil {
			res.Success = false
			res.Error = err.Error()
			return res
		}
		sourceText, err := e.sourceViaHover(ctx, el.ref)
		if err != nil || sourceText == "" {
			e.log.Warn().Str("marker", el.marker).Err(err).Msg("could not extract source text")
			continue
		}
		res.Citations = append(res.Citations, Citation{
			Marker:     el.marker,
			Number:     el.number,
			SourceText: sourceText,
			SourceName: e.sourceName(ctx, el),
		})
		e.log.Debug().Str("marker", el.marker).Int("len", len(sourceText)).Msg("source extracted")

		sleepCtx(ctx, randomPause(100, 200))
	}

	res.FormattedAnswer = FormatAnswer(answer, res.Citations, format)
	e.log.Info().
		Int("extracted", len(res.Citations)).
		Int("markers", len(elements)).
		Msg("citation extraction finished")
	return res
}

// findMarkerElements locates clickable citation markers, first via dedicated
// selectors, then by regex over the response text with per-number element
// search strategies.
func (e *Extractor) findMarkerElements(ctx context.Context, answer string) []markerElement {
	var results []markerElement
	seen := map[int]bool{}

	for _, sel := range citationSelectors {
		n, err := e.page.Count(ctx, sel)
		if err != nil || n == 0 {
			continue
		}
		for i := 0; i < n; i++ {
			text, err := e.page.Text(ctx, sel, i)
			if err != nil {
				continue
			}
			m := markerNumberRE.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			num, err := strconv.Atoi(m[1])
			if err != nil || seen[num] {
				continue
			}
			seen[num] = true
			results = append(results, markerElement{
				ref:    elemRef{sel: sel, idx: i},
				marker: fmt.Sprintf("[%d]", num),
				number: num,
			})
		}
	}

	if len(results) == 0 {
		results = e.findMarkersByRegex(ctx, answer)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].number < results[j].number })
	return results
}

// findMarkersByRegex detects [n] markers in the response text and hunts for
// a visible element per number. Last resort is a raw XPath text scan.
func (e *Extractor) findMarkersByRegex(ctx context.Context, answer string) []markerElement {
	numbers := e.markerNumbersInResponse(ctx, answer)
	e.log.Debug().Ints("numbers", numbers).Msg("regex located citation markers")

	var results []markerElement
	for _, num := range numbers {
		strategies := []string{
			fmt.Sprintf("xpath=//a[contains(text(), '[%d]')]", num),
			fmt.Sprintf("xpath=//button[contains(text(), '[%d]')]", num),
			fmt.Sprintf("xpath=//span[contains(text(), '[%d]')]", num),
			fmt.Sprintf("[data-citation='%d']", num),
			fmt.Sprintf("[data-source='%d']", num),
			fmt.Sprintf("[aria-label*='%d']", num),
			fmt.Sprintf("xpath=//sup[contains(text(), '%d')]", num),
			fmt.Sprintf("xpath=//*[@role='button'][contains(text(), '[%d]')]", num),
			fmt.Sprintf("xpath=//*[@role='link'][contains(text(), '[%d]')]", num),
		}

		found := false
		for _, sel := range strategies {
			n, err := e.page.Count(ctx, sel)
			if err != nil || n == 0 {
				continue
			}
			visible, err := e.page.Visible(ctx, sel, 0)
			if err != nil || !visible {
				continue
			}
			results = append(results, markerElement{
				ref:    elemRef{sel: sel, idx: 0},
				marker: fmt.Sprintf("[%d]", num),
				number: num,
			})
			found = true
			break
		}

		if !found {
			if ref, ok := e.xpathTextScan(ctx, num); ok {
				results = append(results, markerElement{
					ref:    ref,
					marker: fmt.Sprintf("[%d]", num),
					number: num,
				})
				found = true
			}
		}
		if !found {
			e.log.Warn().Int("number", num).Msg("no DOM element found for citation marker")
		}
	}

	sort.Slice(results, func(i, j int) bool { return results[i].number < results[j].number })
	return results
}

// xpathTextScan finds any short visible element whose text contains [num].
// The length cap filters out whole paragraphs that merely mention the marker.
func (e *Extractor) xpathTextScan(ctx context.Context, num int) (elemRef, bool) {
	sel := fmt.Sprintf("xpath=//*[contains(text(), '[%d]')]", num)
	n, err := e.page.Count(ctx, sel)
	if err != nil {
		return elemRef{}, false
	}
	for i := 0; i < n; i++ {
		text, err := e.page.Text(ctx, sel, i)
		if err != nil {
			continue
		}
		if len(text) >= 50 {
			continue
		}
		visible, err := e.page.Visible(ctx, sel, i)
		if err != nil || !visible {
			continue
		}
		return elemRef{sel: sel, idx: i}, true
	}
	return elemRef{}, false
}

// markerNumbersInResponse collects the distinct [n] numbers, preferring the
// live response container text over the answer we already hold.
func (e *Extractor) markerNumbersInResponse(ctx context.Context, answer string) []int {
	text := answer
	if n, err := e.page.Count(ctx, responseContainerSelector); err == nil && n > 0 {
		if t, err := e.page.Text(ctx, responseContainerSelector, n-1); err == nil && t != "" {
			text = t
		}
	}

	re := regexp.MustCompile(`\[(\d+)\]`)
	seen := map[int]bool{}
	var numbers []int
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		num, err := strconv.Atoi(m[1])
		if err != nil || seen[num] {
			continue
		}
		seen[num] = true
		numbers = append(numbers, num)
	}
	sort.Ints(numbers)
	return numbers
}

// sourceViaHover hovers a marker, reads the tooltip, and always parks the
// pointer back at the origin so the popover cannot shadow later markers.
func (e *Extractor) sourceViaHover(ctx context.Context, ref elemRef) (string, error) {
	if err := e.page.Hover(ctx, ref.sel, ref.idx); err != nil {
		return "", fmt.Errorf("hover marker: %w", err)
	}
	sleepCtx(ctx, randomPause(300, 500))
	defer e.page.MoveMouse(ctx, 0, 0)

	for _, sel := range tooltipSelectors {
		n, err := e.page.Count(ctx, sel)
		if err != nil || n == 0 {
			continue
		}
		visible, err := e.page.Visible(ctx, sel, 0)
		if err != nil || !visible {
			continue
		}
		text, err := e.page.Text(ctx, sel, 0)
		if err != nil || text == "" {
			continue
		}
		return text, nil
	}

	// Fallback: the marker may point at its tooltip via aria-describedby.
	if id, ok, err := e.page.Attribute(ctx, ref.sel, ref.idx, "aria-describedby"); err == nil && ok && id != "" {
		text, err := e.page.Text(ctx, "#"+id, 0)
		if err == nil && text != "" {
			return text, nil
		}
	}
	return "", nil
}

// sourceName reads the marker's aria-label, which NotebookLM writes as
// "<number>: <source name>", and returns the name part.
func (e *Extractor) sourceName(ctx context.Context, el markerElement) string {
	label, ok, err := e.page.Attribute(ctx, el.ref.sel, el.ref.idx, "aria-label")
	if err != nil || !ok || label == "" {
		return ""
	}
	prefix := strconv.Itoa(el.number) + ": "
	if !strings.HasPrefix(label, prefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(label, prefix))
}

func randomPause(minMs, maxMs int) time.Duration {
	return time.Duration(minMs+rand.Intn(maxMs-minMs)) * time.Millisecond
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
