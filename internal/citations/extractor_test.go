package citations

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/nlmcp/nlmcp/internal/browser"
)

// fakeCitePage serves scripted citation markers and hover tooltips.
type fakeCitePage struct {
	// elements maps a selector to the texts of its matches.
	elements map[string][]string
	// tooltips maps "selector/idx" of a hovered marker to its tooltip text.
	tooltips map[string]string
	// labels maps "selector/idx" to the marker's aria-label.
	labels map[string]string

	activeTooltip string
	mouseParked   bool
}

func hoverKey(sel string, idx int) string { return fmt.Sprintf("%s/%d", sel, idx) }

func (f *fakeCitePage) Count(_ context.Context, sel string) (int, error) {
	if sel == "[role='tooltip']" {
		if f.activeTooltip != "" {
			return 1, nil
		}
		return 0, nil
	}
	return len(f.elements[sel]), nil
}

func (f *fakeCitePage) Text(_ context.Context, sel string, idx int) (string, error) {
	if sel == "[role='tooltip']" {
		if f.activeTooltip == "" {
			return "", fmt.Errorf("no tooltip")
		}
		return f.activeTooltip, nil
	}
	texts := f.elements[sel]
	if idx >= len(texts) {
		return "", fmt.Errorf("no element %s[%d]", sel, idx)
	}
	return texts[idx], nil
}

func (f *fakeCitePage) Visible(_ context.Context, sel string, idx int) (bool, error) {
	if sel == "[role='tooltip']" {
		return f.activeTooltip != "", nil
	}
	return idx < len(f.elements[sel]), nil
}

func (f *fakeCitePage) Hover(_ context.Context, sel string, idx int) error {
	f.activeTooltip = f.tooltips[hoverKey(sel, idx)]
	return nil
}

func (f *fakeCitePage) MoveMouse(context.Context, float64, float64) error {
	f.activeTooltip = ""
	f.mouseParked = true
	return nil
}

func (f *fakeCitePage) Attribute(_ context.Context, sel string, idx int, name string) (string, bool, error) {
	if name == "aria-label" {
		if label, ok := f.labels[hoverKey(sel, idx)]; ok {
			return label, true, nil
		}
	}
	return "", false, nil
}

func (f *fakeCitePage) Navigate(context.Context, string) error             { return nil }
func (f *fakeCitePage) Location(context.Context) (string, error)           { return "", nil }
func (f *fakeCitePage) WaitVisible(context.Context, string) error          { return nil }
func (f *fakeCitePage) Click(context.Context, string) error                { return nil }
func (f *fakeCitePage) Type(context.Context, string, string) error         { return nil }
func (f *fakeCitePage) Evaluate(context.Context, string, any) error        { return nil }
func (f *fakeCitePage) Screenshot(context.Context) ([]byte, error)         { return nil, nil }
func (f *fakeCitePage) Cookies(context.Context) ([]browser.Cookie, error)  { return nil, nil }

func TestExtractFormatNoneSkipsPage(t *testing.T) {
	// A nil page proves none-format never touches the browser.
	e := NewExtractor(nil, zerolog.Nop())

	res := e.Extract(context.Background(), "Some answer [1].", FormatNone)
	if !res.Success {
		t.Fatal("Extract() success = false, want true")
	}
	if res.FormattedAnswer != "Some answer [1]." {
		t.Errorf("Extract() formatted = %q, want unchanged", res.FormattedAnswer)
	}
	if len(res.Citations) != 0 {
		t.Errorf("Extract() citations = %d, want 0", len(res.Citations))
	}
}

func TestExtractNoMarkersIsSuccess(t *testing.T) {
	page := &fakeCitePage{elements: map[string][]string{}, tooltips: map[string]string{}}
	e := NewExtractor(page, zerolog.Nop())

	res := e.Extract(context.Background(), "An answer with no citations.", FormatInline)
	if !res.Success {
		t.Fatalf("Extract() success = false, error = %q", res.Error)
	}
	if res.FormattedAnswer != res.OriginalAnswer {
		t.Errorf("Extract() formatted = %q, want unchanged", res.FormattedAnswer)
	}
	if len(res.Citations) != 0 {
		t.Errorf("Extract() citations = %d, want 0", len(res.Citations))
	}
}

func TestExtractInline(t *testing.T) {
	page := &fakeCitePage{
		elements: map[string][]string{
			".citation-link": {"[1]", "[2]"},
		},
		tooltips: map[string]string{
			hoverKey(".citation-link", 0): "France's capital is Paris",
			hoverKey(".citation-link", 1): "Paris sits on the Seine",
		},
	}
	e := NewExtractor(page, zerolog.Nop())

	res := e.Extract(context.Background(), "Capital [1]. River [2].", FormatInline)
	if !res.Success {
		t.Fatalf("Extract() success = false, error = %q", res.Error)
	}

	wantCitations := []Citation{
		{Marker: "[1]", Number: 1, SourceText: "France's capital is Paris"},
		{Marker: "[2]", Number: 2, SourceText: "Paris sits on the Seine"},
	}
	if diff := cmp.Diff(wantCitations, res.Citations); diff != "" {
		t.Errorf("Extract() citations mismatch (-want +got):\n%s", diff)
	}

	want := `Capital [1: "France's capital is Paris"]. River [2: "Paris sits on the Seine"].`
	if res.FormattedAnswer != want {
		t.Errorf("Extract() formatted = %q, want %q", res.FormattedAnswer, want)
	}

	if !page.mouseParked {
		t.Error("Extract() never moved the pointer away after hovering")
	}
}

func TestExtractReadsSourceNameFromAriaLabel(t *testing.T) {
	page := &fakeCitePage{
		elements: map[string][]string{
			".citation-link": {"[1]"},
		},
		tooltips: map[string]string{
			hoverKey(".citation-link", 0): "an excerpt",
		},
		labels: map[string]string{
			hoverKey(".citation-link", 0): "1: Chapter 3",
		},
	}
	e := NewExtractor(page, zerolog.Nop())

	res := e.Extract(context.Background(), "Fact [1].", FormatFootnotes)
	if !res.Success {
		t.Fatalf("Extract() success = false, error = %q", res.Error)
	}
	if len(res.Citations) != 1 {
		t.Fatalf("Extract() citations = %d, want 1", len(res.Citations))
	}
	if got := res.Citations[0].SourceName; got != "Chapter 3" {
		t.Errorf("Extract() source name = %q, want %q", got, "Chapter 3")
	}
}

func TestExtractOmitsMarkersWithoutTooltips(t *testing.T) {
	page := &fakeCitePage{
		elements: map[string][]string{
			".citation-link": {"[1]", "[2]"},
		},
		tooltips: map[string]string{
			hoverKey(".citation-link", 0): "only the first tooltip renders",
		},
	}
	e := NewExtractor(page, zerolog.Nop())

	res := e.Extract(context.Background(), "A [1]. B [2].", FormatFootnotes)
	if !res.Success {
		t.Fatalf("Extract() success = false, error = %q", res.Error)
	}
	if len(res.Citations) != 1 {
		t.Fatalf("Extract() citations = %d, want 1", len(res.Citations))
	}
	if res.Citations[0].Marker != "[1]" {
		t.Errorf("Extract() citation = %s, want [1]", res.Citations[0].Marker)
	}
}

func TestExtractCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	page := &fakeCitePage{elements: map[string][]string{}, tooltips: map[string]string{}}
	e := NewExtractor(page, zerolog.Nop())

	res := e.Extract(ctx, "Answer [1].", FormatInline)
	if res.Success {
		t.Fatal("Extract() success = true on cancelled context, want false")
	}
	if res.FormattedAnswer != "Answer [1]." {
		t.Errorf("Extract() formatted = %q, want original answer", res.FormattedAnswer)
	}
}

func TestValidFormat(t *testing.T) {
	for _, f := range []Format{FormatNone, FormatInline, FormatFootnotes, FormatJSON, FormatExpanded} {
		if !ValidFormat(f) {
			t.Errorf("ValidFormat(%q) = false, want true", f)
		}
	}
	if ValidFormat("markdown") {
		t.Error(`ValidFormat("markdown") = true, want false`)
	}
}
