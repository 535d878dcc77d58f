package citations

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// FormatAnswer rewrites answer with the extracted sources. With no citations
// or FormatNone the answer passes through untouched. FormatJSON also leaves
// the text alone; its citations travel separately in the Result.
func FormatAnswer(answer string, citations []Citation, format Format) string {
	if len(citations) == 0 || format == FormatNone {
		return answer
	}

	switch format {
	case FormatInline:
		return formatInline(answer, citations)
	case FormatFootnotes:
		return formatFootnotes(answer, citations)
	case FormatExpanded:
		return formatExpanded(answer, citations)
	default:
		return answer
	}
}

// byNumberDescending orders citations so [10] is substituted before [1];
// ascending order would corrupt double-digit markers.
func byNumberDescending(citations []Citation) []Citation {
	sorted := make([]Citation, len(citations))
	copy(sorted, citations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Number > sorted[j].Number })
	return sorted
}

// formatInline turns each marker into [n: "excerpt"].
func formatInline(answer string, citations []Citation) string {
	result := answer
	for _, c := range byNumberDescending(citations) {
		repl := fmt.Sprintf(`[%d: "%s"]`, c.Number, truncateSource(c.SourceText, 100))
		result = substituteMarker(result, c.Number, repl)
	}
	return result
}

// formatExpanded replaces each marker with the quoted excerpt itself.
func formatExpanded(answer string, citations []Citation) string {
	result := answer
	for _, c := range byNumberDescending(citations) {
		repl := fmt.Sprintf(`"%s"`, truncateSource(c.SourceText, 150))
		result = substituteMarker(result, c.Number, repl)
	}
	return result
}

// formatFootnotes appends a sources block below the answer, one entry per
// citation in extraction order.
func formatFootnotes(answer string, citations []Citation) string {
	entries := make([]string, 0, len(citations))
	for _, c := range citations {
		name := ""
		if c.SourceName != "" {
			name = c.SourceName + ": "
		}
		entries = append(entries, fmt.Sprintf("%s %s%s", c.Marker, name, c.SourceText))
	}
	return answer + "\n\n---\n**Sources:**\n" + strings.Join(entries, "\n\n")
}

// substituteMarker replaces every occurrence of citation number num. It
// first tries the bracketed form [n]; failing that it matches superscript
// digits glued to the preceding word, including runs of adjacent citation
// numbers, keeping whatever followed the digit intact.
func substituteMarker(text string, num int, repl string) string {
	bracketed := regexp.MustCompile(regexp.QuoteMeta(fmt.Sprintf("[%d]", num)))
	if bracketed.MatchString(text) {
		return bracketed.ReplaceAllLiteralString(text, repl)
	}

	superscript := regexp.MustCompile(fmt.Sprintf(`(\D)%d([,.;:\s]|\d|$)`, num))
	if superscript.MatchString(text) {
		return superscript.ReplaceAllStringFunc(text, func(m string) string {
			sub := superscript.FindStringSubmatch(m)
			return sub[1] + repl + sub[2]
		})
	}
	return text
}

// truncateSource caps an excerpt, reserving room for the ellipsis.
func truncateSource(text string, maxLength int) string {
	runes := []rune(text)
	if len(runes) <= maxLength {
		return text
	}
	return string(runes[:maxLength-3]) + "..."
}
