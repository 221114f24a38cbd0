package search

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	sourcesHeading = regexp.MustCompile(`(?im)^\s*\**sources\**\s*:?\**\s*$`)
	sourceLine     = regexp.MustCompile(`^\s*\[(\d+)\]`)
	lineURL        = regexp.MustCompile(`https?://[^\s()<>\[\]]+`)
)

func BuildSummaryPrompt(query string, sources []Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User query: %s\n\n", strings.TrimSpace(query))
	b.WriteString("Analyze the following sources and write a thorough, informative answer.\n\n")
	for i, source := range sources {
		fmt.Fprintf(&b, "[%d] %s\nURL: %s\n", i+1, source.Title, source.Link)
		if source.Content != "" {
			fmt.Fprintf(&b, "Content: %s\n\n", source.Content)
		} else {
			fmt.Fprintf(&b, "Snippet: %s\n\n", source.Snippet)
		}
	}
	b.WriteString("Requirements:\n")
	b.WriteString("1. Give a structured answer based only on the information in the sources above.\n")
	b.WriteString("2. If the sources do not contain enough information, say so.\n")
	b.WriteString("3. If sources contradict each other, point out the conflict and explain the different positions.\n")
	b.WriteString("4. End the answer with the sources you used, in this format:\n\n")
	b.WriteString("Sources:\n[1] Source title (URL)\n[2] Source title (URL)\n\n")
	fmt.Fprintf(&b, "Cite only sources that actually informed the answer, using the numbers 1 to %d listed above.\n", len(sources))
	return b.String()
}

// PruneSourceList drops entries from the trailing "Sources:" list whose index
// is outside sources, or that name a URL other than the one listed under that
// index in the prompt.
func PruneSourceList(answer string, sources []Result) string {
	locs := sourcesHeading.FindAllStringIndex(answer, -1)
	if len(locs) == 0 {
		return answer
	}
	cut := locs[len(locs)-1][1]
	head, tail := answer[:cut], answer[cut:]

	lines := strings.Split(tail, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if m := sourceLine.FindStringSubmatch(line); m != nil {
			index, err := strconv.Atoi(m[1])
			if err != nil || index < 1 || index > len(sources) {
				continue
			}
			if !citesOnly(line, sources[index-1].Link) {
				continue
			}
		}
		kept = append(kept, line)
	}
	return head + strings.Join(kept, "\n")
}

// citesOnly reports whether every URL on line is link.
func citesOnly(line, link string) bool {
	want := normalizeLink(link)
	for _, found := range lineURL.FindAllString(line, -1) {
		if normalizeLink(found) != want {
			return false
		}
	}
	return true
}

func normalizeLink(raw string) string {
	raw = strings.TrimRight(strings.TrimSpace(raw), ".,;:")
	return strings.TrimSuffix(raw, "/")
}
