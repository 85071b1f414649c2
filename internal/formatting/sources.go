// Package formatting post-processes composed reports.
package formatting

import (
	"fmt"
	"regexp"
	"strings"
)

var citationRe = regexp.MustCompile(`\[(\d{1,3})\]`)

// WithSources rebuilds the report's Sources section from the caller-supplied
// resource list. The model's own "## Sources" section, when present, is
// replaced so the listing always covers every resource the steps were asked
// to cite. Resources referenced inline as [n] are marked used.
func WithSources(report string, resources []string) string {
	s := strings.TrimSpace(report)
	if s == "" || len(resources) == 0 {
		return report
	}

	used := map[int]bool{}
	for _, m := range citationRe.FindAllStringSubmatch(s, -1) {
		if n := parseIndex(m[1]); n > 0 {
			used[n] = true
		}
	}

	// Drop the model's Sources section. The last occurrence is the real
	// one; the body may mention the heading in prose.
	lower := strings.ToLower(s)
	if idx := strings.LastIndex(lower, "## sources"); idx != -1 {
		s = strings.TrimSpace(s[:idx])
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(s, "\n"))
	b.WriteString("\n\n## Sources\n")
	for i, r := range resources {
		label := ""
		if used[i+1] {
			label = " (cited)"
		}
		fmt.Fprintf(&b, "[%d] %s%s\n", i+1, strings.TrimSpace(r), label)
	}
	return strings.TrimRight(b.String(), "\n")
}

func parseIndex(digits string) int {
	n := 0
	for i := 0; i < len(digits); i++ {
		n = n*10 + int(digits[i]-'0')
	}
	return n
}
