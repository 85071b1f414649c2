package formatting

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithSourcesAppendsSection(t *testing.T) {
	report := "Quantum computing advanced rapidly [1]. Funding grew too [2]."
	resources := []string{"https://arxiv.org/abs/2501.0001", "https://example.com/funding"}

	got := WithSources(report, resources)
	assert.Contains(t, got, "## Sources")
	assert.Contains(t, got, "[1] https://arxiv.org/abs/2501.0001 (cited)")
	assert.Contains(t, got, "[2] https://example.com/funding (cited)")
}

func TestWithSourcesMarksUncited(t *testing.T) {
	got := WithSources("Only the first matters [1].", []string{"a", "b"})
	assert.Contains(t, got, "[1] a (cited)")
	assert.True(t, strings.HasSuffix(got, "[2] b"))
}

func TestWithSourcesReplacesModelSection(t *testing.T) {
	report := "Findings here [1].\n\n## Sources\n[1] stale entry the model invented"
	got := WithSources(report, []string{"https://real.example"})
	assert.NotContains(t, got, "stale entry")
	assert.Contains(t, got, "[1] https://real.example (cited)")
}

func TestWithSourcesNoResourcesIsIdentity(t *testing.T) {
	report := "No resources supplied [1]."
	assert.Equal(t, report, WithSources(report, nil))
}

func TestWithSourcesEmptyReport(t *testing.T) {
	assert.Equal(t, "", WithSources("", []string{"a"}))
}
