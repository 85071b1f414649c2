package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePlanJSON = `{
	"title": "Quantum error correction survey",
	"thought": "Need recent results plus a synthesis pass.",
	"locale": "en-US",
	"has_enough_context": false,
	"steps": [
		{"title": "Collect papers", "description": "Gather 2024-2025 publications", "step_type": "research", "need_search": true},
		{"title": "Summarize themes", "description": "Cluster findings by approach", "step_type": "processing"}
	]
}`

func TestParsePlan(t *testing.T) {
	p, err := ParsePlan(samplePlanJSON)
	require.NoError(t, err)
	assert.Equal(t, "Quantum error correction survey", p.Title)
	require.Len(t, p.Steps, 2)
	assert.Equal(t, StepTypeResearch, p.Steps[0].StepType)
	assert.True(t, p.Steps[0].NeedSearch)
	assert.Equal(t, StepTypeProcessing, p.Steps[1].StepType)
	assert.False(t, p.HasEnoughContext)
}

func TestParsePlanStripsMarkdownFences(t *testing.T) {
	fenced := "```json\n" + samplePlanJSON + "\n```"
	p, err := ParsePlan(fenced)
	require.NoError(t, err)
	assert.Len(t, p.Steps, 2)

	bare := "```\n" + samplePlanJSON + "\n```"
	p, err = ParsePlan(bare)
	require.NoError(t, err)
	assert.Len(t, p.Steps, 2)
}

func TestParsePlanRejectsGarbage(t *testing.T) {
	_, err := ParsePlan("I could not produce a plan, sorry.")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "plan parse")
}

func TestParsePlanRejectsEmptyStepsWithoutContext(t *testing.T) {
	_, err := ParsePlan(`{"title": "x", "has_enough_context": false, "steps": []}`)
	require.Error(t, err)
}

func TestParsePlanAllowsEmptyStepsWithEnoughContext(t *testing.T) {
	p, err := ParsePlan(`{"title": "x", "has_enough_context": true, "steps": []}`)
	require.NoError(t, err)
	assert.True(t, p.HasEnoughContext)
}

func TestCurrentStepAdvancesWithResults(t *testing.T) {
	p, err := ParsePlan(samplePlanJSON)
	require.NoError(t, err)

	assert.Equal(t, 0, p.CurrentStep())

	res := "found 12 relevant papers"
	p.Steps[0].ExecutionRes = &res
	assert.Equal(t, 1, p.CurrentStep())

	res2 := "three dominant approaches identified"
	p.Steps[1].ExecutionRes = &res2
	assert.Equal(t, -1, p.CurrentStep())
}

func TestCompletedDigestStopsAtFirstUnfinished(t *testing.T) {
	p, err := ParsePlan(samplePlanJSON)
	require.NoError(t, err)

	assert.Empty(t, p.CompletedDigest())

	res := "found 12 relevant papers"
	p.Steps[0].ExecutionRes = &res
	digest := p.CompletedDigest()
	assert.Contains(t, digest, "Collect papers")
	assert.Contains(t, digest, "found 12 relevant papers")
	assert.NotContains(t, digest, "Summarize themes")
}

func TestEnrichedQuery(t *testing.T) {
	c := Candidate{Name: "Jordan Reyes", Title: "VP Engineering", Company: "Acme Robotics", Location: "Austin"}
	assert.Equal(t, "Jordan Reyes VP Engineering at Acme Robotics in Austin", c.EnrichedQuery())

	minimal := Candidate{Name: "Jordan Reyes"}
	assert.Equal(t, "Jordan Reyes", minimal.EnrichedQuery())

	noTitle := Candidate{Name: "Jordan Reyes", Company: "Acme Robotics"}
	assert.Equal(t, "Jordan Reyes at Acme Robotics", noTitle.EnrichedQuery())
}
