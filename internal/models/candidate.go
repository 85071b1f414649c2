package models

import "strings"

// Candidate is one disambiguated identity extracted from person search results.
// Immutable once produced.
type Candidate struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Title    string `json:"title,omitempty"`
	Company  string `json:"company,omitempty"`
	Location string `json:"location,omitempty"`
	LinkedIn string `json:"linkedin,omitempty"`
	Summary  string `json:"summary"`
}

// EnrichedQuery synthesizes a research query from the candidate's known
// attributes. Each fragment is appended only when present.
func (c *Candidate) EnrichedQuery() string {
	parts := []string{c.Name}
	if c.Title != "" {
		parts = append(parts, c.Title)
	}
	if c.Company != "" {
		parts = append(parts, "at "+c.Company)
	}
	if c.Location != "" {
		parts = append(parts, "in "+c.Location)
	}
	return strings.Join(parts, " ")
}
