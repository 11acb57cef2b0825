package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type GapSeverity string

const (
	SeverityCritical GapSeverity = "critical"
	SeverityMajor    GapSeverity = "major"
	SeverityMinor    GapSeverity = "minor"
)

func ValidGapSeverity(s string) bool {
	switch GapSeverity(s) {
	case SeverityCritical, SeverityMajor, SeverityMinor:
		return true
	}
	return false
}

// Gap is one identified weakness in a round's findings.
type Gap struct {
	Description string      `json:"gap_description"`
	Severity    GapSeverity `json:"severity"`
	RelevantTo  string      `json:"relevant_to,omitempty"`
}

// CritiqueDocument is the independent gap analysis of one round's raw
// findings. It is derived from the findings alone, never from the truth
// document, so critique and synthesis can run concurrently.
type CritiqueDocument struct {
	RoundID     uuid.UUID `json:"round_id"`
	Strengths   []string  `json:"strengths,omitempty"`
	Gaps        []Gap     `json:"gaps"`
	NextSteps   []string  `json:"next_steps,omitempty"`
	GeneratedAt time.Time `json:"generated_at"`
}

func (c *CritiqueDocument) Validate() error {
	if c.RoundID == uuid.Nil {
		return fmt.Errorf("critique document: round_id is required")
	}
	for i, g := range c.Gaps {
		if strings.TrimSpace(g.Description) == "" {
			return fmt.Errorf("critique document: gap %d has empty description", i)
		}
		if !ValidGapSeverity(string(g.Severity)) {
			return fmt.Errorf("critique document: gap %d has invalid severity %q", i, g.Severity)
		}
	}
	return nil
}

// RenderMarkdown renders the critique in the analyst report layout.
func (c *CritiqueDocument) RenderMarkdown() string {
	var b strings.Builder
	b.WriteString("# Critical Analysis\n\n")

	b.WriteString("## Strengths\n\n")
	for _, s := range c.Strengths {
		fmt.Fprintf(&b, "- %s\n", s)
	}

	b.WriteString("\n## Critical Concerns\n\n")
	for _, level := range []GapSeverity{SeverityCritical, SeverityMajor, SeverityMinor} {
		for _, g := range c.Gaps {
			if g.Severity != level {
				continue
			}
			fmt.Fprintf(&b, "- [%s] %s", g.Severity, g.Description)
			if g.RelevantTo != "" {
				fmt.Fprintf(&b, " (relevant to: %s)", g.RelevantTo)
			}
			b.WriteString("\n")
		}
	}

	b.WriteString("\n## Recommended Next Steps\n\n")
	for i, s := range c.NextSteps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	return b.String()
}
