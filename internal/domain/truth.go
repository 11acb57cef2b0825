package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

func ValidConfidence(c string) bool {
	switch Confidence(c) {
	case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
		return true
	}
	return false
}

// Claim is one key finding in the truth document. Claims are never deleted;
// a contradicted claim stays in place with InvalidatedBy set to the ordinal
// of the round that superseded it.
type Claim struct {
	ID            uuid.UUID  `json:"id"`
	Text          string     `json:"text"`
	Topic         string     `json:"topic,omitempty"`
	Round         int        `json:"round"`
	Confidence    Confidence `json:"confidence"`
	InvalidatedBy int        `json:"invalidated_by,omitempty"`
	SupersededBy  uuid.UUID  `json:"superseded_by,omitempty"`
}

func (c Claim) Invalidated() bool {
	return c.InvalidatedBy != 0
}

// InvalidationRecord reports one contradiction resolved during synthesis.
type InvalidationRecord struct {
	OldClaim    string     `json:"old_claim"`
	NewClaim    string     `json:"new_claim"`
	Confidence  Confidence `json:"confidence"`
	SourceRound int        `json:"source_round"`
}

// EvolutionEntry is one line of change history, one per completed round.
type EvolutionEntry struct {
	Round   int    `json:"round"`
	Summary string `json:"summary"`
}

// TruthDocument is the session-scoped, monotonically evolving synthesis of
// all completed rounds. It never shrinks: contradicted claims are marked
// invalidated in place, never removed.
type TruthDocument struct {
	SessionID        uuid.UUID        `json:"session_id"`
	StrategicContext string           `json:"strategic_context"`
	Claims           []Claim          `json:"claims"`
	Sources          []string         `json:"sources"`
	Evolution        []EvolutionEntry `json:"evolution"`
	UpdatedRound     int              `json:"updated_round"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// ActiveClaims returns claims that have not been invalidated, in display order.
func (d *TruthDocument) ActiveClaims() []Claim {
	var out []Claim
	for _, c := range d.Claims {
		if !c.Invalidated() {
			out = append(out, c)
		}
	}
	return out
}

// FindActiveClaim returns the index of the active claim with the given text,
// or -1 if none matches. Matching is exact after whitespace trimming.
func (d *TruthDocument) FindActiveClaim(text string) int {
	want := strings.TrimSpace(text)
	for i, c := range d.Claims {
		if !c.Invalidated() && strings.TrimSpace(c.Text) == want {
			return i
		}
	}
	return -1
}

// ConfidenceBuckets groups active claim texts by confidence level.
func (d *TruthDocument) ConfidenceBuckets() map[Confidence][]string {
	buckets := map[Confidence][]string{}
	for _, c := range d.ActiveClaims() {
		buckets[c.Confidence] = append(buckets[c.Confidence], c.Text)
	}
	return buckets
}

// Validate checks the document against the fixed section schema. Documents
// that fail validation are rejected at the persistence boundary.
func (d *TruthDocument) Validate() error {
	if d.SessionID == uuid.Nil {
		return fmt.Errorf("truth document: session_id is required")
	}
	if d.UpdatedRound < 1 {
		return fmt.Errorf("truth document: updated_round must be >= 1")
	}
	seen := make(map[uuid.UUID]bool, len(d.Claims))
	for i, c := range d.Claims {
		if strings.TrimSpace(c.Text) == "" {
			return fmt.Errorf("truth document: claim %d has empty text", i)
		}
		if !ValidConfidence(string(c.Confidence)) {
			return fmt.Errorf("truth document: claim %d has invalid confidence %q", i, c.Confidence)
		}
		if c.Round < 1 || c.Round > d.UpdatedRound {
			return fmt.Errorf("truth document: claim %d has out-of-range round %d", i, c.Round)
		}
		if c.InvalidatedBy != 0 && (c.InvalidatedBy < c.Round || c.InvalidatedBy > d.UpdatedRound) {
			return fmt.Errorf("truth document: claim %d invalidated by out-of-range round %d", i, c.InvalidatedBy)
		}
		if seen[c.ID] {
			return fmt.Errorf("truth document: duplicate claim id %s", c.ID)
		}
		seen[c.ID] = true
	}
	if len(d.Evolution) == 0 {
		return fmt.Errorf("truth document: evolution section is empty")
	}
	prev := 0
	for i, e := range d.Evolution {
		if strings.TrimSpace(e.Summary) == "" {
			return fmt.Errorf("truth document: evolution entry %d has empty summary", i)
		}
		if e.Round <= prev {
			return fmt.Errorf("truth document: evolution rounds not strictly increasing at entry %d", i)
		}
		prev = e.Round
	}
	if prev != d.UpdatedRound {
		return fmt.Errorf("truth document: evolution ends at round %d, expected %d", prev, d.UpdatedRound)
	}
	return nil
}

// RenderMarkdown renders the document into its fixed markdown section set:
// Strategic Context, Key Findings, Sources, Confidence Levels, Evolution.
// Invalidated claims render with strikethrough and attribution.
func (d *TruthDocument) RenderMarkdown() string {
	var b strings.Builder

	b.WriteString("# Truth Document\n\n")
	fmt.Fprintf(&b, "Last Updated: %s (round %d)\n\n", d.UpdatedAt.Format("2006-01-02"), d.UpdatedRound)

	b.WriteString("## Strategic Context\n\n")
	if strings.TrimSpace(d.StrategicContext) != "" {
		b.WriteString(strings.TrimSpace(d.StrategicContext))
		b.WriteString("\n")
	}
	b.WriteString("\n## Key Findings\n\n")
	for _, c := range d.Claims {
		if c.Invalidated() {
			fmt.Fprintf(&b, "- ~~%s~~ (Round %d, invalidated by Round %d)\n", c.Text, c.Round, c.InvalidatedBy)
		} else {
			fmt.Fprintf(&b, "- %s (Round %d, %s confidence)\n", c.Text, c.Round, c.Confidence)
		}
	}

	b.WriteString("\n## Sources\n\n")
	for _, s := range d.Sources {
		fmt.Fprintf(&b, "- %s\n", s)
	}

	b.WriteString("\n## Confidence Levels\n\n")
	buckets := d.ConfidenceBuckets()
	for _, level := range []Confidence{ConfidenceHigh, ConfidenceMedium, ConfidenceLow} {
		fmt.Fprintf(&b, "### %s\n", strings.ToUpper(string(level[:1]))+string(level[1:]))
		for _, text := range buckets[level] {
			fmt.Fprintf(&b, "- %s\n", text)
		}
		b.WriteString("\n")
	}

	b.WriteString("## Evolution\n\n")
	for _, e := range d.Evolution {
		fmt.Fprintf(&b, "- Round %d: %s\n", e.Round, e.Summary)
	}

	return b.String()
}

// Clone returns a deep copy. Truth documents are copy-on-write: synthesis
// builds a new version and the current pointer swaps only after a successful
// atomic commit.
func (d *TruthDocument) Clone() *TruthDocument {
	cp := *d
	cp.Claims = append([]Claim(nil), d.Claims...)
	cp.Sources = append([]string(nil), d.Sources...)
	cp.Evolution = append([]EvolutionEntry(nil), d.Evolution...)
	return &cp
}
