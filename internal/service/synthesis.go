package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/drophq/drophq/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrManualSynthesisRequired is returned when generation output failed
// schema validation twice. The findings are still valid; the caller decides
// whether to retry, so the round is NOT auto-failed.
var ErrManualSynthesisRequired = errors.New("synthesis output invalid after repair retry; manual decision required")

// SynthesisService merges one round of findings into the truth document.
// Language understanding (topic bucketing, conflict detection) is delegated
// to the generation client; the merge itself is deterministic.
type SynthesisService struct {
	client domain.GenerationClient
	logger *zap.Logger
}

func NewSynthesisService(client domain.GenerationClient, logger *zap.Logger) *SynthesisService {
	return &SynthesisService{client: client, logger: logger}
}

// SynthesisResult is the outcome of a successful merge: the new truth
// document version plus the invalidations it applied.
type SynthesisResult struct {
	Truth         *domain.TruthDocument
	Invalidations []domain.InvalidationRecord
}

// Synthesize produces the next truth document version. prior is nil only for
// the first round. The prior document is never mutated: the result is a new
// version, committed (and made current) by the caller.
func (s *SynthesisService) Synthesize(
	ctx context.Context,
	prior *domain.TruthDocument,
	round *domain.Round,
	findings []domain.Finding,
	priorIntent string,
) (*SynthesisResult, error) {
	req := domain.SynthesisRequest{
		PriorIntent:  priorIntent,
		RoundOrdinal: round.Ordinal,
		Findings:     findings,
	}
	if prior != nil {
		req.ExistingTruth = prior.RenderMarkdown()
	}

	raw, err := s.client.Synthesize(ctx, req)
	if err != nil {
		return nil, err
	}

	output, verr := s.parseOutput(raw, prior)
	if verr != nil {
		s.logger.Warn("synthesis output failed validation, retrying with repair instruction",
			zap.String("round_id", round.ID.String()), zap.Error(verr))

		req.RepairNote = fmt.Sprintf("synthesis: %v", verr)
		raw, err = s.client.Synthesize(ctx, req)
		if err != nil {
			return nil, err
		}
		output, verr = s.parseOutput(raw, prior)
		if verr != nil {
			return nil, fmt.Errorf("%w: %w: %v", ErrManualSynthesisRequired, domain.ErrSchemaValidation, verr)
		}
	}

	truth, invalidations := s.merge(prior, round, output)
	if err := truth.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w: merged document invalid: %v", ErrManualSynthesisRequired, domain.ErrSchemaValidation, err)
	}
	return &SynthesisResult{Truth: truth, Invalidations: invalidations}, nil
}

// parseOutput validates the generation response against the synthesis JSON
// contract. Any violation, including an "invalidates" reference that matches
// no active claim, counts as a schema failure eligible for the repair retry.
func (s *SynthesisService) parseOutput(raw string, prior *domain.TruthDocument) (*domain.SynthesisOutput, error) {
	var output domain.SynthesisOutput
	if err := json.Unmarshal([]byte(stripJSONFences(raw)), &output); err != nil {
		return nil, fmt.Errorf("parse synthesis output: %v", err)
	}
	if strings.TrimSpace(output.Evolution) == "" {
		return nil, fmt.Errorf("synthesis output: evolution line is empty")
	}
	for i, c := range output.Claims {
		if strings.TrimSpace(c.Text) == "" {
			return nil, fmt.Errorf("synthesis output: claim %d has empty text", i)
		}
		if !domain.ValidConfidence(c.Confidence) {
			return nil, fmt.Errorf("synthesis output: claim %d has invalid confidence %q", i, c.Confidence)
		}
		if c.Invalidates != "" {
			if prior == nil {
				return nil, fmt.Errorf("synthesis output: claim %d invalidates %q but no prior document exists", i, c.Invalidates)
			}
			if prior.FindActiveClaim(c.Invalidates) < 0 {
				return nil, fmt.Errorf("synthesis output: claim %d invalidates unknown claim %q", i, c.Invalidates)
			}
		}
	}
	return &output, nil
}

// merge applies the synthesis output to a copy of the prior document.
// Deterministic rules:
//   - existing claims are never removed; a conflicting claim is marked
//     invalidated in place, attributed to this round
//   - new claims append under Key Findings tagged with this round
//   - claims are processed in finding submission order, so when two claims
//     from one round contradict the same target, the later finding wins and
//     the earlier winner is itself invalidated by this round
//   - an empty claim set still appends the evolution line and never shrinks
//     the document
func (s *SynthesisService) merge(
	prior *domain.TruthDocument,
	round *domain.Round,
	output *domain.SynthesisOutput,
) (*domain.TruthDocument, []domain.InvalidationRecord) {
	var doc *domain.TruthDocument
	if prior != nil {
		doc = prior.Clone()
	} else {
		doc = &domain.TruthDocument{SessionID: round.SessionID}
	}

	proposed := append([]domain.ProposedClaim(nil), output.Claims...)
	sort.SliceStable(proposed, func(i, j int) bool {
		return proposed[i].FindingIndex < proposed[j].FindingIndex
	})

	// Text of active claim -> index in doc.Claims, for conflict lookup
	// including claims added earlier in this same round.
	activeIdx := make(map[string]int, len(doc.Claims))
	for i, c := range doc.Claims {
		if !c.Invalidated() {
			activeIdx[strings.TrimSpace(c.Text)] = i
		}
	}

	var invalidations []domain.InvalidationRecord
	sourceSet := make(map[string]bool, len(doc.Sources))
	for _, src := range doc.Sources {
		sourceSet[src] = true
	}

	// Original target text -> index of the claim that superseded it this
	// round. When two findings contradict the same prior claim, the later
	// one wins and the earlier winner is invalidated in turn.
	roundWinners := make(map[string]int)

	for _, pc := range proposed {
		claim := domain.Claim{
			ID:         uuid.New(),
			Text:       strings.TrimSpace(pc.Text),
			Topic:      pc.Topic,
			Round:      round.Ordinal,
			Confidence: domain.Confidence(pc.Confidence),
		}

		if pc.Invalidates != "" {
			target := strings.TrimSpace(pc.Invalidates)
			idx, ok := activeIdx[target]
			if !ok {
				idx, ok = roundWinners[target]
			}
			if ok {
				old := &doc.Claims[idx]
				old.InvalidatedBy = round.Ordinal
				old.SupersededBy = claim.ID
				delete(activeIdx, strings.TrimSpace(old.Text))
				invalidations = append(invalidations, domain.InvalidationRecord{
					OldClaim:    old.Text,
					NewClaim:    claim.Text,
					Confidence:  claim.Confidence,
					SourceRound: round.Ordinal,
				})
				roundWinners[target] = len(doc.Claims)
			}
		}

		doc.Claims = append(doc.Claims, claim)
		activeIdx[claim.Text] = len(doc.Claims) - 1

		for _, src := range pc.Sources {
			if !sourceSet[src] {
				sourceSet[src] = true
				doc.Sources = append(doc.Sources, src)
			}
		}
	}

	if strings.TrimSpace(output.StrategicContext) != "" {
		doc.StrategicContext = strings.TrimSpace(output.StrategicContext)
	}
	doc.Evolution = append(doc.Evolution, domain.EvolutionEntry{
		Round:   round.Ordinal,
		Summary: strings.TrimSpace(output.Evolution),
	})
	doc.UpdatedRound = round.Ordinal
	doc.UpdatedAt = time.Now().UTC()

	return doc, invalidations
}

// stripJSONFences removes markdown code fences some models wrap around JSON.
func stripJSONFences(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	return strings.TrimSpace(raw)
}
