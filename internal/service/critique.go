package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/drophq/drophq/internal/domain"
	"go.uber.org/zap"
)

// ErrManualCritiqueRequired mirrors ErrManualSynthesisRequired for the
// critique schema: two invalid responses surface a caller decision.
var ErrManualCritiqueRequired = errors.New("critique output invalid after repair retry; manual decision required")

// CritiqueService runs the independent gap analysis over a round's raw
// findings. It never reads the truth document, so it has no ordering
// dependency on synthesis and the two can fan out concurrently.
type CritiqueService struct {
	client domain.GenerationClient
	logger *zap.Logger
}

func NewCritiqueService(client domain.GenerationClient, logger *zap.Logger) *CritiqueService {
	return &CritiqueService{client: client, logger: logger}
}

func (s *CritiqueService) Analyze(ctx context.Context, round *domain.Round, findings []domain.Finding) (*domain.CritiqueDocument, error) {
	req := domain.CritiqueRequest{
		RoundOrdinal: round.Ordinal,
		Findings:     findings,
	}

	raw, err := s.client.Critique(ctx, req)
	if err != nil {
		return nil, err
	}

	output, verr := parseCritiqueOutput(raw)
	if verr != nil {
		s.logger.Warn("critique output failed validation, retrying with repair instruction",
			zap.String("round_id", round.ID.String()), zap.Error(verr))

		req.RepairNote = fmt.Sprintf("critique: %v", verr)
		raw, err = s.client.Critique(ctx, req)
		if err != nil {
			return nil, err
		}
		output, verr = parseCritiqueOutput(raw)
		if verr != nil {
			return nil, fmt.Errorf("%w: %w: %v", ErrManualCritiqueRequired, domain.ErrSchemaValidation, verr)
		}
	}

	doc := &domain.CritiqueDocument{
		RoundID:     round.ID,
		Strengths:   output.Strengths,
		Gaps:        output.Gaps,
		NextSteps:   output.NextSteps,
		GeneratedAt: time.Now().UTC(),
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w: %v", ErrManualCritiqueRequired, domain.ErrSchemaValidation, err)
	}
	return doc, nil
}

func parseCritiqueOutput(raw string) (*domain.CritiqueOutput, error) {
	var output domain.CritiqueOutput
	if err := json.Unmarshal([]byte(stripJSONFences(raw)), &output); err != nil {
		return nil, fmt.Errorf("parse critique output: %v", err)
	}
	for i, g := range output.Gaps {
		if strings.TrimSpace(g.Description) == "" {
			return nil, fmt.Errorf("critique output: gap %d has empty description", i)
		}
		if !domain.ValidGapSeverity(string(g.Severity)) {
			return nil, fmt.Errorf("critique output: gap %d has invalid severity %q", i, g.Severity)
		}
	}
	return &output, nil
}
