package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/drophq/drophq/internal/domain"
	"github.com/drophq/drophq/internal/store"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrSessionNameEmpty   = errors.New("session name is required")
	ErrTruthNotFound      = errors.New("truth document not found")
	ErrNoCompletedRounds  = errors.New("session has no completed rounds")
	ErrAutosaveNameEmpty  = errors.New("autosave name is required")
	ErrAutosaveNotFound   = errors.New("autosave not found")
)

type SessionService struct {
	sessions domain.SessionStore
	rounds   domain.RoundStore
	logger   *zap.Logger
}

func NewSessionService(sessions domain.SessionStore, rounds domain.RoundStore, logger *zap.Logger) *SessionService {
	return &SessionService{sessions: sessions, rounds: rounds, logger: logger}
}

func (s *SessionService) Create(ctx context.Context, name string) (*domain.Session, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: %w", domain.ErrInvariantViolation, ErrSessionNameEmpty)
	}
	now := time.Now().UTC()
	sess := &domain.Session{
		ID:        uuid.New(),
		Name:      strings.TrimSpace(name),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.sessions.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	s.logger.Info("session created", zap.String("session_id", sess.ID.String()), zap.String("name", sess.Name))
	return sess, nil
}

func (s *SessionService) Get(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	sess, err := s.sessions.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return sess, nil
}

func (s *SessionService) List(ctx context.Context) ([]domain.Session, error) {
	return s.sessions.ListSessions(ctx)
}

// Truth returns the current truth document for a session. The current
// version only ever reflects rounds up to and including the last complete
// one; a partially synthesized round is never visible here.
func (s *SessionService) Truth(ctx context.Context, sessionID uuid.UUID) (*domain.TruthDocument, error) {
	if _, err := s.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	doc, err := s.sessions.LoadTruth(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrTruthNotFound
		}
		return nil, err
	}
	return doc, nil
}

func (s *SessionService) Metadata(ctx context.Context, sessionID uuid.UUID) (*domain.SessionMetadata, error) {
	if _, err := s.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	m, err := s.sessions.LoadSessionMetadata(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoCompletedRounds
		}
		return nil, err
	}
	return m, nil
}

// Autosave persists a named blob of orchestration-layer state (conversation
// transcript, current intent) with the same atomic primitive as artifacts.
func (s *SessionService) Autosave(ctx context.Context, sessionID uuid.UUID, name string, content []byte) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("%w: %w", domain.ErrInvariantViolation, ErrAutosaveNameEmpty)
	}
	if _, err := s.Get(ctx, sessionID); err != nil {
		return err
	}
	if err := s.sessions.Autosave(ctx, sessionID, name, content); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrPersistence, err)
	}
	return nil
}

func (s *SessionService) LoadAutosave(ctx context.Context, sessionID uuid.UUID, name string) ([]byte, error) {
	if _, err := s.Get(ctx, sessionID); err != nil {
		return nil, err
	}
	data, err := s.sessions.LoadAutosave(ctx, sessionID, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrAutosaveNotFound
		}
		return nil, err
	}
	return data, nil
}
