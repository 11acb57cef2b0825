package store

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/drophq/drophq/internal/domain"
	"github.com/google/uuid"
)

func (s *Store) CreateSession(ctx context.Context, sess *domain.Session) error {
	if _, err := os.Stat(s.sessionPath(sess.ID)); err == nil {
		return fmt.Errorf("session %s already exists", sess.ID)
	}
	data, err := marshalIndent(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := writeFileAtomic(s.sessionPath(sess.ID), data, 0o644); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*domain.Session, error) {
	var sess domain.Session
	if err := readJSONStrict(s.sessionPath(id), &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// ListSessions returns all sessions sorted by creation time, oldest first.
func (s *Store) ListSessions(ctx context.Context) ([]domain.Session, error) {
	entries, err := os.ReadDir(s.sessionsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var sessions []domain.Session
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		id, err := uuid.Parse(e.Name())
		if err != nil {
			continue
		}
		sess, err := s.GetSession(ctx, id)
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			return nil, fmt.Errorf("load session %s: %w", e.Name(), err)
		}
		sessions = append(sessions, *sess)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
	return sessions, nil
}

func (s *Store) LoadTruth(ctx context.Context, sessionID uuid.UUID) (*domain.TruthDocument, error) {
	var doc domain.TruthDocument
	if err := readJSONStrict(s.truthPath(sessionID), &doc); err != nil {
		return nil, err
	}
	if err := doc.Validate(); err != nil {
		return nil, fmt.Errorf("truth document on disk: %w", err)
	}
	return &doc, nil
}

func (s *Store) LoadSessionMetadata(ctx context.Context, sessionID uuid.UUID) (*domain.SessionMetadata, error) {
	var m domain.SessionMetadata
	if err := readJSONStrict(s.sessionMetadataPath(sessionID), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) SaveSessionMetadata(ctx context.Context, m *domain.SessionMetadata) error {
	data, err := marshalIndent(m)
	if err != nil {
		return fmt.Errorf("marshal session metadata: %w", err)
	}
	if err := writeFileAtomic(s.sessionMetadataPath(m.SessionID), data, 0o644); err != nil {
		return fmt.Errorf("write session metadata: %w", err)
	}
	return nil
}

// Autosave persists caller-owned conversational state with the same atomic
// primitive the artifact writes use.
func (s *Store) Autosave(ctx context.Context, sessionID uuid.UUID, name string, content []byte) error {
	path, err := s.autosavePath(sessionID, name)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(path, content, 0o644); err != nil {
		return fmt.Errorf("autosave %s: %w", name, err)
	}
	return nil
}

func (s *Store) LoadAutosave(ctx context.Context, sessionID uuid.UUID, name string) ([]byte, error) {
	path, err := s.autosavePath(sessionID, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}
