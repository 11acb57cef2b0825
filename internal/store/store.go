package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("not found")

// Store is a filesystem-backed artifact store. Layout under the root:
//
//	sessions/<session-id>/session.json
//	sessions/<session-id>/session-metadata.json
//	sessions/<session-id>/truth.json
//	sessions/<session-id>/autosave/<name>
//	sessions/<session-id>/rounds/<round-id>/round-state.json
//	sessions/<session-id>/rounds/<round-id>/findings.json
//	sessions/<session-id>/rounds/<round-id>/critique.json
//	sessions/<session-id>/rounds/<round-id>/round-metadata.json
//
// Every write goes through the atomic write-temp-then-rename primitive, so a
// reader never observes a partially written artifact. The filesystem is the
// only shared resource; sessions never share files with each other.
type Store struct {
	root string
}

func New(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("store root is required")
	}
	return &Store{root: root}, nil
}

func (s *Store) sessionsDir() string {
	return filepath.Join(s.root, "sessions")
}

func (s *Store) sessionDir(sessionID uuid.UUID) string {
	return filepath.Join(s.sessionsDir(), sessionID.String())
}

func (s *Store) sessionPath(sessionID uuid.UUID) string {
	return filepath.Join(s.sessionDir(sessionID), "session.json")
}

func (s *Store) sessionMetadataPath(sessionID uuid.UUID) string {
	return filepath.Join(s.sessionDir(sessionID), "session-metadata.json")
}

func (s *Store) truthPath(sessionID uuid.UUID) string {
	return filepath.Join(s.sessionDir(sessionID), "truth.json")
}

func (s *Store) autosavePath(sessionID uuid.UUID, name string) (string, error) {
	if name != filepath.Base(name) || name == "." || name == ".." || strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("invalid autosave name %q", name)
	}
	return filepath.Join(s.sessionDir(sessionID), "autosave", name), nil
}

func (s *Store) roundsDir(sessionID uuid.UUID) string {
	return filepath.Join(s.sessionDir(sessionID), "rounds")
}

func (s *Store) roundDir(sessionID, roundID uuid.UUID) string {
	return filepath.Join(s.roundsDir(sessionID), roundID.String())
}

func (s *Store) roundStatePath(sessionID, roundID uuid.UUID) string {
	return filepath.Join(s.roundDir(sessionID, roundID), "round-state.json")
}

func (s *Store) findingsPath(sessionID, roundID uuid.UUID) string {
	return filepath.Join(s.roundDir(sessionID, roundID), "findings.json")
}

func (s *Store) critiquePath(sessionID, roundID uuid.UUID) string {
	return filepath.Join(s.roundDir(sessionID, roundID), "critique.json")
}

func (s *Store) roundMetadataPath(sessionID, roundID uuid.UUID) string {
	return filepath.Join(s.roundDir(sessionID, roundID), "round-metadata.json")
}
