package domain

import (
	"time"

	"github.com/google/uuid"
)

// Session is a named unit of inquiry. It owns an ordered sequence of rounds
// and a single cumulative truth document. At most one round per session may
// be non-terminal at a time.
type Session struct {
	ID        uuid.UUID `json:"session_id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
