package models

import (
	"time"

	"github.com/google/uuid"
)

// LeadRecord is the contact captured by a gate submission.
type LeadRecord struct {
	ID        uuid.UUID `json:"id"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Context   string    `json:"context"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}
