package repository

import (
	"context"

	"github.com/ComUnity/access-gate/internal/models"
)

// LeadRepository handles lead persistence in the service's own database
type LeadRepository interface {
	InsertLead(ctx context.Context, lead models.LeadRecord) error
	Ping(ctx context.Context) error
}
