package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/ComUnity/access-gate/internal/models"
)

// Schema is applied by EnsureSchema; safe to run repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS leads (
    id          UUID PRIMARY KEY,
    email       TEXT NOT NULL,
    phone       TEXT NOT NULL,
    context     TEXT NOT NULL,
    path        TEXT NOT NULL DEFAULT '',
    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS leads_context_created_at_idx ON leads (context, created_at);
`

type postgresLeadRepository struct {
	db *sql.DB
}

func NewPostgresLeadRepository(db *sql.DB) LeadRepository {
	return &postgresLeadRepository{db: db}
}

// OpenPostgres opens and pings a lib/pq connection pool.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("apply leads schema: %w", err)
	}
	return nil
}

func (r *postgresLeadRepository) InsertLead(ctx context.Context, lead models.LeadRecord) error {
	if lead.ID == uuid.Nil {
		lead.ID = uuid.New()
	}
	const q = `
INSERT INTO leads (id, email, phone, context, path, created_at)
VALUES ($1,$2,$3,$4,$5,COALESCE($6, now()))
`
	_, err := r.db.ExecContext(ctx, q,
		lead.ID, lead.Email, lead.Phone, lead.Context, lead.Path,
		sql.NullTime{Time: lead.CreatedAt, Valid: !lead.CreatedAt.IsZero()},
	)
	if err != nil {
		return fmt.Errorf("insert lead: %w", err)
	}
	return nil
}

func (r *postgresLeadRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
