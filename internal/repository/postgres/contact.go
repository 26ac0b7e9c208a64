package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/adirachman/wa-broadcast-api/internal/model"
	"github.com/adirachman/wa-broadcast-api/internal/repository"
)

type contactRepository struct {
	BaseRepository
}

func NewContactRepository(base BaseRepository) repository.ContactRepository {
	return &contactRepository{base}
}

func (r *contactRepository) GetByPhone(ctx context.Context, phone string) (*model.Contact, error) {
	query := `SELECT * FROM contacts WHERE phone = $1`

	var contact model.Contact
	err := r.db.GetContext(ctx, &contact, query, phone)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return &contact, nil
}

func (r *contactRepository) Upsert(ctx context.Context, contact *model.Contact) error {
	query := `
		INSERT INTO contacts (id, phone, name, platform, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (phone) DO UPDATE
		SET name = EXCLUDED.name, platform = EXCLUDED.platform, updated_at = EXCLUDED.updated_at
	`
	if contact.ID == uuid.Nil {
		contact.ID = uuid.New()
		contact.CreatedAt = time.Now()
	}
	contact.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, query,
		contact.ID,
		contact.Phone,
		contact.Name,
		contact.Platform,
		contact.CreatedAt,
		contact.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert contact: %w", err)
	}
	return nil
}
