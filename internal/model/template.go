package model

import (
	"time"

	"github.com/google/uuid"
)

// Template is a reusable message body with placeholder substitution.
type Template struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Body      string    `db:"body" json:"body"`
	ImageRef  *string   `db:"image_ref" json:"image_ref,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
