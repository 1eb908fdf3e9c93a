package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/repair-service/internal/domain"
	apperrors "github.com/spec-kit/repair-service/pkg/util"
)

// ContactRepository is the directory of notification addresses.
// Suppliers are keyed by supplier kind, other parties by their id.
type ContactRepository interface {
	Get(ctx context.Context, role domain.Role, ref string) (*domain.Contact, error)
	Upsert(ctx context.Context, contact *domain.Contact) error
}

type contactRepository struct {
	pool *pgxpool.Pool
}

// NewContactRepository returns a Postgres-backed implementation.
func NewContactRepository(pool *pgxpool.Pool) ContactRepository {
	return &contactRepository{pool: pool}
}

func (r *contactRepository) Get(ctx context.Context, role domain.Role, ref string) (*domain.Contact, error) {
	const query = `
        SELECT role, ref, name, phone, email
        FROM contacts WHERE role=$1 AND ref=$2`
	var contact domain.Contact
	if err := r.pool.QueryRow(ctx, query, role, ref).Scan(
		&contact.Role,
		&contact.Ref,
		&contact.Name,
		&contact.Phone,
		&contact.Email,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewNotFound("contact", map[string]any{"role": role, "ref": ref})
		}
		return nil, err
	}
	return &contact, nil
}

func (r *contactRepository) Upsert(ctx context.Context, contact *domain.Contact) error {
	const query = `
        INSERT INTO contacts (role, ref, name, phone, email)
        VALUES ($1,$2,$3,$4,$5)
        ON CONFLICT (role, ref) DO UPDATE SET name=EXCLUDED.name, phone=EXCLUDED.phone, email=EXCLUDED.email, updated_at=NOW()`
	_, err := r.pool.Exec(ctx, query,
		contact.Role,
		contact.Ref,
		contact.Name,
		contact.Phone,
		contact.Email,
	)
	return err
}
