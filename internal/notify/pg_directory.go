package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/courtbook/relay/internal/domain"
)

// pgDirectory resolves recipients against the platform's user tables.
// Those tables are owned and migrated by the core application; this
// service only reads them.
type pgDirectory struct {
	pool *pgxpool.Pool
}

// NewPgDirectory returns a Directory backed by the shared platform
// database.
func NewPgDirectory(pool *pgxpool.Pool) Directory {
	return &pgDirectory{pool: pool}
}

func (d *pgDirectory) User(ctx context.Context, id string) (*Identity, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT id, name, COALESCE(email, ''), COALESCE(phone, '')
		FROM users WHERE id = $1`, id)
	return scanIdentity(row)
}

func (d *pgDirectory) AcademyOwner(ctx context.Context, academyID string) (*Identity, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT u.id, u.name, COALESCE(u.email, ''), COALESCE(u.phone, '')
		FROM academies a
		JOIN users u ON u.id = a.owner_id
		WHERE a.id = $1`, academyID)
	return scanIdentity(row)
}

func (d *pgDirectory) UsersByRoles(ctx context.Context, roles []string) ([]Identity, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT DISTINCT u.id, u.name, COALESCE(u.email, ''), COALESCE(u.phone, '')
		FROM users u
		JOIN user_roles ur ON ur.user_id = u.id
		WHERE ur.role = ANY($1)`, roles)
	if err != nil {
		return nil, fmt.Errorf("query users by roles: %w", err)
	}
	defer rows.Close()

	var out []Identity
	for rows.Next() {
		var id Identity
		if err := rows.Scan(&id.UserID, &id.Name, &id.Email, &id.Phone); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func scanIdentity(row pgx.Row) (*Identity, error) {
	var id Identity
	err := row.Scan(&id.UserID, &id.Name, &id.Email, &id.Phone)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRecipientNotFound
	}
	if err != nil {
		return nil, err
	}
	return &id, nil
}
