package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/xenking/wholesale-orders/internal/domain/user"
)

var _ user.Repository = (*UserRepository)(nil)

const getUserByID = `SELECT id, email, COALESCE(name, ''), COALESCE(company, ''),
	COALESCE(vat_number, ''), COALESCE(phone_number, ''), COALESCE(address, ''),
	role, discount_rate, approved, created_at
FROM users WHERE id = $1`

// UserRepository reads users from PostgreSQL.
type UserRepository struct {
	db DB
}

// NewUserRepository returns a UserRepository that uses the given pool.
func NewUserRepository(db DB) *UserRepository {
	return &UserRepository{db: db}
}

// GetByID returns user.ErrNotFound when no user has the id.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*user.User, error) {
	var (
		u    user.User
		role string
	)
	err := r.db.QueryRow(ctx, getUserByID, id).Scan(
		&u.ID, &u.Email, &u.Name, &u.Company,
		&u.VATNumber, &u.PhoneNumber, &u.Address,
		&role, &u.DiscountRate, &u.Approved, &u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, user.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get user %q", id)
	}
	u.Role = user.Role(role)

	return &u, nil
}
