package user

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested user does not exist.
var ErrNotFound = errors.New("user not found")

// Role is the account role used for authorization.
type Role string

const (
	RoleUser    Role = "USER"
	RoleAdmin   Role = "ADMIN"
	RoleManager Role = "MANAGER"
)

// User is a wholesale account holder. Optional invoice fields are empty
// strings when unset.
type User struct {
	ID          string
	Email       string
	Name        string
	Company     string
	VATNumber   string
	PhoneNumber string
	Address     string
	Role        Role
	// DiscountRate is a fraction in [0, 1] applied to every order.
	DiscountRate decimal.Decimal
	// Approved gates access; unapproved accounts cannot use the API.
	Approved  bool
	CreatedAt time.Time
}

// Repository provides read access to users.
type Repository interface {
	GetByID(ctx context.Context, id string) (*User, error)
}
