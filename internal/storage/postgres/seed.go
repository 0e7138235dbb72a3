package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/wholesale-orders/internal/domain/auth"
	"github.com/xenking/wholesale-orders/internal/domain/product"
	"github.com/xenking/wholesale-orders/internal/domain/user"
)

const (
	upsertUser = `INSERT INTO users (id, email, name, company, vat_number, phone_number, address, role, discount_rate, approved)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
	email = EXCLUDED.email,
	name = EXCLUDED.name,
	company = EXCLUDED.company,
	vat_number = EXCLUDED.vat_number,
	phone_number = EXCLUDED.phone_number,
	address = EXCLUDED.address,
	role = EXCLUDED.role,
	discount_rate = EXCLUDED.discount_rate,
	approved = EXCLUDED.approved`

	upsertProduct = `INSERT INTO products (id, sku, name, color, size, wholesale_price, retail_price, discount_percentage, stock)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE SET
	sku = EXCLUDED.sku,
	name = EXCLUDED.name,
	color = EXCLUDED.color,
	size = EXCLUDED.size,
	wholesale_price = EXCLUDED.wholesale_price,
	retail_price = EXCLUDED.retail_price,
	discount_percentage = EXCLUDED.discount_percentage,
	stock = EXCLUDED.stock`

	upsertAPIKey = `INSERT INTO api_keys (id, key_hash, name, user_id, scopes)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (key_hash) DO UPDATE SET name = EXCLUDED.name, user_id = EXCLUDED.user_id, scopes = EXCLUDED.scopes, active = TRUE`

	ensureCart = `INSERT INTO carts (id, user_id) VALUES ($1, $2)
ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
RETURNING id`

	upsertCartItem = `INSERT INTO cart_items (id, cart_id, product_id, quantity)
VALUES ($1, $2, $3, $4)
ON CONFLICT (cart_id, product_id) DO UPDATE SET quantity = EXCLUDED.quantity`
)

// Seeder writes fixture data. It is used by the seed tool and tests; the
// API never mutates catalog, users or carts.
type Seeder struct {
	db DB
}

// NewSeeder returns a Seeder that uses the given pool.
func NewSeeder(db DB) *Seeder {
	return &Seeder{db: db}
}

// UpsertUser inserts or replaces a user.
func (s *Seeder) UpsertUser(ctx context.Context, u user.User) error {
	if u.Role == "" {
		u.Role = user.RoleUser
	}
	if _, err := s.db.Exec(ctx, upsertUser,
		u.ID, u.Email, u.Name, u.Company, u.VATNumber, u.PhoneNumber, u.Address,
		string(u.Role), u.DiscountRate, u.Approved,
	); err != nil {
		return errors.Wrapf(err, "upsert user %q", u.Email)
	}
	return nil
}

// UpsertProduct inserts or replaces a product.
func (s *Seeder) UpsertProduct(ctx context.Context, p product.Product) error {
	if _, err := s.db.Exec(ctx, upsertProduct,
		p.ID, p.SKU, p.Name, p.Color, p.Size,
		p.WholesalePrice, p.RetailPrice, p.DiscountPercentage, p.Stock,
	); err != nil {
		return errors.Wrapf(err, "upsert product %q", p.SKU)
	}
	return nil
}

// UpsertAPIKey stores an API key hash for a user.
func (s *Seeder) UpsertAPIKey(ctx context.Context, k auth.APIKeyInfo) error {
	if k.ID == "" {
		k.ID = uuid.New().String()
	}
	if k.Scopes == nil {
		k.Scopes = []string{}
	}
	if _, err := s.db.Exec(ctx, upsertAPIKey, k.ID, k.KeyHash, k.Name, k.UserID, k.Scopes); err != nil {
		return errors.Wrapf(err, "upsert api key %q", k.Name)
	}
	return nil
}

// SetCartItem sets the quantity of a product in the user's cart, creating
// the cart on first use.
func (s *Seeder) SetCartItem(ctx context.Context, userID, productID string, quantity int) error {
	var cartID string
	if err := s.db.QueryRow(ctx, ensureCart, uuid.New().String(), userID).Scan(&cartID); err != nil {
		return errors.Wrapf(err, "ensure cart for user %q", userID)
	}
	if _, err := s.db.Exec(ctx, upsertCartItem, uuid.New().String(), cartID, productID, quantity); err != nil {
		return errors.Wrapf(err, "set cart item %q", productID)
	}
	return nil
}
