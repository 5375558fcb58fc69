package store

import (
	"context"
	"fmt"

	"toeicprep/models"

	"github.com/lib/pq"
)

const userColumns = `id, email, password_hash, name, role, is_verified, is_active,
	google_id, stripe_customer_id, last_login_at, created_at, updated_at`

func (s *Store) CreateUser(ctx context.Context, email, passwordHash, name string) (models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u, `
		INSERT INTO users (email, password_hash, name)
		VALUES ($1, $2, $3)
		RETURNING `+userColumns,
		email, passwordHash, name,
	)
	if isUniqueViolation(err) {
		return models.User{}, ErrDuplicate
	}
	if err != nil {
		return models.User{}, fmt.Errorf("create user: %w", err)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
	return u, notFound(err)
}

func (s *Store) GetUserByID(ctx context.Context, id string) (models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return u, notFound(err)
}

// UpsertGoogleUser links a Google identity to the account with the same
// email, creating a verified account when none exists.
func (s *Store) UpsertGoogleUser(ctx context.Context, googleID, email, name string) (models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u, `
		INSERT INTO users (email, name, google_id, is_verified)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (email) DO UPDATE
		SET google_id = EXCLUDED.google_id,
		    is_verified = TRUE,
		    name = CASE WHEN users.name = '' THEN EXCLUDED.name ELSE users.name END,
		    updated_at = NOW()
		RETURNING `+userColumns,
		email, name, googleID,
	)
	if err != nil {
		return models.User{}, fmt.Errorf("upsert google user: %w", err)
	}
	return u, nil
}

func (s *Store) TouchLogin(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET last_login_at = NOW() WHERE id = $1`, id)
	return err
}

func (s *Store) UpdateProfile(ctx context.Context, id, name string) (models.User, error) {
	var u models.User
	err := s.db.GetContext(ctx, &u, `
		UPDATE users SET name = $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+userColumns,
		id, name,
	)
	return u, notFound(err)
}

func (s *Store) SetUserRole(ctx context.Context, id, role string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET role = $2, updated_at = NOW() WHERE id = $1`, id, role)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) SetStripeCustomerID(ctx context.Context, userID, customerID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET stripe_customer_id = $2, updated_at = NOW() WHERE id = $1`, userID, customerID)
	return err
}

// NotifiableUsers resolves ids to users that may receive email: verified and
// active accounts only.
func (s *Store) NotifiableUsers(ctx context.Context, ids []string) ([]models.User, error) {
	users := []models.User{}
	err := s.db.SelectContext(ctx, &users, `
		SELECT `+userColumns+`
		FROM users
		WHERE id = ANY($1) AND is_verified AND is_active
		ORDER BY email`,
		pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}
	return users, nil
}
