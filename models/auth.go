package models

import (
	"time"
)

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

type User struct {
	ID               string     `json:"id" db:"id"`
	Email            string     `json:"email" db:"email"`
	PasswordHash     *string    `json:"-" db:"password_hash"`
	Name             string     `json:"name" db:"name"`
	Role             string     `json:"role" db:"role"`
	IsVerified       bool       `json:"is_verified" db:"is_verified"`
	IsActive         bool       `json:"is_active" db:"is_active"`
	GoogleID         *string    `json:"-" db:"google_id"`
	StripeCustomerID *string    `json:"-" db:"stripe_customer_id"`
	LastLoginAt      *time.Time `json:"last_login_at,omitempty" db:"last_login_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}
