// internal/model/user.go
package model

import (
	"time"
)

// Role is a coarse authorization level.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// User is an account that can purchase content.
// Purchased content is derived from approved payments and never stored here.
type User struct {
	ID           string    `json:"id" db:"id" bson:"_id"`
	Email        string    `json:"email" db:"email" bson:"email"`
	PasswordHash string    `json:"-" db:"password_hash" bson:"passwordHash"`
	Role         Role      `json:"role" db:"role" bson:"role"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at" bson:"createdAt"`
}

// RegisterRequest creates an account.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email,max=254"`
	Password string `json:"password" validate:"required,min=8,max=72"`
}

// LoginRequest exchanges credentials for a token.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// TokenResponse carries an access token.
type TokenResponse struct {
	AccessToken string    `json:"accessToken"`
	TokenType   string    `json:"tokenType"`
	ExpiresAt   time.Time `json:"expiresAt"`
	User        User      `json:"user"`
}

// PurchasesResponse lists content unlocked for a user.
type PurchasesResponse struct {
	UserID           string   `json:"userId"`
	PurchasedContent []string `json:"purchasedContent"`
}
