package models

import (
	"time"
)

// UserRole represents user roles
type UserRole string

const (
	UserRoleAdmin  UserRole = "admin"
	UserRoleClient UserRole = "client"
)

// User represents a registered account. Created by an admin, mutated by admin
// actions, deleted only by an explicit admin delete.
type User struct {
	ID           string   `json:"id" bson:"_id"`
	Name         string   `json:"name" bson:"name"`
	Email        string   `json:"email" bson:"email"`
	PasswordHash string   `json:"-" bson:"passwordHash"`
	Role         UserRole `json:"role" bson:"role"`
	Active       bool     `json:"active" bson:"active"`

	// Account validity window, YYYY-MM-DD. Empty means unbounded on that side.
	StartDate  string `json:"startDate,omitempty" bson:"startDate,omitempty"`
	ExpiryDate string `json:"expiryDate,omitempty" bson:"expiryDate,omitempty"`

	// Per-user upload limit overrides. Nil means "use the global default".
	GalleryLimit *int `json:"galleryLimit,omitempty" bson:"galleryLimit,omitempty"`
	DocLimit     *int `json:"docLimit,omitempty" bson:"docLimit,omitempty"`

	CreatedAt time.Time `json:"created_at" bson:"createdAt"`
	UpdatedAt time.Time `json:"updated_at" bson:"updatedAt"`
}

// Override returns the user's limit override for the given kind, or nil.
func (u *User) Override(kind ItemKind) *int {
	switch kind {
	case ItemKindGallery:
		return u.GalleryLimit
	case ItemKindDoc:
		return u.DocLimit
	}
	return nil
}

// WithinValidity reports whether now falls inside the account validity window.
// Unparsable dates do not block login.
func (u *User) WithinValidity(now time.Time) bool {
	if u.StartDate != "" {
		if start, err := time.Parse("2006-01-02", u.StartDate); err == nil && now.Before(start) {
			return false
		}
	}
	if u.ExpiryDate != "" {
		if expiry, err := time.Parse("2006-01-02", u.ExpiryDate); err == nil && now.After(expiry.Add(24*time.Hour)) {
			return false
		}
	}
	return true
}

// JWTClaims represents JWT token claims
type JWTClaims struct {
	UserID string   `json:"user_id"`
	Email  string   `json:"email"`
	Role   UserRole `json:"role"`
}
