package types

import (
	"time"

	"github.com/google/uuid"
)

// AuthProvider constants
const (
	AuthProviderSIWE   AuthProvider = "siwe"
	AuthProviderEmail  AuthProvider = "email"
	AuthProviderPhone  AuthProvider = "phone"
	AuthProviderSocial AuthProvider = "social"
	AuthProviderGuest  AuthProvider = "guest"
)

// AuthProvider identifies how a linked account authenticates.
type AuthProvider string

// LinkedAccount is one authentication provider attached to a user.
type LinkedAccount struct {
	Provider AuthProvider `json:"provider"`
	Subject  string       `json:"subject"`
	Email    string       `json:"email,omitempty"`
	Phone    string       `json:"phone,omitempty"`
	Verified bool         `json:"verified"`
}

// User is the identity record the session context owns. Replaced wholesale
// on login, logout and refresh.
type User struct {
	ID             uuid.UUID       `json:"id"`
	LinkedAccounts []LinkedAccount `json:"linked_accounts"`
	IsGuest        bool            `json:"is_guest"`
	CreatedAt      time.Time       `json:"created_at"`
}

// VerifiedEmail returns the first verified email linked to the user.
func (u *User) VerifiedEmail() (string, bool) {
	for _, la := range u.LinkedAccounts {
		if la.Verified && la.Email != "" {
			return la.Email, true
		}
	}
	return "", false
}

// VerifiedPhone returns the first verified phone number linked to the user.
func (u *User) VerifiedPhone() (string, bool) {
	for _, la := range u.LinkedAccounts {
		if la.Verified && la.Phone != "" {
			return la.Phone, true
		}
	}
	return "", false
}
