// Package auth covers operator credentials: bcrypt password hashing,
// HS256 access tokens, durable refresh sessions and the gin
// middleware that guards the API.
package auth

import "errors"

var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrTokenExpired       = errors.New("auth: token expired")
	ErrTokenInvalid       = errors.New("auth: token invalid")
	ErrPasswordTooShort   = errors.New("auth: password too short")
	ErrPasswordTooLong    = errors.New("auth: password too long")
)

// UserClaims is the identity carried inside an access token.
type UserClaims struct {
	UserID   string `json:"uid"`
	Username string `json:"username"`
}
