package domain

import "errors"

// TokenKind differentiates access and refresh tokens.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

var (
	ErrMalformedToken    = errors.New("malformed token")
	ErrInvalidSignature  = errors.New("invalid token signature")
	ErrTokenExpired      = errors.New("token expired")
	ErrTokenRevoked      = errors.New("token revoked")
	ErrWrongTokenType    = errors.New("wrong token type")
	ErrPrincipalNotFound = errors.New("principal not found")
	ErrPrincipalGone     = errors.New("principal no longer exists")
	ErrStoreUnavailable  = errors.New("store unavailable")
)

var (
	// ErrUserNotFound is returned by user lookups that find nothing.
	ErrUserNotFound = errors.New("user not found")
	// ErrDuplicateUser is returned when email or national id is already taken.
	ErrDuplicateUser = errors.New("user already exists")
)

var (
	ErrInvalidCredentials       = errors.New("invalid credentials")
	ErrAccountDisabled          = errors.New("account disabled")
	ErrInvalidResetToken        = errors.New("invalid or expired password reset token")
	ErrInvalidVerificationToken = errors.New("invalid or expired verification token")
	ErrAlreadyVerified          = errors.New("email already verified")
)
