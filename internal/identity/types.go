// Package identity implements the user store (C2): account records, OAuth
// account linkage, TOTP two-factor enrollment, and the password-reset and
// email-verification token flows. Refresh-token sessions are a separate
// concern handled by internal/session.
package identity

import (
	"errors"
	"time"
)

var (
	ErrUserNotFound         = errors.New("user not found")
	ErrUserAlreadyExists    = errors.New("user with this email already exists")
	ErrUserInactive         = errors.New("user account is inactive")
	ErrInvalidCredentials   = errors.New("invalid email or password")
	ErrTOTPRequired         = errors.New("totp verification required")
	ErrTOTPAlreadyEnabled   = errors.New("totp is already enabled")
	ErrTOTPNotEnabled       = errors.New("totp is not enabled")
	ErrInvalidTOTPCode      = errors.New("invalid totp or backup code")
	ErrOAuthAccountLinked   = errors.New("oauth account is already linked to a different user")
	ErrTokenNotFound        = errors.New("token not found")
	ErrTokenExpired         = errors.New("token has expired")
	ErrTokenAlreadyUsed     = errors.New("token has already been used")
)

// User is an account record.
type User struct {
	ID             string
	Email          string
	PasswordHash   string
	IsAdmin        bool
	IsActive       bool
	EmailVerified  bool
	TOTPEnabled    bool
	BackupCodes    string // JSON-encoded []backupCode; empty when TOTP disabled
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// OAuthAccount links a User to a provider identity.
type OAuthAccount struct {
	ID             string
	UserID         string
	ProviderID     string
	ProviderUserID string
	Email          string
	Name           string
	PictureURL     string
	CreatedAt      time.Time
}

// TOTPEnrollment is returned by BeginTOTPEnrollment; the secret is not
// persisted until the caller confirms a current code via ConfirmTOTP.
type TOTPEnrollment struct {
	Secret      string
	URI         string
	BackupCodes []string
}

type backupCode struct {
	Hash string `json:"hash"`
	Used bool   `json:"used"`
}
