package identity

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/rs/zerolog/log"
)

const (
	totpIssuer      = "Relay Control Plane"
	totpSkewWindows = 1
	backupCodeCount = 10
)

// BeginTOTPEnrollment generates a fresh secret, its otpauth:// URI, and a
// set of backup codes. Nothing is persisted yet — the caller must confirm
// a current code via ConfirmTOTP before it takes effect.
func BeginTOTPEnrollment(email string) (*TOTPEnrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: email,
	})
	if err != nil {
		return nil, fmt.Errorf("generating totp secret: %w", err)
	}

	codes, err := generateBackupCodes(backupCodeCount)
	if err != nil {
		return nil, fmt.Errorf("generating backup codes: %w", err)
	}

	return &TOTPEnrollment{
		Secret:      key.Secret(),
		URI:         key.String(),
		BackupCodes: codes,
	}, nil
}

// ConfirmTOTP verifies a current code against the pending secret and, on
// success, persists it along with the hashed backup codes and flips
// totp_enabled.
func (s *Store) ConfirmTOTP(ctx context.Context, userID, secret, code string, backupCodes []string) error {
	user, err := s.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user.TOTPEnabled {
		return ErrTOTPAlreadyEnabled
	}

	if !verifyTOTPCode(secret, code) {
		return ErrInvalidTOTPCode
	}

	encoded, err := encodeBackupCodes(backupCodes)
	if err != nil {
		return fmt.Errorf("encoding backup codes: %w", err)
	}

	query := `UPDATE users SET totp_secret = ?, totp_enabled = 1, backup_codes = ?, updated_at = ? WHERE id = ?`
	_, err = s.db.ExecContext(ctx, query, secret, encoded, time.Now().UTC().Format(time.RFC3339), userID)
	if err != nil {
		return fmt.Errorf("enabling totp: %w", err)
	}

	log.Info().Str("user_id", userID).Msg("totp enabled")
	return nil
}

// DisableTOTP accepts either a live TOTP code or an unused backup code and,
// on success, atomically clears all three TOTP fields.
func (s *Store) DisableTOTP(ctx context.Context, userID, code string) error {
	secret, backupCodesJSON, err := s.getTOTPSecretAndCodes(ctx, userID)
	if err != nil {
		return err
	}
	if secret == "" {
		return ErrTOTPNotEnabled
	}

	if verifyTOTPCode(secret, code) {
		return s.clearTOTP(ctx, userID)
	}

	valid, _ := verifyBackupCode(backupCodesJSON, code)
	if !valid {
		return ErrInvalidTOTPCode
	}

	return s.clearTOTP(ctx, userID)
}

// VerifyTOTPOrBackupCode checks a login-time 2FA code, consuming a backup
// code if that's what matched. Returns (valid, wasBackupCode).
func (s *Store) VerifyTOTPOrBackupCode(ctx context.Context, userID, code string) (bool, bool, error) {
	secret, backupCodesJSON, err := s.getTOTPSecretAndCodes(ctx, userID)
	if err != nil {
		return false, false, err
	}
	if secret == "" {
		return false, false, ErrTOTPNotEnabled
	}

	if verifyTOTPCode(secret, code) {
		return true, false, nil
	}

	valid, updated := verifyBackupCode(backupCodesJSON, code)
	if !valid {
		return false, false, nil
	}

	_, err = s.db.ExecContext(ctx, `UPDATE users SET backup_codes = ?, updated_at = ? WHERE id = ?`,
		updated, time.Now().UTC().Format(time.RFC3339), userID)
	if err != nil {
		return false, false, fmt.Errorf("recording backup code use: %w", err)
	}
	return true, true, nil
}

func (s *Store) clearTOTP(ctx context.Context, userID string) error {
	query := `UPDATE users SET totp_secret = NULL, totp_enabled = 0, backup_codes = NULL, updated_at = ? WHERE id = ?`
	_, err := s.db.ExecContext(ctx, query, time.Now().UTC().Format(time.RFC3339), userID)
	if err != nil {
		return fmt.Errorf("disabling totp: %w", err)
	}
	log.Info().Str("user_id", userID).Msg("totp disabled")
	return nil
}

func (s *Store) getTOTPSecretAndCodes(ctx context.Context, userID string) (string, string, error) {
	var secret, backupCodes sql.NullString
	row := s.db.QueryRowContext(ctx, `SELECT totp_secret, backup_codes FROM users WHERE id = ?`, userID)
	if err := row.Scan(&secret, &backupCodes); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", "", ErrUserNotFound
		}
		return "", "", fmt.Errorf("loading totp state: %w", err)
	}
	return secret.String, backupCodes.String, nil
}

func verifyTOTPCode(secret, code string) bool {
	code = strings.ReplaceAll(strings.ReplaceAll(code, " ", ""), "-", "")
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}

	valid, err := totp.ValidateCustom(code, secret, time.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      totpSkewWindows,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && valid
}

func generateBackupCodes(count int) ([]string, error) {
	codes := make([]string, count)
	for i := range codes {
		b := make([]byte, 4)
		if _, err := rand.Read(b); err != nil {
			return nil, err
		}
		codes[i] = strings.ToUpper(hex.EncodeToString(b))
	}
	return codes, nil
}

func hashBackupCode(code string) string {
	normalized := strings.ToUpper(strings.ReplaceAll(strings.ReplaceAll(code, " ", ""), "-", ""))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

func encodeBackupCodes(codes []string) (string, error) {
	entries := make([]backupCode, len(codes))
	for i, c := range codes {
		entries[i] = backupCode{Hash: hashBackupCode(c), Used: false}
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeBackupCodes(encoded string) []backupCode {
	if encoded == "" {
		return nil
	}
	var entries []backupCode
	if err := json.Unmarshal([]byte(encoded), &entries); err != nil {
		return nil
	}
	return entries
}

// verifyBackupCode checks code against the stored set and, if it matches an
// unused entry, returns the re-encoded set with that entry marked used.
func verifyBackupCode(encoded, code string) (bool, string) {
	entries := decodeBackupCodes(encoded)
	hash := hashBackupCode(code)

	for i := range entries {
		if entries[i].Hash == hash && !entries[i].Used {
			entries[i].Used = true
			b, err := json.Marshal(entries)
			if err != nil {
				return false, ""
			}
			return true, string(b)
		}
	}
	return false, ""
}

// RemainingBackupCodes reports how many unused backup codes a user has.
func RemainingBackupCodes(encoded string) int {
	entries := decodeBackupCodes(encoded)
	remaining := 0
	for _, e := range entries {
		if !e.Used {
			remaining++
		}
	}
	return remaining
}
