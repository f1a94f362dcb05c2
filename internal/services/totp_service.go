package services

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"image/png"
	"time"

	"billing-backend/internal/auth"
	"billing-backend/internal/models"
	"billing-backend/internal/repositories"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	totpIssuer        = "BillingAdmin"
	backupCodeCount   = 10
	backupCodeLength  = 8
	maxFailedAttempts = 5
	rateLimitWindow   = 15 * time.Minute
)

var (
	ErrTooManyAttempts = &TOTPError{Message: "too many failed attempts, please try again later"}
	ErrNoTOTPSecret    = &TOTPError{Message: "2FA setup not initiated"}
	ErrInvalidTOTPCode = &TOTPError{Message: "invalid verification code"}
	ErrTOTPNotEnabled  = &TOTPError{Message: "2FA is not enabled"}
	ErrInvalidPassword = &TOTPError{Message: "invalid password"}
)

type TOTPError struct {
	Message string
}

func (e *TOTPError) Error() string {
	return e.Message
}

type TOTPService struct {
	userRepo *repositories.UserRepository
	totpRepo *repositories.TOTPRepository
}

func NewTOTPService(userRepo *repositories.UserRepository, totpRepo *repositories.TOTPRepository) *TOTPService {
	return &TOTPService{
		userRepo: userRepo,
		totpRepo: totpRepo,
	}
}

// GenerateSetup creates a fresh secret for the user and renders the QR
// code the authenticator app scans. 2FA stays off until VerifyAndEnable.
func (s *TOTPService) GenerateSetup(ctx context.Context, user *models.User) (*models.TOTPSetupResponse, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      totpIssuer,
		AccountName: user.Email,
		Period:      30,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return nil, err
	}

	if err := s.userRepo.SetTOTPSecret(ctx, user.ID, key.Secret()); err != nil {
		return nil, err
	}

	qrImage, err := key.Image(200, 200)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, qrImage); err != nil {
		return nil, err
	}

	return &models.TOTPSetupResponse{
		Secret:      key.Secret(),
		QRCode:      "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
		Issuer:      totpIssuer,
		AccountName: user.Email,
	}, nil
}

// VerifyAndEnable checks the first code against the stored secret and
// switches 2FA on, handing back single-use backup codes.
func (s *TOTPService) VerifyAndEnable(ctx context.Context, userID int, code, ipAddress string) (*models.BackupCodesResponse, error) {
	if limited, err := s.isRateLimited(ctx, userID, ipAddress); err != nil {
		return nil, err
	} else if limited {
		return nil, ErrTooManyAttempts
	}

	user, err := s.userRepo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.TOTPSecret == "" {
		return nil, ErrNoTOTPSecret
	}

	if !totp.Validate(code, user.TOTPSecret) {
		s.totpRepo.LogVerificationAttempt(ctx, userID, ipAddress, false)
		return nil, ErrInvalidTOTPCode
	}
	s.totpRepo.LogVerificationAttempt(ctx, userID, ipAddress, true)

	if err := s.userRepo.EnableTOTP(ctx, userID); err != nil {
		return nil, err
	}

	codes, err := s.issueBackupCodes(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &models.BackupCodesResponse{Codes: codes}, nil
}

// Verify validates a TOTP code or backup code during login.
func (s *TOTPService) Verify(ctx context.Context, userID int, code, ipAddress string) (bool, error) {
	if limited, err := s.isRateLimited(ctx, userID, ipAddress); err != nil {
		return false, err
	} else if limited {
		return false, ErrTooManyAttempts
	}

	user, err := s.userRepo.Get(ctx, userID)
	if err != nil {
		return false, err
	}
	if !user.TOTPEnabled || user.TOTPSecret == "" {
		return false, ErrTOTPNotEnabled
	}

	if totp.Validate(code, user.TOTPSecret) || s.consumeBackupCode(ctx, userID, code, user.BackupCodes) {
		s.totpRepo.LogVerificationAttempt(ctx, userID, ipAddress, true)
		return true, nil
	}

	s.totpRepo.LogVerificationAttempt(ctx, userID, ipAddress, false)
	return false, ErrInvalidTOTPCode
}

// Disable turns 2FA off after re-verifying both the password and a current
// code.
func (s *TOTPService) Disable(ctx context.Context, userID int, password, code string) error {
	user, err := s.userRepo.Get(ctx, userID)
	if err != nil {
		return err
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return ErrInvalidPassword
	}
	if !totp.Validate(code, user.TOTPSecret) {
		return ErrInvalidTOTPCode
	}
	return s.userRepo.DisableTOTP(ctx, userID)
}

// RegenerateBackupCodes replaces all backup codes. The old ones stop
// working immediately.
func (s *TOTPService) RegenerateBackupCodes(ctx context.Context, userID int, password string) (*models.BackupCodesResponse, error) {
	user, err := s.userRepo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidPassword
	}
	if !user.TOTPEnabled {
		return nil, ErrTOTPNotEnabled
	}

	codes, err := s.issueBackupCodes(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &models.BackupCodesResponse{Codes: codes}, nil
}

// GetStatus returns the 2FA status for a user
func (s *TOTPService) GetStatus(ctx context.Context, userID int) (*models.User2FAStatus, error) {
	user, err := s.userRepo.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &models.User2FAStatus{
		Enabled:        user.TOTPEnabled,
		EnabledAt:      user.TOTPVerifiedAt,
		HasBackupCodes: user.BackupCodes != "" && user.BackupCodes != "[]",
	}, nil
}

// issueBackupCodes generates plaintext codes for the user and stores only
// their hashes.
func (s *TOTPService) issueBackupCodes(ctx context.Context, userID int) ([]string, error) {
	codes := make([]string, backupCodeCount)
	hashed := make([]string, backupCodeCount)

	for i := range codes {
		codes[i] = randomCode(backupCodeLength)
		hash, err := auth.HashPassword(codes[i])
		if err != nil {
			return nil, err
		}
		hashed[i] = hash
	}

	hashedJSON, err := json.Marshal(hashed)
	if err != nil {
		return nil, err
	}
	if err := s.userRepo.SetBackupCodes(ctx, userID, string(hashedJSON)); err != nil {
		return nil, err
	}
	return codes, nil
}

// consumeBackupCode checks the code against the stored hashes and removes
// it on match, so each backup code works exactly once.
func (s *TOTPService) consumeBackupCode(ctx context.Context, userID int, code, storedCodes string) bool {
	if storedCodes == "" {
		return false
	}
	var hashed []string
	if err := json.Unmarshal([]byte(storedCodes), &hashed); err != nil {
		return false
	}

	for i, hash := range hashed {
		if auth.VerifyPassword(hash, code) {
			hashed = append(hashed[:i], hashed[i+1:]...)
			updatedJSON, _ := json.Marshal(hashed)
			s.userRepo.SetBackupCodes(ctx, userID, string(updatedJSON))
			return true
		}
	}
	return false
}

func (s *TOTPService) isRateLimited(ctx context.Context, userID int, ipAddress string) (bool, error) {
	userAttempts, err := s.totpRepo.GetRecentFailedAttempts(ctx, userID, rateLimitWindow)
	if err != nil {
		return false, err
	}
	if userAttempts >= maxFailedAttempts {
		return true, nil
	}

	ipAttempts, err := s.totpRepo.GetRecentFailedAttemptsByIP(ctx, ipAddress, rateLimitWindow)
	if err != nil {
		return false, err
	}
	// Shared NATs get a looser IP budget than individual accounts.
	return ipAttempts >= maxFailedAttempts*2, nil
}

// randomCode builds a short alphanumeric code, skipping lookalike
// characters (I, O, 0, 1).
func randomCode(length int) string {
	const charset = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	buf := make([]byte, length)
	rand.Read(buf)
	for i := range buf {
		buf[i] = charset[int(buf[i])%len(charset)]
	}
	return string(buf)
}
