package repositories

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TOTPRepository stores 2FA verification attempts for rate limiting.
type TOTPRepository struct {
	DB *pgxpool.Pool
}

func NewTOTPRepository(db *pgxpool.Pool) *TOTPRepository {
	return &TOTPRepository{DB: db}
}

func (r *TOTPRepository) LogVerificationAttempt(ctx context.Context, userID int, ipAddress string, success bool) error {
	_, err := r.DB.Exec(ctx,
		`INSERT INTO totp_verification_attempts(user_id, ip_address, success)
         VALUES($1, $2, $3)`,
		userID, ipAddress, success)
	return err
}

func (r *TOTPRepository) GetRecentFailedAttempts(ctx context.Context, userID int, window time.Duration) (int, error) {
	var count int
	err := r.DB.QueryRow(ctx,
		`SELECT COUNT(*) FROM totp_verification_attempts
         WHERE user_id=$1 AND success=FALSE AND created_at > $2`,
		userID, time.Now().Add(-window)).Scan(&count)
	return count, err
}

func (r *TOTPRepository) GetRecentFailedAttemptsByIP(ctx context.Context, ipAddress string, window time.Duration) (int, error) {
	var count int
	err := r.DB.QueryRow(ctx,
		`SELECT COUNT(*) FROM totp_verification_attempts
         WHERE ip_address=$1 AND success=FALSE AND created_at > $2`,
		ipAddress, time.Now().Add(-window)).Scan(&count)
	return count, err
}
