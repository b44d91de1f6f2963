package account

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

var _ Repository = (*PGRepository)(nil)

// PGRepository implements Repository using PostgreSQL through database/sql
// with the pgx stdlib driver.
type PGRepository struct {
	db *sql.DB
}

func NewPGRepository(db *sql.DB) *PGRepository {
	return &PGRepository{db: db}
}

const accountColumns = `id, email, password_hash, failed_login_attempts, locked_until,
two_factor_enabled, two_factor_secret, recovery_codes,
email_verified, email_verified_at, last_login_at, last_login_ip,
role, created_at, updated_at`

func (r *PGRepository) Create(ctx context.Context, a *Account) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Email = NormalizeEmail(a.Email)
	if a.Role == "" {
		a.Role = RoleUser
	}
	err := r.db.QueryRowContext(ctx,
		`insert into accounts(id, email, password_hash, email_verified, email_verified_at, role)
		 values($1,$2,$3,$4,$5,$6)
		 returning created_at, updated_at`,
		a.ID, a.Email, a.PasswordHash, a.EmailVerified, a.EmailVerifiedAt, a.Role,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return ErrEmailTaken
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (r *PGRepository) FindByID(ctx context.Context, id string) (*Account, error) {
	row := r.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where id=$1`, id)
	return scanAccount(row)
}

func (r *PGRepository) FindByEmail(ctx context.Context, email string) (*Account, error) {
	row := r.db.QueryRowContext(ctx,
		`select `+accountColumns+` from accounts where email=$1`, NormalizeEmail(email))
	return scanAccount(row)
}

// RecordLoginFailure increments the counter and applies the lock in one
// statement so concurrent failures cannot undercount toward the threshold.
func (r *PGRepository) RecordLoginFailure(ctx context.Context, id string, threshold int, lockUntil time.Time) (FailureResult, error) {
	row := r.db.QueryRowContext(ctx,
		`update accounts
		 set failed_login_attempts = failed_login_attempts + 1,
		     locked_until = case when failed_login_attempts + 1 >= $2 then $3 else locked_until end,
		     updated_at = now()
		 where id = $1
		 returning failed_login_attempts, locked_until`,
		id, threshold, lockUntil,
	)
	var (
		res    FailureResult
		locked sql.NullTime
	)
	if err := row.Scan(&res.FailedAttempts, &locked); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return FailureResult{}, ErrNotFound
		}
		return FailureResult{}, fmt.Errorf("record login failure: %w", err)
	}
	if locked.Valid {
		t := locked.Time
		res.LockedUntil = &t
	}
	return res, nil
}

func (r *PGRepository) RecordLoginSuccess(ctx context.Context, id, ip string, at time.Time) error {
	return r.exec(ctx,
		`update accounts
		 set failed_login_attempts = 0,
		     locked_until = null,
		     last_login_at = $2,
		     last_login_ip = $3,
		     updated_at = now()
		 where id = $1`,
		id, at, ip,
	)
}

func (r *PGRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	return r.exec(ctx,
		`update accounts
		 set password_hash = $2,
		     failed_login_attempts = 0,
		     locked_until = null,
		     updated_at = now()
		 where id = $1`,
		id, passwordHash,
	)
}

func (r *PGRepository) SetTwoFactorSecret(ctx context.Context, id string, secret *string) error {
	return r.exec(ctx,
		`update accounts set two_factor_secret = $2, updated_at = now() where id = $1`,
		id, secret,
	)
}

func (r *PGRepository) EnableTwoFactor(ctx context.Context, id, secret string, recoveryCodes []string) error {
	encoded, err := json.Marshal(recoveryCodes)
	if err != nil {
		return fmt.Errorf("encode recovery codes: %w", err)
	}
	return r.exec(ctx,
		`update accounts
		 set two_factor_enabled = true,
		     two_factor_secret = $2,
		     recovery_codes = $3,
		     updated_at = now()
		 where id = $1`,
		id, secret, encoded,
	)
}

func (r *PGRepository) DisableTwoFactor(ctx context.Context, id string) error {
	return r.exec(ctx,
		`update accounts
		 set two_factor_enabled = false,
		     two_factor_secret = null,
		     recovery_codes = null,
		     updated_at = now()
		 where id = $1`,
		id,
	)
}

// ConsumeRecoveryCode removes the code in a single conditional update; two
// concurrent redemptions of the same code cannot both match the `?` guard.
func (r *PGRepository) ConsumeRecoveryCode(ctx context.Context, id, code string) (int, error) {
	row := r.db.QueryRowContext(ctx,
		`update accounts
		 set recovery_codes = recovery_codes - $2,
		     updated_at = now()
		 where id = $1
		   and two_factor_enabled
		   and recovery_codes ? $2
		 returning jsonb_array_length(recovery_codes)`,
		id, code,
	)
	var remaining int
	if err := row.Scan(&remaining); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrRecoveryCodeNotFound
		}
		return 0, fmt.Errorf("consume recovery code: %w", err)
	}
	return remaining, nil
}

func (r *PGRepository) ReplaceRecoveryCodes(ctx context.Context, id string, codes []string) error {
	encoded, err := json.Marshal(codes)
	if err != nil {
		return fmt.Errorf("encode recovery codes: %w", err)
	}
	return r.exec(ctx,
		`update accounts
		 set recovery_codes = $2, updated_at = now()
		 where id = $1 and two_factor_enabled`,
		id, encoded,
	)
}

func (r *PGRepository) MarkEmailVerified(ctx context.Context, id string, at time.Time) error {
	return r.exec(ctx,
		`update accounts
		 set email_verified = true, email_verified_at = $2, updated_at = now()
		 where id = $1`,
		id, at,
	)
}

func (r *PGRepository) exec(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAccount(row *sql.Row) (*Account, error) {
	var (
		a             Account
		lockedUntil   sql.NullTime
		secret        sql.NullString
		recoveryCodes []byte
		verifiedAt    sql.NullTime
		lastLoginAt   sql.NullTime
		lastLoginIP   sql.NullString
	)
	err := row.Scan(
		&a.ID, &a.Email, &a.PasswordHash, &a.FailedLoginAttempts, &lockedUntil,
		&a.TwoFactorEnabled, &secret, &recoveryCodes,
		&a.EmailVerified, &verifiedAt, &lastLoginAt, &lastLoginIP,
		&a.Role, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if lockedUntil.Valid {
		t := lockedUntil.Time
		a.LockedUntil = &t
	}
	if secret.Valid {
		s := secret.String
		a.TwoFactorSecret = &s
	}
	if len(recoveryCodes) > 0 {
		if err := json.Unmarshal(recoveryCodes, &a.RecoveryCodes); err != nil {
			return nil, fmt.Errorf("decode recovery codes: %w", err)
		}
	}
	if verifiedAt.Valid {
		t := verifiedAt.Time
		a.EmailVerifiedAt = &t
	}
	if lastLoginAt.Valid {
		t := lastLoginAt.Time
		a.LastLoginAt = &t
	}
	if lastLoginIP.Valid {
		a.LastLoginIP = lastLoginIP.String
	}
	return &a, nil
}
