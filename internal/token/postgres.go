package token

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL.
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Create(ctx context.Context, rec *Record) error {
	_, err := s.db.ExecContext(ctx,
		`insert into security_tokens(id, account_id, purpose, secret_hash, expires_at, created_at)
		 values($1,$2,$3,$4,$5,$6)`,
		rec.ID, rec.AccountID, string(rec.Purpose), rec.SecretHash, rec.ExpiresAt, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert token: %w", err)
	}
	return nil
}

func (s *PGStore) Find(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, account_id, purpose, secret_hash, expires_at, created_at, consumed_at
		 from security_tokens where id=$1`, id)

	var (
		rec      Record
		purpose  string
		consumed sql.NullTime
	)
	if err := row.Scan(&rec.ID, &rec.AccountID, &purpose, &rec.SecretHash, &rec.ExpiresAt, &rec.CreatedAt, &consumed); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrInvalid
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	rec.Purpose = Purpose(purpose)
	if consumed.Valid {
		t := consumed.Time
		rec.ConsumedAt = &t
	}
	return &rec, nil
}

func (s *PGStore) MarkConsumed(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update security_tokens set consumed_at = $2
		 where id = $1 and consumed_at is null`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if affected == 0 {
		return ErrInvalid
	}
	return nil
}
