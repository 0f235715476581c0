package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/foliodesk/backend/internal/lockout"
	"github.com/foliodesk/backend/internal/model"
	"github.com/google/uuid"
)

const userColumns = `id, email, password_hash, national_id_hash, role, first_name, last_name, is_active,
		failed_login_count, lock_until, last_login_at,
		refresh_token_hash, refresh_token_expiry,
		password_reset_token_hash, password_reset_expiry,
		created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	var u model.User
	err := row.Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.NationalIDHash,
		&u.Role,
		&u.FirstName,
		&u.LastName,
		&u.IsActive,
		&u.Lockout.FailedLoginCount,
		&u.Lockout.LockUntil,
		&u.Lockout.LastLoginAt,
		&u.RefreshTokenHash,
		&u.RefreshTokenExpiry,
		&u.PasswordResetTokenHash,
		&u.PasswordResetExpiry,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (p *Postgres) CreateUser(ctx context.Context, nu model.NewUser) (*model.User, error) {
	if !nu.Role.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRole, nu.Role)
	}

	query := `
		INSERT INTO users (id, email, password_hash, national_id_hash, role, first_name, last_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		RETURNING ` + userColumns

	row := p.db.QueryRowContext(ctx, query,
		uuid.New(),
		strings.ToLower(strings.TrimSpace(nu.Email)),
		nu.PasswordHash,
		nu.NationalIDHash,
		string(nu.Role),
		nu.FirstName,
		nu.LastName,
	)
	user, err := scanUser(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

func (p *Postgres) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	query := `SELECT ` + userColumns + `
		FROM users
		WHERE LOWER(email) = LOWER($1)`

	user, err := scanUser(p.db.QueryRowContext(ctx, query, strings.TrimSpace(email)))
	if err != nil {
		return nil, notFound(err, "failed to get user by email")
	}
	return user, nil
}

func (p *Postgres) GetUserByID(ctx context.Context, id uuid.UUID) (*model.User, error) {
	query := `SELECT ` + userColumns + `
		FROM users
		WHERE id = $1`

	user, err := scanUser(p.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, "failed to get user by id")
	}
	return user, nil
}

func (p *Postgres) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+userColumns+`
		FROM users
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, *u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate users: %w", err)
	}
	return users, nil
}

// ApplyLockout runs fn against a row-locked read of the lockout fields and
// writes its result in the same transaction. An error from fn aborts the write.
func (p *Postgres) ApplyLockout(ctx context.Context, id uuid.UUID, fn func(lockout.State) (lockout.State, error)) (lockout.State, error) {
	var result lockout.State

	err := withTx(ctx, p.db, func(ctx context.Context, tx *sql.Tx) error {
		var current lockout.State
		err := tx.QueryRowContext(ctx, `
			SELECT failed_login_count, lock_until, last_login_at
			FROM users
			WHERE id = $1
			FOR UPDATE`, id).Scan(&current.FailedLoginCount, &current.LockUntil, &current.LastLoginAt)
		if err != nil {
			return notFound(err, "failed to read lockout state")
		}

		next, err := fn(current)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE users
			SET failed_login_count = $2, lock_until = $3, last_login_at = $4, updated_at = NOW()
			WHERE id = $1`, id, next.FailedLoginCount, next.LockUntil, next.LastLoginAt); err != nil {
			return fmt.Errorf("failed to write lockout state: %w", err)
		}

		result = next
		return nil
	})
	if err != nil {
		return lockout.State{}, err
	}
	return result, nil
}

// SetRefreshToken overwrites the single live refresh token of a user.
func (p *Postgres) SetRefreshToken(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE users
		SET refresh_token_hash = $2, refresh_token_expiry = $3, updated_at = NOW()
		WHERE id = $1`, id, tokenHash, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to set refresh token: %w", err)
	}
	return requireRow(res)
}

func (p *Postgres) ClearRefreshToken(ctx context.Context, id uuid.UUID) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE users
		SET refresh_token_hash = NULL, refresh_token_expiry = NULL, updated_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to clear refresh token: %w", err)
	}
	return nil
}

// SetPasswordReset replaces any pending reset request of a user.
func (p *Postgres) SetPasswordReset(ctx context.Context, id uuid.UUID, tokenHash string, expiresAt time.Time) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE users
		SET password_reset_token_hash = $2, password_reset_expiry = $3, updated_at = NOW()
		WHERE id = $1`, id, tokenHash, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to set password reset: %w", err)
	}
	return requireRow(res)
}

// ConsumePasswordReset sets a new password on the user holding a live reset
// token with the given hash, clearing the reset and refresh material.
// ErrNotFound covers both unknown and expired tokens.
func (p *Postgres) ConsumePasswordReset(ctx context.Context, tokenHash string, now time.Time, passwordHash string) (uuid.UUID, error) {
	var id uuid.UUID
	err := p.db.QueryRowContext(ctx, `
		UPDATE users
		SET password_hash = $3,
			password_reset_token_hash = NULL,
			password_reset_expiry = NULL,
			refresh_token_hash = NULL,
			refresh_token_expiry = NULL,
			updated_at = NOW()
		WHERE password_reset_token_hash = $1 AND password_reset_expiry > $2
		RETURNING id`, tokenHash, now, passwordHash).Scan(&id)
	if err != nil {
		return uuid.Nil, notFound(err, "failed to consume password reset")
	}
	return id, nil
}

// UpdatePassword sets a new hash and ends the live refresh session.
func (p *Postgres) UpdatePassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE users
		SET password_hash = $2, refresh_token_hash = NULL, refresh_token_expiry = NULL, updated_at = NOW()
		WHERE id = $1`, id, passwordHash)
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	return requireRow(res)
}

func (p *Postgres) UpdateProfile(ctx context.Context, id uuid.UUID, upd model.ProfileUpdate) (*model.User, error) {
	query := `
		UPDATE users
		SET first_name = $2, last_name = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + userColumns

	user, err := scanUser(p.db.QueryRowContext(ctx, query, id, upd.FirstName, upd.LastName))
	if err != nil {
		return nil, notFound(err, "failed to update profile")
	}
	return user, nil
}

// SetActive flips the activation flag. Deactivation also drops the refresh session.
func (p *Postgres) SetActive(ctx context.Context, id uuid.UUID, active bool) error {
	query := `
		UPDATE users
		SET is_active = $2, updated_at = NOW()
		WHERE id = $1`
	if !active {
		query = `
		UPDATE users
		SET is_active = $2, refresh_token_hash = NULL, refresh_token_expiry = NULL, updated_at = NOW()
		WHERE id = $1`
	}

	res, err := p.db.ExecContext(ctx, query, id, active)
	if err != nil {
		return fmt.Errorf("failed to set active flag: %w", err)
	}
	return requireRow(res)
}

func IsNoRows(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func notFound(err error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
