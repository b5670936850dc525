package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"lms-bridge/internal/db"
	"lms-bridge/internal/user/domain"
)

const (
	userColumns = `id, email, role, first_name, last_name, external_user_id, external_username,
		external_password_sealed, external_email, created_at, updated_at`
	provisionLockNamespace = "provision"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// GetByEmail returns the user with the given email (case-insensitive), or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, strings.ToLower(strings.TrimSpace(email)))
}

func (r *PostgresRepository) getOne(ctx context.Context, query string, arg string) (*domain.User, error) {
	var (
		u        domain.User
		extID    sql.NullInt64
		extName  sql.NullString
		extValue sql.NullString
		extEmail sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&u.ID, &u.Email, &u.Role, &u.FirstName, &u.LastName,
		&extID, &extName, &extValue, &extEmail, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if extID.Valid && extName.Valid && extValue.Valid {
		u.ExternalIdentity = &domain.ExternalIdentity{
			UserID:         extID.Int64,
			Username:       extName.String,
			PasswordSealed: extValue.String,
			Email:          extEmail.String,
		}
	}
	return &u, nil
}

// Create persists the user without an external identity. The user must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, role, first_name, last_name, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		u.ID, u.Email, string(u.Role), u.FirstName, u.LastName, u.CreatedAt, u.UpdatedAt)
	return err
}

// SetExternalIdentity sets the external identity columns in one conditional write. An empty
// Email is stored as NULL.
func (r *PostgresRepository) SetExternalIdentity(ctx context.Context, userID string, ident *domain.ExternalIdentity) (bool, error) {
	if ident == nil || ident.UserID <= 0 || ident.Username == "" || ident.PasswordSealed == "" {
		return false, errors.New("external identity must be complete")
	}
	res, err := r.db.ExecContext(ctx,
		`UPDATE users SET external_user_id = $2, external_username = $3, external_password_sealed = $4,
		 external_email = NULLIF($5, ''), updated_at = $6
		 WHERE id = $1 AND external_user_id IS NULL`,
		userID, ident.UserID, ident.Username, ident.PasswordSealed, strings.ToLower(ident.Email), time.Now().UTC())
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// LockProvisioning takes the Postgres advisory lock keyed by userID on a dedicated connection.
func (r *PostgresRepository) LockProvisioning(ctx context.Context, userID string) (func(), error) {
	return db.AdvisoryLock(ctx, r.db, db.LockKey(provisionLockNamespace, userID))
}
