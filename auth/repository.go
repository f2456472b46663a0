package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrUserNotFound signals that the staff user does not exist.
	ErrUserNotFound = errors.New("auth: staff user not found")
	// ErrDuplicateEmail signals that the email is already registered.
	ErrDuplicateEmail = errors.New("auth: email already exists")
)

// Repository handles data access for staff authentication.
type Repository interface {
	CreateUser(ctx context.Context, params CreateUserParams) (StaffUser, error)
	GetUserByEmail(ctx context.Context, email string) (StaffUser, error)
	GetUserByID(ctx context.Context, userID string) (StaffUser, error)
}

// CreateUserParams contains write parameters for creating staff users.
type CreateUserParams struct {
	Email        string
	FullName     string
	PasswordHash string
	Role         Role
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed auth repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const staffColumns = `id, email, full_name, password_hash, role, created_at, updated_at`

// CreateUser inserts a new staff user with hashed password.
func (r *PGRepository) CreateUser(ctx context.Context, params CreateUserParams) (StaffUser, error) {
	const insertSQL = `
		INSERT INTO staff_users (email, full_name, password_hash, role)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + staffColumns

	user, err := scanStaffUser(r.pool.QueryRow(ctx, insertSQL, params.Email, params.FullName, params.PasswordHash, params.Role))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return StaffUser{}, ErrDuplicateEmail
		}
		return StaffUser{}, fmt.Errorf("auth: create staff user: %w", err)
	}

	return user, nil
}

// GetUserByEmail retrieves a staff user by email address.
func (r *PGRepository) GetUserByEmail(ctx context.Context, email string) (StaffUser, error) {
	user, err := scanStaffUser(r.pool.QueryRow(ctx, `SELECT `+staffColumns+` FROM staff_users WHERE email = $1`, email))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StaffUser{}, ErrUserNotFound
		}
		return StaffUser{}, fmt.Errorf("auth: get staff user by email: %w", err)
	}
	return user, nil
}

// GetUserByID retrieves a staff user by ID.
func (r *PGRepository) GetUserByID(ctx context.Context, userID string) (StaffUser, error) {
	user, err := scanStaffUser(r.pool.QueryRow(ctx, `SELECT `+staffColumns+` FROM staff_users WHERE id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StaffUser{}, ErrUserNotFound
		}
		return StaffUser{}, fmt.Errorf("auth: get staff user by id: %w", err)
	}
	return user, nil
}

func scanStaffUser(row pgx.Row) (StaffUser, error) {
	var user StaffUser
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.FullName,
		&user.PasswordHash,
		&user.Role,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return StaffUser{}, err
	}
	return user, nil
}
