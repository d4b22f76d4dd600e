package auth

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"bidflow/apperr"
	"bidflow/db"
)

var (
	ErrUserNotFound      = apperr.New(apperr.ErrNotFound, "auth: user not found")
	ErrDuplicateEmail    = apperr.New(apperr.ErrConflict, "auth: email already exists")
	ErrDuplicateUsername = apperr.New(apperr.ErrConflict, "auth: username already exists")
)

type Repository interface {
	CreateUser(ctx context.Context, params CreateUserParams) (User, error)
	GetUserByID(ctx context.Context, userID string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
}

// CreateUserParams carries an already hashed password.
type CreateUserParams struct {
	Username     string
	Email        string
	FirstName    string
	LastName     string
	PasswordHash string
	Role         Role
	Phone        *string
	Location     *string
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const userColumns = `id, username, email, first_name, last_name, password_hash, user_type, phone, location, created_at, updated_at`

func (r *PGRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	const q = `
		INSERT INTO users (username, email, first_name, last_name, password_hash, user_type, phone, location)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING ` + userColumns

	u, err := scanUser(r.pool.QueryRow(ctx, q,
		params.Username, params.Email, params.FirstName, params.LastName,
		params.PasswordHash, params.Role, params.Phone, params.Location,
	))
	switch {
	case err == nil:
		return u, nil
	case db.IsUniqueViolation(err, "users_email_key"):
		return User{}, ErrDuplicateEmail
	case db.IsUniqueViolation(err, "users_username_key"):
		return User{}, ErrDuplicateUsername
	default:
		return User{}, fmt.Errorf("auth: create user: %w", err)
	}
}

func (r *PGRepository) GetUserByID(ctx context.Context, userID string) (User, error) {
	return r.findOne(ctx, "id = $1", userID, "by id")
}

// GetUserByEmail matches case-insensitively.
func (r *PGRepository) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return r.findOne(ctx, "lower(email) = lower($1)", email, "by email")
}

func (r *PGRepository) GetUserByUsername(ctx context.Context, username string) (User, error) {
	return r.findOne(ctx, "username = $1", username, "by username")
}

func (r *PGRepository) findOne(ctx context.Context, where string, arg any, op string) (User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE `+where, arg))
	if db.NoMatch(err) {
		return User{}, ErrUserNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("auth: get user %s: %w", op, err)
	}
	return u, nil
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	if err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.FirstName, &u.LastName,
		&u.PasswordHash, &u.Role, &u.Phone, &u.Location,
		&u.CreatedAt, &u.UpdatedAt,
	); err != nil {
		return User{}, err
	}
	return u, nil
}
