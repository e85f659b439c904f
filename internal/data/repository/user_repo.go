package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"credential-service/internal/data/entity"
	"credential-service/pkg/database"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
)

type UserRepository interface {
	// WithTransaction runs fn against a repository bound to one transaction.
	// A non-nil error from fn, or a panic, rolls back everything fn wrote.
	WithTransaction(ctx context.Context, fn func(ctx context.Context, repo UserRepository) error) error
	Create(ctx context.Context, user *entity.User) error
	FindByID(ctx context.Context, id int64) (*entity.User, error)
	FindByEmail(ctx context.Context, email string) (*entity.User, error)
	Update(ctx context.Context, user *entity.User) error
	MarkVerified(ctx context.Context, id int64) error
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	Delete(ctx context.Context, id int64) error
}

type userRepository struct {
	db      database.PgxIface
	q       database.DBTX
	inTx    bool
	timeout time.Duration
	log     *zap.Logger
}

func NewUserRepository(db database.PgxIface, timeout time.Duration, log *zap.Logger) UserRepository {
	return &userRepository{
		db:      db,
		q:       db,
		timeout: timeout,
		log:     log.With(zap.String("repository", "user")),
	}
}

const userColumns = `id, email, name, password, phone, address, role, is_verified, created_at, updated_at`

func (ur *userRepository) WithTransaction(ctx context.Context, fn func(ctx context.Context, repo UserRepository) error) error {
	// already inside a transaction: join it
	if ur.inTx {
		return fn(ctx, ur)
	}

	return database.WithTx(ctx, ur.db, func(ctx context.Context, tx database.DBTX) error {
		return fn(ctx, &userRepository{
			db:      ur.db,
			q:       tx,
			inTx:    true,
			timeout: ur.timeout,
			log:     ur.log,
		})
	})
}

// Create inserts a new user and fills in its generated id
func (ur *userRepository) Create(ctx context.Context, user *entity.User) error {
	ctx, cancel := ur.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO users (email, name, password, phone, address, role,
		                   is_verified, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	err := ur.q.QueryRow(ctx, query,
		user.Email,
		user.Name,
		user.PasswordHash,
		user.Phone,
		user.Address,
		user.Role,
		user.IsVerified,
		user.CreatedAt,
		user.UpdatedAt,
	).Scan(&user.ID)

	if err != nil {
		if isUniqueViolation(err) {
			ur.log.Warn("Duplicate email on create", zap.String("email", user.Email))
			return fmt.Errorf("create user %s: %w", user.Email, ErrDuplicateEmail)
		}
		ur.log.Error("Failed to create user",
			zap.Error(err),
			zap.String("email", user.Email),
		)
		return fmt.Errorf("create user %s: %w", user.Email, err)
	}

	return nil
}

func (ur *userRepository) FindByID(ctx context.Context, id int64) (*entity.User, error) {
	ctx, cancel := ur.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(ur.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		ur.log.Error("Failed to find user by ID",
			zap.Error(err),
			zap.Int64("user_id", id),
		)
		return nil, fmt.Errorf("find user by ID %d: %w", id, err)
	}

	return user, nil
}

func (ur *userRepository) FindByEmail(ctx context.Context, email string) (*entity.User, error) {
	ctx, cancel := ur.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`

	user, err := scanUser(ur.q.QueryRow(ctx, query, email))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		ur.log.Error("Failed to find user by email",
			zap.Error(err),
			zap.String("email", email),
		)
		return nil, fmt.Errorf("find user by email %s: %w", email, err)
	}

	return user, nil
}

// Update writes the mutable profile fields and the verified flag.
// The password hash is only changed through UpdatePassword.
func (ur *userRepository) Update(ctx context.Context, user *entity.User) error {
	ctx, cancel := ur.withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE users
		SET name = $2, phone = $3, address = $4, role = $5,
		    is_verified = $6, updated_at = $7
		WHERE id = $1
	`

	result, err := ur.q.Exec(ctx, query,
		user.ID,
		user.Name,
		user.Phone,
		user.Address,
		user.Role,
		user.IsVerified,
		user.UpdatedAt,
	)
	if err != nil {
		ur.log.Error("Failed to update user",
			zap.Error(err),
			zap.Int64("user_id", user.ID),
			zap.String("email", user.Email),
		)
		return fmt.Errorf("update user %d: %w", user.ID, err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("update user %d: %w", user.ID, ErrUserNotFound)
	}

	return nil
}

// MarkVerified flips only the verified flag, leaving profile fields untouched.
func (ur *userRepository) MarkVerified(ctx context.Context, id int64) error {
	ctx, cancel := ur.withTimeout(ctx)
	defer cancel()

	query := `UPDATE users SET is_verified = true, updated_at = $2 WHERE id = $1`

	result, err := ur.q.Exec(ctx, query, id, time.Now())
	if err != nil {
		ur.log.Error("Failed to mark user verified",
			zap.Error(err),
			zap.Int64("user_id", id),
		)
		return fmt.Errorf("mark user %d verified: %w", id, err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("mark user %d verified: %w", id, ErrUserNotFound)
	}

	return nil
}

func (ur *userRepository) UpdatePassword(ctx context.Context, id int64, passwordHash string) error {
	ctx, cancel := ur.withTimeout(ctx)
	defer cancel()

	query := `UPDATE users SET password = $2, updated_at = $3 WHERE id = $1`

	result, err := ur.q.Exec(ctx, query, id, passwordHash, time.Now())
	if err != nil {
		ur.log.Error("Failed to update password",
			zap.Error(err),
			zap.Int64("user_id", id),
		)
		return fmt.Errorf("update password for user %d: %w", id, err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("update password for user %d: %w", id, ErrUserNotFound)
	}

	return nil
}

func (ur *userRepository) Delete(ctx context.Context, id int64) error {
	ctx, cancel := ur.withTimeout(ctx)
	defer cancel()

	query := `DELETE FROM users WHERE id = $1`

	result, err := ur.q.Exec(ctx, query, id)
	if err != nil {
		ur.log.Error("Failed to delete user",
			zap.Error(err),
			zap.Int64("user_id", id),
		)
		return fmt.Errorf("delete user %d: %w", id, err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("delete user %d: %w", id, ErrUserNotFound)
	}

	ur.log.Info("User deleted", zap.Int64("user_id", id))
	return nil
}

func (ur *userRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ur.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, ur.timeout)
}

func scanUser(row pgx.Row) (*entity.User, error) {
	var user entity.User
	err := row.Scan(
		&user.ID,
		&user.Email,
		&user.Name,
		&user.PasswordHash,
		&user.Phone,
		&user.Address,
		&user.Role,
		&user.IsVerified,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
