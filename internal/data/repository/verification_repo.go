package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"credential-service/internal/data/entity"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// VerificationRepository stores one-time codes with a per-key TTL.
// Set always overwrites the value and restarts the TTL.
type VerificationRepository interface {
	Set(ctx context.Context, purpose entity.VerificationPurpose, email, code string, ttl time.Duration) error
	Get(ctx context.Context, purpose entity.VerificationPurpose, email string) (string, bool, error)
	Delete(ctx context.Context, purpose entity.VerificationPurpose, email string) error
}

type verificationRepository struct {
	rdb     redis.Cmdable
	timeout time.Duration
	log     *zap.Logger
}

func NewVerificationRepository(rdb redis.Cmdable, timeout time.Duration, log *zap.Logger) VerificationRepository {
	return &verificationRepository{
		rdb:     rdb,
		timeout: timeout,
		log:     log.With(zap.String("repository", "verification")),
	}
}

func (r *verificationRepository) Set(ctx context.Context, purpose entity.VerificationPurpose, email, code string, ttl time.Duration) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	key := purpose.Key(email)
	if err := r.rdb.Set(ctx, key, code, ttl).Err(); err != nil {
		r.log.Error("Failed to store verification code",
			zap.Error(err),
			zap.String("key", key),
		)
		return fmt.Errorf("%w: set %s: %w", ErrCacheUnavailable, key, err)
	}

	return nil
}

func (r *verificationRepository) Get(ctx context.Context, purpose entity.VerificationPurpose, email string) (string, bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	key := purpose.Key(email)
	code, err := r.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		r.log.Error("Failed to read verification code",
			zap.Error(err),
			zap.String("key", key),
		)
		return "", false, fmt.Errorf("%w: get %s: %w", ErrCacheUnavailable, key, err)
	}

	return code, true, nil
}

// Delete is idempotent; removing a missing key is not an error.
func (r *verificationRepository) Delete(ctx context.Context, purpose entity.VerificationPurpose, email string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	key := purpose.Key(email)
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		r.log.Error("Failed to delete verification code",
			zap.Error(err),
			zap.String("key", key),
		)
		return fmt.Errorf("%w: delete %s: %w", ErrCacheUnavailable, key, err)
	}

	return nil
}

func (r *verificationRepository) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}
