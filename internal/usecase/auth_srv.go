package usecase

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"credential-service/internal/data/entity"
	"credential-service/internal/data/repository"
	"credential-service/internal/dto/request"
	"credential-service/internal/dto/response"
	"credential-service/pkg/mailer"
	"credential-service/pkg/token"
	"credential-service/pkg/utils"

	"go.uber.org/zap"
)

type AuthService interface {
	Register(ctx context.Context, req *request.RegisterRequest) (*response.UserResponse, error)
	ResendVerificationCode(ctx context.Context, email string) error
	VerifyEmail(ctx context.Context, req *request.VerifyEmailRequest) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, req *request.ResetPasswordRequest) error
	Login(ctx context.Context, req *request.LoginRequest) (*response.LoginResponse, error)
}

type authService struct {
	repo   *repository.Repository
	mailer mailer.Mailer
	issuer token.Issuer
	config *utils.Config
	log    *zap.Logger
}

func NewAuthService(
	repo *repository.Repository,
	mail mailer.Mailer,
	issuer token.Issuer,
	config *utils.Config,
	log *zap.Logger,
) AuthService {
	return &authService{
		repo:   repo,
		mailer: mail,
		issuer: issuer,
		config: config,
		log:    log.With(zap.String("service", "auth")),
	}
}

// Register creates an unverified account and mails it a verification code.
// The row, the cached code and the email succeed or fail together: any
// failure rolls the row back and removes the cached code.
func (s *authService) Register(ctx context.Context, req *request.RegisterRequest) (*response.UserResponse, error) {
	email := utils.NormalizeEmail(req.Email)

	var (
		created   *entity.User
		cached    bool
		committed bool
	)

	// any exit without a commit, panics included, must drop the cached code
	defer func() {
		if cached && !committed {
			s.discardCode(ctx, entity.PurposeEmailVerify, email)
		}
	}()

	err := s.repo.User.WithTransaction(ctx, func(ctx context.Context, users repository.UserRepository) error {
		// 1. Email must be free
		existing, err := users.FindByEmail(ctx, email)
		if err != nil {
			return fmt.Errorf("check email %s: %w", email, err)
		}
		if existing != nil {
			return fmt.Errorf("register %s: %w", email, ErrConflict)
		}

		// 2. Create the account
		hashedPassword, err := utils.HashPassword(req.Password, s.config.Password.BcryptCost)
		if err != nil {
			return err
		}

		now := time.Now()
		user := &entity.User{
			Base: entity.Base{
				CreatedAt: now,
				UpdatedAt: now,
			},
			Email:        email,
			Name:         req.Name,
			PasswordHash: hashedPassword,
			Phone:        req.Phone,
			Address:      req.Address,
			Role:         entity.RoleCustomer,
			IsVerified:   false,
		}

		if err := users.Create(ctx, user); err != nil {
			if errors.Is(err, repository.ErrDuplicateEmail) {
				return fmt.Errorf("register %s: %w", email, ErrConflict)
			}
			return err
		}

		// 3. Cache the code
		code, err := utils.GenerateOTP(s.config.OTP.Length)
		if err != nil {
			return err
		}
		if err := s.repo.Verification.Set(ctx, entity.PurposeEmailVerify, email, code, s.config.OTP.TTL()); err != nil {
			return fmt.Errorf("store verification code for %s: %w", email, err)
		}
		cached = true

		// 4. Mail it
		body := mailer.VerifyEmailTemplate(code, s.config.OTP.TTL())
		if err := s.mailer.Send(ctx, email, mailer.VerifyEmailSubject, body); err != nil {
			return fmt.Errorf("send verification email to %s: %w: %w", email, ErrDeliveryFailure, err)
		}

		created = user
		return nil
	})

	if err != nil {
		s.logFailure("Register failed", err, zap.String("email", email))
		return nil, err
	}
	committed = true

	s.log.Info("User registered",
		zap.Int64("user_id", created.ID),
		zap.String("email", created.Email),
	)

	resp := response.UserToResponse(created)
	return &resp, nil
}

func (s *authService) ResendVerificationCode(ctx context.Context, email string) error {
	email = utils.NormalizeEmail(email)

	user, err := s.repo.User.FindByEmail(ctx, email)
	if err != nil {
		s.log.Error("Failed to find user for resend", zap.Error(err), zap.String("email", email))
		return err
	}
	if user == nil {
		return fmt.Errorf("resend code to %s: %w", email, ErrNotFound)
	}
	if user.IsVerified {
		return fmt.Errorf("resend code to %s: %w", email, ErrAlreadyVerified)
	}

	if err := s.issueCode(ctx, entity.PurposeEmailVerify, email); err != nil {
		return err
	}

	s.log.Info("Verification code resent", zap.String("email", email))
	return nil
}

func (s *authService) VerifyEmail(ctx context.Context, req *request.VerifyEmailRequest) error {
	email := utils.NormalizeEmail(req.Email)

	if err := s.checkCode(ctx, entity.PurposeEmailVerify, email, req.Code); err != nil {
		return err
	}

	user, err := s.repo.User.FindByEmail(ctx, email)
	if err != nil {
		s.log.Error("Failed to find user for verification", zap.Error(err), zap.String("email", email))
		return err
	}
	if user == nil {
		// the account went away after the code was issued
		s.discardCode(ctx, entity.PurposeEmailVerify, email)
		return fmt.Errorf("verify %s: %w", email, ErrNotFound)
	}

	if err := s.repo.User.MarkVerified(ctx, user.ID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.discardCode(ctx, entity.PurposeEmailVerify, email)
			return fmt.Errorf("verify %s: %w", email, ErrNotFound)
		}
		s.log.Error("Failed to mark user verified", zap.Error(err), zap.Int64("user_id", user.ID))
		return err
	}

	// the code is spent either way; a stale entry expires on its own
	s.discardCode(ctx, entity.PurposeEmailVerify, email)

	s.log.Info("Email verified", zap.String("email", email), zap.Int64("user_id", user.ID))
	return nil
}

func (s *authService) ForgotPassword(ctx context.Context, email string) error {
	email = utils.NormalizeEmail(email)

	user, err := s.repo.User.FindByEmail(ctx, email)
	if err != nil {
		s.log.Error("Failed to find user for password reset", zap.Error(err), zap.String("email", email))
		return err
	}
	if user == nil {
		return fmt.Errorf("forgot password for %s: %w", email, ErrNotFound)
	}

	if err := s.issueCode(ctx, entity.PurposePasswordReset, email); err != nil {
		return err
	}

	s.log.Info("Password reset code sent", zap.String("email", email))
	return nil
}

func (s *authService) ResetPassword(ctx context.Context, req *request.ResetPasswordRequest) error {
	email := utils.NormalizeEmail(req.Email)

	if err := s.checkCode(ctx, entity.PurposePasswordReset, email, req.Code); err != nil {
		return err
	}

	user, err := s.repo.User.FindByEmail(ctx, email)
	if err != nil {
		s.log.Error("Failed to find user for reset", zap.Error(err), zap.String("email", email))
		return err
	}
	if user == nil {
		s.discardCode(ctx, entity.PurposePasswordReset, email)
		return fmt.Errorf("reset password for %s: %w", email, ErrNotFound)
	}

	hashedPassword, err := utils.HashPassword(req.NewPassword, s.config.Password.BcryptCost)
	if err != nil {
		s.log.Error("Failed to hash password", zap.Error(err))
		return err
	}

	if err := s.repo.User.UpdatePassword(ctx, user.ID, hashedPassword); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.discardCode(ctx, entity.PurposePasswordReset, email)
			return fmt.Errorf("reset password for %s: %w", email, ErrNotFound)
		}
		s.log.Error("Failed to update password", zap.Error(err), zap.Int64("user_id", user.ID))
		return err
	}

	s.discardCode(ctx, entity.PurposePasswordReset, email)

	s.log.Info("Password reset", zap.Int64("user_id", user.ID))
	return nil
}

// Login answers every credential problem with the same ErrUnauthorized so
// callers cannot tell a missing account from an unverified one.
func (s *authService) Login(ctx context.Context, req *request.LoginRequest) (*response.LoginResponse, error) {
	email := utils.NormalizeEmail(req.Email)

	user, err := s.repo.User.FindByEmail(ctx, email)
	if err != nil {
		s.log.Error("Failed to find user for login", zap.Error(err), zap.String("email", email))
		return nil, err
	}

	if user == nil {
		s.log.Warn("Login for unknown email", zap.String("email", email))
		return nil, ErrUnauthorized
	}
	if !user.IsVerified {
		s.log.Warn("Login before verification", zap.Int64("user_id", user.ID))
		return nil, ErrUnauthorized
	}
	if !utils.CheckPasswordHash(req.Password, user.PasswordHash) {
		s.log.Warn("Invalid password", zap.Int64("user_id", user.ID))
		return nil, ErrUnauthorized
	}

	claims := token.Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   string(user.Role),
	}

	accessToken, err := s.issuer.Sign(claims, s.config.JWT.AccessTTL())
	if err != nil {
		s.log.Error("Failed to sign access token", zap.Error(err), zap.Int64("user_id", user.ID))
		return nil, err
	}
	refreshToken, err := s.issuer.Sign(claims, s.config.JWT.RefreshTTL())
	if err != nil {
		s.log.Error("Failed to sign refresh token", zap.Error(err), zap.Int64("user_id", user.ID))
		return nil, err
	}

	s.log.Info("User logged in", zap.Int64("user_id", user.ID))

	return &response.LoginResponse{
		User:         response.UserToResponse(user),
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
	}, nil
}

// ==================== HELPER METHODS ====================

// issueCode stores a fresh code under purpose and mails it. When the mail
// cannot be sent the code is removed again.
func (s *authService) issueCode(ctx context.Context, purpose entity.VerificationPurpose, email string) error {
	code, err := utils.GenerateOTP(s.config.OTP.Length)
	if err != nil {
		s.log.Error("Failed to generate code", zap.Error(err))
		return err
	}

	if err := s.repo.Verification.Set(ctx, purpose, email, code, s.config.OTP.TTL()); err != nil {
		return fmt.Errorf("store %s code for %s: %w", purpose, email, err)
	}

	subject, body := mailer.VerifyEmailSubject, mailer.VerifyEmailTemplate(code, s.config.OTP.TTL())
	if purpose == entity.PurposePasswordReset {
		subject, body = mailer.ResetPasswordSubject, mailer.ResetPasswordTemplate(code, s.config.OTP.TTL())
	}

	if err := s.mailer.Send(ctx, email, subject, body); err != nil {
		s.discardCode(ctx, purpose, email)
		s.log.Warn("Failed to deliver code", zap.Error(err), zap.String("email", email), zap.String("purpose", string(purpose)))
		return fmt.Errorf("send %s code to %s: %w: %w", purpose, email, ErrDeliveryFailure, err)
	}

	return nil
}

// checkCode compares a submitted code with the cached one without consuming it.
func (s *authService) checkCode(ctx context.Context, purpose entity.VerificationPurpose, email, submitted string) error {
	stored, found, err := s.repo.Verification.Get(ctx, purpose, email)
	if err != nil {
		return fmt.Errorf("read %s code for %s: %w", purpose, email, err)
	}
	if !found {
		return fmt.Errorf("%s for %s: %w", purpose, email, ErrCodeExpired)
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(submitted)) != 1 {
		s.log.Warn("Verification code mismatch", zap.String("email", email), zap.String("purpose", string(purpose)))
		return fmt.Errorf("%s for %s: %w", purpose, email, ErrCodeMismatch)
	}
	return nil
}

// discardCode deletes a cached code. Failures are logged and swallowed so
// they never replace the error that triggered the cleanup.
func (s *authService) discardCode(ctx context.Context, purpose entity.VerificationPurpose, email string) {
	if err := s.repo.Verification.Delete(context.WithoutCancel(ctx), purpose, email); err != nil {
		s.log.Warn("Failed to discard verification code",
			zap.Error(err),
			zap.String("email", email),
			zap.String("purpose", string(purpose)),
		)
	}
}

func (s *authService) logFailure(msg string, err error, fields ...zap.Field) {
	fields = append(fields, zap.Error(err))
	switch {
	case errors.Is(err, ErrConflict):
		s.log.Warn(msg, fields...)
	default:
		s.log.Error(msg, fields...)
	}
}
