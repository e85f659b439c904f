package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"credential-service/internal/data/repository"
	"credential-service/internal/dto/request"
	"credential-service/internal/dto/response"
	"credential-service/pkg/utils"

	"go.uber.org/zap"
)

type UserService interface {
	GetProfile(ctx context.Context, userID int64) (*response.UserResponse, error)
	UpdateProfile(ctx context.Context, userID int64, req *request.UpdateProfileRequest) (*response.UserResponse, error)
	ChangePassword(ctx context.Context, userID int64, req *request.ChangePasswordRequest) error
	DeleteAccount(ctx context.Context, userID int64) error
}

type userService struct {
	userRepo repository.UserRepository
	config   *utils.Config
	log      *zap.Logger
}

func NewUserService(userRepo repository.UserRepository, config *utils.Config, log *zap.Logger) UserService {
	return &userService{
		userRepo: userRepo,
		config:   config,
		log:      log.With(zap.String("service", "user")),
	}
}

func (us *userService) GetProfile(ctx context.Context, userID int64) (*response.UserResponse, error) {
	user, err := us.userRepo.FindByID(ctx, userID)
	if err != nil {
		us.log.Error("Failed to find user", zap.Error(err), zap.Int64("user_id", userID))
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("get profile %d: %w", userID, ErrNotFound)
	}

	resp := response.UserToResponse(user)
	return &resp, nil
}

func (us *userService) UpdateProfile(ctx context.Context, userID int64, req *request.UpdateProfileRequest) (*response.UserResponse, error) {
	user, err := us.userRepo.FindByID(ctx, userID)
	if err != nil {
		us.log.Error("Failed to find user for update", zap.Error(err), zap.Int64("user_id", userID))
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("update profile %d: %w", userID, ErrNotFound)
	}

	if req.Name != nil {
		user.Name = *req.Name
	}
	if req.Phone != nil {
		user.Phone = req.Phone
	}
	if req.Address != nil {
		user.Address = req.Address
	}
	user.UpdatedAt = time.Now()

	if err := us.userRepo.Update(ctx, user); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return nil, fmt.Errorf("update profile %d: %w", userID, ErrNotFound)
		}
		return nil, err
	}

	us.log.Info("Profile updated", zap.Int64("user_id", userID))

	resp := response.UserToResponse(user)
	return &resp, nil
}

func (us *userService) ChangePassword(ctx context.Context, userID int64, req *request.ChangePasswordRequest) error {
	user, err := us.userRepo.FindByID(ctx, userID)
	if err != nil {
		us.log.Error("Failed to find user for password change", zap.Error(err), zap.Int64("user_id", userID))
		return err
	}
	if user == nil {
		return fmt.Errorf("change password %d: %w", userID, ErrNotFound)
	}

	if !utils.CheckPasswordHash(req.OldPassword, user.PasswordHash) {
		us.log.Warn("Wrong current password", zap.Int64("user_id", userID))
		return fmt.Errorf("change password %d: %w", userID, ErrUnauthorized)
	}

	hashedPassword, err := utils.HashPassword(req.NewPassword, us.config.Password.BcryptCost)
	if err != nil {
		return err
	}

	if err := us.userRepo.UpdatePassword(ctx, userID, hashedPassword); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return fmt.Errorf("change password %d: %w", userID, ErrNotFound)
		}
		return err
	}

	us.log.Info("Password changed", zap.Int64("user_id", userID))
	return nil
}

func (us *userService) DeleteAccount(ctx context.Context, userID int64) error {
	if err := us.userRepo.Delete(ctx, userID); err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return fmt.Errorf("delete account %d: %w", userID, ErrNotFound)
		}
		return err
	}

	us.log.Info("Account deleted", zap.Int64("user_id", userID))
	return nil
}
