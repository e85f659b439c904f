package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig
	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	Email    EmailConfig
	OTP      OTPConfig
	Password PasswordConfig
	Timeout  TimeoutConfig
}

type AppConfig struct {
	Name    string
	Port    string
	Debug   bool
	LogPath string
}

type DatabaseConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	MaxConns int32
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret            string
	AccessTTLSeconds  int
	RefreshTTLSeconds int
}

type EmailConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string
}

type OTPConfig struct {
	TTLSeconds int
	Length     int
}

type PasswordConfig struct {
	BcryptCost int
}

// TimeoutConfig bounds every call an adapter makes to its backing service.
type TimeoutConfig struct {
	Store time.Duration
	Cache time.Duration
	Mail  time.Duration
}

func (c JWTConfig) AccessTTL() time.Duration {
	return time.Duration(c.AccessTTLSeconds) * time.Second
}

func (c JWTConfig) RefreshTTL() time.Duration {
	return time.Duration(c.RefreshTTLSeconds) * time.Second
}

func (c OTPConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

func LoadConfig() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.SetConfigType("env")

	// Set defaults
	viper.SetDefault("PORT", "8080")
	viper.SetDefault("DEBUG", false)
	viper.SetDefault("LOG_PATH", "logs/")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_MAX_CONNS", 10)
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("JWT_ACCESS_TTL_SECONDS", 900)
	viper.SetDefault("JWT_REFRESH_TTL_SECONDS", 604800)
	viper.SetDefault("SMTP_PORT", 465)
	viper.SetDefault("OTP_TTL_SECONDS", 60)
	viper.SetDefault("OTP_LENGTH", 6)
	viper.SetDefault("BCRYPT_COST", 10)
	viper.SetDefault("STORE_TIMEOUT", "5s")
	viper.SetDefault("CACHE_TIMEOUT", "5s")
	viper.SetDefault("MAIL_TIMEOUT", "10s")

	// .env is optional; containers usually pass plain environment variables
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	viper.AutomaticEnv()

	config := &Config{
		App: AppConfig{
			Name:    viper.GetString("APP_NAME"),
			Port:    viper.GetString("PORT"),
			Debug:   viper.GetBool("DEBUG"),
			LogPath: viper.GetString("LOG_PATH"),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetString("DB_PORT"),
			Name:     viper.GetString("DB_NAME"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASS"),
			MaxConns: viper.GetInt32("DB_MAX_CONNS"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("REDIS_ADDR"),
			Password: viper.GetString("REDIS_PASSWORD"),
			DB:       viper.GetInt("REDIS_DB"),
		},
		JWT: JWTConfig{
			Secret:            viper.GetString("JWT_SECRET"),
			AccessTTLSeconds:  viper.GetInt("JWT_ACCESS_TTL_SECONDS"),
			RefreshTTLSeconds: viper.GetInt("JWT_REFRESH_TTL_SECONDS"),
		},
		Email: EmailConfig{
			Host:     viper.GetString("SMTP_HOST"),
			Port:     viper.GetInt("SMTP_PORT"),
			User:     viper.GetString("SMTP_USER"),
			Password: viper.GetString("SMTP_PASS"),
			From:     viper.GetString("EMAIL_FROM"),
		},
		OTP: OTPConfig{
			TTLSeconds: viper.GetInt("OTP_TTL_SECONDS"),
			Length:     viper.GetInt("OTP_LENGTH"),
		},
		Password: PasswordConfig{
			BcryptCost: viper.GetInt("BCRYPT_COST"),
		},
		Timeout: TimeoutConfig{
			Store: viper.GetDuration("STORE_TIMEOUT"),
			Cache: viper.GetDuration("CACHE_TIMEOUT"),
			Mail:  viper.GetDuration("MAIL_TIMEOUT"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// Validate rejects configurations the service cannot run with.
func (c *Config) Validate() error {
	if c.JWT.Secret == "" {
		return fmt.Errorf("missing JWT_SECRET")
	}
	if c.JWT.AccessTTLSeconds <= 0 || c.JWT.RefreshTTLSeconds <= 0 {
		return fmt.Errorf("token TTLs must be positive")
	}
	if c.OTP.TTLSeconds <= 0 {
		return fmt.Errorf("OTP_TTL_SECONDS must be positive")
	}
	if c.OTP.Length <= 0 {
		return fmt.Errorf("OTP_LENGTH must be positive")
	}
	if c.Timeout.Store <= 0 || c.Timeout.Cache <= 0 || c.Timeout.Mail <= 0 {
		return fmt.Errorf("adapter timeouts must be positive")
	}
	return nil
}
