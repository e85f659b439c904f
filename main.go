// main.go
package main

import (
	"context"
	"log"

	"credential-service/cmd"
	"credential-service/internal/data/repository"
	"credential-service/internal/wire"
	"credential-service/pkg/cache"
	"credential-service/pkg/database"
	"credential-service/pkg/mailer"
	"credential-service/pkg/token"
	"credential-service/pkg/utils"

	"go.uber.org/zap"
)

func main() {
	// Load config
	config, err := utils.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logger, err := utils.InitLogger(config.App.LogPath, config.App.Debug)
	if err != nil {
		log.Printf("Failed to init logger: %v. Using standard log.", err)
		logger, _ = zap.NewProduction()
	}
	defer logger.Sync()

	logger.Info("Starting application",
		zap.String("app", config.App.Name),
		zap.String("port", config.App.Port),
		zap.Bool("debug", config.App.Debug),
	)

	// Connect to database
	db, err := database.InitDB(config.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	logger.Info("Database connected successfully")

	// Connect to redis
	rdb, err := cache.InitRedis(config.Redis)
	if err != nil {
		logger.Fatal("Failed to connect to redis", zap.Error(err))
	}
	defer rdb.Close()

	logger.Info("Redis connected successfully", zap.String("addr", config.Redis.Addr))

	issuer, err := token.NewJWTIssuer(config.JWT.Secret)
	if err != nil {
		logger.Fatal("Failed to create token issuer", zap.Error(err))
	}

	repos := repository.NewRepository(db, rdb, config, logger)

	app := wire.Wiring(wire.Deps{
		Repo:   repos,
		Mailer: mailer.NewSMTPMailer(config.Email, config.Timeout.Mail, logger),
		Issuer: issuer,
		Checks: map[string]wire.HealthCheck{
			"postgres": db.Ping,
			"redis": func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			},
		},
	}, config, logger)

	if err := cmd.APIServer(app.Router, config.App.Port, logger); err != nil {
		logger.Error("Server exited with error", zap.Error(err))
	}
}
