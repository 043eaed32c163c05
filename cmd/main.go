package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpapi "github.com/immxrtalbeast/streamroom/internal/api/http"
	"github.com/immxrtalbeast/streamroom/internal/auth"
	"github.com/immxrtalbeast/streamroom/internal/av"
	"github.com/immxrtalbeast/streamroom/internal/config"
	"github.com/immxrtalbeast/streamroom/internal/feed"
	"github.com/immxrtalbeast/streamroom/internal/repository"
	"github.com/immxrtalbeast/streamroom/internal/service"
	"github.com/immxrtalbeast/streamroom/lib/logger/sl"
	"github.com/immxrtalbeast/streamroom/lib/logger/slogpretty"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func main() {
	_ = godotenv.Load(".env")

	cfg := config.MustLoad()
	log := setupLogger(cfg.Env)

	if err := run(cfg, log); err != nil {
		log.Error("application stopped", sl.Err(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	profiles, credentials, err := setupRepositories(cfg.Database)
	if err != nil {
		return fmt.Errorf("repositories: %w", err)
	}

	chatFeed, presenceFeed, closeFeeds, err := setupFeeds(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("feeds: %w", err)
	}
	defer closeFeeds()

	retry := service.RetryPolicy{
		MaxRetries:      cfg.Subscription.MaxRetries,
		InitialInterval: cfg.Subscription.InitialInterval,
		MaxInterval:     cfg.Subscription.MaxInterval,
	}

	identity := service.NewIdentityResolver(profiles, log)
	chat := service.NewChatStream(chatFeed, log,
		service.WithChatWindow(cfg.Chat.WindowSize),
		service.WithMaxMessageLength(cfg.Chat.MaxMessageLength),
		service.WithChatRetry(retry),
	)
	presence := service.NewPresenceTracker(presenceFeed, retry, log)

	tokens := av.NewKitTokenIssuer(cfg.AV.AppID, cfg.AV.ServerSecret, cfg.AV.TokenTTL)
	platform := service.NewPlatform(identity, chat, presence, service.Conference{
		Tokens:   tokens,
		Provider: av.NewWebRTCProvider(cfg.AV.SignalingURL, cfg.AV.STUNServers, log),
		Options: service.AVOptions{
			MaxParticipants: cfg.AV.MaxParticipants,
			LayoutMode:      cfg.AV.Layout,
			LinkOrigin:      cfg.AV.LinkOrigin,
		},
	}, log)

	authService := auth.NewService(credentials, identity, auth.Config{
		JWTSecret:       cfg.Auth.JWTSecret,
		TokenTTL:        cfg.Auth.TokenTTL,
		FederatedSecret: cfg.Auth.FederatedSecret,
		FederatedIssuer: cfg.Auth.FederatedIssuer,
		BcryptCost:      cfg.Auth.BcryptCost,
	}, log)

	router := httpapi.SetupRouter(
		cfg.HTTP.AllowedOrigins,
		authService,
		httpapi.NewUserController(authService, identity, log),
		httpapi.NewRoomController(platform, authService, cfg.AV.LinkOrigin, log),
		httpapi.NewSignalController(av.NewHub(tokens, cfg.AV.MaxParticipants, log), log),
	)

	srv := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting application", slog.String("addr", cfg.HTTP.Address), slog.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func setupRepositories(cfg config.DatabaseConfig) (repository.ProfileRepository, repository.CredentialRepository, error) {
	if cfg.Driver == config.DriverMemory {
		return repository.NewInMemoryProfileRepository(), repository.NewInMemoryCredentialRepository(), nil
	}

	db, err := connectDatabase(cfg)
	if err != nil {
		return nil, nil, err
	}
	return repository.NewGormProfileRepository(db), repository.NewGormCredentialRepository(db), nil
}

func setupFeeds(ctx context.Context, cfg *config.Config, log *slog.Logger) (feed.ChatFeed, feed.PresenceFeed, func(), error) {
	switch cfg.Feed.Backend {
	case config.FeedMemory:
		return feed.NewMemoryChatFeed(), feed.NewMemoryPresenceFeed(), func() {}, nil
	case config.FeedRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		closeFn := func() {
			if err := client.Close(); err != nil {
				log.Warn("redis close failed", sl.Err(err))
			}
		}
		return feed.NewRedisChatFeed(client, log), feed.NewRedisPresenceFeed(client, log), closeFn, nil
	default:
		return nil, nil, nil, fmt.Errorf("unknown feed backend %q", cfg.Feed.Backend)
	}
}

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = setupPrettySlog()
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = setupPrettySlog()
	}

	return log
}

func setupPrettySlog() *slog.Logger {
	opts := slogpretty.PrettyHandlerOptions{
		SlogOpts: &slog.HandlerOptions{
			Level: slog.LevelDebug,
		},
	}

	handler := opts.NewPrettyHandler(os.Stdout)

	return slog.New(handler)
}

func connectDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	if cfg.DSN == "" {
		return nil, errors.New("database dsn is empty")
	}

	var dialector gorm.Dialector
	switch cfg.Driver {
	case config.DriverPostgres:
		dialector = postgres.Open(cfg.DSN)
	case config.DriverSQLite:
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, repository.GormConfig())
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(repository.Models()...); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	if cfg.Driver == config.DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetMaxOpenConns(25)
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	return db, nil
}
