package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/carbonex/carbonex-api/internal/config"
	"github.com/carbonex/carbonex-api/internal/domain/credit"
	"github.com/carbonex/carbonex-api/internal/domain/wallet"
	"github.com/carbonex/carbonex-api/internal/middleware"
	"github.com/carbonex/carbonex-api/internal/pkg/database"
	"github.com/carbonex/carbonex-api/internal/pkg/jwt"
	"github.com/carbonex/carbonex-api/internal/pkg/logger"
	pkgresponse "github.com/carbonex/carbonex-api/internal/pkg/response"
)

func main() {
	cfg := config.Load()
	setupLogger(cfg)

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting CarbonEx API")

	// ---------- Storage ----------
	var creditRepo *credit.Repository
	var walletRepo *wallet.Repository
	var creditStore credit.Store

	if cfg.DatabaseURL != "" {
		db, err := database.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer database.ClosePostgres(db)

		creditRepo = credit.NewRepository(db)
		walletRepo = wallet.NewRepository(db)
		creditStore = creditRepo

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := creditRepo.Migrate(ctx); err != nil {
			cancel()
			log.Fatal().Err(err).Msg("Failed to migrate schema")
		}
		cancel()
	} else {
		log.Warn().Msg("DATABASE_URL not set, running memory-only")
	}

	redisClient, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redisClient)

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	// ---------- Ledger ----------
	book := wallet.NewBook()
	emitter := credit.NewEmitter(redisClient)
	ledger := credit.NewLedger(book, emitter, creditStore, cfg.AdminAccountID, cfg.SystemAccountID)

	if creditRepo != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		credits, nextID, err := creditRepo.Load(ctx)
		if err != nil {
			cancel()
			log.Fatal().Err(err).Msg("Failed to load ledger state")
		}
		balances, err := walletRepo.LoadBalances(ctx)
		cancel()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to load wallet balances")
		}

		ledger.Restore(credits, nextID)
		book.Seed(balances)
		log.Info().Int("credits", len(credits)).Int64("next_id", nextID).Int("wallets", len(balances)).Msg("Ledger state restored")
	}

	// ---------- Services ----------
	walletService := wallet.NewService(book, walletRepo)
	creditService := credit.NewService(ledger)

	// ---------- Handlers ----------
	feed := credit.NewFeed(emitter, cfg.AllowedOrigins)
	creditHandler := credit.NewHandler(creditService, feed)
	walletHandler := wallet.NewHandler(walletService)

	authMiddleware := middleware.Auth(jwtService)
	adminMiddleware := middleware.RequireAdmin()

	// ---------- Router ----------
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, map[string]string{
			"status":  "ok",
			"version": "1.0.0",
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/credits", creditHandler.Routes(authMiddleware))
		r.Mount("/wallet", walletHandler.Routes(authMiddleware))
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Mount("/ledger", creditHandler.AdminRoutes(authMiddleware, adminMiddleware))
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Server stopped")
}

func setupLogger(cfg *config.Config) {
	if err := logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize logger")
	}
	if cfg.IsProduction() {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
