package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/ksred/vault-api/internal/assets"
	"github.com/ksred/vault-api/internal/auth"
	"github.com/ksred/vault-api/internal/database"
	"github.com/ksred/vault-api/internal/oracle"
	"github.com/ksred/vault-api/internal/vault"
	"github.com/ksred/vault-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the vault API server with graceful shutdown
// support. It wires the asset registry, price oracle and vault engine
// over a shared database and exposes them through the API routes.
func main() {
	// Initialize database
	db, err := database.Initialize(database.Config{
		Path:  envOr("DATABASE_PATH", "vault.db"),
		Debug: os.Getenv("DEBUG") == "true",
	})
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Risk parameters, overridable via environment
	engineCfg := vault.DefaultConfig()
	engineCfg.MinCollateralRatioBps = envInt("MIN_COLLATERAL_RATIO_BPS", engineCfg.MinCollateralRatioBps)
	engineCfg.LiquidationThresholdBps = envInt("LIQUIDATION_THRESHOLD_BPS", engineCfg.LiquidationThresholdBps)
	engineCfg.LiquidationPenaltyBps = envInt("LIQUIDATION_PENALTY_BPS", engineCfg.LiquidationPenaltyBps)

	jwtSecret := envOr("JWT_SECRET", "vault-secret-key")
	middleware.Configure(jwtSecret)

	// Initialize services and handlers
	authService := auth.NewService(jwtSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)
	authService.RegisterAdminCredentials(auth.TestAdminKey, auth.TestAdminSecret)

	registry := assets.NewRegistry(db, engineCfg.MinCollateralRatioBps)
	assetHandlers := assets.NewGinHandlers(registry)

	maxPriceAge := time.Duration(envInt("MAX_PRICE_AGE_SECONDS", 300)) * time.Second
	oracleService := oracle.NewService(db, maxPriceAge, envInt("MIN_PRICE_CONFIDENCE_BPS", 8000))
	oracleHandlers := oracle.NewGinHandlers(oracleService)

	vaultService := vault.NewService(db, registry, oracleService, engineCfg)
	vaultHandlers := vault.NewGinHandlers(vaultService)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, authHandlers, assetHandlers, oracleHandlers, vaultHandlers)

	// Get port from env otherwise it's 8080
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// Create server
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		zlog.Warn().Str("key", key).Str("value", v).Msg("invalid integer setting, using default")
		return fallback
	}
	return n
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Vault routes: Protected by JWT authentication, owner-scoped
// - Asset/statistics routes: Protected by JWT authentication, read only
// - Internal routes: Protected by admin permission for registry and
//   price administration
func setupRoutes(
	router *gin.Engine,
	authHandlers *auth.GinHandlers,
	assetHandlers *assets.GinHandlers,
	oracleHandlers *oracle.GinHandlers,
	vaultHandlers *vault.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		auth := v1.Group("/auth")
		{
			auth.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Vault routes, scoped to the authenticated owner
		vaults := v1.Group("/vault")
		vaults.Use(middleware.JWTAuth())
		{
			vaults.GET("", vaultHandlers.GetVaultHandler())
			vaults.POST("/deposit", vaultHandlers.DepositHandler())
			vaults.POST("/withdraw", vaultHandlers.WithdrawHandler())
			vaults.POST("/borrow", vaultHandlers.BorrowHandler())
			vaults.POST("/repay", vaultHandlers.RepayHandler())
			vaults.POST("/close", vaultHandlers.CloseHandler())
			vaults.GET("/ratio", vaultHandlers.GetRatioHandler())
			vaults.GET("/available-to-borrow", vaultHandlers.GetAvailableToBorrowHandler())
			vaults.GET("/available-to-withdraw", vaultHandlers.GetAvailableToWithdrawHandler())
			vaults.POST("/:owner/liquidate", vaultHandlers.LiquidateHandler())
			vaults.GET("/:owner/liquidations", vaultHandlers.GetLiquidationsHandler())
		}

		// Read-only reference data
		assetRoutes := v1.Group("/assets")
		assetRoutes.Use(middleware.JWTAuth())
		{
			assetRoutes.GET("", assetHandlers.ListAssetsHandler())
		}

		statistics := v1.Group("/statistics")
		statistics.Use(middleware.JWTAuth())
		{
			statistics.GET("", vaultHandlers.GetStatisticsHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.JWTAuth(), middleware.InternalAuth())
		{
			internal.PUT("/assets/:asset_id", assetHandlers.UpsertAssetHandler())
			internal.PUT("/prices/:asset_id", oracleHandlers.UpdatePriceHandler())
		}
	}
}
