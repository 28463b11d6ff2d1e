package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ksred/vault-api/internal/assets"
	"github.com/ksred/vault-api/internal/auth"
	"github.com/ksred/vault-api/internal/database"
	"github.com/ksred/vault-api/internal/oracle"
	"github.com/ksred/vault-api/internal/types"
	"github.com/ksred/vault-api/internal/vault"
	"github.com/ksred/vault-api/pkg/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

const (
	serverAddress = "http://localhost:8080"
	liquidatorKey = "liquidator-api-key"
	liquidatorSec = "liquidator-api-secret"
)

// init configures the logger for the simulation with pretty printing and timestamp
func init() {
	// Configure pretty logging
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()
}

// simulationClient handles HTTP communication with the vault API on
// behalf of one authenticated identity
type simulationClient struct {
	baseURL   string
	authToken string
	client    *http.Client
}

// newSimulationClient authenticates with the given credentials and
// returns a client ready to call protected routes
func newSimulationClient(apiKey, apiSecret string) (*simulationClient, error) {
	sc := &simulationClient{
		baseURL: serverAddress,
		client:  &http.Client{Timeout: 10 * time.Second},
	}

	token, err := sc.authenticate(apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to authenticate: %w", err)
	}
	sc.authToken = token

	return sc, nil
}

// authenticate performs API authentication and returns a JWT token
func (sc *simulationClient) authenticate(apiKey, apiSecret string) (string, error) {
	credentials := map[string]string{
		"api_key":    apiKey,
		"api_secret": apiSecret,
	}

	body, err := json.Marshal(credentials)
	if err != nil {
		return "", err
	}

	resp, err := sc.client.Post(
		fmt.Sprintf("%s/api/v1/auth/token", sc.baseURL),
		"application/json",
		bytes.NewBuffer(body),
	)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("authentication failed with status: %d", resp.StatusCode)
	}

	var result struct {
		Success bool `json:"success"`
		Data    struct {
			Token string `json:"jwt_token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}

	return result.Data.Token, nil
}

// call performs an authenticated request and decodes the envelope's
// data field into out when the call succeeds
func (sc *simulationClient) call(method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewBuffer(raw)
	}

	req, err := http.NewRequest(method, sc.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", sc.authToken))
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := sc.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	log.Debug().Str("path", path).Str("response", string(respBody)).Msg("API response")

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("%s %s failed with status %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(respBody))
	}
	return json.Unmarshal(envelope.Data, out)
}

type assetSetup struct {
	assetID       string
	symbol        string
	name          string
	decimals      int32
	ltvBps        int64
	thresholdBps  int64
	interestBps   int64
	maxWeightBps  int64
	borrowable    bool
	priceUSD      string
	confidenceBps int64
}

// main runs the vault lifecycle simulation: configure assets and
// prices, open a vault, borrow against it, crash the collateral price
// and liquidate, then report the system statistics
func main() {
	// Start the server in a goroutine
	go func() {
		if err := startServer(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for server to start
	time.Sleep(2 * time.Second)

	admin, err := newSimulationClient(auth.TestAdminKey, auth.TestAdminSecret)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize admin client")
	}
	owner, err := newSimulationClient(auth.TestAPIKey, auth.TestAPISecret)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize vault owner client")
	}
	liquidator, err := newSimulationClient(liquidatorKey, liquidatorSec)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize liquidator client")
	}

	// Configure the supported assets and their starting prices
	setups := []assetSetup{
		{
			assetID: "ETH", symbol: "ETH", name: "Ether", decimals: 18,
			ltvBps: 8000, thresholdBps: 11000, interestBps: 0, maxWeightBps: 10000,
			borrowable: false, priceUSD: "2000", confidenceBps: 9900,
		},
		{
			assetID: "USDC", symbol: "USDC", name: "USD Coin", decimals: 6,
			ltvBps: 9000, thresholdBps: 11000, interestBps: 500, maxWeightBps: 10000,
			borrowable: true, priceUSD: "1", confidenceBps: 9950,
		},
	}
	for _, s := range setups {
		if err := admin.call("PUT", "/api/v1/internal/assets/"+s.assetID, map[string]interface{}{
			"symbol":                    s.symbol,
			"name":                      s.name,
			"decimals":                  s.decimals,
			"ltv_ratio_bps":             s.ltvBps,
			"liquidation_threshold_bps": s.thresholdBps,
			"interest_rate_bps":         s.interestBps,
			"max_weight_bps":            s.maxWeightBps,
			"borrowable":                s.borrowable,
		}, nil); err != nil {
			log.Fatal().Err(err).Str("asset_id", s.assetID).Msg("Failed to configure asset")
		}
		if err := admin.call("PUT", "/api/v1/internal/prices/"+s.assetID, map[string]interface{}{
			"price_usd":      s.priceUSD,
			"confidence_bps": s.confidenceBps,
		}, nil); err != nil {
			log.Fatal().Err(err).Str("asset_id", s.assetID).Msg("Failed to set price")
		}
		log.Info().Str("asset_id", s.assetID).Str("price_usd", s.priceUSD).Msg("Asset configured")
	}

	// Deposit 10 ETH at $2000
	var snap types.VaultSnapshot
	tenETH := decimal.New(1, 19) // 10 ETH in wei
	if err := owner.call("POST", "/api/v1/vault/deposit", types.AmountRequest{
		AssetID: "ETH", Amount: tenETH,
	}, &snap); err != nil {
		log.Fatal().Err(err).Msg("Failed to deposit collateral")
	}
	log.Info().
		Str("total_collateral_usd", snap.TotalCollateralUSD.String()).
		Str("available_to_borrow_usd", snap.AvailableToBorrow.String()).
		Msg("Collateral deposited")

	// Borrow 12000 USDC against it, ratio 20000/12000 = 16666 bps
	if err := owner.call("POST", "/api/v1/vault/borrow", types.AmountRequest{
		AssetID: "USDC", Amount: decimal.New(12000, 6),
	}, &snap); err != nil {
		log.Fatal().Err(err).Msg("Failed to borrow")
	}
	log.Info().
		Str("total_debt_usd", snap.TotalDebtUSD.String()).
		Int64("ratio_bps", snap.CollateralRatioBps).
		Str("status", snap.Status).
		Msg("Borrowed against collateral")

	// Crash ETH to $1400: ratio 14000/12000 = 11666 bps, below the
	// 12000 bps liquidation threshold
	if err := admin.call("PUT", "/api/v1/internal/prices/ETH", map[string]interface{}{
		"price_usd":      "1400",
		"confidence_bps": 9900,
	}, nil); err != nil {
		log.Fatal().Err(err).Msg("Failed to crash price")
	}

	var ratio types.RatioView
	if err := owner.call("GET", "/api/v1/vault/ratio", nil, &ratio); err != nil {
		log.Fatal().Err(err).Msg("Failed to query ratio")
	}
	log.Info().
		Int64("ratio_bps", ratio.CollateralRatioBps).
		Str("status", ratio.Status).
		Msg("Price crash applied")

	// Liquidate a third of the debt
	var outcome types.LiquidationOutcome
	if err := liquidator.call("POST", "/api/v1/vault/"+auth.TestAPIKey+"/liquidate", types.LiquidateRequest{
		AssetID: "USDC", Amount: decimal.New(4000, 6),
	}, &outcome); err != nil {
		log.Fatal().Err(err).Msg("Failed to liquidate")
	}
	log.Info().
		Str("liquidation_id", outcome.LiquidationID).
		Str("debt_repaid_usd", outcome.DebtRepaidUSD.String()).
		Str("penalty_usd", outcome.PenaltyUSD.String()).
		Str("seized_usd", outcome.SeizedUSD.String()).
		Str("vault_status", outcome.VaultStatus).
		Msg("Vault liquidated")

	var stats types.Statistics
	if err := owner.call("GET", "/api/v1/statistics", nil, &stats); err != nil {
		log.Fatal().Err(err).Msg("Failed to query statistics")
	}

	// Print summary
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("VAULT SIMULATION SUMMARY")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf(`
Total Vaults:           %d
Total Collateral (USD): %s
Total Debt (USD):       %s
System Ratio (bps):     %d
Healthy / AtRisk:       %d / %d
Liquidatable:           %d
Liquidated:             %d
Bad Debt (USD):         %s
`, stats.TotalVaults, stats.TotalCollateralUSD, stats.TotalDebtUSD,
		stats.SystemRatioBps, stats.HealthyVaults, stats.AtRiskVaults,
		stats.LiquidatableVaults, stats.LiquidatedVaults, stats.TotalBadDebtUSD)
	fmt.Println(strings.Repeat("=", 80))

	log.Info().Msg("Simulation completed")
}

// startServer initializes and starts the vault API server
// Sets up all required services, handlers and routes
func startServer() error {
	// Initialize database
	db, err := database.Initialize(database.Config{Path: "simulation.db"})
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	engineCfg := vault.DefaultConfig()
	jwtSecret := "vault-secret-key"
	middleware.Configure(jwtSecret)

	// Initialize services
	authService := auth.NewService(jwtSecret)
	registry := assets.NewRegistry(db, engineCfg.MinCollateralRatioBps)
	oracleService := oracle.NewService(db, 5*time.Minute, 8000)
	vaultService := vault.NewService(db, registry, oracleService, engineCfg)

	// Register test credentials
	authService.RegisterAPICredentials(auth.TestAPIKey, auth.TestAPISecret)
	authService.RegisterAPICredentials(liquidatorKey, liquidatorSec)
	authService.RegisterAdminCredentials(auth.TestAdminKey, auth.TestAdminSecret)

	// Initialize router
	router := gin.Default()
	authHandlers := auth.NewGinHandlers(authService)
	assetHandlers := assets.NewGinHandlers(registry)
	oracleHandlers := oracle.NewGinHandlers(oracleService)
	vaultHandlers := vault.NewGinHandlers(vaultService)

	// Setup routes
	setupRoutes(router, authHandlers, assetHandlers, oracleHandlers, vaultHandlers)

	// Start the server
	return router.Run(":8080")
}

// setupRoutes configures all API endpoints and their handlers
// Groups routes by functionality and applies appropriate middleware
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

		// Vault routes
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

		// Reference data and statistics
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

		// Internal routes
		internal := v1.Group("/internal")
		internal.Use(middleware.JWTAuth(), middleware.InternalAuth())
		{
			internal.PUT("/assets/:asset_id", assetHandlers.UpsertAssetHandler())
			internal.PUT("/prices/:asset_id", oracleHandlers.UpdatePriceHandler())
		}
	}
}
