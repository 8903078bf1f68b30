// Command lendingmarketd runs the lending market as a standalone HTTP
// service, backed by an in-memory ledger/oracle and a sqlite-backed
// store, grounded on the teacher's services/lendingd entrypoint style:
// TOML static config, slog JSON logging, Prometheus metrics, chi routing.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/weftfinance/lending-market/auth"
	"github.com/weftfinance/lending-market/httpapi"
	"github.com/weftfinance/lending-market/ledger"
	"github.com/weftfinance/lending-market/lendingmarket"
	"github.com/weftfinance/lending-market/observability/logging"
	"github.com/weftfinance/lending-market/observability/metrics"
	"github.com/weftfinance/lending-market/observability/tracing"
	"github.com/weftfinance/lending-market/oracle"
	"github.com/weftfinance/lending-market/storage"
)

func main() {
	configPath := flag.String("config", "lendingmarketd.toml", "path to the TOML configuration file")
	env := flag.String("env", "development", "deployment environment tag attached to every log line")
	flag.Parse()

	logger := logging.Setup("lendingmarketd", *env)

	shutdownTracing, err := initTracing(*env, logger)
	if err != nil {
		logger.Error("failed to init tracing", "err", err)
		os.Exit(1)
	}
	defer func() {
		if shutdownTracing != nil {
			_ = shutdownTracing(context.Background())
		}
	}()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

// initTracing wires the OTLP trace exporter when OTEL_EXPORTER_OTLP_ENDPOINT
// is set, mirroring the teacher's services/lendingd/main.go env-driven
// telemetry bootstrap. It is a no-op (nil shutdown, nil error) when unset,
// so lendingmarketd runs untraced by default in local development.
func initTracing(env string, logger *slog.Logger) (func(context.Context) error, error) {
	endpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if endpoint == "" {
		return nil, nil
	}
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdown, err := tracing.Init(context.Background(), tracing.Config{
		ServiceName: "lendingmarketd",
		Environment: env,
		Endpoint:    endpoint,
		Insecure:    insecure,
		Headers:     tracing.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
	})
	if err != nil {
		return nil, err
	}
	logger.Info("tracing enabled", "endpoint", endpoint)
	return shutdown, nil
}

func run(cfg fileConfig, logger *slog.Logger) error {
	db, err := gorm.Open(sqlite.Open(cfg.DatabasePath), &gorm.Config{})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	store, err := storage.NewGormStore(db)
	if err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	if err := store.PutMarketConfig(lendingmarket.MarketConfig{MaxCDPPosition: cfg.Market.MaxCDPPosition}); err != nil {
		return fmt.Errorf("seed market config: %w", err)
	}

	l := ledger.NewInMemory()
	feed := oracle.NewStatic()
	threshold, err := lendingmarket.NewLiquidationThreshold(big.NewRat(1, 1))
	if err != nil {
		return err
	}

	coordinator := lendingmarket.NewCoordinator(store, l, threshold, nil, metrics.Default(), logger, nil)

	for _, seed := range cfg.Pools {
		if err := seedPool(coordinator, l, feed, seed); err != nil {
			return fmt.Errorf("seed pool %s: %w", seed.Resource, err)
		}
	}

	verifier := (*auth.Verifier)(nil)
	if cfg.JWTSecret != "" {
		verifier = auth.NewVerifier([]byte(cfg.JWTSecret))
	}

	limiter := httpapi.NewRateLimiter(httpapi.DefaultRateLimits())
	server := httpapi.NewServer(coordinator, verifier, limiter, logger)
	logger.Info("listening", "addr", cfg.HTTPAddr)
	return http.ListenAndServe(cfg.HTTPAddr, server.Router())
}

func seedPool(coordinator *lendingmarket.Coordinator, l ledger.Ledger, feed *oracle.Static, seed poolSeedTOML) error {
	price, ok := new(big.Rat).SetString(seed.InitialPrice)
	if !ok {
		return fmt.Errorf("invalid initial_price %q", seed.InitialPrice)
	}
	feed.Set(seed.Resource, price, 0)

	mustRat := func(s string) *big.Rat {
		r, _ := new(big.Rat).SetString(s)
		return r
	}
	cfg := lendingmarket.PoolConfig{
		ProtocolFeeRate:              mustRat(seed.ProtocolFeeRate),
		ProtocolFlashloanFeeRate:     mustRat(seed.ProtocolFlashloanFeeRate),
		ProtocolLiquidationFeeRate:   mustRat(seed.ProtocolLiquidationFeeRate),
		FlashloanFeeRate:             mustRat(seed.FlashloanFeeRate),
		LiquidationBonusRate:         mustRat(seed.LiquidationBonusRate),
		LoanCloseFactor:              mustRat(seed.LoanCloseFactor),
		InterestUpdatePeriodMinutes:  seed.InterestUpdatePeriodMinutes,
		PriceUpdatePeriodMinutes:     seed.PriceUpdatePeriodMinutes,
		PriceExpirationPeriodSeconds: seed.PriceExpirationPeriodSeconds,
	}
	interest, err := lendingmarket.NewInterestStrategy([]lendingmarket.Breakpoint{
		{UtilizationRate: big.NewRat(0, 1), InterestRate: big.NewRat(1, 100)},
		{UtilizationRate: big.NewRat(8, 10), InterestRate: big.NewRat(8, 100)},
		{UtilizationRate: big.NewRat(1, 1), InterestRate: big.NewRat(1, 2)},
	})
	if err != nil {
		return err
	}

	assetKey := lendingmarket.AssetKey{Resource: seed.Resource, Type: seed.AssetType}
	vaultAccount := ledger.AccountAddress("vault:" + seed.Resource)
	reserveAccount := ledger.AccountAddress("reserve:" + seed.Resource)

	return coordinator.CreatePool(context.Background(), seed.Resource, assetKey, cfg, interest, feed, vaultAccount, reserveAccount)
}
