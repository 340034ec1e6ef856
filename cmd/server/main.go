package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"coverx/internal/breaker"
	"coverx/internal/config"
	cronrunner "coverx/internal/cron"
	"coverx/internal/db"
	"coverx/internal/handler"
	"coverx/internal/hedge"
	"coverx/internal/logger"
	"coverx/internal/metrics"
	"coverx/internal/models"
	"coverx/internal/oracle"
	gormrepository "coverx/internal/repository/gorm"
	"coverx/internal/venue"
	"coverx/internal/waterfall"
)

func main() {
	cfgPath := os.Getenv("CX_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("CX_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	stats := waterfall.NewStats()
	if len(cfg.Breaker.Defaults) == 0 {
		cfg.Breaker.Defaults = defaultBreakers()
	}
	breakerEng := breaker.New(store, stats, logger, cfg.Breaker)
	if err := breakerEng.Restore(ctx); err != nil {
		logger.Fatal("breaker restore failed", zap.Error(err))
	}

	oracleSvc := oracle.NewService(store, logger, cfg.Oracle)
	hedgeEng := hedge.New(store, logger, cfg.Hedge)
	registerVenues(ctx, hedgeEng, cfg, logger)

	engine := waterfall.New(store, logger, cfg.Waterfall, oracleSvc, hedgeEng, breakerEng, stats)
	governance := waterfall.NewGovernance(store, logger, cfg.Governance, cfg.Waterfall)
	governance.Breaker = breakerEng

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(router)
	productHandler := &handler.ProductHandler{Repo: store, Engine: engine, Governance: governance}
	productHandler.Register(router)
	coverageHandler := &handler.CoverageHandler{Engine: engine, Repo: store}
	coverageHandler.Register(router)
	oracleHandler := &handler.OracleHandler{Service: oracleSvc}
	oracleHandler.Register(router)
	hedgeHandler := &handler.HedgeHandler{Engine: hedgeEng, Repo: store}
	hedgeHandler.Register(router)
	breakerHandler := &handler.BreakerHandler{Engine: breakerEng}
	breakerHandler.Register(router)
	poolHandler := &handler.PoolHandler{Junior: engine.Junior, Treasury: engine.Treasury, Repo: store}
	poolHandler.Register(router)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Cron.Enabled {
		if _, err := cronRunner.Add("breaker-check", cfg.Cron.BreakerCheck, func(ctx context.Context) {
			breakerEng.CheckAll(ctx)
		}); err != nil {
			logger.Warn("cron register breaker check failed", zap.Error(err))
		}
		if _, err := cronRunner.Add("price-refresh", cfg.Cron.PriceRefresh, func(ctx context.Context) {
			refreshPrices(ctx, store, hedgeEng, stats, logger)
		}); err != nil {
			logger.Warn("cron register price refresh failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func registerVenues(ctx context.Context, hedgeEng *hedge.Engine, cfg config.Config, logger *zap.Logger) {
	for _, vc := range cfg.Venues {
		var adapter venue.Adapter
		switch vc.Kind {
		case "rest":
			adapter = venue.NewRESTAdapter(vc.Name, vc.Endpoint, &http.Client{Timeout: cfg.Hedge.RequestTimeout})
		case "static":
			adapter = venue.NewStaticAdapter(vc.Name)
		default:
			logger.Warn("unknown venue kind, skipping", zap.String("venue", vc.Name), zap.String("kind", vc.Kind))
			continue
		}
		row := models.Venue{
			Name:         vc.Name,
			Kind:         vc.Kind,
			Endpoint:     vc.Endpoint,
			Weight:       vc.Weight,
			MaxTradeSize: decimal.NewFromFloat(vc.MaxTradeSize),
			Enabled:      vc.Enabled,
		}
		if err := hedgeEng.Register(ctx, row, adapter); err != nil {
			logger.Warn("venue registration failed", zap.String("venue", vc.Name), zap.Error(err))
		}
	}
}

// refreshPrices re-aggregates venue quotes for every active product and
// feeds the liquidity gauge that backs the liquidity-crisis breaker.
func refreshPrices(ctx context.Context, store *gormrepository.Store, hedgeEng *hedge.Engine, stats *waterfall.Stats, logger *zap.Logger) {
	products, err := store.ListProducts(ctx, true)
	if err != nil {
		logger.Warn("price refresh: list products failed", zap.Error(err))
		return
	}
	totalLiquidity := 0.0
	for _, p := range products {
		snapshot, err := hedgeEng.UpdatePrices(ctx, p.EventID)
		if err != nil {
			logger.Warn("price refresh failed", zap.String("event_id", p.EventID), zap.Error(err))
			continue
		}
		liq, _ := snapshot.TotalLiquidity.Float64()
		totalLiquidity += liq
	}
	stats.SetGauge(waterfall.MetricTotalLiquidity, totalLiquidity)
}

func defaultBreakers() []config.BreakerSpec {
	return []config.BreakerSpec{
		{ID: "pool-loss-ratio", Metric: waterfall.MetricPoolLossRatio, Threshold: 0.25, Window: 24 * time.Hour, Cooldown: 12 * time.Hour, Aggregate: "avg", Critical: true, Enabled: true},
		{ID: "daily-loss", Metric: waterfall.MetricRealizedLoss, Threshold: 500000, Window: 24 * time.Hour, Cooldown: 6 * time.Hour, Aggregate: "sum", Enabled: true},
		{ID: "oracle-failures", Metric: waterfall.MetricOracleFailures, Threshold: 10, Window: time.Hour, Cooldown: time.Hour, Aggregate: "sum", Enabled: true},
		{ID: "hedge-slippage", Metric: waterfall.MetricHedgeSlippage, Threshold: 0.05, Window: time.Hour, Cooldown: 30 * time.Minute, Aggregate: "avg", Enabled: true},
		{ID: "hedge-correlation", Metric: waterfall.MetricHedgeCorrelation, Threshold: 2, Window: time.Hour, Cooldown: time.Hour, Aggregate: "avg", Inverted: true, Enabled: true},
		{ID: "volume-spike", Metric: waterfall.MetricVolume, Threshold: 1000000, Window: time.Hour, Cooldown: 30 * time.Minute, Aggregate: "sum", Enabled: true},
		{ID: "liquidity-crisis", Metric: waterfall.MetricTotalLiquidity, Threshold: 0.001, Window: 30 * time.Minute, Cooldown: time.Hour, Aggregate: "avg", Inverted: true, Critical: true, Enabled: true},
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
