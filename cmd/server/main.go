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
	"github.com/joho/godotenv"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"pollmarket/internal/auth"
	"pollmarket/internal/config"
	cronrunner "pollmarket/internal/cron"
	"pollmarket/internal/db"
	"pollmarket/internal/handler"
	"pollmarket/internal/logger"
	"pollmarket/internal/market"
	"pollmarket/internal/marketdata"
	gormrepository "pollmarket/internal/repository/gorm"
	"pollmarket/internal/service"

	_ "pollmarket/docs"
)

func main() {
	_ = godotenv.Load()

	cfgPath := os.Getenv("PM_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}
	envOnly := false
	if raw := os.Getenv("PM_ENV_ONLY"); raw != "" {
		envOnly = strings.EqualFold(raw, "true") || raw == "1"
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
	settingsSvc := &service.SystemSettingsService{Repo: store}
	if err := settingsSvc.EnsureDefaultSwitches(context.Background()); err != nil {
		logger.Warn("init default system switches failed", zap.Error(err))
	}

	candleHTTP := &http.Client{Timeout: cfg.MarketData.Timeout}
	candles := marketdata.NewClient(candleHTTP, cfg.MarketData.BaseURL)

	authSvc := auth.New(cfg.Auth.JWTSecret)
	if !authSvc.Enabled() {
		logger.Warn("jwt secret missing, authenticated routes disabled")
	}

	settlementSvc := &service.SettlementService{
		Repo:    store,
		Candles: candles,
		Logger:  logger,
	}
	rankingSvc := &service.RankingService{Repo: store, Logger: logger}
	votingSvc := &service.VotingService{Repo: store, Logger: logger}
	ingestSvc := &service.CandleIngestService{
		Repo:    store,
		Candles: candles,
		Config:  cfg.Ingest,
		Logger:  logger,
		Flags:   settingsSvc,
	}
	sweepSvc := &service.SettlementSweepService{
		Repo:       store,
		Settlement: settlementSvc,
		Config:     cfg.Settlement,
		Logger:     logger,
		Flags:      settingsSvc,
	}

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	pollHandler := &handler.PollHandler{Voting: votingSvc, Auth: authSvc, Logger: logger}
	pollHandler.Register(engine)
	settlementHandler := &handler.SettlementHandler{Settlement: settlementSvc, Logger: logger}
	settlementHandler.Register(engine)
	rankHandler := &handler.RankHandler{
		Ranking: rankingSvc,
		Auth:    authSvc,
		Config:  cfg.Ranking,
		Logger:  logger,
	}
	rankHandler.Register(engine)
	settingsHandler := &handler.SettingsHandler{Settings: settingsSvc}
	settingsHandler.Register(engine)

	engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cronRunner := cronrunner.New(logger, ctx)
	if cfg.Cron.Enabled {
		if _, err := cronRunner.Add("candle_ingest", cfg.Cron.CandleIngest, ingestSvc.RunOnceIfEnabled); err != nil {
			logger.Warn("cron register candle ingest failed", zap.Error(err))
		}
		if _, err := cronRunner.Add("settlement_sweep", cfg.Cron.SettlementSweep, sweepSvc.RunOnceIfEnabled); err != nil {
			logger.Warn("cron register settlement sweep failed", zap.Error(err))
		}
		if _, err := cronRunner.Add("rank_refresh", cfg.Cron.RankRefresh, func(ctx context.Context) error {
			if !settingsSvc.IsEnabled(ctx, service.FeatureRankRefresh, true) {
				return nil
			}
			sid := rankingSvc.CurrentSeason()
			for _, g := range market.Groups() {
				if _, err := rankingSvc.Refresh(ctx, g, sid); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			logger.Warn("cron register rank refresh failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
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

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
