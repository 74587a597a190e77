package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	apirest "github.com/kasuganosora/dmail/api/rest"
	"github.com/kasuganosora/dmail/api/sse"
	"github.com/kasuganosora/dmail/audit"
	"github.com/kasuganosora/dmail/cache"
	"github.com/kasuganosora/dmail/config"
	dbadapter "github.com/kasuganosora/dmail/db"
	"github.com/kasuganosora/dmail/mail"
	mw "github.com/kasuganosora/dmail/middleware"
	"github.com/kasuganosora/dmail/model"
	"github.com/kasuganosora/dmail/plugin/hook"
	"github.com/kasuganosora/dmail/scheduler"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	cfgPath := "config/config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- Logger ----
	var logger *zap.Logger
	var logErr error
	if cfg.Server.Debug {
		logger, logErr = zap.NewDevelopment()
	} else {
		logger, logErr = zap.NewProduction()
	}
	if logErr != nil {
		log.Fatalf("logger: %v", logErr)
	}
	defer logger.Sync()

	if cfg.Server.AdminKey == "" {
		logger.Warn("server.admin_key is not set; admin endpoints are disabled")
	}
	if cfg.Mail.TokenSecret == "" {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			log.Fatalf("token secret: %v", err)
		}
		cfg.Mail.TokenSecret = hex.EncodeToString(secret)
		logger.Warn("mail.token_secret is not set; using a random secret, message keys will not survive a restart")
	}

	// ---- Database ----
	db, err := dbadapter.Open(cfg.Database)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("db migrate: %v", err)
	}
	if _, err := model.EnsureSystemUser(db); err != nil {
		log.Fatalf("system user: %v", err)
	}
	logger.Info("DB initialized", zap.String("mode", cfg.Database.Mode))

	// ---- Audit ----
	auditSvc := audit.New(db, logger)

	// ---- Cache / PubSub ----
	cacheConfig := cache.CacheConfig{
		RedisAddr:       cfg.Cache.RedisAddr,
		RedisPassword:   cfg.Cache.RedisPassword,
		RedisDB:         cfg.Cache.RedisDB,
		LocalGCInterval: cfg.Cache.LocalGCInterval,
		LocalPubSubBuf:  cfg.Cache.LocalPubSubBuf,
	}
	c, err := cache.NewCache(cacheConfig)
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	pubsub, err := cache.NewPubSub(cacheConfig)
	if err != nil {
		log.Fatalf("pubsub: %v", err)
	}
	logger.Info("Cache initialized", zap.Bool("redis", cfg.Cache.RedisAddr != ""))

	// ---- Hooks ----
	hooks := hook.NewHookCenter()
	for event, action := range map[string]string{
		hook.OnMailSent:       "mail.sent",
		hook.OnMailRead:       "mail.read",
		hook.OnMailDeleted:    "mail.deleted",
		hook.OnMailUndeleted:  "mail.undeleted",
		hook.OnUserAutobanned: "user.autobanned",
		hook.OnUserBanned:     "user.banned",
		hook.OnUserUnbanned:   "user.unbanned",
	} {
		hooks.Register(event, 100, "audit", auditSvc.Recorder(action))
	}

	// ---- Mail ----
	store := mail.NewStore(db, cfg.Mail, mail.Options{
		Spam:     mail.NewKeywordClassifier(cfg.Mail.SpamKeywords, cfg.Mail.SpamThreshold),
		Notifier: mail.NewPubSubNotifier(pubsub, mail.UserNames(db, c, logger), logger),
		Hooks:    hooks,
		Cache:    c,
	}, logger)

	// ---- Scheduler ----
	sched := scheduler.New(logger)
	if cfg.Mail.BanSweepInterval > 0 {
		sched.AddTicker("ban_sweep", cfg.Mail.BanSweepInterval, func(ctx context.Context) error {
			_, err := store.Sanctions().ExpireLapsed(ctx)
			return err
		})
	}

	// ---- Gin HTTP Server ----
	if !cfg.Server.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(mw.TraceID(), mw.Logger(logger), mw.Recovery(logger))
	r.Use(mw.RateLimit(rate.Limit(cfg.Security.RateLimitRPS), cfg.Security.RateLimitBurst))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// ---- REST API routes ----
	authH := apirest.NewAuthHandler(db, c, cfg.Security)
	mailH := apirest.NewMailHandler(store, logger)
	blockH := apirest.NewBlockHandler(store, logger)
	adminH := apirest.NewAdminHandler(db, store, sched, logger)
	auth := mw.Auth(cfg.Security, c)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/login", authH.Login)
		authG.POST("/logout", auth, authH.Logout)
		authG.POST("/refresh", auth, authH.Refresh)

		mailG := api.Group("/mail")
		mailG.Use(auth)
		mailG.GET("", mailH.Search)
		mailG.GET("/status", mailH.Status)
		mailG.POST("", mailH.Send)
		mailG.POST("/mark_all_read", mailH.MarkAllRead)
		mailG.PUT("/filter", mailH.SetFilter)
		mailG.GET("/:id", mailH.Show)
		mailG.POST("/:id/read", mailH.Read)
		mailG.DELETE("/:id", mailH.Delete)
		mailG.POST("/:id/undelete", mailH.Undelete)

		blocksG := api.Group("/blocks")
		blocksG.Use(auth)
		blocksG.GET("", blockH.List)
		blocksG.POST("/:id", blockH.Block)
		blocksG.DELETE("/:id", blockH.Unblock)

		adminG := api.Group("/admin")
		adminG.Use(mw.IPWhitelist(cfg.Security.AdminIPs), apirest.AdminAuth(cfg.Server.AdminKey))
		adminG.GET("/stats", adminH.Stats)
		adminG.GET("/bans", adminH.ListBans)
		adminG.POST("/users/:id/ban", adminH.BanUser)
		adminG.DELETE("/users/:id/ban", adminH.UnbanUser)
		adminG.GET("/scheduler", adminH.ListSchedulerTasks)
	}

	// ---- SSE ----
	sseH := sse.NewHandler(pubsub, c, cfg.Security, logger)
	r.GET("/sse", sseH.ServeSSE)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		// Request contexts end on shutdown so open SSE streams return.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	go func() {
		logger.Info("Server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	sched.Stop()
	if err := auditSvc.Stop(shutdownCtx); err != nil {
		logger.Warn("audit flush incomplete", zap.Error(err))
	}
}
