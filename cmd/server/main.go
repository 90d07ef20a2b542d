package main

import (
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/rtheme/internal/cache"
	"github.com/rtheme/internal/config"
	"github.com/rtheme/internal/db"
	"github.com/rtheme/internal/handler"
	"github.com/rtheme/internal/router"
	"github.com/rtheme/internal/service"
)

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg := config.Load()
	gin.SetMode(cfg.GinMode)

	// 初始化数据库
	if err := db.Init(cfg.DatabasePath); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize database")
	}
	if err := db.EnsureRootUser(cfg.SuperRootUserName, cfg.SuperRootPassword); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure root user")
	}

	// 初始化 Redis 热缓冲
	rdb, err := cache.NewClient(cache.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}

	email := service.NewEmailService(
		cfg.SMTPHost, cfg.SMTPPort,
		cfg.SMTPUsername, cfg.SMTPPassword,
		cfg.SMTPFromEmail, cfg.SMTPFromName,
	)

	api := handler.NewAPI(db.DB, rdb, email)
	r := router.SetupRouter(api, cfg.SessionSecret)

	log.Info().Str("addr", cfg.ListenAddr).Msg("server starting")
	if err := r.Run(cfg.ListenAddr); err != nil {
		log.Fatal().Err(err).Msg("failed to run server")
	}
}
