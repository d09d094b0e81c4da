package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/socialscrape/engine/pkg/config"
	"github.com/socialscrape/engine/pkg/control"
	"github.com/socialscrape/engine/pkg/dbx"
	"github.com/socialscrape/engine/pkg/logging"
	"github.com/socialscrape/engine/pkg/statusapi"
)

func main() {
	cfg := config.Load()
	logging.Init("status_server", cfg.Environment, cfg.LogLevel)

	db, err := dbx.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("status-server: failed to connect to database")
	}
	defer db.Close()

	ctl := control.New(dbx.NewPostgresControlRepository(db), cfg.ControlCacheTTL)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := statusapi.NewRouter(statusapi.Dependencies{
		DB:      db,
		Control: ctl,
		Scrapers: []statusapi.ScraperStatus{
			{Name: "reddit_scraper", StaleThreshold: cfg.RedditStaleHeartbeat},
			{Name: "instagram_scraper", StaleThreshold: cfg.InstagramStaleHeartbt},
		},
	})

	server := &http.Server{
		Addr:           fmt.Sprintf(":%s", cfg.ServerPort),
		Handler:        router,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   30 * time.Second,
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	server.SetKeepAlivesEnabled(true)

	log.Info().Str("port", cfg.ServerPort).Msg("status-server: starting")
	if err := server.ListenAndServe(); err != nil {
		log.Fatal().Err(err).Msg("status-server: failed to start")
	}
}
