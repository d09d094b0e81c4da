package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/socialscrape/engine/pkg/accountreg"
	"github.com/socialscrape/engine/pkg/config"
	"github.com/socialscrape/engine/pkg/control"
	"github.com/socialscrape/engine/pkg/dbx"
	"github.com/socialscrape/engine/pkg/logging"
	"github.com/socialscrape/engine/pkg/proxyreg"
	"github.com/socialscrape/engine/pkg/redditscraper"
	"github.com/socialscrape/engine/pkg/supervisor"
)

const scraperName = "reddit_scraper"

func main() {
	cfg := config.Load()
	logging.Init(scraperName, cfg.Environment, cfg.LogLevel)

	db, err := dbx.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("reddit-scraper: failed to connect to database")
	}
	defer db.Close()

	ctl := control.New(dbx.NewPostgresControlRepository(db), cfg.ControlCacheTTL)

	proxies := proxyreg.New(dbx.NewPostgresProxyRepository(db), cfg.ProxyStatsFlushEvery, cfg.ProxyStatsFlushEach)
	accounts := accountreg.New(dbx.NewPostgresAccountRepository(db), cfg.AccountFailureCool, time.Duration(cfg.AccountCooldownMins)*time.Minute, 0)

	subredditRepo := dbx.NewPostgresSubredditRepository(db)
	userRepo := dbx.NewPostgresUserRepository(db)
	postRepo := dbx.NewPostgresPostRepository(db)
	classifier := redditscraper.NewClassifier(nil, nil)

	cycle := redditscraper.New(proxies, accounts, ctl, subredditRepo, userRepo, postRepo, classifier, redditscraper.Config{
		ScraperName:      scraperName,
		DiscoveryEnabled: cfg.RedditDiscoveryOn,
		RefreshInterval:  cfg.RedditRefreshAfter,
		RequestTimeout:   cfg.RedditRequestTimeout,
		ProxyTestURL:     cfg.ProxyValidateTestURL,
		DisableThreshold: cfg.ProxyDisableThresh,
	})

	sup := supervisor.New(ctl, scraperName, "reddit", cfg.PollInterval, cfg.DrainDeadline,
		func(ctx context.Context, probe func() bool) error {
			return cycle.Run(ctx, probe)
		},
		nil, // Reddit has no waiting state: it is either gated off or running
	)

	if err := sup.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("reddit-scraper: supervisor exited with error")
	}
}
