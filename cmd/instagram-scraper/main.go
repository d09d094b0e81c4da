package main

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/rs/zerolog/log"

	"github.com/socialscrape/engine/pkg/config"
	"github.com/socialscrape/engine/pkg/control"
	"github.com/socialscrape/engine/pkg/dbx"
	"github.com/socialscrape/engine/pkg/instagramapi"
	"github.com/socialscrape/engine/pkg/instagramscraper"
	"github.com/socialscrape/engine/pkg/logging"
	"github.com/socialscrape/engine/pkg/media"
	"github.com/socialscrape/engine/pkg/supervisor"
)

const scraperName = "instagram_scraper"

func main() {
	cfg := config.Load()
	logging.Init(scraperName, cfg.Environment, cfg.LogLevel)

	db, err := dbx.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("instagram-scraper: failed to connect to database")
	}
	defer db.Close()

	ctl := control.New(dbx.NewPostgresControlRepository(db), cfg.ControlCacheTTL)
	creatorRepo := dbx.NewPostgresCreatorRepository(db)
	contentRepo := dbx.NewPostgresIGContentRepository(db)

	api := instagramapi.New(nil, "https://"+cfg.InstagramRapidAPIHost, cfg.InstagramRapidAPIKey, cfg.InstagramRapidAPIHost, cfg.InstagramRateLimit)

	var uploader instagramscraper.MediaUploader
	if cfg.R2Enabled {
		s3Client, err := newR2Client(context.Background(), cfg)
		if err != nil {
			log.Fatal().Err(err).Msg("instagram-scraper: failed to configure R2 client")
		}
		uploader = media.NewPipeline(nil, s3Client, cfg.R2BucketName, cfg.R2PublicURL, cfg.MediaMaxRetries)
	}

	thresholds := instagramscraper.ViralThresholds{MinPlayCount: cfg.ViralMinPlayCount, Multiplier: cfg.ViralMultiplier}
	processor := instagramscraper.NewProcessor(api, creatorRepo, contentRepo, uploader, cfg.R2Enabled, thresholds)

	cycle := instagramscraper.New(processor, creatorRepo, instagramscraper.Config{
		Concurrency:     cfg.InstagramConcurrency,
		CycleWait:       cfg.InstagramCycleWait,
		BatchSize:       cfg.InstagramBatchSize,
		RelatedProfiles: true,
	})

	sup := supervisor.New(ctl, scraperName, "instagram", cfg.PollInterval, cfg.DrainDeadline,
		func(ctx context.Context, probe func() bool) error {
			return cycle.Run(ctx, probe)
		},
		cycle.NextCycleAt,
	)

	if err := sup.Start(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("instagram-scraper: supervisor exited with error")
	}
}

// newR2Client builds an S3-compatible client targeting Cloudflare R2's
// account-scoped endpoint (spec.md §4.5 "R2 is accessed via the S3-compatible API").
func newR2Client(ctx context.Context, cfg *config.Config) (*s3.Client, error) {
	creds := credentials.NewStaticCredentialsProvider(cfg.R2AccessKeyID, cfg.R2SecretAccessKey, "")
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion("auto"),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.R2AccountID)
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = &endpoint
		o.UsePathStyle = true
	}), nil
}
