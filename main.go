package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/gofiber/fiber/v2"
	"github.com/robfig/cron/v3"
	"golang.org/x/oauth2"

	"rdmsync/config"
	"rdmsync/dropbox"
	"rdmsync/models"
	"rdmsync/routes"
	syncpkg "rdmsync/sync"
	"rdmsync/utils"
	"rdmsync/worker"
)

func main() {
	issueToken := flag.String("issue-token", "", "print a service token for the given subject and exit")
	flag.Parse()

	// Initialize logger
	logger := log.New(os.Stdout, "SYNC: ", log.Ldate|log.Ltime|log.Lshortfile)

	// Load configuration
	if err := config.LoadConfig(); err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Operator bootstrap for the admin API: mint a bearer token without
	// starting the service.
	if *issueToken != "" {
		token, err := utils.GenerateServiceToken(*issueToken, 24*time.Hour)
		if err != nil {
			logger.Fatalf("Failed to issue service token: %v", err)
		}
		fmt.Println(token)
		return
	}

	// Initialize database connection
	if err := config.ConnectDB(); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Initialize error reporting
	if config.AppConfig.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:         config.AppConfig.SentryDSN,
			Environment: config.AppConfig.Environment,
		}); err != nil {
			logger.Fatalf("Failed to initialize sentry: %v", err)
		}
		defer sentry.Flush(5 * time.Second)
	}

	// Create Fiber app
	app := fiber.New()

	// Build the synchronization job and its worker
	job := &syncpkg.Job{
		DB:              config.DB,
		Projects:        syncpkg.NewLocalProjectSystem(config.DB, []byte(config.AppConfig.TimestampAuthorityKey)),
		NewDirectory:    newDirectory(logger),
		AdminGroupName:  config.AppConfig.AdminGroupName,
		GroupNamePrefix: config.AppConfig.GroupNamePrefix,
		MutateDelay:     time.Second,
		Logger:          logger,
	}
	syncWorker := worker.NewSyncWorker(
		config.DB,
		job,
		config.AppConfig.LockDir,
		time.Duration(config.AppConfig.SyncIntervalMinutes)*time.Minute,
		logger,
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go syncWorker.Start(ctx)

	// Periodic institution-wide metadata sync
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(config.AppConfig.InstitutionSyncCron, func() {
		job.SyncMetadata(ctx)
	}); err != nil {
		logger.Fatalf("Failed to schedule institution sync: %v", err)
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Setup routes
	routes.SetupWebhookRoutes(app, syncWorker)
	routes.SetupAPIRoutes(app, config.DB, syncWorker, job)

	// Health check endpoint
	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "running",
			"version": "1.0.0",
		})
	})

	// Start server
	logger.Printf("🚀 Server starting on port %s", config.AppConfig.ServerPort)
	if err := app.Listen(":" + config.AppConfig.ServerPort); err != nil {
		logger.Fatalf("Failed to start server: %v", err)
	}
}

// newDirectory returns the factory the job uses to build a Dropbox client
// pair for one team, decrypting the stored tokens on each use.
func newDirectory(logger *log.Logger) func(opt *models.TeamOption) (syncpkg.DirectoryClient, error) {
	return func(opt *models.TeamOption) (syncpkg.DirectoryClient, error) {
		mgmtToken, err := utils.Decrypt(opt.ManagementToken)
		if err != nil {
			return nil, fmt.Errorf("decrypt management token: %w", err)
		}
		fileToken, err := utils.Decrypt(opt.FileAccessToken)
		if err != nil {
			return nil, fmt.Errorf("decrypt file access token: %w", err)
		}
		refreshToken, err := utils.Decrypt(opt.RefreshToken)
		if err != nil {
			return nil, fmt.Errorf("decrypt refresh token: %w", err)
		}
		mgmt := dropbox.NewClient(tokenSource(mgmtToken, refreshToken), logger)
		file := dropbox.NewClient(tokenSource(fileToken, refreshToken), logger)
		return syncpkg.NewDirectory(mgmt, file), nil
	}
}

// tokenSource wraps a stored access token. Teams registered with a refresh
// token get automatic renewal through the OAuth2 endpoint; legacy
// long-lived tokens are used as-is.
func tokenSource(accessToken, refreshToken string) oauth2.TokenSource {
	token := &oauth2.Token{AccessToken: accessToken, RefreshToken: refreshToken}
	if refreshToken == "" {
		return oauth2.StaticTokenSource(token)
	}
	return config.DropboxOAuth().TokenSource(context.Background(), token)
}
