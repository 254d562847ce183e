package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/shortlink/internal/backup"
	"github.com/dukerupert/shortlink/internal/config"
	"github.com/dukerupert/shortlink/internal/database"
	"github.com/dukerupert/shortlink/internal/email"
	"github.com/dukerupert/shortlink/internal/logging"
	"github.com/dukerupert/shortlink/internal/otp"
	"github.com/dukerupert/shortlink/internal/server"
	"github.com/dukerupert/shortlink/internal/service"
	"github.com/dukerupert/shortlink/internal/slug"
	"github.com/dukerupert/shortlink/internal/store"
)

func main() {
	cfg, err := config.Load(os.Getenv)
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	backups := backup.NewManager(backup.Config{
		S3: backup.S3Config{
			Endpoint:  cfg.Backup.Endpoint,
			Bucket:    cfg.Backup.Bucket,
			Region:    cfg.Backup.Region,
			AccessKey: cfg.Backup.AccessKey,
			SecretKey: cfg.Backup.SecretKey,
		},
		Passphrase: cfg.Backup.Passphrase,
		Prefix:     cfg.Backup.Prefix,
		Interval:   cfg.Backup.Interval,
		Retention:  cfg.Backup.Retention,
	}, db, store.NewBackupStore(db), logger.With("component", "backup"))

	if len(os.Args) > 1 {
		if err := runCommand(context.Background(), backups, os.Args[1:]); err != nil {
			slog.Error("command failed", "command", os.Args[1], "error", err)
			os.Exit(1)
		}
		return
	}

	// Challenge store: Redis when configured so codes survive restarts and
	// are shared between instances, otherwise in-process.
	var challenges otp.Store
	if cfg.RedisURL != "" {
		redisStore, client, err := otp.NewRedisStoreFromURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid redis url", "error", err)
			os.Exit(1)
		}
		defer client.Close()

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = client.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			slog.Error("redis unreachable", "error", err)
			os.Exit(1)
		}
		challenges = redisStore
		slog.Info("verification codes stored in redis")
	} else {
		challenges = otp.NewMemoryStore()
	}

	var mailer service.Mailer
	if cfg.PostmarkToken != "" {
		mailer = email.NewClient(cfg.PostmarkToken, cfg.FromEmail)
	} else {
		slog.Warn("SHORTLINK_POSTMARK_TOKEN not set, verification codes will only be logged")
		mailer = email.NewLogSender(logger.With("component", "email"))
	}

	fetcher := slug.NewHTTPFetcher(slug.NewPublicClient(5))

	srv := server.New(cfg, server.Deps{
		DB:         db,
		Challenges: challenges,
		Mailer:     mailer,
		Fetcher:    fetcher,
	}, logger)

	// No read or write timeout: the event stream keeps connections open.
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Background cleanup goroutine
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.RateLimiter().Cleanup()
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	if backups.Enabled() {
		backups.Start(cleanupCtx)
		slog.Info("scheduled backups enabled", "interval", cfg.Backup.Interval, "retention", cfg.Backup.Retention)
	}

	go func() {
		slog.Info("shortlink starting", "addr", ":"+cfg.Port, "base_url", cfg.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	cleanupCancel()
	backups.Stop()
	srv.Hub().Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}

// runCommand handles the one-shot maintenance commands:
//
//	shortlink backup
//	shortlink restore <backup-id> <path>
func runCommand(ctx context.Context, backups *backup.Manager, args []string) error {
	switch args[0] {
	case "backup":
		b, err := backups.RunNow(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("backup %s uploaded to %s (%d bytes)\n", b.ID, b.ObjectKey, b.SizeBytes)
		return nil
	case "restore":
		if len(args) != 3 {
			return fmt.Errorf("usage: shortlink restore <backup-id> <path>")
		}
		if err := backups.Restore(ctx, args[1], args[2]); err != nil {
			return err
		}
		fmt.Printf("backup %s restored to %s\n", args[1], args[2])
		return nil
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}
