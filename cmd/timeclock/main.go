package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"timeclock/internal/attendance"
	"timeclock/internal/bot"
	"timeclock/internal/config"
	"timeclock/internal/db"
	"timeclock/internal/db/sqlite"
	"timeclock/internal/httpapi"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

// store is what both database backends provide
type store interface {
	attendance.Store
	attendance.ScheduleStore
	httpapi.Directory
	bot.Directory
	Close() error
}

func main() {
	log.Println("Starting timeclock...")

	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if !cfg.Discord.Enabled && !cfg.HTTP.Enabled {
		log.Fatal("Nothing to run: enable discord and/or http in the config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("Error closing database: %v", err)
		}
	}()

	// Validated by config.Load
	loc, _ := time.LoadLocation(cfg.Attendance.DefaultTimezone)

	svc := attendance.NewService(st, st,
		attendance.WithGrace(cfg.Attendance.Grace()),
		attendance.WithBatchConcurrency(cfg.Attendance.BatchConcurrency),
	)

	g, ctx := errgroup.WithContext(ctx)

	if cfg.HTTP.Enabled {
		server := httpapi.New(svc, st, httpapi.Options{
			JWTSecret:       cfg.Auth.JWTSecret,
			RequestTimeout:  cfg.HTTP.RequestTimeout,
			DefaultLocation: loc,
			AccessLog:       true,
		})
		g.Go(func() error {
			if err := server.Listen(cfg.HTTP.Addr); err != nil {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			log.Println("Shutting down HTTP API...")
			return server.Shutdown(shutdownCtx)
		})
	}

	if cfg.Discord.Enabled {
		discordBot, err := bot.New(cfg, svc, st)
		if err != nil {
			log.Fatalf("Failed to create bot: %v", err)
		}
		g.Go(func() error {
			if err := discordBot.Start(ctx); err != nil {
				return fmt.Errorf("bot: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Printf("Error during shutdown: %v", err)
		os.Exit(1)
	}

	log.Println("Application shutdown complete")
}

func openStore(ctx context.Context, cfg config.DatabaseConfig) (store, error) {
	switch cfg.Driver {
	case "sqlite":
		log.Printf("Using SQLite database at %s", cfg.SQLitePath)
		return sqlite.New(cfg.SQLitePath)
	default:
		database, err := db.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, err
		}
		return database, nil
	}
}
