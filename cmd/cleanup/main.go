// Command cleanup deletes expired and revoked refresh tokens. Run it from
// cron, or with -interval to keep it running as a periodic sweeper.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"

	"github.com/ilaygozlan/crypto-advisor-api/internal/config"
	"github.com/ilaygozlan/crypto-advisor-api/internal/logger"
	"github.com/ilaygozlan/crypto-advisor-api/internal/metrics"
)

const sweepQuery = `
	DELETE FROM refresh_tokens
	WHERE expires_at < NOW() OR revoked_at IS NOT NULL`

func main() {
	_ = godotenv.Load()

	var (
		interval = flag.Duration("interval", 0, "Sweep repeatedly at this interval (0 = run once)")
		timeout  = flag.Duration("timeout", time.Minute, "Timeout per sweep")
	)
	flag.Parse()

	log := logger.New(logger.DefaultConfig())
	cfg := config.Load()

	db, err := sqlx.Connect("pgx", cfg.Database.DSN())
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if *interval <= 0 {
		if err := sweep(db, log, *timeout); err != nil {
			os.Exit(1)
		}
		return
	}

	log.Info("starting credential sweeper", "interval", interval.String())

	ticker := time.NewTicker(*interval)
	defer ticker.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			if err := sweep(db, log, *timeout); err != nil {
				// keep sweeping, transient database errors are expected
				continue
			}
		case <-quit:
			log.Info("credential sweeper stopped")
			return
		}
	}
}

func sweep(db *sqlx.DB, log *slog.Logger, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()

	result, err := db.ExecContext(ctx, sweepQuery)
	if err != nil {
		log.Error("sweep failed", "error", err)
		return err
	}

	swept, err := result.RowsAffected()
	if err != nil {
		swept = 0
	}

	metrics.CredentialsSweptTotal.Add(float64(swept))
	log.Info("sweep completed", "deleted", swept, "duration", time.Since(start).String())
	return nil
}
