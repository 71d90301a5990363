package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"caseflow/analysis"
	"caseflow/auth"
	"caseflow/db"
	"caseflow/dispute"
	"caseflow/notify"
	"caseflow/transcript"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, os.Getenv("DATABASE_URL"), int32(envInt("DB_MAX_CONNS", 0)))
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	cfg := dispute.DefaultConfig()
	if v := envInt("MESSAGE_THRESHOLD", 0); v > 0 {
		cfg.MessageThreshold = v
	}
	if v := envInt("ORACLE_TIMEOUT_SECONDS", 0); v > 0 {
		cfg.OracleTimeout = time.Duration(v) * time.Second
	}

	oracle := analysis.NewHTTPOracle(os.Getenv("ORACLE_URL"), cfg.OracleTimeout)
	runner := analysis.NewRunner(envInt("ANALYSIS_WORKERS", 4))
	defer runner.Close()

	transcripts := transcript.NewRepository(pool)
	disputes := dispute.NewService(pool, dispute.NewRepository(pool), transcripts, oracle, runner, cfg)
	authService := auth.NewService(auth.NewRepository(pool), os.Getenv("JWT_SECRET"))

	dispatcher := notify.NewDispatcher(notify.NewOutbox(pool), notify.LogSink{}, time.Second)
	go dispatcher.Run(ctx)

	log.Printf("caseflow core ready (dispute=%v auth=%v)", disputes != nil, authService != nil)
	<-ctx.Done()
	log.Printf("shutting down")
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return n
}
