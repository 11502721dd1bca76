package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/agentworkforce/notesync/internal/httpapi"
	"github.com/agentworkforce/notesync/internal/notes"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	if err := notes.LoadEnvFile(envOrDefault("NOTES_ENV_FILE", ".env")); err != nil {
		log.Fatalf("failed to load env file: %v", err)
	}
	if out := logOutputFromEnv(); out != nil {
		log.SetOutput(out)
		defer out.Close()
	}

	addr := envOrDefault("NOTES_ADDR", ":8080")
	repo, err := notes.BuildRepositoryFromDSN(storeDSNFromEnv())
	if err != nil {
		log.Fatalf("failed to initialize notes store: %v", err)
	}
	defer repo.Close()

	server := httpapi.NewServerWithConfig(repo, httpapi.ServerConfig{
		MaxBodyBytes:   int64Env("NOTES_MAX_BODY_BYTES", 0),
		RequestTimeout: durationEnv("NOTES_REQUEST_TIMEOUT", 10*time.Second),
		Logger:         log.Default(),
	})
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-rootCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctx)
	}()

	log.Printf("notesd listening on %s", addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("server failed: %v", err)
	}
}

// storeDSNFromEnv prefers NOTES_STORE_DSN and otherwise assembles a postgres
// DSN from the DB_* variables.
func storeDSNFromEnv() string {
	if dsn := strings.TrimSpace(os.Getenv("NOTES_STORE_DSN")); dsn != "" {
		return dsn
	}
	return notes.DBConfigFromEnv().PostgresDSN()
}

func logOutputFromEnv() io.WriteCloser {
	path := strings.TrimSpace(os.Getenv("NOTES_LOG_FILE"))
	if path == "" {
		return nil
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    intEnv("NOTES_LOG_MAX_SIZE_MB", 50),
		MaxBackups: intEnv("NOTES_LOG_MAX_BACKUPS", 3),
		MaxAge:     intEnv("NOTES_LOG_MAX_AGE_DAYS", 28),
		Compress:   true,
	}
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func intEnv(name string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func int64Env(name string, fallback int64) int64 {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}

func durationEnv(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %s", name, raw, fallback.String())
		return fallback
	}
	return value
}
