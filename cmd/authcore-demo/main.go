// Command authcore-demo serves the auth API over HTTP for local testing.
//
// Storage is chosen from the environment: DATABASE_URL selects Postgres,
// otherwise a SQLite file under DATA_DIR is used. REDIS_URL adds Redis as
// secondary storage for sessions and rate limits. Google and GitHub sign in
// are enabled when their OAUTH2_* client ids are set.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	ac "github.com/panyam/authcore"
	"github.com/panyam/authcore/oauth2"
	gormstore "github.com/panyam/authcore/stores/gorm"
	redisstore "github.com/panyam/authcore/stores/redis"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	if err := run(*addr, logger); err != nil {
		logger.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run(addr string, logger *slog.Logger) error {
	envCfg, err := ac.ParseEnv()
	if err != nil {
		return err
	}

	db, err := openDB(logger)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	opts := ac.Options{
		AppName:     "authcore-demo",
		BaseURL:     "http://localhost" + addr,
		Secret:      "demo-secret-change-me-in-production",
		Database:    gormstore.NewAdapter(db),
		EmailSender: &ac.ConsoleEmailSender{Logger: logger},
		Logger:      logger,
		Registerer:  registry,
	}
	opts.EmailVerification.SendOnSignUp = true
	opts.User.ChangeEmail.Enabled = true
	opts.User.DeleteUser.Enabled = true
	opts.Session.CookieCache.Enabled = true
	opts.ApplyEnv(envCfg)

	if url := os.Getenv("REDIS_URL"); url != "" {
		redisOpts, err := goredis.ParseURL(url)
		if err != nil {
			return err
		}
		rdb := goredis.NewClient(redisOpts)
		defer rdb.Close()
		storage := redisstore.NewStorage(rdb, "authcore")
		if _, err := storage.Ping(context.Background()); err != nil {
			return err
		}
		opts.SecondaryStorage = storage
		logger.Info("using redis secondary storage")
	}

	if os.Getenv("OAUTH2_GOOGLE_CLIENT_ID") != "" {
		opts.Providers = append(opts.Providers, oauth2.NewGoogleOAuth2("", ""))
	}
	if os.Getenv("OAUTH2_GITHUB_CLIENT_ID") != "" {
		opts.Providers = append(opts.Providers, oauth2.NewGithubOAuth2("", ""))
	}

	auth, err := ac.New(opts)
	if err != nil {
		return err
	}
	if err := gormstore.Migrate(db, auth.Schema()); err != nil {
		return err
	}

	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	router.Handle("/me", auth.RequireSession(handleMe(auth)))
	router.PathPrefix(auth.Options().BasePath).Handler(auth.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", addr, "basePath", auth.Options().BasePath)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func openDB(logger *slog.Logger) (*gorm.DB, error) {
	cfg := &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Warn)}
	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		logger.Info("using postgres")
		return gorm.Open(postgres.Open(dsn), cfg)
	}
	dir := os.Getenv("DATA_DIR")
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	path := filepath.Join(dir, "authcore.db")
	logger.Info("using sqlite", "path", path)
	return gorm.Open(sqlite.Open(path), cfg)
}

func handleMe(auth *ac.Auth) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sw := ac.SessionFromContext(r.Context())
		user := auth.Schema().ParseOutput(ac.ModelUser, sw.User.Record())
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(user); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}
