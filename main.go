package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	red "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/jobtracker/internal/auth"
	"github.com/example/jobtracker/internal/config"
	"github.com/example/jobtracker/internal/dbmigrate"
	"github.com/example/jobtracker/internal/logger"
	"github.com/example/jobtracker/internal/redisstore"
)

type App struct {
	DB          DB
	auth        *auth.Service
	guard       *auth.Guard
	metrics     *Metrics
	rateLimiter *RateLimiter
	log         *zap.Logger
	now         func() time.Time
}

func (a *App) writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.With(r.Context(), a.log).Error("write json", zap.Error(err))
	}
}

// collection registers h on path and on path with a trailing slash.
func collection(r *mux.Router, path string, h http.HandlerFunc, methods ...string) {
	r.HandleFunc(path, h).Methods(methods...)
	r.HandleFunc(path+"/", h).Methods(methods...)
}

// Router builds the HTTP surface. CORS wraps the mux so preflight requests
// are answered before route matching.
func (a *App) Router() http.Handler {
	r := mux.NewRouter()

	// Apply global middleware
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(a.metrics.Middleware)
	r.Use(a.Logging)

	// Health check endpoints (no auth required)
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		a.writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods("GET")
	r.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if p, ok := a.DB.(interface{ ping() bool }); ok && !p.ping() {
			a.writeJSON(w, r, http.StatusServiceUnavailable, map[string]bool{"ready": false})
			return
		}
		a.writeJSON(w, r, http.StatusOK, map[string]bool{"ready": true})
	}).Methods("GET")
	r.Handle("/metrics", a.metrics.Handler()).Methods("GET")

	// Public authentication endpoints
	r.HandleFunc("/auth/register", a.HandleRegister).Methods("POST")
	r.HandleFunc("/auth/login", a.HandleLogin).Methods("POST")

	// Authenticated routes
	api := r.NewRoute().Subrouter()
	api.Use(a.RequireAccount)
	api.Use(a.RateLimit)

	api.HandleFunc("/auth/me", a.HandleMe).Methods("GET")
	api.HandleFunc("/auth/logout", a.HandleLogout).Methods("POST")

	collection(api, "/companies", a.HandleListCompanies, "GET")
	collection(api, "/companies", a.HandleCreateCompany, "POST")
	api.HandleFunc("/companies/{id}", a.HandleGetCompany).Methods("GET")
	api.HandleFunc("/companies/{id}", a.HandleDeleteCompany).Methods("DELETE")

	api.HandleFunc("/applications/dashboard/summary", a.HandleDashboardSummary).Methods("GET")
	collection(api, "/applications", a.HandleListApplications, "GET")
	collection(api, "/applications", a.HandleCreateApplication, "POST")
	api.HandleFunc("/applications/{id}", a.HandleGetApplication).Methods("GET")
	api.HandleFunc("/applications/{id}", a.HandleUpdateApplication).Methods("PATCH")
	api.HandleFunc("/applications/{id}", a.HandleDeleteApplication).Methods("DELETE")

	collection(api, "/followups", a.HandleListFollowUps, "GET")
	collection(api, "/followups", a.HandleCreateFollowUp, "POST")
	api.HandleFunc("/followups/{id}", a.HandleDeleteFollowUp).Methods("DELETE")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
	})
	return a.CORS(r)
}

// openDB connects the configured store. Postgres schemas are migrated first.
func openDB(c *config.Config, zl *zap.Logger) (DB, error) {
	switch c.DBAdapter {
	case "sqlite":
		if c.SQLiteFile != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(c.SQLiteFile), 0o755); err != nil {
				return nil, fmt.Errorf("sqlite data dir: %w", err)
			}
		}
		s, err := NewSQLiteDB(c.SQLiteFile)
		if err != nil {
			return nil, fmt.Errorf("sqlite init: %w", err)
		}
		return s, nil
	case "postgres":
		zl.Info("applying database migrations", zap.String("dir", c.MigrationsDir))
		if err := dbmigrate.Apply(c.MigrationsDir, c.PostgresDSN, zl); err != nil {
			return nil, fmt.Errorf("migrations: %w", err)
		}
		p, err := NewPostgresDB(c.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("postgres init: %w", err)
		}
		zl.Info("connected to PostgreSQL database")
		return p, nil
	case "memory":
		zl.Warn("using in-memory database (not recommended for production)")
		return NewMemoryDB(), nil
	default:
		return nil, fmt.Errorf("unsupported DB_ADAPTER: %s (supported: postgres, sqlite, memory)", c.DBAdapter)
	}
}

// newApp wires the auth core and HTTP collaborators around db.
func newApp(ctx context.Context, c *config.Config, db DB, denylist auth.Denylist, metrics *Metrics, zl *zap.Logger) (*App, error) {
	params := auth.DefaultArgon2Params()
	params.Memory = c.Argon2MemoryKiB
	params.Time = c.Argon2Time
	params.Threads = c.Argon2Threads
	hasher, err := auth.NewHasher(auth.HasherOptions{MaxLength: c.PasswordMaxLength, Argon2: params})
	if err != nil {
		return nil, fmt.Errorf("hasher: %w", err)
	}
	tokens, err := auth.NewTokenService(c.SecretKey, c.JWTAlgorithm, c.AccessTokenTTL)
	if err != nil {
		return nil, fmt.Errorf("token service: %w", err)
	}
	throttle := auth.NewLoginThrottle(auth.ThrottleOptions{
		MaxAttempts: c.LoginThrottleMax,
		Window:      c.LoginThrottleWindow,
		MaxKeys:     c.LoginThrottleMaxKeys,
		Logger:      zl,
	})
	throttle.StartJanitor(ctx, c.LoginThrottleWindow)

	return &App{
		DB:          db,
		auth:        auth.NewService(db, hasher, tokens, throttle, zl),
		guard:       auth.NewGuard(tokens, db, denylist, zl),
		metrics:     metrics,
		rateLimiter: NewRateLimiter(c.APIRateLimitPerMinute),
		log:         zl,
		now:         time.Now,
	}, nil
}

func main() {
	_ = godotenv.Load()

	c, err := config.New()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	zl, err := logger.New(c.Env, c.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zl.Sync()

	db, err := openDB(c, zl)
	if err != nil {
		zl.Fatal("open database", zap.Error(err))
	}

	if len(os.Args) > 1 && os.Args[1] == "accounts" {
		code := runAccounts(context.Background(), db, os.Args[2:], os.Stdout, os.Stderr)
		if closer, ok := db.(interface{ close() error }); ok {
			_ = closer.close()
		}
		os.Exit(code)
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	var denylist auth.Denylist
	var rdb *red.Client
	if c.RevocationEnabled() {
		rdb = red.NewClient(&red.Options{Addr: c.RedisAddr, Password: c.RedisPassword, DB: c.RedisDB})
		dl := redisstore.NewDenylist(rdb, "")
		if err := dl.Ping(ctx); err != nil {
			zl.Fatal("redis ping", zap.String("addr", c.RedisAddr), zap.Error(err))
		}
		denylist = dl
		zl.Info("token revocation enabled", zap.String("redis_addr", c.RedisAddr))
	}

	metrics, err := NewMetrics(MetricsOptions{})
	if err != nil {
		zl.Fatal("metrics", zap.Error(err))
	}
	app, err := newApp(ctx, c, db, denylist, metrics, zl)
	if err != nil {
		zl.Fatal("wire app", zap.Error(err))
	}

	srv := &http.Server{Handler: app.Router(), Addr: ":" + c.Port, ReadTimeout: 5 * time.Second, WriteTimeout: 10 * time.Second}

	go func() {
		zl.Info("starting server", zap.String("app", c.AppName), zap.String("port", c.Port), zap.String("db", c.DBAdapter))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zl.Fatal("server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Error("shutdown failed", zap.Error(err))
	}
	if closer, ok := app.DB.(interface{ close() error }); ok {
		_ = closer.close()
	}
	if rdb != nil {
		_ = rdb.Close()
	}
	zl.Info("server exited properly")
}
