// Message sync service: WebSocket fan-out, message mutations, direct
// chats. Storage backend is selected at startup (postgres, mongo or
// memory); -dev runs self-contained on embedded PostgreSQL.
package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatsync/internal/config"
	"github.com/chatsync/internal/engine"
	"github.com/chatsync/internal/handler"
	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/metrics"
	"github.com/chatsync/internal/middleware"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/push"
	"github.com/chatsync/internal/session"
	"github.com/chatsync/internal/startup"
	"github.com/chatsync/internal/storage"
	memorystore "github.com/chatsync/internal/storage/memory"
	mongostore "github.com/chatsync/internal/storage/mongo"
	postgresstore "github.com/chatsync/internal/storage/postgres"
	"github.com/chatsync/internal/ws"
	"github.com/chatsync/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start self-contained: embedded PostgreSQL, in-memory sessions, demo users")
	flag.Parse()

	logger.Info("starting sync service")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev && cfg.StoreBackend == config.BackendPostgres {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	store, closeStore := openStore(cfg, *migrate)
	defer closeStore()
	if *migrate && !*dev {
		return
	}

	var sessions session.Store
	var notifier engine.Notifier
	if *dev {
		sessions = session.NewMemoryStore()
	} else {
		rdb := startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second, "")
		defer rdb.Close()
		logger.Info("redis connected")
		var err error
		sessions, err = session.NewRedisStore(context.Background(), cfg.Redis.URL)
		if err != nil {
			logger.Errorf("session store: %v", err)
			os.Exit(1)
		}
		notifier = push.NewNotifier(rdb, cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey)
	}
	defer sessions.Close()

	reg := ws.NewRegistry(store)
	router := ws.NewRouter(reg)
	eng := engine.New(store, router, notifier)
	hub := ws.NewHub(reg, eng, store, cfg.MaxWSConnections)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	if *dev {
		seedDemo(store, sessions)
	}

	chatH := handler.NewChatHandler(eng)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)
	var pushH *handler.PushHandler
	if n, ok := notifier.(*push.Notifier); ok {
		pushH = handler.NewPushHandler(n)
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	// Never compress WebSocket traffic; a wrapped ResponseWriter without
	// http.Hijacker turns the upgrade into a 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	if pushH != nil {
		r.Get("/api/push/vapid-public", pushH.VAPIDPublic)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.SessionAuth(sessions))
		r.Get("/api/chats", chatH.List)
		r.Post("/api/chats/direct", chatH.OpenDirect)
		if pushH != nil {
			r.Post("/api/push/subscribe", pushH.Subscribe)
			r.Delete("/api/push/subscribe", pushH.Unsubscribe)
		}
		r.Get("/ws", wsH.ServeWS)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

// openStore builds the configured backend. The returned func releases
// the underlying connections.
func openStore(cfg *config.Config, migrateOnly bool) (storage.Store, func()) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
		if err != nil {
			logger.Errorf("parse db config: %v", err)
			os.Exit(1)
		}
		poolCfg.MaxConns = int32(cfg.DBMaxConnections())
		poolCfg.MinConns = 4

		pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
		runMigrations(pool)
		if migrateOnly {
			return postgresstore.New(pool), pool.Close
		}

		// Stale online flags survive a crash; clear them on boot.
		resetCtx, resetCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if _, err := pool.Exec(resetCtx, "UPDATE users SET is_online = false"); err != nil {
			logger.Errorf("reset online status: %v", err)
		}
		resetCancel()
		logger.Info("database connected, migrations applied")
		return postgresstore.New(pool), pool.Close

	case config.BackendMongo:
		client := startup.ConnectMongoWithRetry(cfg.Mongo.URL, 60*time.Second, "")
		db := client.Database(cfg.Mongo.Database)
		store := mongostore.New(db)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := store.EnsureIndexes(ctx); err != nil {
			logger.Errorf("mongo indexes: %v", err)
			os.Exit(1)
		}
		logger.Info("mongo connected, indexes ensured")
		return store, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Disconnect(ctx); err != nil {
				logger.Errorf("mongo disconnect: %v", err)
			}
		}

	default:
		logger.Info("using in-memory store, all data is lost on restart")
		return memorystore.New(), func() {}
	}
}

func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := fs.Glob(migrations.Files, "*.sql")
	if err != nil {
		logger.Errorf("list migrations: %v", err)
		os.Exit(1)
	}
	sort.Strings(entries)
	for _, name := range entries {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			logger.Errorf("read migration %s: %v", name, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", name, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

// seedDemo creates two users with logged session ids so a dev instance
// is immediately usable from a browser console or curl.
func seedDemo(store storage.Store, sessions session.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	now := time.Now().UTC()
	for _, name := range []string{"alice", "bob"} {
		u := &model.User{
			ID:        storage.NewID(),
			Username:  name,
			CreatedAt: now,
		}
		if err := store.CreateUser(ctx, u); err != nil {
			logger.Errorf("demo seed user %s: %v", name, err)
			continue
		}
		sessionID := storage.NewID()
		if err := sessions.Set(ctx, sessionID, u.ID); err != nil {
			logger.Errorf("demo seed session %s: %v", name, err)
			continue
		}
		logger.Infof("demo user %s id=%s session=%s", name, u.ID, sessionID)
	}
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "chatsync"
		password = "chatsync_secret"
		database = "chatsync"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
