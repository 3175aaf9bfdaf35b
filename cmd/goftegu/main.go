package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"golang.org/x/sync/errgroup"

	"github.com/4xmen/goftegu/internal/auth"
	"github.com/4xmen/goftegu/internal/chat"
	"github.com/4xmen/goftegu/internal/db"
	"github.com/4xmen/goftegu/internal/directory"
	"github.com/4xmen/goftegu/internal/handlers"
	"github.com/4xmen/goftegu/internal/journal"
	"github.com/4xmen/goftegu/internal/presence"
	"github.com/4xmen/goftegu/internal/pubsub"
	"github.com/4xmen/goftegu/internal/store"
	"github.com/4xmen/goftegu/internal/ws"
	"github.com/4xmen/goftegu/pkg/config"
	"github.com/4xmen/goftegu/pkg/i18n"
	"github.com/4xmen/goftegu/pkg/log"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log.Init(log.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})

	if len(os.Args) > 1 {
		if err := runCommand(cfg, os.Args[1:]); err != nil {
			l := log.L()
			l.Fatal().Err(err).Str("command", os.Args[1]).Msg("command failed")
		}
		return
	}

	if err := runServer(cfg); err != nil {
		l := log.L()
		l.Fatal().Err(err).Msg("server stopped")
	}
}

func runCommand(cfg *config.Config, args []string) error {
	command := args[0]

	switch command {
	case "serve":
		return runServer(cfg)
	case "status":
		return runStatus(cfg, os.Stdout, args[1:])
	case "migrate":
		return runMigrate(cfg, os.Stdout, args[1:])
	case "keygen":
		return runKeygen(os.Stdout, args[1:])
	case "-h", "--help", "help":
		printUsage(os.Stdout)
		return nil
	default:
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Usage:")
	fmt.Fprintln(out, "  goftegu [serve]                  Start the chat server")
	fmt.Fprintln(out, "  goftegu status [--json]          Show store statistics")
	fmt.Fprintln(out, "  goftegu migrate sender-keys [--dry-run] [--database PATH]")
	fmt.Fprintln(out, "                                   Backfill sender keys on old encrypted messages")
	fmt.Fprintln(out, "  goftegu keygen --out FILE [--passphrase P]")
	fmt.Fprintln(out, "                                   Generate a key pair and write a sealed backup")
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Configuration is read from the environment (%s may name an env file).\n", config.EnvFileVar)
}

// server holds the wired components behind the HTTP router.
type server struct {
	cfg     *config.Config
	store   *store.Store
	auth    *auth.Service
	dir     *directory.Directory
	hub     *ws.Hub
	journal journal.Journal
	bus     pubsub.Bus
}

func newServer(ctx context.Context, cfg *config.Config, database *db.DB) (*server, error) {
	st := store.New(database)
	dir := directory.New(st)

	var bus pubsub.Bus
	if cfg.Bus.Driver == "redis" {
		rb, err := pubsub.NewRedis(ctx, cfg.Bus.Redis)
		if err != nil {
			return nil, err
		}
		bus = rb
	}

	var j journal.Journal = journal.Nop{}
	if cfg.Journal.Driver == "kafka" {
		kj, err := journal.NewKafka(cfg.Journal.Kafka.Brokers, cfg.Journal.Kafka.Topic, cfg.Journal.Kafka.Partitions)
		if err != nil {
			if bus != nil {
				bus.Close()
			}
			return nil, err
		}
		j = kj
	}

	hub := ws.NewHub(cfg.WebSocket, bus, cfg.CORSOrigins)
	tracker := presence.NewTracker(st, dir, hub)
	hub.SetRouter(chat.NewService(dir, st, tracker, hub, j))

	return &server{
		cfg:     cfg,
		store:   st,
		auth:    auth.NewWithTokenTTL(st, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		dir:     dir,
		hub:     hub,
		journal: j,
		bus:     bus,
	}, nil
}

func (s *server) Close() {
	l := log.L()
	if err := s.journal.Close(); err != nil {
		l.Warn().Err(err).Msg("failed to close journal")
	}
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			l.Warn().Err(err).Msg("failed to close bus")
		}
	}
}

func (s *server) router() *gin.Engine {
	router := gin.New()
	router.Use(log.GinMiddleware(log.L()))
	router.Use(handlers.Recovery())
	router.Use(handlers.CORS(s.cfg.CORSOrigins))

	authHandler := handlers.NewAuthHandler(s.auth)
	keyHandler := handlers.NewKeyHandler(s.dir)
	chatHandler := handlers.NewChatHandler(s.store, s.hub, s.cfg.History)

	loginLimiter := limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 5})
	registerLimiter := limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 2})
	keyLimiter := limiter.New(memory.NewStore(), limiter.Rate{Period: time.Minute, Limit: 10})

	api := router.Group("/api")
	{
		api.POST("/auth/register", handlers.RateLimit(registerLimiter), authHandler.Register)
		api.POST("/auth/login", handlers.RateLimit(loginLimiter), authHandler.Login)
	}

	protected := api.Group("")
	protected.Use(authHandler.AuthMiddleware())
	{
		protected.PUT("/keys", handlers.RateLimit(keyLimiter), keyHandler.UpdateKey)
		protected.POST("/keys/verify", keyHandler.VerifyKey)
		protected.GET("/users/:id", keyHandler.GetUser)

		protected.GET("/chat/conversations", chatHandler.Conversations)
		protected.GET("/chat/dm/:otherUserId", chatHandler.DirectHistory)
		protected.POST("/chat/dm/:otherUserId/read", chatHandler.MarkRead)
		protected.GET("/chat/rooms", chatHandler.Rooms)
		protected.GET("/chat/rooms/:roomId/messages", chatHandler.RoomHistory)
	}

	router.GET("/ws", authHandler.AuthMiddleware(), s.hub.HandleWebSocket)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": s.hub.ConnectionCount()})
	})

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": i18n.Localize(c.GetHeader("Accept-Language"), "not found")})
	})

	return router
}

func runServer(cfg *config.Config) error {
	l := log.L()

	if cfg.Database.Driver == db.DriverSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	database, err := db.Open(cfg.Database.Driver, cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := newServer(ctx, cfg, database)
	if err != nil {
		return err
	}
	defer srv.Close()

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("0.0.0.0:%s", cfg.Port),
		Handler:           srv.router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		srv.hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return srv.hub.Listen(gctx)
	})
	g.Go(func() error {
		l.Info().
			Str("addr", httpServer.Addr).
			Str("database", cfg.Database.Driver).
			Str("bus", cfg.Bus.Driver).
			Str("journal", cfg.Journal.Driver).
			Msg("starting server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		l.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
