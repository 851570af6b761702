package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"classpace-sync-service/internal/app"
	"classpace-sync-service/internal/config"
	"classpace-sync-service/internal/domain"
	"classpace-sync-service/internal/infra/memory"
	pgstore "classpace-sync-service/internal/infra/postgres"
	redisstore "classpace-sync-service/internal/infra/redis"
	"classpace-sync-service/internal/registry"
	transport "classpace-sync-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the sync server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}
	redisTTL := config.Duration(cfg.Redis.TTL, time.Hour)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var loader memory.DeckLoader = memory.NewStaticDeckLoader(sampleDecks())
	var store app.DurableStore
	if pool != nil {
		loader = pgstore.NewDeckLoader(pool)
		store = pgstore.NewStore(pool)
	}

	deckTTL := config.Duration(cfg.Deck.TTL, 10*time.Minute)
	var decks app.DeckRepository
	if redisClient != nil {
		decks = redisstore.NewDeckRepository(redisClient, loader, deckTTL)
	} else {
		decks = memory.NewDeckRepository(loader, deckTTL)
	}

	var sessions app.SessionRepository
	if redisClient != nil {
		sessions = redisstore.NewSessionStore(redisClient, redisTTL)
	} else {
		sessions = memory.NewSessionStore()
	}

	reg := registry.New(config.Duration(cfg.Sync.SendTimeout, 5*time.Second))
	service := app.NewSyncService(sessions, decks, store, reg, app.Options{
		StuckAfter:   config.Duration(cfg.Sync.StuckThreshold, 2*time.Minute),
		OfflineGrace: config.Duration(cfg.Sync.OfflineGrace, 30*time.Second),
	})

	wsHandler := transport.NewWSHandler(service)
	apiHandler := transport.NewAPIHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)
	apiHandler.Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting classpace sync service on :%s", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Println("shutting down server...")
	case <-ctx.Done():
		log.Println("context canceled, shutting down server...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// sampleDecks provides a minimal deck for running without Postgres.
func sampleDecks() map[string]domain.Deck {
	return map[string]domain.Deck{
		"deck-1": {
			ID:    "deck-1",
			Title: "Intro",
			Items: []domain.DeckItem{
				{ID: "s1", Title: "Welcome"},
				{ID: "s2", Title: "Warm-up", Scored: true, Points: 1, Options: []domain.Option{
					{ID: "o1", Text: "3", Correct: false},
					{ID: "o2", Text: "4", Correct: true},
				}},
				{ID: "s3", Title: "Recap"},
			},
		},
	}
}
