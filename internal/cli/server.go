package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"quiz-live-service/internal/app"
	"quiz-live-service/internal/config"
	"quiz-live-service/internal/domain"
	"quiz-live-service/internal/infra/memory"
	natspub "quiz-live-service/internal/infra/nats"
	pgstore "quiz-live-service/internal/infra/postgres"
	redisstore "quiz-live-service/internal/infra/redis"
	transport "quiz-live-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(f *flags) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the live quiz server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), f.configPath, f.port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
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
		defer redisClient.Close()
	}
	redisTTL := config.TTLDuration(cfg.Redis.TTL, 10*time.Minute)

	var (
		loader   memory.GameLoader = memory.NewStaticGameLoader(sampleGames())
		recorder []app.StatsRecorder
	)
	if cfg.Postgres.URL != "" {
		db := openBun(cfg.Postgres.URL)
		defer db.Close()
		if err := Migrate(ctx, db); err != nil {
			return err
		}
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		loader = pgstore.NewGameLoader(pool)
		recorder = append(recorder, pgstore.NewStatsRepository(db))
	}

	if cfg.NATS.URL != "" {
		natsCfg := natspub.DefaultConfig()
		natsCfg.URL = cfg.NATS.URL
		if cfg.NATS.SubjectPrefix != "" {
			natsCfg.SubjectPrefix = cfg.NATS.SubjectPrefix
		}
		publisher, err := natspub.Connect(natsCfg)
		if err != nil {
			return err
		}
		defer publisher.Close()
		recorder = append(recorder, publisher)
	}

	catalogTTL := config.TTLDuration(cfg.Catalog.TTL, 10*time.Minute)
	var (
		games   app.GameRepository
		store   app.SessionRepository
		wallet  app.Wallet
		refresh *redisstore.SessionStore
	)
	if redisClient != nil {
		games = redisstore.NewGameRepository(redisClient, loader, catalogTTL)
		refresh = redisstore.NewSessionStore(redisClient, redisTTL)
		store = refresh
		wallet = redisstore.NewWallet(redisClient)
		recorder = append(recorder, redisstore.NewLeaderboard(redisClient))
	} else {
		games = memory.NewGameRepository(loader, catalogTTL)
		store = memory.NewSessionStore()
		wallet = memory.NewWallet()
	}
	if len(recorder) == 0 {
		recorder = append(recorder, memory.NewStatsSink())
	}

	service := app.NewGameService(store, games,
		app.WithSettings(settingsFrom(cfg.Game)),
		app.WithStatsRecorder(app.NewFanoutRecorder(recorder...)),
		app.WithWallet(wallet),
	)

	server := &http.Server{
		Addr:              ":" + finalPort,
		Handler:           transport.NewRouter(service, cfg.Server.AllowedOrigins),
		ReadHeaderTimeout: 15 * time.Second,
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if refresh != nil {
		go refreshReservations(runCtx, refresh, redisTTL/2)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", finalPort).Msg("starting live quiz service")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case <-stop:
		log.Info().Msg("shutting down server")
	case <-ctx.Done():
		log.Info().Msg("context canceled, shutting down server")
	case err := <-errCh:
		log.Error().Err(err).Msg("server failed")
		return err
	}

	service.Shutdown()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	return server.Shutdown(shutdownCtx)
}

// refreshReservations keeps the pins of long-running lobbies reserved in Redis.
func refreshReservations(ctx context.Context, store *redisstore.SessionStore, every time.Duration) {
	if every <= 0 {
		every = time.Minute
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := store.Refresh(ctx); err != nil {
				log.Warn().Err(err).Msg("refresh pin reservations")
			}
		case <-ctx.Done():
			return
		}
	}
}

// sampleGames is served when no Postgres catalog is configured.
func sampleGames() map[string]domain.Game {
	return map[string]domain.Game{
		"demo": {
			ID:       "demo",
			Title:    "Demo quiz",
			Duration: 20,
			Questions: []domain.Question{
				{
					ID:     "q1",
					Type:   domain.QuestionQCM,
					Text:   "What is 2 + 2?",
					Points: 10,
					Choices: []domain.Choice{
						{Text: "3"},
						{Text: "4", IsCorrect: true},
						{Text: "5"},
					},
				},
				{
					ID:     "q2",
					Type:   domain.QuestionQRE,
					Text:   "At what temperature does water boil at sea level (°C)?",
					Points: 20,
					Estimate: &domain.Estimate{
						LowerBound:   0,
						UpperBound:   200,
						Step:         1,
						CorrectValue: 100,
						Tolerance:    5,
					},
				},
				{
					ID:     "q3",
					Type:   domain.QuestionQRL,
					Text:   "Explain what a race condition is.",
					Points: 30,
				},
			},
		},
	}
}
