package cli

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"xquiz-funnel-service/internal/app"
	"xquiz-funnel-service/internal/config"
	"xquiz-funnel-service/internal/domain"
	"xquiz-funnel-service/internal/infra/memory"
	pginfra "xquiz-funnel-service/internal/infra/postgres"
	redisinfra "xquiz-funnel-service/internal/infra/redis"
	"xquiz-funnel-service/internal/infra/webhook"
	transport "xquiz-funnel-service/internal/transport/http"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the funnel server",
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
	sessionTTL := config.TTLDuration(cfg.Redis.TTL, 30*time.Minute)

	var pool *pgxpool.Pool
	if cfg.Postgres.URL != "" {
		pool, err = pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
	}

	var loader memory.QuizLoader = memory.NewStaticQuizLoader(sampleQuizzes())
	if pool != nil {
		loader = pginfra.NewQuizLoader(pool)
	}

	quizTTL := config.TTLDuration(cfg.Quiz.TTL, 10*time.Minute)
	var quizRepo app.QuizRepository
	if redisClient != nil {
		quizRepo = redisinfra.NewQuizRepository(redisClient, loader, quizTTL)
	} else {
		quizRepo = memory.NewQuizRepository(loader, quizTTL)
	}

	var sessions app.SessionRepository
	if redisClient != nil {
		sessions = redisinfra.NewSessionStore(redisClient, sessionTTL)
	} else {
		sessions = memory.NewSessionStore()
	}

	var tracker app.Tracker = memory.NewTracker()
	switch {
	case redisClient != nil:
		tracker = redisinfra.NewTracker(redisClient)
	case pool != nil:
		tracker = pginfra.NewTracker(pool)
	}

	var leads app.LeadWriter = memory.NewLeadStore()
	if pool != nil {
		leads = pginfra.NewLeadWriter(pool)
	}

	dispatcher := webhook.NewDispatcher(config.TTLDuration(cfg.Webhook.Timeout, 5*time.Second))

	service := app.NewFunnelService(sessions, quizRepo, tracker, leads, dispatcher)
	wsHandler := transport.NewWSHandler(service)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", wsHandler.ServeWS)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("starting funnel service on :%s", finalPort)
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

// sampleQuizzes seeds a demo funnel for running without Postgres.
func sampleQuizzes() map[string]domain.Quiz {
	return map[string]domain.Quiz{
		"demo": {
			ID:          "quiz-demo",
			Title:       "Qual é o seu perfil de investidor?",
			Slug:        "demo",
			IsPublished: true,
			Elements: []domain.Element{
				{ID: "welcome", Kind: domain.KindWelcome, Title: "Bem-vindo!"},
				{
					ID:       "q1",
					Kind:     domain.KindMultipleChoice,
					Title:    "Há quanto tempo você investe?",
					Required: true,
					Options: []domain.Option{
						{ID: "o1", Text: "Estou começando", Points: 10, Tags: []string{"iniciante"}},
						{ID: "o2", Text: "Alguns anos", Points: 40},
						{ID: "o3", Text: "Mais de dez anos", Points: 80, Tags: []string{"veterano"}},
					},
				},
				{
					ID:    "q2",
					Kind:  domain.KindRangeSlider,
					Title: "Quanto do seu patrimônio está investido? (%)",
					Max:   100, Step: 5, ScoreWeight: 0.2,
				},
				{ID: "lead", Kind: domain.KindLeadForm, Title: "Veja seu resultado", Required: true},
				{ID: "loading", Kind: domain.KindFakeLoading, Title: "Analisando suas respostas...", PauseAt: 85, DurationMs: 3000},
				{ID: "result", Kind: domain.KindResult, Title: "Seu perfil"},
			},
			ResultRules: []domain.ResultRule{
				{ID: "r1", Condition: domain.RuleCondition{Kind: domain.ConditionScore, MinScore: 0, MaxScore: 39}, Profile: "Conservador"},
				{ID: "r2", Condition: domain.RuleCondition{Kind: domain.ConditionScore, MinScore: 40, MaxScore: 100}, Profile: "Arrojado"},
			},
		},
	}
}
