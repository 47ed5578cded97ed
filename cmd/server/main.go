package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/suPer8Hu/worldline/internal/config"
	"github.com/suPer8Hu/worldline/internal/eventbus"
	"github.com/suPer8Hu/worldline/internal/httpapi"
	"github.com/suPer8Hu/worldline/internal/memory"
	"github.com/suPer8Hu/worldline/internal/mqjobs"
	"github.com/suPer8Hu/worldline/internal/provider"
	"github.com/suPer8Hu/worldline/internal/runner"
	"github.com/suPer8Hu/worldline/internal/secretbox"
	"github.com/suPer8Hu/worldline/internal/simulation"
	"github.com/suPer8Hu/worldline/internal/store"
	"github.com/suPer8Hu/worldline/internal/wsapi"
)

func main() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	db, err := store.Open(cfg.DBURL)
	if err != nil {
		log.Fatalf("store open: %v", err)
	}

	cipher, err := secretbox.New(cfg.AppSecretKey)
	if err != nil {
		log.Fatalf("secretbox: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	branchLock := store.NewBranchLock(rdb)

	sessions := store.NewSessionRepo(db)
	branches := store.NewBranchRepo(db)
	messages := store.NewMessageRepo(db, branchLock)
	interventions := store.NewInterventionRepo(db)
	providerRepo := store.NewProviderRepo(db, cipher)

	registry := provider.DefaultRegistry(provider.Defaults{
		OpenAIBaseURL:   cfg.OpenAIBaseURL,
		OllamaBaseURL:   cfg.OllamaBaseURL,
		DeepSeekBaseURL: cfg.DeepSeekBaseURL,
		GeminiBaseURL:   cfg.GeminiBaseURL,
	})

	bus := eventbus.NewBus()

	var collab memory.Collaborator = memory.NoopCollaborator{}
	if cfg.MemoryMode != "off" {
		collab = memory.NewDeterministicCollaborator(store.NewMemoryRepo(db), cfg.EmbedDim)
	}

	svc := simulation.New(
		db, sessions, branches, messages, interventions, providerRepo,
		registry, bus, collab,
		simulation.EventDiceSettings{
			Enabled:           cfg.EventDiceEnabled,
			GoodProb:          cfg.EventGoodEventProb,
			BadProb:           cfg.EventBadEventProb,
			RebelProb:         cfg.EventRebelProb,
			MinEvents:         cfg.EventMinEvents,
			MaxEvents:         cfg.EventMaxEvents,
			DefaultHemisphere: cfg.EventDefaultHemi,
		},
		simulation.MemorySettings{
			MaxSnippets: cfg.MemoryMaxSnippets,
			MaxChars:    cfg.MemoryMaxChars,
		},
	)

	if pub, err := mqjobs.NewPublisher(cfg.RabbitURL, cfg.MemoryIndexQueue); err != nil {
		log.Printf("mqjobs publisher unavailable, falling back to synchronous memory indexing: %v", err)
	} else {
		svc.SetMemoryQueue(pub)
		defer pub.Close()
	}

	runnerMgr := runner.NewManager(svc, bus, sessions)
	svc.AttachRunner(runnerMgr)

	router := httpapi.NewRouter(svc, cfg.CORSOrigins)
	wsHandler := wsapi.NewHandler(bus, svc)
	router.GET("/ws/:session_id", wsHandler.Serve)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.AppHost, cfg.AppPort),
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
