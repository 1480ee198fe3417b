// Command auralis runs the music analytics backend: Spotify history
// ingestion, document generation, question answering and the HTTP API.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/auralis/auralis/internal/analytics"
	"github.com/auralis/auralis/internal/auth"
	"github.com/auralis/auralis/internal/config"
	"github.com/auralis/auralis/internal/db"
	"github.com/auralis/auralis/internal/openai"
	"github.com/auralis/auralis/internal/rag"
	"github.com/auralis/auralis/internal/scheduler"
	"github.com/auralis/auralis/internal/spotify"
	"github.com/auralis/auralis/internal/sync"
	"github.com/auralis/auralis/internal/web"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	log := cfg.NewLogger()

	zone, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx := context.Background()
	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer database.Close()

	authenticator := auth.NewAuthenticator(
		database.Accounts(),
		cfg.SpotifyClientID,
		cfg.SpotifyClientSecret,
		cfg.SpotifyRedirectURL,
		log,
	)
	tokens := auth.NewTokenManager(database.Accounts(), cfg.SpotifyClientID, cfg.SpotifyClientSecret, log)

	spotifyClient := spotify.New(tokens, log)
	openaiClient := openai.New(cfg.OpenAIAPIKey, log)

	generator := rag.NewGenerator(database.History(), database.Documents(), openaiClient, log, rag.WithZone(zone))
	answers := rag.NewAnswerService(openaiClient, database.Documents(), openaiClient, database, log)

	syncService := sync.New(
		spotifyClient,
		database.Artists(),
		database.Albums(),
		database.Tracks(),
		database.History(),
		database.Accounts(),
		generator,
		log,
	)

	analyticsService := analytics.New(spotifyClient, database.TopArtists(), database.History(), log)

	sched := scheduler.New(database.Users(), syncService, tokens, scheduler.Config{
		SyncInterval:     cfg.SyncInterval,
		SyncInitialDelay: cfg.SyncInitialDelay,
		SyncUserTimeout:  cfg.SyncUserTimeout,
		TokenSweepPeriod: cfg.TokenSweepPeriod,
		TokenSweepWindow: cfg.TokenSweepWindow,
	}, log)
	sched.Start(ctx)
	defer sched.Stop()

	resolver := &web.EmailHeaderResolver{Users: database.Users()}
	handlers := web.NewHandlers(resolver, authenticator, syncService, answers, analyticsService, log)
	server := web.NewServer(cfg.Addr, handlers, log)

	return server.Run()
}
