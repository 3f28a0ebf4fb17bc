// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/disgoorg/snowflake/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/dennis006/agentbee-sub002/internal/app/admission"
	"github.com/dennis006/agentbee-sub002/internal/app/engine"
	"github.com/dennis006/agentbee-sub002/internal/app/playback"
	"github.com/dennis006/agentbee-sub002/internal/app/radio"
	"github.com/dennis006/agentbee-sub002/internal/app/registry"
	"github.com/dennis006/agentbee-sub002/internal/app/resolver"
	"github.com/dennis006/agentbee-sub002/internal/app/voice"
	"github.com/dennis006/agentbee-sub002/internal/infra/config"
	"github.com/dennis006/agentbee-sub002/internal/infra/discord"
	"github.com/dennis006/agentbee-sub002/internal/infra/logger"
	"github.com/dennis006/agentbee-sub002/internal/infra/spotify"
	"github.com/dennis006/agentbee-sub002/internal/infra/youtube"
)

var (
	app        = kingpin.New("agentbee-server", "agentbee playback orchestration server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	checkCmd = app.Command("check", "Validate the config file and exit")
)

func init() {
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	loggerConfig := logger.Config{
		Output: "stdout",
		Level:  "info",
	}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = *logfile
		loggerConfig.File = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if command == checkCmd.FullCommand() {
		zlog.Info().Msg("Config OK")
		return
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx := context.Background()

	lookup := youtube.NewLookup(youtube.Config{
		CacheTTL:        cfg.Search.CacheTTL(),
		RatePerSec:      cfg.Search.RatePerSec,
		Burst:           cfg.Search.Burst,
		PreferMusicHits: cfg.Search.PreferMusicHits,
	})
	defer lookup.Close()

	var spotifyClient *spotify.Client
	if cfg.Spotify.Configured() {
		var err error
		spotifyClient, err = spotify.New(ctx, spotify.Config{
			ClientID:     cfg.Spotify.ClientID,
			ClientSecret: cfg.Spotify.ClientSecret,
			Market:       cfg.Spotify.Market,
		})
		if err != nil {
			return fmt.Errorf("failed to create Spotify client: %w", err)
		}
	}

	var radioChain *radio.Chain
	if cfg.Radio.Enabled {
		if err := validatePlaylists(ctx, cfg, spotifyClient); err != nil {
			return fmt.Errorf("playlist validation failed: %w", err)
		}
		var playlists radio.PlaylistClient
		if spotifyClient != nil {
			playlists = spotifyClient
		}
		var err error
		radioChain, err = radio.NewChainFromConfig(cfg, playlists, lookup)
		if err != nil {
			return fmt.Errorf("failed to create radio chain: %w", err)
		}
	}

	var limiter *admission.Limiter
	if cfg.Admission.Enabled {
		acfg, err := admission.ParseSettings(cfg.Admission.Settings)
		if err != nil {
			return fmt.Errorf("invalid admission settings: %w", err)
		}
		limiter = admission.NewLimiter(acfg)
	}

	client, err := discord.NewClient(cfg.Discord.Token)
	if err != nil {
		return fmt.Errorf("failed to create discord client: %w", err)
	}
	defer client.Close(ctx)

	voiceMgr := voice.NewManager(
		discord.NewTransport(client),
		discord.NewInspector(client),
		voice.Config{
			GracePeriod:  cfg.Voice.GracePeriod(),
			JoinAttempts: cfg.Voice.JoinAttempts,
			JoinBackoff:  cfg.Voice.JoinBackoff(),
		},
	)

	res := resolver.New(lookup)
	reg := registry.New(registry.Deps{
		QueueMax: cfg.Queue.MaxLength,
		Playback: playback.Config{RetryDelay: cfg.Playback.RetryDelay()},
		Resolver: res,
		NewSink: func(s *registry.Session) playback.AudioSink {
			return discord.NewSink(s)
		},
	})

	var preferredRoom snowflake.ID
	if cfg.Discord.PreferredRoomID != "" {
		preferredRoom, err = snowflake.Parse(cfg.Discord.PreferredRoomID)
		if err != nil {
			return fmt.Errorf("invalid preferred_room_id: %w", err)
		}
	}

	eng := engine.New(engine.Deps{
		Registry: reg,
		Limiter:  limiter,
		Resolver: res,
		Voice:    voiceMgr,
		Radio:    radioChain,
	}, engine.Config{
		PreferredRoom: preferredRoom,
		RadioBatch:    cfg.Radio.BatchSize,
	})
	defer eng.Close()

	if err := client.OpenGateway(ctx); err != nil {
		return fmt.Errorf("failed to open gateway: %w", err)
	}
	zlog.Info().Msgf("Gateway connected: user=%s sessions=%d", client.ID(), reg.Len())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	zlog.Info().Msg("Received shutdown signal...")

	zlog.Info().Msg("Server stopped")
	return nil
}

// validatePlaylists checks that configured playlist providers point at
// playlists that actually exist before the server starts serving.
func validatePlaylists(ctx context.Context, cfg *config.Config, spotifyClient *spotify.Client) error {
	for i, pcfg := range cfg.Radio.Providers {
		if pcfg.Type != "playlist" {
			continue
		}
		if spotifyClient == nil {
			return fmt.Errorf("playlist provider %q needs spotify credentials", pcfg.DisplayName)
		}
		url, _ := pcfg.Settings["playlist_url"].(string)
		if url == "" {
			return fmt.Errorf("playlist provider %q has no playlist_url", pcfg.DisplayName)
		}

		zlog.Info().Msgf("Validating playlist: provider=%s url=%s", pcfg.DisplayName, url)
		var lastErr error
		for attempt := 0; attempt < 3; attempt++ {
			if attempt > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(time.Duration(attempt) * time.Second):
				}
			}
			if lastErr = spotifyClient.CheckPlaylistExists(ctx, url); lastErr == nil {
				break
			}
			zlog.Warn().Msgf("Playlist validation failed (attempt %d/3): provider=%s error=%v",
				attempt+1, pcfg.DisplayName, lastErr)
		}
		if lastErr != nil {
			return fmt.Errorf("playlist provider %d (%s): %w", i, pcfg.DisplayName, lastErr)
		}
	}
	return nil
}
