package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/sublarr/sublarr/internal/api"
	"github.com/sublarr/sublarr/internal/breaker"
	"github.com/sublarr/sublarr/internal/config"
	"github.com/sublarr/sublarr/internal/database"
	"github.com/sublarr/sublarr/internal/integrations"
	"github.com/sublarr/sublarr/internal/jobqueue"
	"github.com/sublarr/sublarr/internal/library"
	"github.com/sublarr/sublarr/internal/logger"
	"github.com/sublarr/sublarr/internal/provider"
	providermgr "github.com/sublarr/sublarr/internal/provider/manager"
	"github.com/sublarr/sublarr/internal/ratelimit"
	"github.com/sublarr/sublarr/internal/scanner"
	"github.com/sublarr/sublarr/internal/scheduler"
	"github.com/sublarr/sublarr/internal/scoring"
	"github.com/sublarr/sublarr/internal/store"
	"github.com/sublarr/sublarr/internal/transcriber"
	"github.com/sublarr/sublarr/internal/translation"
	"github.com/sublarr/sublarr/internal/translator"
	"github.com/sublarr/sublarr/internal/wanted"
	"github.com/sublarr/sublarr/internal/watcher"
	"github.com/sublarr/sublarr/internal/websocket"
)

const version = "0.9.0"

func main() {
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(logger.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Path:       cfg.Logging.Path,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	defer log.Close()

	log.Info().Str("version", version).Msg("Starting Sublarr")

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	ctx := context.Background()
	st := store.New(db.Conn(), log.Logger)

	limiter := ratelimit.NewLimiter(ratelimit.DefaultConfig(), log.Logger)
	registry := provider.NewRegistry(st, limiter, log.Logger)
	registerProviders(ctx, st, registry, log.Logger)
	search := providermgr.New(registry, st, scoring.NewDefaultScorer(), limiter,
		providermgr.DefaultConfig(), log.Logger)

	brk := breaker.New(breaker.DefaultConfig(), log.Logger)
	tm := translation.NewManager(st, brk, log.Logger)
	if err := translation.RegisterConfigured(ctx, st, tm); err != nil {
		log.Warn().Err(err).Msg("Translation backend registration incomplete")
	}

	memQueue := jobqueue.NewMemoryQueue(2, 100, log.Logger)
	queue := jobqueue.NewDurableQueue(memQueue, st, log.Logger)

	prober := translator.NewProber(
		st.GetSettingString(ctx, "ffprobe_path", ""),
		st.GetSettingString(ctx, "ffmpeg_path", ""))
	if !prober.Available() {
		log.Warn().Msg("ffprobe/ffmpeg not found, embedded extraction and transcription disabled")
	}

	transcribeSvc := buildTranscriber(ctx, st, prober, queue, log.Logger)

	var tq translator.TranscriptionQueue
	if transcribeSvc != nil {
		tq = transcribeSvc
	}
	tr := translator.New(tm, prober, tq, log.Logger)

	facade := buildFacade(ctx, st, log.Logger)
	pipeline := wanted.New(st, search, tr, facade, wanted.DefaultConfig(), log.Logger)
	if transcribeSvc != nil {
		transcribeSvc.SetCompletionHandler(pipeline.FinishTranscription)
	}

	hub := websocket.NewHub(log.Logger)
	go hub.Run()

	scanConfig := scanner.DefaultConfig()
	sc := scanner.New(st, facade, pipeline, hub, scanConfig, log.Logger)

	trash := library.NewTrash(st, cfg.Media.Root,
		time.Duration(st.GetSettingInt(ctx, "trash_retention_days", 30))*24*time.Hour, log.Logger)
	tools := library.NewTools(cfg.Media.Root, log.Logger)
	inventory := library.NewInventory(facade, log.Logger)

	watchSvc, err := watcher.NewService(st, sc, scanner.DefaultWebhookConfig(), log.Logger)
	if err != nil {
		log.Warn().Err(err).Msg("File watching unavailable")
	} else if err := watchSvc.Start(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to start file watching")
	}

	sched, err := scheduler.New(log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create scheduler")
	}
	registerTasks(sched, sc, st, trash, scanConfig, log.Logger)
	if err := sched.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start scheduler")
	}

	server := api.NewServer(api.Deps{
		Store:       st,
		Hub:         hub,
		Queue:       queue,
		Translation: tm,
		Translator:  tr,
		Pipeline:    pipeline,
		Scanner:     sc,
		Providers:   search,
		Facade:      facade,
		Trash:       trash,
		Tools:       tools,
		Inventory:   inventory,
		Scheduler:   sched,
		Watcher:     watchSvc,
		WebhookConf: scanner.DefaultWebhookConfig(),
		Version:     version,
	}, log.Logger)

	go func() {
		if err := server.Start(cfg.Server.Address()); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown failed")
	}
	if err := sched.Stop(); err != nil {
		log.Error().Err(err).Msg("Scheduler stop failed")
	}
	if watchSvc != nil {
		if err := watchSvc.Stop(); err != nil {
			log.Error().Err(err).Msg("Watcher stop failed")
		}
	}
	queue.Stop()
	hub.Stop()
	registry.TerminateAll(shutdownCtx)

	log.Info().Msg("Shutdown complete")
}

// registerProviders builds each configured provider from its stored config.
// The embedded provider is always available since it only needs ffprobe.
func registerProviders(ctx context.Context, st *store.Store, registry *provider.Registry, log zerolog.Logger) {
	registry.Register(provider.NewEmbedded(log), provider.Settings{Enabled: true, Priority: 10})

	configs, err := st.ListProviders(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to list provider configs")
		return
	}
	for _, cfg := range configs {
		settings := provider.Settings{Enabled: cfg.Enabled, Priority: cfg.Priority}
		switch cfg.Name {
		case "opensubtitles":
			var pc provider.OpenSubtitlesConfig
			if cfg.Config != "" {
				if err := json.Unmarshal([]byte(cfg.Config), &pc); err != nil {
					log.Warn().Err(err).Str("provider", cfg.Name).Msg("Bad provider config")
					continue
				}
			}
			registry.Register(provider.NewOpenSubtitles(pc, log), settings)
		case "addic7ed":
			var pc provider.Addic7edConfig
			if cfg.Config != "" {
				if err := json.Unmarshal([]byte(cfg.Config), &pc); err != nil {
					log.Warn().Err(err).Str("provider", cfg.Name).Msg("Bad provider config")
					continue
				}
			}
			registry.Register(provider.NewAddic7ed(pc, log), settings)
		case "embedded":
			registry.Register(provider.NewEmbedded(log), settings)
		default:
			log.Warn().Str("provider", cfg.Name).Msg("Unknown provider in configuration")
		}
	}
}

// buildTranscriber wires the Whisper ASR service when a URL is configured.
func buildTranscriber(ctx context.Context, st *store.Store, prober *translator.Prober,
	queue jobqueue.Queue, log zerolog.Logger) *transcriber.Service {

	url := st.GetSettingString(ctx, "whisper.url", "")
	if url == "" {
		return nil
	}
	client, err := transcriber.NewClient(transcriber.ClientConfig{
		URL:   url,
		Model: st.GetSettingString(ctx, "whisper.model", ""),
	}, log)
	if err != nil {
		log.Warn().Err(err).Msg("Whisper client misconfigured, transcription disabled")
		return nil
	}
	return transcriber.NewService(client, prober, queue, log)
}

// buildFacade connects the configured media managers. Either may be absent.
func buildFacade(ctx context.Context, st *store.Store, log zerolog.Logger) *integrations.Facade {
	var sonarr *integrations.SonarrClient
	if url := st.GetSettingString(ctx, "sonarr.url", ""); url != "" {
		client, err := integrations.NewSonarrClient(integrations.ClientConfig{
			URL:    url,
			APIKey: st.GetSettingString(ctx, "sonarr.api_key", ""),
		}, log)
		if err != nil {
			log.Warn().Err(err).Msg("Sonarr misconfigured, skipping")
		} else {
			sonarr = client
		}
	}

	var radarr *integrations.RadarrClient
	if url := st.GetSettingString(ctx, "radarr.url", ""); url != "" {
		client, err := integrations.NewRadarrClient(integrations.ClientConfig{
			URL:    url,
			APIKey: st.GetSettingString(ctx, "radarr.api_key", ""),
		}, log)
		if err != nil {
			log.Warn().Err(err).Msg("Radarr misconfigured, skipping")
		} else {
			radarr = client
		}
	}

	return integrations.NewFacade(sonarr, radarr, log)
}

func registerTasks(sched *scheduler.Scheduler, sc *scanner.Scanner, st *store.Store,
	trash *library.Trash, scanConfig scanner.Config, log zerolog.Logger) {

	tasks := []scheduler.TaskConfig{
		{
			ID:          "library-scan",
			Name:        "Library scan",
			Description: "Enumerate the library and reconcile the wanted list",
			Interval:    scanConfig.ScanInterval,
			RunOnStart:  scanConfig.ScanOnStart,
			Func: func(ctx context.Context) error {
				_, err := sc.Scan(ctx)
				if err == scanner.ErrBusy {
					return nil
				}
				return err
			},
		},
		{
			ID:          "wanted-search",
			Name:        "Wanted search",
			Description: "Search providers for due wanted items",
			Interval:    scanConfig.SearchInterval,
			RunOnStart:  scanConfig.SearchOnStart,
			Func: func(ctx context.Context) error {
				_, err := sc.Search(ctx)
				if err == scanner.ErrBusy {
					return nil
				}
				return err
			},
		},
		{
			ID:          "cache-sweep",
			Name:        "Provider cache sweep",
			Description: "Drop expired provider search cache rows",
			Interval:    time.Hour,
			Func: func(ctx context.Context) error {
				_, err := st.SweepProviderCache(ctx)
				return err
			},
		},
		{
			ID:          "trash-purge",
			Name:        "Trash retention",
			Description: "Purge trash batches past the retention window",
			Cron:        "0 4 * * *",
			Func: func(ctx context.Context) error {
				_, err := trash.PurgeExpired(ctx)
				return err
			},
		},
	}

	for _, task := range tasks {
		if err := sched.RegisterTask(task); err != nil {
			log.Error().Err(err).Str("task", task.ID).Msg("Failed to register task")
		}
	}
}
