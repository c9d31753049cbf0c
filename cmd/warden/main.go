// Copyright 2026 The Warden Authors
// SPDX-License-Identifier: Apache-2.0

// warden is the community moderation bot: it opens and tracks ticket
// rooms, delivers reminders and scheduled broadcasts, and pings staff
// when a ticket goes unanswered.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/warden-bot/warden/lib/chat"
	"github.com/warden-bot/warden/lib/clock"
	"github.com/warden-bot/warden/lib/config"
	"github.com/warden-bot/warden/lib/jobs"
	"github.com/warden-bot/warden/lib/metrics"
	"github.com/warden-bot/warden/lib/reviews"
	"github.com/warden-bot/warden/lib/service"
	"github.com/warden-bot/warden/lib/store"
	"github.com/warden-bot/warden/lib/sweeper"
	"github.com/warden-bot/warden/lib/ticket"
	"github.com/warden-bot/warden/lib/transcript"
	"github.com/warden-bot/warden/lib/version"
	"github.com/warden-bot/warden/messaging"
)

// Keys of the runtime config table.
const (
	configKeyUptime          = "uptime"
	configKeyTranscriptsRoom = "transcripts_room"
	configKeyAdminRoom       = "admin_room"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		envFile     string
		logLevel    string
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("warden", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to warden.yaml (default: $WARDEN_CONFIG)")
	flagSet.StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("warden %s\n", version.Full())
		return nil
	}

	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("loading %s: %w", envFile, err)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	clk := clock.Real()
	started := clk.Now()

	db, err := store.Open(ctx, store.Config{
		Backend:  cfg.Store.Backend,
		Path:     cfg.Store.Path,
		DSN:      cfg.Store.DSN,
		PoolSize: cfg.Store.PoolSize,
		Clock:    clk,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer db.Close()

	if _, err := db.Set(ctx, store.TableConfig, configKeyUptime, []byte(started.UTC().Format(time.RFC3339))); err != nil {
		return fmt.Errorf("recording start time: %w", err)
	}
	transcriptsRoom, err := store.GetString(ctx, db, store.TableConfig, configKeyTranscriptsRoom, cfg.Matrix.TranscriptsRoom)
	if err != nil {
		return fmt.Errorf("reading %s: %w", configKeyTranscriptsRoom, err)
	}
	adminRoom, err := store.GetString(ctx, db, store.TableConfig, configKeyAdminRoom, cfg.Matrix.AdminRoom)
	if err != nil {
		return fmt.Errorf("reading %s: %w", configKeyAdminRoom, err)
	}

	_, session, err := service.LoadSession(cfg.Matrix.StateDir, cfg.Matrix.Homeserver, logger)
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}
	defer session.Close()

	userID, err := service.ValidateSession(ctx, session)
	if err != nil {
		return err
	}
	logger = logger.With("user_id", userID)
	logger.Info("matrix session valid", "version", version.Info(), "environment", string(cfg.Environment))

	ops := metrics.New()

	tiers := make([]chat.Tier, 0, len(cfg.Tickets.Tiers))
	for _, tier := range cfg.Tickets.Tiers {
		tiers = append(tiers, chat.Tier{Name: tier.Name, PowerLevel: tier.PowerLevel})
	}
	platform, err := chat.NewMatrix(chat.MatrixConfig{
		Session:       session,
		CommunityRoom: cfg.Matrix.CommunityRoom,
		Tiers:         tiers,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	minimumTier := make(map[ticket.Type]string, len(cfg.Tickets.MinimumTier))
	for name, tier := range cfg.Tickets.MinimumTier {
		ticketType, err := ticket.ParseType(name)
		if err != nil {
			return fmt.Errorf("tickets.minimum_tier: %w", err)
		}
		minimumTier[ticketType] = tier
	}

	registryConfig := ticket.Config{
		Platform:     platform,
		Category:     cfg.Matrix.TicketsSpace,
		Tiers:        cfg.TierNames(),
		MinimumTier:  minimumTier,
		HistoryLimit: cfg.Tickets.HistoryLimit,
		Clock:        clk,
		Metrics:      ops,
		Logger:       logger,
	}
	var archive archivePurger
	if cfg.Archive.Dir != "" {
		archiver, err := transcript.New(transcript.Config{
			Dir:          cfg.Archive.Dir,
			Compression:  transcript.Compression(cfg.Archive.Compression),
			Recipients:   cfg.Archive.AgeRecipients,
			Platform:     platform,
			LogChannel:   transcriptsRoom,
			AdminChannel: adminRoom,
			Logger:       logger,
		})
		if err != nil {
			return err
		}
		registryConfig.Archiver = archiver
		archive = archiver
	}
	registry, err := ticket.NewRegistry(registryConfig)
	if err != nil {
		return err
	}

	filter := buildSyncFilter()
	sinceToken, initial, err := service.InitialSync(ctx, session, filter)
	if err != nil {
		return err
	}
	managedRooms := map[string]bool{
		cfg.Matrix.CommunityRoom: true,
		cfg.Matrix.TicketsSpace:  true,
		transcriptsRoom:          transcriptsRoom != "",
		adminRoom:                adminRoom != "",
	}
	acceptManaged := func(roomID string) bool { return managedRooms[roomID] }
	service.AcceptInvites(ctx, session, initial.Rooms.Invite, acceptManaged, logger)

	if err := registry.Init(ctx); err != nil {
		return fmt.Errorf("recovering tickets: %w", err)
	}
	logger.Info("tickets recovered", "open", registry.Len())

	reminders := jobs.NewReminders(db, clk, logger)
	broadcasts := jobs.NewBroadcasts(db, clk, logger)

	sweep, err := sweeper.New(sweeper.Config{
		Reminders:     reminders,
		Broadcasts:    broadcasts,
		Registry:      registry,
		Platform:      platform,
		IdleThreshold: cfg.Tickets.IdleThreshold,
		MinInterval:   cfg.Sweeper.MinInterval,
		Burst:         cfg.Sweeper.Burst,
		Clock:         clk,
		Metrics:       ops,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	handler := newBot(botConfig{
		Platform:     platform,
		Registry:     registry,
		Reminders:    reminders,
		Broadcasts:   broadcasts,
		Reviews:      reviews.NewBook(db, clk, logger),
		ReviewerTier: cfg.ReviewerTierName(),
		ResetTier:    cfg.ResetTierName(),
		Archive:      archive,
		AdminRoom:    adminRoom,
		Clock:        clk,
		Logger:       logger,
	})

	var background sync.WaitGroup
	background.Go(func() { sweep.Run(ctx) })

	if cfg.Ops.Listen != "" {
		server := &opsServer{metrics: ops, registry: registry, started: started, clock: clk, logger: logger}
		background.Go(func() {
			if err := server.serve(ctx, cfg.Ops.Listen); err != nil {
				logger.Error("ops endpoint failed", "error", err)
			}
		})
	}

	background.Go(func() {
		service.RunSyncLoop(ctx, session, service.SyncConfig{Filter: filter}, sinceToken,
			func(ctx context.Context, response *messaging.SyncResponse) {
				service.AcceptInvites(ctx, session, response.Rooms.Invite, acceptManaged, logger)
				handler.handleSync(ctx, platform, response)
			},
			clk, logger)
	})

	logger.Info("warden running", "open_tickets", registry.Len())
	<-ctx.Done()
	logger.Info("shutting down")

	background.Wait()
	handler.wait()
	registry.WaitArchives()
	return nil
}

// loadConfig reads the file named by --config, or by WARDEN_CONFIG
// when the flag is empty, and validates it.
func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildSyncFilter limits /sync to room messages. Ticket state is read
// through the platform on demand, so no state events are requested.
func buildSyncFilter() string {
	emptyTypes := []string{}
	filter := map[string]any{
		"room": map[string]any{
			"state": map[string]any{
				"types": emptyTypes,
			},
			"timeline": map[string]any{
				"types": []string{"m.room.message"},
				"limit": 100,
			},
			"ephemeral": map[string]any{
				"types": emptyTypes,
			},
			"account_data": map[string]any{
				"types": emptyTypes,
			},
		},
		"presence": map[string]any{
			"types": emptyTypes,
		},
		"account_data": map[string]any{
			"types": emptyTypes,
		},
	}
	data, err := json.Marshal(filter)
	if err != nil {
		panic("marshaling sync filter: " + err.Error())
	}
	return string(data)
}
