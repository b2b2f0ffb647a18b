package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/RemiRigal/Plex-Auto-Languages/internal/autolang"
	"github.com/RemiRigal/Plex-Auto-Languages/internal/config"
	"github.com/RemiRigal/Plex-Auto-Languages/internal/logging"
	"github.com/RemiRigal/Plex-Auto-Languages/internal/notification"
	"github.com/RemiRigal/Plex-Auto-Languages/internal/plex"
	"github.com/RemiRigal/Plex-Auto-Languages/internal/store"
	"github.com/RemiRigal/Plex-Auto-Languages/internal/web"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "plexautolanguages",
		Short: "PlexAutoLanguages - Automated language selection for Plex TV shows",
		Long:  `PlexAutoLanguages keeps the audio and subtitle selection of every episode of a show in sync with the tracks each user picked, reacting to playback and library events in real time.`,
		RunE:  run,
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the YAML configuration file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("plexautolanguages %s (commit: %s, built: %s)\n", version, commit, date)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// readiness is the startup flag reported by the /ready endpoint.
type readiness struct {
	done chan struct{}
}

func (r *readiness) Ready() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	level := "info"
	if cfg.Debug {
		level = "debug"
	}
	logFile := cfg.LogFile
	if logFile == "" {
		logFile = filepath.Join(cfg.DataDir, "plexautolanguages.log")
	}
	logging.Apply(level, logFile)

	log.Info().
		Str("version", version).
		Str("plex_url", cfg.Plex.URL).
		Str("update_level", cfg.UpdateLevel).
		Str("update_strategy", cfg.UpdateStrategy).
		Msg("Starting PlexAutoLanguages")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := plex.NewClient(cfg.Plex.URL, cfg.Plex.Token)
	if err := client.Connect(ctx); err != nil {
		return err
	}
	if client.Self() == nil {
		return fmt.Errorf("unable to resolve the user associated with the Plex token")
	}

	machineID, err := client.MachineIdentifier(ctx)
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.DataDir, machineID)
	if err != nil {
		return err
	}
	defer db.Close()

	cache := autolang.NewServerCache(db)

	var notifier autolang.Notifier
	if cfg.Notifications.Enable {
		notifier = notification.NewNotifier(buildRoutes(cfg.Notifications.Targets))
	}

	manager := autolang.NewManager(client, cache, notifier, autolang.Options{
		UpdateLevel:          autolang.UpdateLevel(cfg.UpdateLevel),
		UpdateStrategy:       autolang.UpdateStrategy(cfg.UpdateStrategy),
		TriggerOnPlay:        cfg.TriggerOnPlay,
		TriggerOnScan:        cfg.TriggerOnScan,
		TriggerOnActivity:    cfg.TriggerOnActivity,
		RefreshLibraryOnScan: cfg.RefreshLibraryOnScan,
		IgnoreLabels:         cfg.IgnoreLabels,
	})

	dispatcher := autolang.NewDispatcher(manager)
	dispatcher.Start()
	defer dispatcher.Stop()

	listener := plex.NewListener(client, dispatcher.HandleMessage)

	// Build the initial library snapshot when none was persisted, so
	// scan diffs have a baseline.
	ready := &readiness{done: make(chan struct{})}
	go func() {
		if !cache.HasSnapshot() {
			log.Info().Msg("Building initial library snapshot")
			if _, _, err := cache.Refresh(ctx, client); err != nil {
				log.Error().Err(err).Msg("Failed to build initial library snapshot")
			}
		}
		close(ready.done)
	}()

	var scheduler *cron.Cron
	if cfg.Scheduler.Enable {
		scheduler = cron.New()
		spec := cronSpec(cfg.Scheduler.ScheduleTime)
		if _, err := scheduler.AddFunc(spec, func() {
			manager.RunScheduledSync(ctx)
		}); err != nil {
			return fmt.Errorf("invalid schedule time: %w", err)
		}
		scheduler.Start()
		defer scheduler.Stop()
		log.Info().Str("schedule_time", cfg.Scheduler.ScheduleTime).Msg("Scheduler enabled")
	}

	healthServer := web.NewServer(cfg.HealthPort, listener, ready)

	errChan := make(chan error, 2)
	go func() {
		if err := healthServer.Run(ctx); err != nil && err != context.Canceled {
			errChan <- err
		}
	}()
	go func() {
		if err := listener.Run(ctx); err != nil && err != context.Canceled {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("Shutting down")
		return nil
	case err := <-errChan:
		return err
	}
}

// cronSpec converts a HH:MM schedule time to a daily cron expression.
func cronSpec(scheduleTime string) string {
	hh, mm, _ := strings.Cut(scheduleTime, ":")
	return fmt.Sprintf("%s %s * * *", strings.TrimPrefix(mm, "0"), strings.TrimPrefix(hh, "0"))
}

func buildRoutes(targets []config.NotificationTarget) []notification.Route {
	routes := make([]notification.Route, 0, len(targets))
	for _, target := range targets {
		var provider notification.Provider
		switch target.Type {
		case "discord":
			provider = notification.NewDiscordProvider(notification.DiscordConfig{
				WebhookURL: target.URL,
			})
		case "webhook":
			provider = notification.NewWebhookProvider(notification.WebhookConfig{
				URL:     target.URL,
				Method:  target.Method,
				Body:    target.Body,
				Headers: target.Headers,
			})
		default:
			continue
		}
		routes = append(routes, notification.Route{
			Provider: provider,
			Events:   target.Events,
			Users:    target.Users,
		})
	}
	return routes
}
