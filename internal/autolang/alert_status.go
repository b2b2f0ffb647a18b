package autolang

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

// statusScanComplete is the status title emitted when a library scan ends.
const statusScanComplete = "Library scan complete"

// StatusAlert is a server status notification. A completed library scan
// triggers either a full snapshot diff or a lightweight recently-added query,
// and the surviving items are propagated to every user.
type StatusAlert struct {
	Title            string `json:"title"`
	Description      string `json:"description"`
	NotificationName string `json:"notificationName"`
}

func (a *StatusAlert) Kind() string { return "status" }

func (a *StatusAlert) validate() error {
	if a.Title == "" {
		return errors.New("missing title")
	}
	return nil
}

func (a *StatusAlert) Process(ctx context.Context, m *Manager) error {
	if a.Title != statusScanComplete {
		return nil
	}
	log.Info().Msg("Library scan complete")

	if m.opts.RefreshLibraryOnScan {
		return m.processLibraryDiff(ctx)
	}

	recent, err := m.server.RecentlyAddedEpisodes(ctx, recentlyAddedWindow)
	if err != nil {
		return err
	}
	for i := range recent {
		item := &recent[i]
		if !m.cache.ShouldProcessRecentlyAdded(item.Key, item.AddedAt) {
			continue
		}
		log.Info().Str("episode", item.FullName()).Msg("Processing newly added episode")
		if err := m.ProcessNewOrUpdatedEpisode(ctx, item, EventNewEpisode); err != nil {
			log.Error().Err(err).Str("episode", item.FullName()).Msg("Failed to process newly added episode")
		}
	}
	return nil
}
