package autolang

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// historyReplayWindow is how far back the reconciliation sweep replays
// playback history.
const historyReplayWindow = 24 * time.Hour

// Notifier delivers human-readable update reports. Implementations may route
// per-username targets in addition to global ones.
type Notifier interface {
	Notify(ctx context.Context, title, body string, event EventType)
	NotifyUser(ctx context.Context, title, body, username string, event EventType)
}

// Options is the engine's behavior configuration.
type Options struct {
	UpdateLevel          UpdateLevel
	UpdateStrategy       UpdateStrategy
	TriggerOnPlay        bool
	TriggerOnScan        bool
	TriggerOnActivity    bool
	RefreshLibraryOnScan bool
	IgnoreLabels         []string
}

// Manager ties the cache, the track-change computation and the server
// interface together. All of its mutating entry points run on the
// dispatcher's consumer goroutine or the scheduler, never on the feed
// transport's read loop.
type Manager struct {
	server   Server
	cache    *ServerCache
	notifier Notifier
	opts     Options
	now      func() time.Time
}

// NewManager builds the engine. notifier may be nil to disable notifications.
func NewManager(server Server, cache *ServerCache, notifier Notifier, opts Options) *Manager {
	if opts.UpdateLevel == "" {
		opts.UpdateLevel = UpdateLevelShow
	}
	if opts.UpdateStrategy == "" {
		opts.UpdateStrategy = UpdateStrategyAll
	}
	return &Manager{
		server:   server,
		cache:    cache,
		notifier: notifier,
		opts:     opts,
		now:      time.Now,
	}
}

// Cache exposes the session/activity cache.
func (m *Manager) Cache() *ServerCache { return m.cache }

// ChangeDefaultTracksIfNeeded propagates the reference episode's current
// selection to the target episodes, resolving them from the configured scope
// when targets is nil. It reports whether any change was applied.
func (m *Manager) ChangeDefaultTracksIfNeeded(ctx context.Context, username string, reference *Episode, media UserMedia, targets []Episode, notify bool, event EventType) (bool, error) {
	tc := NewTrackChanges(username, reference)
	log.Debug().
		Str("show", reference.ShowTitle).
		Str("user", username).
		Str("episode", reference.ShortName()).
		Msg("Checking language update")

	if targets == nil {
		var err error
		targets, err = tc.EpisodesToUpdate(ctx, media, m.opts.UpdateLevel, m.opts.UpdateStrategy)
		if err != nil {
			return false, err
		}
	}

	if err := tc.Compute(ctx, media, targets); err != nil {
		return false, err
	}
	if !tc.HasChanges() {
		log.Debug().
			Str("show", reference.ShowTitle).
			Str("user", username).
			Msg("No language changes to perform")
		return false, nil
	}

	if err := tc.Apply(ctx, media); err != nil {
		return false, err
	}

	log.Info().Str("user", username).Msgf("Language update: %s", tc.InlineDescription())
	if notify && m.notifier != nil {
		title := "PlexAutoLanguages - " + tc.ReferenceName()
		m.notifier.NotifyUser(ctx, title, tc.Description(), username, event)
	}
	return true, nil
}

// ProcessNewOrUpdatedEpisode applies every user's own preference to a newly
// added or updated episode: for each user the reference is their most
// recently watched episode of the show (or its first episode), and the single
// target is the new item as seen through that user's access grant. One
// aggregate notification covers all users.
func (m *Manager) ProcessNewOrUpdatedEpisode(ctx context.Context, episode *Episode, event EventType) error {
	userIDs, err := m.server.AllUserIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}

	updatedUsers := 0
	for _, userID := range userIDs {
		changed, err := m.processEpisodeForUser(ctx, userID, episode)
		if err != nil {
			log.Error().Err(err).
				Str("user", userID).
				Str("episode", episode.FullName()).
				Msg("Failed to process episode for user")
			continue
		}
		if changed {
			updatedUsers++
		}
	}

	if updatedUsers == 0 {
		return nil
	}

	title := "PlexAutoLanguages - New episode"
	if event == EventUpdatedEpisode {
		title = "PlexAutoLanguages - Updated episode"
	}
	body := fmt.Sprintf("Episode: %s\nUpdated language for all users", episode.FullName())
	log.Info().Msgf("Language update for %s: %s", event, strings.ReplaceAll(body, "\n", " | "))
	if m.notifier != nil {
		m.notifier.Notify(ctx, title, body, event)
	}
	return nil
}

func (m *Manager) processEpisodeForUser(ctx context.Context, userID string, episode *Episode) (bool, error) {
	media, err := m.server.InstanceOfUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return false, nil
		}
		return false, err
	}

	userItem, err := media.FetchEpisode(ctx, episode.RatingKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	reference, err := media.LastWatchedOrFirstEpisode(ctx, userItem.ShowKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	user, err := m.server.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return false, nil
		}
		return false, err
	}

	return m.ChangeDefaultTracksIfNeeded(ctx, user.Name, reference, media, []Episode{*userItem}, false, EventNewEpisode)
}

// ShouldIgnoreShow reports whether the show carries one of the configured
// ignore labels.
func (m *Manager) ShouldIgnoreShow(ctx context.Context, showKey string) (bool, error) {
	if len(m.opts.IgnoreLabels) == 0 {
		return false, nil
	}
	labels, err := m.server.ShowLabels(ctx, showKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	for _, label := range labels {
		for _, ignored := range m.opts.IgnoreLabels {
			if strings.EqualFold(label, ignored) {
				return true, nil
			}
		}
	}
	return false, nil
}

// RunScheduledSync is the daily reconciliation sweep: it replays the last
// day's playback history per acting user, then diffs the library snapshot and
// propagates surviving added/updated episodes. This is the only path that
// corrects drift the live feed may have missed.
func (m *Manager) RunScheduledSync(ctx context.Context) {
	log.Info().Msg("Starting scheduled language sync")
	m.replayHistory(ctx)
	if err := m.processLibraryDiff(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to diff library during scheduled sync")
	}
	log.Info().Msg("Scheduled language sync finished")
}

func (m *Manager) replayHistory(ctx context.Context) {
	history, err := m.server.History(ctx, m.now().Add(-historyReplayWindow))
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch playback history")
		return
	}
	for _, entry := range history {
		if err := m.replayHistoryEntry(ctx, entry); err != nil {
			log.Error().Err(err).
				Str("item", entry.RatingKey).
				Str("account", entry.AccountID).
				Msg("Failed to replay history entry")
		}
	}
}

func (m *Manager) replayHistoryEntry(ctx context.Context, entry HistoryEntry) error {
	user, err := m.server.UserByID(ctx, entry.AccountID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return err
	}
	media, err := m.server.InstanceOfUser(ctx, entry.AccountID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return err
	}
	episode, err := media.FetchEpisode(ctx, entry.RatingKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	_, err = m.ChangeDefaultTracksIfNeeded(ctx, user.Name, episode, media, nil, true, EventScheduler)
	return err
}

// processLibraryDiff refreshes the snapshot and runs the added/updated marker
// policy over the diff, propagating survivors to every user.
func (m *Manager) processLibraryDiff(ctx context.Context) error {
	added, updated, err := m.cache.Refresh(ctx, m.server)
	if err != nil {
		return fmt.Errorf("failed to refresh library snapshot: %w", err)
	}
	for i := range added {
		item := &added[i]
		if !m.cache.ShouldProcessRecentlyAdded(item.Key, item.AddedAt) {
			continue
		}
		log.Info().Str("episode", item.FullName()).Msg("Processing newly added episode")
		if err := m.ProcessNewOrUpdatedEpisode(ctx, item, EventNewEpisode); err != nil {
			log.Error().Err(err).Str("episode", item.FullName()).Msg("Failed to process newly added episode")
		}
	}
	for i := range updated {
		item := &updated[i]
		if !m.cache.ShouldProcessRecentlyUpdated(item.Key, item.UpdatedAt) {
			continue
		}
		log.Info().Str("episode", item.FullName()).Msg("Processing updated episode")
		if err := m.ProcessNewOrUpdatedEpisode(ctx, item, EventUpdatedEpisode); err != nil {
			log.Error().Err(err).Str("episode", item.FullName()).Msg("Failed to process updated episode")
		}
	}
	return nil
}
