package autolang

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// activitySuppressionWindow is how long duplicate activity events for the same
// (user, item) pair are ignored.
const activitySuppressionWindow = 3 * time.Second

// StreamPair is the (audio, subtitle) default-stream ids last observed for an
// item. A zero subtitle id means subtitles are off.
type StreamPair struct {
	AudioID    int
	SubtitleID int
}

// SnapshotStore persists the library snapshot and the added/updated markers so
// a restart does not need a cold full-catalog scan. Losing this state is safe.
type SnapshotStore interface {
	LoadSnapshot() (map[string][]string, error)
	SaveSnapshot(snapshot map[string][]string) error
	LoadMarkers(kind string) (map[string]int64, error)
	SaveMarker(kind string, key string, marker int64) error
}

const (
	markerKindAdded   = "added"
	markerKindUpdated = "updated"
)

// ServerCache deduplicates alert-driven work and holds an incremental snapshot
// of the library for change detection. All alert-side maps are mutated only by
// the dispatcher's consumer goroutine; the snapshot refresh may additionally
// race with the scheduler and is guarded by its own atomic flag.
type ServerCache struct {
	mu sync.Mutex

	sessionStates    map[string]string
	userClients      map[string]User
	defaultStreams   map[string]StreamPair
	recentActivities map[string]time.Time
	newlyAdded       map[string]int64
	newlyUpdated     map[string]int64
	episodeParts     map[string][]string

	refreshing atomic.Bool
	store      SnapshotStore
	now        func() time.Time
}

// NewServerCache builds a cache, loading the persisted snapshot and markers
// when a store is provided. A nil store keeps everything in memory only.
func NewServerCache(store SnapshotStore) *ServerCache {
	c := &ServerCache{
		sessionStates:    make(map[string]string),
		userClients:      make(map[string]User),
		defaultStreams:   make(map[string]StreamPair),
		recentActivities: make(map[string]time.Time),
		newlyAdded:       make(map[string]int64),
		newlyUpdated:     make(map[string]int64),
		episodeParts:     make(map[string][]string),
		store:            store,
		now:              time.Now,
	}
	if store == nil {
		return c
	}
	if snapshot, err := store.LoadSnapshot(); err != nil {
		log.Warn().Err(err).Msg("Failed to load persisted library snapshot")
	} else if len(snapshot) > 0 {
		c.episodeParts = snapshot
		log.Info().Int("episodes", len(snapshot)).Msg("Loaded library snapshot from cache")
	}
	if markers, err := store.LoadMarkers(markerKindAdded); err != nil {
		log.Warn().Err(err).Msg("Failed to load added markers")
	} else {
		c.newlyAdded = markers
	}
	if markers, err := store.LoadMarkers(markerKindUpdated); err != nil {
		log.Warn().Err(err).Msg("Failed to load updated markers")
	} else {
		c.newlyUpdated = markers
	}
	return c
}

// HasSnapshot reports whether a library snapshot is available, either loaded
// from the store or built by a previous Refresh.
func (c *ServerCache) HasSnapshot() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.episodeParts) > 0
}

// SessionState returns the last observed playback state for a session.
func (c *ServerCache) SessionState(sessionKey string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	state, ok := c.sessionStates[sessionKey]
	return state, ok
}

// SetSessionState records a session's playback state. A "stopped" state ends
// the session: both the session entry and the client identity memo are
// evicted.
func (c *ServerCache) SetSessionState(sessionKey, clientIdentifier, state string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if state == "stopped" {
		delete(c.sessionStates, sessionKey)
		delete(c.userClients, clientIdentifier)
		return
	}
	c.sessionStates[sessionKey] = state
}

// UserClient returns the memoized user for a player client.
func (c *ServerCache) UserClient(clientIdentifier string) (User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	user, ok := c.userClients[clientIdentifier]
	return user, ok
}

// SetUserClient memoizes the user resolved for a player client.
func (c *ServerCache) SetUserClient(clientIdentifier string, user User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.userClients[clientIdentifier] = user
}

// DefaultStreams returns the memoized selection pair for an item, recording
// the given pair when the item was not seen before.
func (c *ServerCache) DefaultStreams(itemKey string, pair StreamPair) (StreamPair, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if previous, ok := c.defaultStreams[itemKey]; ok {
		return previous, true
	}
	c.defaultStreams[itemKey] = pair
	return pair, false
}

// ShouldSuppressActivity reports whether an activity for the (user, item) pair
// was already processed within the suppression window, marking the pair as
// processed when it was not.
func (c *ServerCache) ShouldSuppressActivity(userID, itemKey string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := userID + ":" + itemKey
	if last, ok := c.recentActivities[key]; ok && c.now().Sub(last) < activitySuppressionWindow {
		return true
	}
	c.recentActivities[key] = c.now()
	return false
}

// ShouldProcessRecentlyAdded reports whether an item's added marker is new or
// has advanced, recording the marker as seen. It is true at most once per
// distinct marker value per key.
func (c *ServerCache) ShouldProcessRecentlyAdded(itemKey string, addedAt int64) bool {
	return c.shouldProcessMarker(markerKindAdded, itemKey, addedAt)
}

// ShouldProcessRecentlyUpdated is ShouldProcessRecentlyAdded for the updated
// marker.
func (c *ServerCache) ShouldProcessRecentlyUpdated(itemKey string, updatedAt int64) bool {
	return c.shouldProcessMarker(markerKindUpdated, itemKey, updatedAt)
}

func (c *ServerCache) shouldProcessMarker(kind, itemKey string, marker int64) bool {
	c.mu.Lock()
	markers := c.newlyAdded
	if kind == markerKindUpdated {
		markers = c.newlyUpdated
	}
	if seen, ok := markers[itemKey]; ok && seen == marker {
		c.mu.Unlock()
		return false
	}
	markers[itemKey] = marker
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.SaveMarker(kind, itemKey, marker); err != nil {
			log.Warn().Err(err).Str("item", itemKey).Msg("Failed to persist marker")
		}
	}
	return true
}

// Refresh walks the full episode catalog, replaces the snapshot and returns
// the episodes that are new and those whose part set changed. A refresh
// already in progress causes a concurrent call to return two empty lists
// immediately instead of blocking or duplicating the scan.
func (c *ServerCache) Refresh(ctx context.Context, lister EpisodeLister) (added, updated []Episode, err error) {
	if !c.refreshing.CompareAndSwap(false, true) {
		log.Debug().Msg("Library refresh already in progress, skipping")
		return nil, nil, nil
	}
	defer c.refreshing.Store(false)

	log.Debug().Msg("Refreshing library snapshot")
	episodes, err := lister.AllEpisodes(ctx)
	if err != nil {
		return nil, nil, err
	}

	snapshot := make(map[string][]string, len(episodes))
	for i := range episodes {
		partKeys := make([]string, 0, len(episodes[i].Parts))
		for _, part := range episodes[i].Parts {
			partKeys = append(partKeys, part.Key)
		}
		snapshot[episodes[i].Key] = partKeys
	}

	c.mu.Lock()
	previous := c.episodeParts
	for i := range episodes {
		key := episodes[i].Key
		before, existed := previous[key]
		switch {
		case !existed:
			added = append(added, episodes[i])
		case !samePartSet(before, snapshot[key]):
			updated = append(updated, episodes[i])
		}
	}
	c.episodeParts = snapshot
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.SaveSnapshot(snapshot); err != nil {
			log.Warn().Err(err).Msg("Failed to persist library snapshot")
		}
	}
	return added, updated, nil
}

func samePartSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, key := range a {
		set[key] = struct{}{}
	}
	for _, key := range b {
		if _, ok := set[key]; !ok {
			return false
		}
	}
	return true
}
