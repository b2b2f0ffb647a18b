package autolang

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// timelineIdentifierLibrary marks entries emitted by the library plugin.
	timelineIdentifierLibrary = "com.plexapp.plugins.library"
	// timelineStateCompleted is the processing state of a fully ingested item.
	timelineStateCompleted = 5
	// timelineTypeSentinel flags entries that carry no usable item type.
	timelineTypeSentinel = -1
	// recentlyAddedWindow bounds how old an item may be to count as new.
	recentlyAddedWindow = 5 * time.Minute
)

// TimelineAlert is a timeline notification for a library item. Completed
// entries for recently added episodes trigger the multi-user propagation.
type TimelineAlert struct {
	ItemID        int64   `json:"itemID"`
	Identifier    string  `json:"identifier"`
	State         int     `json:"state"`
	Type          int     `json:"type"`
	UpdatedAt     int64   `json:"updatedAt"`
	MetadataState *string `json:"metadataState"`
	MediaState    *string `json:"mediaState"`
}

func (a *TimelineAlert) Kind() string { return "timeline" }

func (a *TimelineAlert) validate() error {
	if a.ItemID == 0 {
		return errors.New("missing itemID")
	}
	if a.Identifier == "" {
		return errors.New("missing identifier")
	}
	return nil
}

func (a *TimelineAlert) Process(ctx context.Context, m *Manager) error {
	// Entries still carrying metadata or media sub-states are intermediate.
	if a.MetadataState != nil || a.MediaState != nil {
		return nil
	}
	if a.Identifier != timelineIdentifierLibrary || a.State != timelineStateCompleted || a.Type == timelineTypeSentinel {
		return nil
	}

	item, err := m.server.FetchEpisode(ctx, strconv.FormatInt(a.ItemID, 10))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	if time.Unix(item.AddedAt, 0).Before(m.now().Add(-recentlyAddedWindow)) {
		return nil
	}
	if !m.cache.ShouldProcessRecentlyAdded(item.Key, item.AddedAt) {
		return nil
	}

	log.Info().Str("episode", item.FullName()).Msg("Processing newly added episode")
	return m.ProcessNewOrUpdatedEpisode(ctx, item, EventNewEpisode)
}
