package autolang

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
)

// activityTypeRefreshItems is the only activity kind that signals a finished
// per-item metadata refresh.
const activityTypeRefreshItems = "library.refresh.items"

// ActivityAlert is an activity notification. Only "ended" events for item
// refreshes trigger a track update; rapid duplicates for the same (user, item)
// pair are suppressed.
type ActivityAlert struct {
	Event    string `json:"event"`
	UUID     string `json:"uuid"`
	Activity struct {
		Type    string `json:"type"`
		UserID  int64  `json:"userID"`
		Context struct {
			Key string `json:"key"`
		} `json:"Context"`
	} `json:"Activity"`
}

func (a *ActivityAlert) Kind() string { return "activity" }

func (a *ActivityAlert) validate() error {
	if a.Event == "" {
		return errors.New("missing event")
	}
	if a.Activity.Type == "" {
		return errors.New("missing activity type")
	}
	return nil
}

func (a *ActivityAlert) Process(ctx context.Context, m *Manager) error {
	if a.Event != "ended" || a.Activity.Type != activityTypeRefreshItems {
		return nil
	}

	userID := strconv.FormatInt(a.Activity.UserID, 10)
	media, err := m.server.InstanceOfUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return fmt.Errorf("failed to get library view of user %s: %w", userID, err)
	}

	ratingKey := extractRatingKey(a.Activity.Context.Key)
	if ratingKey == "" {
		return nil
	}
	item, err := media.FetchEpisode(ctx, ratingKey)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	if ignored, err := m.ShouldIgnoreShow(ctx, item.ShowKey); err != nil {
		return err
	} else if ignored {
		log.Debug().Str("episode", item.FullName()).Msg("Ignoring episode due to show labels")
		return nil
	}

	if m.cache.ShouldSuppressActivity(userID, item.Key) {
		return nil
	}

	user, err := m.server.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return err
	}
	log.Debug().Str("user", user.Name).Str("episode", item.FullName()).Msg("Processing activity event")

	_, err = m.ChangeDefaultTracksIfNeeded(ctx, user.Name, item, media, nil, true, EventPlayOrActivity)
	return err
}
