package autolang

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
)

// PlayingAlert is a play-session state notification. It only triggers a track
// update when the session transitions to "stopped", so the user's final
// in-playback selection is the one that propagates.
type PlayingAlert struct {
	SessionKey       string `json:"sessionKey"`
	ClientIdentifier string `json:"clientIdentifier"`
	Key              string `json:"key"`
	RatingKey        string `json:"ratingKey"`
	State            string `json:"state"`
	ViewOffset       int64  `json:"viewOffset"`
}

func (a *PlayingAlert) Kind() string { return "playing" }

func (a *PlayingAlert) validate() error {
	if a.SessionKey == "" {
		return errors.New("missing sessionKey")
	}
	if a.ClientIdentifier == "" {
		return errors.New("missing clientIdentifier")
	}
	if a.State == "" {
		return errors.New("missing state")
	}
	if a.RatingKey == "" && extractRatingKey(a.Key) == "" {
		return errors.New("missing item key")
	}
	return nil
}

func (a *PlayingAlert) ratingKey() string {
	if a.RatingKey != "" {
		return a.RatingKey
	}
	return extractRatingKey(a.Key)
}

func (a *PlayingAlert) Process(ctx context.Context, m *Manager) error {
	user, ok := m.cache.UserClient(a.ClientIdentifier)
	if !ok {
		resolved, err := m.server.UserFromClient(ctx, a.ClientIdentifier)
		if err != nil {
			if errors.Is(err, ErrUserNotFound) {
				log.Debug().Str("client", a.ClientIdentifier).Msg("No user mapped to client yet")
				return nil
			}
			return fmt.Errorf("failed to resolve user for client %s: %w", a.ClientIdentifier, err)
		}
		user = *resolved
		m.cache.SetUserClient(a.ClientIdentifier, user)
	}

	media, err := m.server.InstanceOfUser(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("failed to get library view of user %s: %w", user.ID, err)
	}

	item, err := media.FetchEpisode(ctx, a.ratingKey())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}

	if previous, ok := m.cache.SessionState(a.SessionKey); ok && previous == a.State {
		return nil
	}
	log.Debug().
		Str("session", a.SessionKey).
		Str("state", a.State).
		Str("user", user.ID).
		Str("episode", item.FullName()).
		Msg("Play session state change")
	m.cache.SetSessionState(a.SessionKey, a.ClientIdentifier, a.State)

	if a.State != "stopped" {
		return nil
	}
	log.Debug().Str("session", a.SessionKey).Str("user", user.ID).Msg("End of play session")

	if ignored, err := m.ShouldIgnoreShow(ctx, item.ShowKey); err != nil {
		return err
	} else if ignored {
		log.Debug().Str("episode", item.FullName()).Msg("Ignoring episode due to show labels")
		return nil
	}

	pair := selectionPair(item)
	if previous, seen := m.cache.DefaultStreams(item.Key, pair); seen && previous == pair {
		return nil
	}

	_, err = m.ChangeDefaultTracksIfNeeded(ctx, user.Name, item, media, nil, true, EventPlayOrActivity)
	return err
}

// selectionPair captures the currently selected (audio, subtitle) stream ids
// of an episode's first part with a selection.
func selectionPair(episode *Episode) StreamPair {
	var pair StreamPair
	for i := range episode.Parts {
		part := &episode.Parts[i]
		if pair.AudioID == 0 {
			if audio := SelectedAudioStream(part); audio != nil {
				pair.AudioID = audio.ID
			}
		}
		if pair.SubtitleID == 0 {
			if subtitle := SelectedSubtitleStream(part); subtitle != nil {
				pair.SubtitleID = subtitle.ID
			}
		}
	}
	return pair
}
