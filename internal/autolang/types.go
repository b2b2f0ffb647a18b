// Package autolang keeps audio and subtitle track selection consistent across
// every episode of a show, per user, by reacting to Plex server notifications
// and a daily reconciliation sweep.
package autolang

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound indicates the requested item does not exist on the server or is
// not visible to the querying user.
var ErrNotFound = errors.New("item not found")

// ErrUserNotFound indicates no user could be resolved for a client or id.
var ErrUserNotFound = errors.New("user not found")

// EventType categorizes what triggered a track update.
type EventType int

const (
	EventPlayOrActivity EventType = iota
	EventNewEpisode
	EventUpdatedEpisode
	EventScheduler
)

func (e EventType) String() string {
	switch e {
	case EventPlayOrActivity:
		return "play_or_activity"
	case EventNewEpisode:
		return "new_episode"
	case EventUpdatedEpisode:
		return "updated_episode"
	case EventScheduler:
		return "scheduler"
	default:
		return "unknown"
	}
}

// UpdateLevel is the scope of a track propagation: the whole show or only the
// reference episode's season.
type UpdateLevel string

const (
	UpdateLevelShow   UpdateLevel = "show"
	UpdateLevelSeason UpdateLevel = "season"
)

// UpdateStrategy selects which episodes in scope are updated: all of them or
// only those strictly after the reference.
type UpdateStrategy string

const (
	UpdateStrategyAll  UpdateStrategy = "all"
	UpdateStrategyNext UpdateStrategy = "next"
)

// AudioStream is one audio track candidate on a media part.
type AudioStream struct {
	ID                 int    `json:"id"`
	LanguageCode       string `json:"languageCode"`
	Codec              string `json:"codec"`
	Channels           int    `json:"channels"`
	AudioChannelLayout string `json:"audioChannelLayout"`
	Title              string `json:"title"`
	DisplayTitle       string `json:"displayTitle"`
	Selected           bool   `json:"selected"`
}

// SubtitleStream is one subtitle track candidate on a media part.
type SubtitleStream struct {
	ID           int    `json:"id"`
	LanguageCode string `json:"languageCode"`
	Codec        string `json:"codec"`
	Title        string `json:"title"`
	DisplayTitle string `json:"displayTitle"`
	Forced       bool   `json:"forced"`
	Selected     bool   `json:"selected"`
}

// MediaPart is one playable file belonging to an episode, carrying its own
// ordered stream lists.
type MediaPart struct {
	ID              int              `json:"id"`
	Key             string           `json:"key"`
	AudioStreams    []AudioStream    `json:"audioStreams"`
	SubtitleStreams []SubtitleStream `json:"subtitleStreams"`
}

// Episode is a single show installment with its media parts.
type Episode struct {
	RatingKey     string      `json:"ratingKey"`
	Key           string      `json:"key"`
	Title         string      `json:"title"`
	ShowTitle     string      `json:"showTitle"`
	ShowKey       string      `json:"showKey"`
	SeasonKey     string      `json:"seasonKey"`
	SeasonNumber  int         `json:"seasonNumber"`
	EpisodeNumber int         `json:"episodeNumber"`
	AddedAt       int64       `json:"addedAt"`
	UpdatedAt     int64       `json:"updatedAt"`
	Watched       bool        `json:"watched"`
	Parts         []MediaPart `json:"parts"`
}

// ShortName formats the episode as SxxEyy.
func (e *Episode) ShortName() string {
	return fmt.Sprintf("S%02dE%02d", e.SeasonNumber, e.EpisodeNumber)
}

// FullName formats the episode as 'Show' (SxxEyy).
func (e *Episode) FullName() string {
	return fmt.Sprintf("'%s' (%s)", e.ShowTitle, e.ShortName())
}

// IsAfter reports whether other comes strictly after e in (season, episode)
// order.
func (e *Episode) IsAfter(other *Episode) bool {
	return e.SeasonNumber < other.SeasonNumber ||
		(e.SeasonNumber == other.SeasonNumber && e.EpisodeNumber < other.EpisodeNumber)
}

// User is a server account.
type User struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// HistoryEntry is one playback-history record.
type HistoryEntry struct {
	RatingKey string
	AccountID string
	ViewedAt  time.Time
}

// UserMedia is the library as seen through one user's access grant. All stream
// reads and mutations go through it so every user's own selection is honored.
type UserMedia interface {
	// FetchEpisode loads a single episode with its parts and streams.
	// Returns ErrNotFound when the key does not resolve to an episode.
	FetchEpisode(ctx context.Context, ratingKey string) (*Episode, error)
	ShowEpisodes(ctx context.Context, showKey string) ([]Episode, error)
	SeasonEpisodes(ctx context.Context, seasonKey string) ([]Episode, error)
	// LastWatchedOrFirstEpisode returns the user's most recently watched
	// episode of the show, or the first episode when nothing was watched yet.
	LastWatchedOrFirstEpisode(ctx context.Context, showKey string) (*Episode, error)
	SetDefaultAudioStream(ctx context.Context, partID, streamID int) error
	SetDefaultSubtitleStream(ctx context.Context, partID, streamID int) error
	ResetDefaultSubtitleStream(ctx context.Context, partID int) error
}

// Server is the full media-server surface used by the engine. The admin
// connection implements it; per-user views are obtained with InstanceOfUser.
type Server interface {
	UserMedia

	MachineIdentifier(ctx context.Context) (string, error)
	// InstanceOfUser returns the library scoped to the given user.
	// Returns the server itself for the owning user.
	InstanceOfUser(ctx context.Context, userID string) (UserMedia, error)
	// UserFromClient resolves the user currently attached to a player client.
	// Returns ErrUserNotFound when no active session matches.
	UserFromClient(ctx context.Context, clientIdentifier string) (*User, error)
	UserByID(ctx context.Context, userID string) (*User, error)
	AllUserIDs(ctx context.Context) ([]string, error)
	AllEpisodes(ctx context.Context) ([]Episode, error)
	RecentlyAddedEpisodes(ctx context.Context, within time.Duration) ([]Episode, error)
	ShowLabels(ctx context.Context, showKey string) ([]string, error)
	History(ctx context.Context, since time.Time) ([]HistoryEntry, error)
}

// EpisodeLister enumerates the full episode catalog, used by the cache's
// snapshot refresh.
type EpisodeLister interface {
	AllEpisodes(ctx context.Context) ([]Episode, error)
}
