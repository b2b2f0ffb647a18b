package autolang

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// fakeServer implements Server in memory. Stream mutations update the
// stored episodes so a recompute observes them, mirroring the real
// server.
type fakeServer struct {
	episodes map[string]*Episode // by rating key
	labels   map[string][]string // by show key
	users    []User
	clients  map[string]User // by client identifier
	history  []HistoryEntry
	recent   []Episode

	audioSets      []streamCall
	subtitleSets   []streamCall
	subtitleResets []int

	listErr error
}

type streamCall struct {
	PartID   int
	StreamID int
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		episodes: make(map[string]*Episode),
		labels:   make(map[string][]string),
		clients:  make(map[string]User),
	}
}

func (f *fakeServer) addEpisode(ep Episode) {
	f.episodes[ep.RatingKey] = &ep
}

func cloneEpisode(ep *Episode) *Episode {
	clone := *ep
	clone.Parts = make([]MediaPart, len(ep.Parts))
	for i, part := range ep.Parts {
		clone.Parts[i] = part
		clone.Parts[i].AudioStreams = append([]AudioStream(nil), part.AudioStreams...)
		clone.Parts[i].SubtitleStreams = append([]SubtitleStream(nil), part.SubtitleStreams...)
	}
	return &clone
}

func (f *fakeServer) FetchEpisode(_ context.Context, ratingKey string) (*Episode, error) {
	ep, ok := f.episodes[ratingKey]
	if !ok {
		return nil, fmt.Errorf("episode %s: %w", ratingKey, ErrNotFound)
	}
	return cloneEpisode(ep), nil
}

func (f *fakeServer) sortedEpisodes(filter func(*Episode) bool) []Episode {
	var episodes []Episode
	for _, ep := range f.episodes {
		if filter(ep) {
			episodes = append(episodes, *cloneEpisode(ep))
		}
	}
	sort.Slice(episodes, func(i, j int) bool {
		if episodes[i].SeasonNumber != episodes[j].SeasonNumber {
			return episodes[i].SeasonNumber < episodes[j].SeasonNumber
		}
		return episodes[i].EpisodeNumber < episodes[j].EpisodeNumber
	})
	return episodes
}

func (f *fakeServer) ShowEpisodes(_ context.Context, showKey string) ([]Episode, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.sortedEpisodes(func(ep *Episode) bool { return ep.ShowKey == showKey }), nil
}

func (f *fakeServer) SeasonEpisodes(_ context.Context, seasonKey string) ([]Episode, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.sortedEpisodes(func(ep *Episode) bool { return ep.SeasonKey == seasonKey }), nil
}

func (f *fakeServer) LastWatchedOrFirstEpisode(ctx context.Context, showKey string) (*Episode, error) {
	episodes, err := f.ShowEpisodes(ctx, showKey)
	if err != nil {
		return nil, err
	}
	if len(episodes) == 0 {
		return nil, fmt.Errorf("show %s: %w", showKey, ErrNotFound)
	}
	var lastWatched *Episode
	for i := range episodes {
		if episodes[i].Watched {
			lastWatched = &episodes[i]
		}
	}
	if lastWatched != nil {
		return lastWatched, nil
	}
	return &episodes[0], nil
}

func (f *fakeServer) SetDefaultAudioStream(_ context.Context, partID, streamID int) error {
	f.audioSets = append(f.audioSets, streamCall{PartID: partID, StreamID: streamID})
	for _, ep := range f.episodes {
		for i := range ep.Parts {
			if ep.Parts[i].ID != partID {
				continue
			}
			for j := range ep.Parts[i].AudioStreams {
				ep.Parts[i].AudioStreams[j].Selected = ep.Parts[i].AudioStreams[j].ID == streamID
			}
		}
	}
	return nil
}

func (f *fakeServer) SetDefaultSubtitleStream(_ context.Context, partID, streamID int) error {
	f.subtitleSets = append(f.subtitleSets, streamCall{PartID: partID, StreamID: streamID})
	for _, ep := range f.episodes {
		for i := range ep.Parts {
			if ep.Parts[i].ID != partID {
				continue
			}
			for j := range ep.Parts[i].SubtitleStreams {
				ep.Parts[i].SubtitleStreams[j].Selected = ep.Parts[i].SubtitleStreams[j].ID == streamID
			}
		}
	}
	return nil
}

func (f *fakeServer) ResetDefaultSubtitleStream(_ context.Context, partID int) error {
	f.subtitleResets = append(f.subtitleResets, partID)
	for _, ep := range f.episodes {
		for i := range ep.Parts {
			if ep.Parts[i].ID != partID {
				continue
			}
			for j := range ep.Parts[i].SubtitleStreams {
				ep.Parts[i].SubtitleStreams[j].Selected = false
			}
		}
	}
	return nil
}

func (f *fakeServer) MachineIdentifier(context.Context) (string, error) {
	return "fake-machine", nil
}

func (f *fakeServer) InstanceOfUser(_ context.Context, userID string) (UserMedia, error) {
	for _, user := range f.users {
		if user.ID == userID {
			return f, nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", userID, ErrUserNotFound)
}

func (f *fakeServer) UserFromClient(_ context.Context, clientIdentifier string) (*User, error) {
	user, ok := f.clients[clientIdentifier]
	if !ok {
		return nil, fmt.Errorf("client %s: %w", clientIdentifier, ErrUserNotFound)
	}
	return &user, nil
}

func (f *fakeServer) UserByID(_ context.Context, userID string) (*User, error) {
	for i := range f.users {
		if f.users[i].ID == userID {
			return &f.users[i], nil
		}
	}
	return nil, fmt.Errorf("user %s: %w", userID, ErrUserNotFound)
}

func (f *fakeServer) AllUserIDs(context.Context) ([]string, error) {
	ids := make([]string, 0, len(f.users))
	for _, user := range f.users {
		ids = append(ids, user.ID)
	}
	return ids, nil
}

func (f *fakeServer) AllEpisodes(context.Context) ([]Episode, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.sortedEpisodes(func(*Episode) bool { return true }), nil
}

func (f *fakeServer) RecentlyAddedEpisodes(context.Context, time.Duration) ([]Episode, error) {
	return append([]Episode(nil), f.recent...), nil
}

func (f *fakeServer) ShowLabels(_ context.Context, showKey string) ([]string, error) {
	return f.labels[showKey], nil
}

func (f *fakeServer) History(context.Context, time.Time) ([]HistoryEntry, error) {
	return append([]HistoryEntry(nil), f.history...), nil
}

// episodeWithTracks builds one French-selected episode of the standard
// two-language layout used across the engine tests. Part and stream ids
// derive from n so every episode is distinct.
func episodeWithTracks(n, season, episode int, frenchSelected bool) Episode {
	return Episode{
		RatingKey:     fmt.Sprintf("ep%d", n),
		Key:           fmt.Sprintf("/library/metadata/ep%d", n),
		Title:         fmt.Sprintf("Episode %d", episode),
		ShowTitle:     "Some Show",
		ShowKey:       "/library/metadata/show1",
		SeasonKey:     fmt.Sprintf("/library/metadata/show1-s%d", season),
		SeasonNumber:  season,
		EpisodeNumber: episode,
		Parts: []MediaPart{{
			ID:  n*10 + 1,
			Key: fmt.Sprintf("/file/ep%d.mkv", n),
			AudioStreams: []AudioStream{
				{ID: n*100 + 1, LanguageCode: "eng", Codec: "ac3", Selected: !frenchSelected},
				{ID: n*100 + 2, LanguageCode: "fra", Codec: "ac3", Selected: frenchSelected},
			},
			SubtitleStreams: []SubtitleStream{
				{ID: n*100 + 3, LanguageCode: "eng", Selected: !frenchSelected},
				{ID: n*100 + 4, LanguageCode: "fra", Selected: false},
			},
		}},
	}
}
