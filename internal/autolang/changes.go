package autolang

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

// StreamKind discriminates the two mutable default-stream slots of a part.
type StreamKind int

const (
	StreamKindAudio StreamKind = iota
	StreamKindSubtitle
)

// ChangeRecord is one pending default-stream mutation. For subtitles a nil
// NewSubtitle means "reset to none".
type ChangeRecord struct {
	Episode     Episode
	Part        MediaPart
	Kind        StreamKind
	NewAudio    *AudioStream
	NewSubtitle *SubtitleStream
}

// TrackChanges computes and applies the change-set that drives a show's
// episodes toward the reference episode's current selection. A computation
// pass emits at most one audio and one subtitle record per part, so running it
// again with no intervening change yields an empty set.
type TrackChanges struct {
	username    string
	reference   *Episode
	refAudio    *AudioStream
	refSubtitle *SubtitleStream
	changes     []ChangeRecord
	description string
	computed    bool
}

// NewTrackChanges captures the reference selection from the triggering
// episode's parts.
func NewTrackChanges(username string, reference *Episode) *TrackChanges {
	tc := &TrackChanges{username: username, reference: reference}
	for i := range reference.Parts {
		part := &reference.Parts[i]
		if tc.refAudio == nil {
			tc.refAudio = SelectedAudioStream(part)
		}
		if tc.refSubtitle == nil {
			tc.refSubtitle = SelectedSubtitleStream(part)
		}
	}
	return tc
}

// Username returns the user whose selection is being propagated.
func (tc *TrackChanges) Username() string { return tc.username }

// ReferenceName formats the triggering episode, e.g. 'Show' (S01E03).
func (tc *TrackChanges) ReferenceName() string { return tc.reference.FullName() }

// HasChanges reports whether the last Compute produced any record.
func (tc *TrackChanges) HasChanges() bool { return len(tc.changes) > 0 }

// ChangeCount returns the number of pending records.
func (tc *TrackChanges) ChangeCount() int { return len(tc.changes) }

// Changes returns the pending change-set.
func (tc *TrackChanges) Changes() []ChangeRecord { return tc.changes }

// EpisodeCount returns the number of distinct episodes with pending changes.
func (tc *TrackChanges) EpisodeCount() int {
	seen := make(map[string]struct{}, len(tc.changes))
	for _, change := range tc.changes {
		seen[change.Episode.Key] = struct{}{}
	}
	return len(seen)
}

// Description returns the human-readable multi-line summary built by Compute.
func (tc *TrackChanges) Description() string { return tc.description }

// InlineDescription returns the summary as a single log-friendly line.
func (tc *TrackChanges) InlineDescription() string {
	return strings.ReplaceAll(tc.description, "\n", " | ")
}

// EpisodesToUpdate resolves the target episode set for the configured scope.
// With UpdateStrategyNext only episodes strictly after the reference, in
// (season, episode) order, are kept.
func (tc *TrackChanges) EpisodesToUpdate(ctx context.Context, media UserMedia, level UpdateLevel, strategy UpdateStrategy) ([]Episode, error) {
	var episodes []Episode
	var err error
	switch level {
	case UpdateLevelSeason:
		if tc.reference.SeasonKey == "" {
			return nil, fmt.Errorf("reference episode %s has no season key", tc.reference.RatingKey)
		}
		episodes, err = media.SeasonEpisodes(ctx, tc.reference.SeasonKey)
	default:
		episodes, err = media.ShowEpisodes(ctx, tc.reference.ShowKey)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list episodes: %w", err)
	}

	sort.SliceStable(episodes, func(i, j int) bool {
		if episodes[i].SeasonNumber != episodes[j].SeasonNumber {
			return episodes[i].SeasonNumber < episodes[j].SeasonNumber
		}
		return episodes[i].EpisodeNumber < episodes[j].EpisodeNumber
	})

	if strategy == UpdateStrategyNext {
		var after []Episode
		for _, ep := range episodes {
			ep := ep
			if tc.reference.IsAfter(&ep) {
				after = append(after, ep)
			}
		}
		episodes = after
	}
	return episodes, nil
}

// Compute reloads each target episode and records the mutations needed to
// match the reference selection. Episodes that already match produce nothing.
func (tc *TrackChanges) Compute(ctx context.Context, media UserMedia, episodes []Episode) error {
	tc.changes = nil
	for i := range episodes {
		episode, err := media.FetchEpisode(ctx, episodes[i].RatingKey)
		if err != nil {
			return fmt.Errorf("failed to reload episode %s: %w", episodes[i].RatingKey, err)
		}
		for j := range episode.Parts {
			part := &episode.Parts[j]
			currentAudio := SelectedAudioStream(part)
			currentSubtitle := SelectedSubtitleStream(part)

			matchedAudio := MatchAudioStream(tc.refAudio, part.AudioStreams)
			if currentAudio != nil && matchedAudio != nil && matchedAudio.ID != currentAudio.ID {
				tc.changes = append(tc.changes, ChangeRecord{
					Episode: *episode, Part: *part, Kind: StreamKindAudio, NewAudio: matchedAudio,
				})
			}

			matchedSubtitle := MatchSubtitleStream(tc.refSubtitle, part.SubtitleStreams)
			if currentSubtitle != nil && matchedSubtitle == nil {
				tc.changes = append(tc.changes, ChangeRecord{
					Episode: *episode, Part: *part, Kind: StreamKindSubtitle,
				})
			}
			if matchedSubtitle != nil && (currentSubtitle == nil || matchedSubtitle.ID != currentSubtitle.ID) {
				tc.changes = append(tc.changes, ChangeRecord{
					Episode: *episode, Part: *part, Kind: StreamKindSubtitle, NewSubtitle: matchedSubtitle,
				})
			}
		}
	}
	tc.updateDescription(episodes)
	tc.computed = true
	return nil
}

// Apply performs the pending mutations through the user's library view.
func (tc *TrackChanges) Apply(ctx context.Context, media UserMedia) error {
	log.Debug().
		Int("changes", len(tc.changes)).
		Str("show", tc.reference.ShowTitle).
		Msg("Performing track changes")
	for _, change := range tc.changes {
		switch {
		case change.Kind == StreamKindAudio:
			if err := media.SetDefaultAudioStream(ctx, change.Part.ID, change.NewAudio.ID); err != nil {
				return fmt.Errorf("failed to set audio stream on part %d: %w", change.Part.ID, err)
			}
		case change.NewSubtitle == nil:
			if err := media.ResetDefaultSubtitleStream(ctx, change.Part.ID); err != nil {
				return fmt.Errorf("failed to reset subtitle stream on part %d: %w", change.Part.ID, err)
			}
		default:
			if err := media.SetDefaultSubtitleStream(ctx, change.Part.ID, change.NewSubtitle.ID); err != nil {
				return fmt.Errorf("failed to set subtitle stream on part %d: %w", change.Part.ID, err)
			}
		}
	}
	return nil
}

// updateDescription builds the summary over the full target set, not just the
// changed episodes, so the SxxEyy range reflects the propagation scope.
func (tc *TrackChanges) updateDescription(episodes []Episode) {
	if len(episodes) == 0 {
		tc.description = ""
		return
	}

	minSeason, maxSeason := episodes[0].SeasonNumber, episodes[0].SeasonNumber
	for _, ep := range episodes {
		if ep.SeasonNumber < minSeason {
			minSeason = ep.SeasonNumber
		}
		if ep.SeasonNumber > maxSeason {
			maxSeason = ep.SeasonNumber
		}
	}
	minEpisode, maxEpisode := -1, -1
	for _, ep := range episodes {
		if ep.SeasonNumber == minSeason && (minEpisode == -1 || ep.EpisodeNumber < minEpisode) {
			minEpisode = ep.EpisodeNumber
		}
		if ep.SeasonNumber == maxSeason && (maxEpisode == -1 || ep.EpisodeNumber > maxEpisode) {
			maxEpisode = ep.EpisodeNumber
		}
	}

	fromStr := fmt.Sprintf("S%02dE%02d", minSeason, minEpisode)
	toStr := fmt.Sprintf("S%02dE%02d", maxSeason, maxEpisode)
	rangeStr := fromStr
	if fromStr != toStr {
		rangeStr = fromStr + " - " + toStr
	}

	audioTitle := "None"
	if tc.refAudio != nil {
		audioTitle = displayTitle(tc.refAudio.DisplayTitle, tc.refAudio.LanguageCode)
	}
	subtitleTitle := "None"
	if tc.refSubtitle != nil {
		subtitleTitle = displayTitle(tc.refSubtitle.DisplayTitle, tc.refSubtitle.LanguageCode)
	}

	tc.description = fmt.Sprintf(
		"Show: %s\nUser: %s\nAudio: %s\nSubtitles: %s\nUpdated episodes: %d/%d (%s)",
		tc.reference.ShowTitle, tc.username, audioTitle, subtitleTitle,
		tc.EpisodeCount(), len(episodes), rangeStr,
	)
}

func displayTitle(title, fallback string) string {
	if title != "" {
		return title
	}
	return fallback
}
