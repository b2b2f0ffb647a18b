package autolang

import (
	"context"
	"strings"
	"testing"
)

func seededShow(t *testing.T) *fakeServer {
	t.Helper()
	srv := newFakeServer()
	// S01E01 carries the reference selection: French audio, subtitles off.
	srv.addEpisode(episodeWithTracks(1, 1, 1, true))
	srv.addEpisode(episodeWithTracks(2, 1, 2, false))
	srv.addEpisode(episodeWithTracks(3, 1, 3, false))
	srv.addEpisode(episodeWithTracks(4, 2, 1, false))
	return srv
}

func TestTrackChanges_PropagatesAudioAndResetsSubtitles(t *testing.T) {
	srv := seededShow(t)
	reference, err := srv.FetchEpisode(context.Background(), "ep1")
	if err != nil {
		t.Fatalf("failed to fetch reference: %v", err)
	}

	tc := NewTrackChanges("alice", reference)
	targets, err := tc.EpisodesToUpdate(context.Background(), srv, UpdateLevelShow, UpdateStrategyAll)
	if err != nil {
		t.Fatalf("failed to resolve targets: %v", err)
	}
	if len(targets) != 4 {
		t.Fatalf("expected 4 target episodes, got %d", len(targets))
	}

	if err := tc.Compute(context.Background(), srv, targets); err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	// Three episodes need an audio switch and a subtitle reset each.
	if tc.ChangeCount() != 6 {
		t.Fatalf("expected 6 change records, got %d", tc.ChangeCount())
	}
	if tc.EpisodeCount() != 3 {
		t.Fatalf("expected 3 episodes to change, got %d", tc.EpisodeCount())
	}

	if err := tc.Apply(context.Background(), srv); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if len(srv.audioSets) != 3 {
		t.Fatalf("expected 3 audio mutations, got %d", len(srv.audioSets))
	}
	if len(srv.subtitleResets) != 3 {
		t.Fatalf("expected 3 subtitle resets, got %d", len(srv.subtitleResets))
	}
	for _, call := range srv.audioSets {
		if call.StreamID%100 != 2 {
			t.Fatalf("expected the French audio stream to be selected, got stream %d", call.StreamID)
		}
	}
}

func TestTrackChanges_SecondComputeIsEmpty(t *testing.T) {
	srv := seededShow(t)
	reference, _ := srv.FetchEpisode(context.Background(), "ep1")

	tc := NewTrackChanges("alice", reference)
	targets, err := tc.EpisodesToUpdate(context.Background(), srv, UpdateLevelShow, UpdateStrategyAll)
	if err != nil {
		t.Fatalf("failed to resolve targets: %v", err)
	}
	if err := tc.Compute(context.Background(), srv, targets); err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	if err := tc.Apply(context.Background(), srv); err != nil {
		t.Fatalf("apply failed: %v", err)
	}

	again := NewTrackChanges("alice", reference)
	if err := again.Compute(context.Background(), srv, targets); err != nil {
		t.Fatalf("second compute failed: %v", err)
	}
	if again.HasChanges() {
		t.Fatalf("expected no changes on recompute, got %d", again.ChangeCount())
	}
}

func TestEpisodesToUpdate_SeasonNextKeepsOnlyLaterEpisodes(t *testing.T) {
	srv := newFakeServer()
	srv.addEpisode(episodeWithTracks(1, 1, 1, false))
	srv.addEpisode(episodeWithTracks(2, 1, 2, false))
	srv.addEpisode(episodeWithTracks(3, 1, 3, true)) // reference
	srv.addEpisode(episodeWithTracks(4, 1, 4, false))
	srv.addEpisode(episodeWithTracks(5, 1, 5, false))
	srv.addEpisode(episodeWithTracks(6, 2, 1, false))

	reference, _ := srv.FetchEpisode(context.Background(), "ep3")
	tc := NewTrackChanges("alice", reference)

	targets, err := tc.EpisodesToUpdate(context.Background(), srv, UpdateLevelSeason, UpdateStrategyNext)
	if err != nil {
		t.Fatalf("failed to resolve targets: %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("expected episodes S01E04 and S01E05 only, got %d targets", len(targets))
	}
	if targets[0].EpisodeNumber != 4 || targets[1].EpisodeNumber != 5 {
		t.Fatalf("expected ordered later episodes, got %+v", targets)
	}
}

func TestEpisodesToUpdate_ShowNextCrossesSeasons(t *testing.T) {
	srv := newFakeServer()
	srv.addEpisode(episodeWithTracks(1, 1, 1, false))
	srv.addEpisode(episodeWithTracks(2, 1, 2, true)) // reference
	srv.addEpisode(episodeWithTracks(3, 2, 1, false))

	reference, _ := srv.FetchEpisode(context.Background(), "ep2")
	tc := NewTrackChanges("alice", reference)

	targets, err := tc.EpisodesToUpdate(context.Background(), srv, UpdateLevelShow, UpdateStrategyNext)
	if err != nil {
		t.Fatalf("failed to resolve targets: %v", err)
	}
	if len(targets) != 1 || targets[0].SeasonNumber != 2 {
		t.Fatalf("expected only S02E01, got %+v", targets)
	}
}

func TestTrackChanges_DescriptionFormat(t *testing.T) {
	srv := seededShow(t)
	reference, _ := srv.FetchEpisode(context.Background(), "ep1")

	tc := NewTrackChanges("alice", reference)
	targets, _ := tc.EpisodesToUpdate(context.Background(), srv, UpdateLevelShow, UpdateStrategyAll)
	if err := tc.Compute(context.Background(), srv, targets); err != nil {
		t.Fatalf("compute failed: %v", err)
	}

	description := tc.Description()
	for _, want := range []string{
		"Show: Some Show",
		"User: alice",
		"Updated episodes: 3/4 (S01E01 - S02E01)",
	} {
		if !strings.Contains(description, want) {
			t.Fatalf("description missing %q:\n%s", want, description)
		}
	}
	if strings.Contains(tc.InlineDescription(), "\n") {
		t.Fatalf("inline description must be a single line: %q", tc.InlineDescription())
	}
}

func TestTrackChanges_MissingAudioInLanguageLeavesEpisodeAlone(t *testing.T) {
	srv := newFakeServer()
	srv.addEpisode(episodeWithTracks(1, 1, 1, true))
	onlyEnglish := episodeWithTracks(2, 1, 2, false)
	onlyEnglish.Parts[0].AudioStreams = onlyEnglish.Parts[0].AudioStreams[:1]
	onlyEnglish.Parts[0].SubtitleStreams = nil
	srv.addEpisode(onlyEnglish)

	reference, _ := srv.FetchEpisode(context.Background(), "ep1")
	tc := NewTrackChanges("alice", reference)
	targets, _ := tc.EpisodesToUpdate(context.Background(), srv, UpdateLevelShow, UpdateStrategyAll)
	if err := tc.Compute(context.Background(), srv, targets); err != nil {
		t.Fatalf("compute failed: %v", err)
	}

	for _, change := range tc.Changes() {
		if change.Episode.RatingKey == "ep2" {
			t.Fatalf("expected no change for the episode without a matching track, got %+v", change)
		}
	}
}
