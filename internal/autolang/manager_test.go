package autolang

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestChangeDefaultTracksIfNeeded_NotifiesOnChange(t *testing.T) {
	srv := seededShow(t)
	notifier := &recordingNotifier{}
	manager := NewManager(srv, NewServerCache(nil), notifier, Options{})

	reference, _ := srv.FetchEpisode(context.Background(), "ep1")
	changed, err := manager.ChangeDefaultTracksIfNeeded(
		context.Background(), "alice", reference, srv, nil, true, EventPlayOrActivity)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if !changed {
		t.Fatal("expected changes to be applied")
	}
	if len(notifier.titles) != 1 {
		t.Fatalf("expected one notification, got %d", len(notifier.titles))
	}
	if want := "PlexAutoLanguages - 'Some Show' (S01E01)"; notifier.titles[0] != want {
		t.Fatalf("unexpected title %q, want %q", notifier.titles[0], want)
	}
	if notifier.usernames[0] != "alice" {
		t.Fatalf("expected the notification routed to alice, got %q", notifier.usernames[0])
	}
}

func TestChangeDefaultTracksIfNeeded_SilentWhenNothingChanges(t *testing.T) {
	srv := newFakeServer()
	srv.addEpisode(episodeWithTracks(1, 1, 1, true))
	srv.addEpisode(episodeWithTracks(2, 1, 2, true))
	notifier := &recordingNotifier{}
	manager := NewManager(srv, NewServerCache(nil), notifier, Options{})

	reference, _ := srv.FetchEpisode(context.Background(), "ep1")
	changed, err := manager.ChangeDefaultTracksIfNeeded(
		context.Background(), "alice", reference, srv, nil, true, EventPlayOrActivity)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if changed {
		t.Fatal("expected no changes for an aligned show")
	}
	if len(notifier.titles) != 0 {
		t.Fatalf("no notification expected, got %v", notifier.titles)
	}
}

func TestProcessNewOrUpdatedEpisode_AppliesEachUsersOwnPreference(t *testing.T) {
	srv := newFakeServer()
	srv.users = []User{{ID: "1", Name: "alice"}, {ID: "2", Name: "bob"}}

	watched := episodeWithTracks(1, 1, 1, true)
	watched.Watched = true
	srv.addEpisode(watched)
	srv.addEpisode(episodeWithTracks(2, 1, 2, false))

	notifier := &recordingNotifier{}
	manager := NewManager(srv, NewServerCache(nil), notifier, Options{})

	fresh, _ := srv.FetchEpisode(context.Background(), "ep2")
	if err := manager.ProcessNewOrUpdatedEpisode(context.Background(), fresh, EventNewEpisode); err != nil {
		t.Fatalf("process failed: %v", err)
	}

	// Both users share the same fake view here, so the first pass
	// aligns the episode and the second finds nothing to do.
	if len(srv.audioSets) == 0 {
		t.Fatal("expected the new episode to adopt the watched selection")
	}
	if len(notifier.titles) != 1 {
		t.Fatalf("expected one aggregate notification, got %d", len(notifier.titles))
	}
	if !strings.Contains(notifier.titles[0], "New episode") {
		t.Fatalf("unexpected aggregate title %q", notifier.titles[0])
	}
}

func TestProcessNewOrUpdatedEpisode_NoUsersChangedMeansNoNotification(t *testing.T) {
	srv := newFakeServer()
	srv.users = []User{{ID: "1", Name: "alice"}}
	srv.addEpisode(episodeWithTracks(1, 1, 1, true))
	aligned := episodeWithTracks(2, 1, 2, true)
	srv.addEpisode(aligned)

	notifier := &recordingNotifier{}
	manager := NewManager(srv, NewServerCache(nil), notifier, Options{})

	fresh, _ := srv.FetchEpisode(context.Background(), "ep2")
	if err := manager.ProcessNewOrUpdatedEpisode(context.Background(), fresh, EventNewEpisode); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if len(notifier.titles) != 0 {
		t.Fatalf("no notification expected for an aligned episode, got %v", notifier.titles)
	}
}

func TestShouldIgnoreShow_CaseInsensitiveLabelMatch(t *testing.T) {
	srv := newFakeServer()
	srv.labels["/library/metadata/show1"] = []string{"Kids", "PAL_ignore"}
	manager := NewManager(srv, NewServerCache(nil), nil, Options{IgnoreLabels: []string{"pal_IGNORE"}})

	ignored, err := manager.ShouldIgnoreShow(context.Background(), "/library/metadata/show1")
	if err != nil {
		t.Fatalf("label check failed: %v", err)
	}
	if !ignored {
		t.Fatal("expected the labeled show to be ignored")
	}

	other, err := manager.ShouldIgnoreShow(context.Background(), "/library/metadata/show2")
	if err != nil {
		t.Fatalf("label check failed: %v", err)
	}
	if other {
		t.Fatal("expected an unlabeled show to pass")
	}
}

func TestRunScheduledSync_ReplaysHistoryAndDiffsLibrary(t *testing.T) {
	srv := newFakeServer()
	srv.users = []User{{ID: "1", Name: "alice"}}

	watched := episodeWithTracks(1, 1, 1, true)
	watched.Watched = true
	srv.addEpisode(watched)
	srv.addEpisode(episodeWithTracks(2, 1, 2, false))
	srv.history = []HistoryEntry{{RatingKey: "ep1", AccountID: "1", ViewedAt: time.Now()}}

	cache := NewServerCache(nil)
	// Seed the snapshot so the diff pass sees no false "added" items.
	if _, _, err := cache.Refresh(context.Background(), srv); err != nil {
		t.Fatalf("seed refresh failed: %v", err)
	}

	manager := NewManager(srv, cache, nil, Options{})
	manager.RunScheduledSync(context.Background())

	if len(srv.audioSets) == 0 {
		t.Fatal("expected the history replay to re-align the show")
	}
}

func TestRunScheduledSync_HistoryForUnknownUserIsSkipped(t *testing.T) {
	srv := newFakeServer()
	srv.users = []User{{ID: "1", Name: "alice"}}
	srv.addEpisode(episodeWithTracks(1, 1, 1, true))
	srv.history = []HistoryEntry{{RatingKey: "ep1", AccountID: "99", ViewedAt: time.Now()}}

	manager := NewManager(srv, NewServerCache(nil), nil, Options{})
	manager.RunScheduledSync(context.Background())

	if len(srv.audioSets) != 0 {
		t.Fatal("history of a departed user must be skipped")
	}
}
