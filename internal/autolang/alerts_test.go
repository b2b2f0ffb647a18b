package autolang

import (
	"context"
	"testing"
	"time"
)

func TestDecodeAlerts_PlayingEnvelope(t *testing.T) {
	raw := []byte(`{"NotificationContainer":{"type":"playing","PlaySessionStateNotification":[
		{"sessionKey":"7","clientIdentifier":"c1","ratingKey":"100","state":"paused","viewOffset":1234}]}}`)

	alerts, errs := decodeAlerts(raw)
	if len(errs) != 0 {
		t.Fatalf("unexpected decode errors: %v", errs)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(alerts))
	}
	playing, ok := alerts[0].(*PlayingAlert)
	if !ok {
		t.Fatalf("expected a PlayingAlert, got %T", alerts[0])
	}
	if playing.SessionKey != "7" || playing.State != "paused" || playing.RatingKey != "100" {
		t.Fatalf("unexpected alert fields: %+v", playing)
	}
}

func TestDecodeAlerts_UnknownTypeIsIgnored(t *testing.T) {
	raw := []byte(`{"NotificationContainer":{"type":"progress"}}`)

	alerts, errs := decodeAlerts(raw)
	if len(alerts) != 0 || len(errs) != 0 {
		t.Fatalf("expected unknown type to be ignored, got alerts=%d errs=%d", len(alerts), len(errs))
	}
}

func TestDecodeAlerts_InvalidEntryDoesNotPoisonTheRest(t *testing.T) {
	raw := []byte(`{"NotificationContainer":{"type":"playing","PlaySessionStateNotification":[
		{"clientIdentifier":"c1","state":"playing"},
		{"sessionKey":"7","clientIdentifier":"c1","ratingKey":"100","state":"playing"}]}}`)

	alerts, errs := decodeAlerts(raw)
	if len(errs) != 1 {
		t.Fatalf("expected 1 validation error, got %v", errs)
	}
	if len(alerts) != 1 {
		t.Fatalf("expected the valid entry to survive, got %d alerts", len(alerts))
	}
}

func TestDecodeAlerts_MalformedEnvelope(t *testing.T) {
	alerts, errs := decodeAlerts([]byte(`{not json`))
	if len(alerts) != 0 || len(errs) != 1 {
		t.Fatalf("expected a single envelope error, got alerts=%d errs=%v", len(alerts), errs)
	}
}

func TestExtractRatingKey(t *testing.T) {
	if got := extractRatingKey("/library/metadata/12345"); got != "12345" {
		t.Fatalf("expected 12345, got %q", got)
	}
	if got := extractRatingKey("/playQueues/1"); got != "" {
		t.Fatalf("expected empty key for foreign paths, got %q", got)
	}
}

// recordingNotifier captures notifications for assertions.
type recordingNotifier struct {
	titles    []string
	usernames []string
}

func (n *recordingNotifier) Notify(_ context.Context, title, _ string, _ EventType) {
	n.titles = append(n.titles, title)
	n.usernames = append(n.usernames, "")
}

func (n *recordingNotifier) NotifyUser(_ context.Context, title, _, username string, _ EventType) {
	n.titles = append(n.titles, title)
	n.usernames = append(n.usernames, username)
}

func playingFixture(t *testing.T) (*fakeServer, *Manager) {
	t.Helper()
	srv := seededShow(t)
	srv.users = []User{{ID: "1", Name: "alice"}}
	srv.clients["c1"] = User{ID: "1", Name: "alice"}
	manager := NewManager(srv, NewServerCache(nil), nil, Options{TriggerOnPlay: true})
	return srv, manager
}

func TestPlayingAlert_OnlyStoppedTriggersUpdate(t *testing.T) {
	srv, manager := playingFixture(t)

	alert := &PlayingAlert{SessionKey: "s1", ClientIdentifier: "c1", RatingKey: "ep1", State: "playing"}
	if err := alert.Process(context.Background(), manager); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if len(srv.audioSets) != 0 {
		t.Fatalf("a playing state must not mutate streams, got %d calls", len(srv.audioSets))
	}

	stopped := &PlayingAlert{SessionKey: "s1", ClientIdentifier: "c1", RatingKey: "ep1", State: "stopped"}
	if err := stopped.Process(context.Background(), manager); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if len(srv.audioSets) == 0 {
		t.Fatal("expected the stop transition to propagate the selection")
	}
}

func TestPlayingAlert_RepeatedStateIsIgnored(t *testing.T) {
	srv, manager := playingFixture(t)

	alert := &PlayingAlert{SessionKey: "s1", ClientIdentifier: "c1", RatingKey: "ep1", State: "playing"}
	if err := alert.Process(context.Background(), manager); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	// The same state again must return before touching the cache's
	// session bookkeeping a second time.
	if err := alert.Process(context.Background(), manager); err != nil {
		t.Fatalf("repeat process failed: %v", err)
	}
	if len(srv.audioSets) != 0 {
		t.Fatalf("unexpected stream mutations: %d", len(srv.audioSets))
	}
}

func TestPlayingAlert_UnknownClientIsSilent(t *testing.T) {
	srv, manager := playingFixture(t)

	alert := &PlayingAlert{SessionKey: "s1", ClientIdentifier: "ghost", RatingKey: "ep1", State: "stopped"}
	if err := alert.Process(context.Background(), manager); err != nil {
		t.Fatalf("expected silence for unknown clients, got %v", err)
	}
	if len(srv.audioSets) != 0 {
		t.Fatal("unknown client must not trigger changes")
	}
}

func TestPlayingAlert_NonEpisodeItemIsSilent(t *testing.T) {
	srv, manager := playingFixture(t)

	alert := &PlayingAlert{SessionKey: "s1", ClientIdentifier: "c1", RatingKey: "missing", State: "stopped"}
	if err := alert.Process(context.Background(), manager); err != nil {
		t.Fatalf("expected silence for non-episode items, got %v", err)
	}
	if len(srv.audioSets) != 0 {
		t.Fatal("non-episode item must not trigger changes")
	}
}

func TestPlayingAlert_UnchangedSelectionSkipsPropagation(t *testing.T) {
	srv, manager := playingFixture(t)

	stopped := &PlayingAlert{SessionKey: "s1", ClientIdentifier: "c1", RatingKey: "ep1", State: "stopped"}
	if err := stopped.Process(context.Background(), manager); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	firstRun := len(srv.audioSets)

	again := &PlayingAlert{SessionKey: "s2", ClientIdentifier: "c1", RatingKey: "ep1", State: "stopped"}
	if err := again.Process(context.Background(), manager); err != nil {
		t.Fatalf("second process failed: %v", err)
	}
	if len(srv.audioSets) != firstRun {
		t.Fatal("an unchanged selection must not recompute the show")
	}
}

func TestPlayingAlert_IgnoredShowLabel(t *testing.T) {
	srv := seededShow(t)
	srv.users = []User{{ID: "1", Name: "alice"}}
	srv.clients["c1"] = User{ID: "1", Name: "alice"}
	srv.labels["/library/metadata/show1"] = []string{"PAL_IGNORE"}
	manager := NewManager(srv, NewServerCache(nil), nil, Options{
		TriggerOnPlay: true,
		IgnoreLabels:  []string{"pal_ignore"},
	})

	alert := &PlayingAlert{SessionKey: "s1", ClientIdentifier: "c1", RatingKey: "ep1", State: "stopped"}
	if err := alert.Process(context.Background(), manager); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if len(srv.audioSets) != 0 {
		t.Fatal("labeled show must be ignored")
	}
}

func TestActivityAlert_EndedRefreshTriggersUpdate(t *testing.T) {
	srv := seededShow(t)
	srv.users = []User{{ID: "1", Name: "alice"}}
	manager := NewManager(srv, NewServerCache(nil), nil, Options{TriggerOnActivity: true})

	alert := &ActivityAlert{Event: "ended"}
	alert.Activity.Type = activityTypeRefreshItems
	alert.Activity.UserID = 1
	alert.Activity.Context.Key = "/library/metadata/ep1"

	if err := alert.Process(context.Background(), manager); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if len(srv.audioSets) == 0 {
		t.Fatal("expected the refresh activity to propagate the selection")
	}

	// A duplicate within the suppression window must not recompute.
	before := len(srv.audioSets)
	if err := alert.Process(context.Background(), manager); err != nil {
		t.Fatalf("duplicate process failed: %v", err)
	}
	if len(srv.audioSets) != before {
		t.Fatal("duplicate activity within the window must be suppressed")
	}
}

func TestActivityAlert_OtherEventsAreIgnored(t *testing.T) {
	srv := seededShow(t)
	srv.users = []User{{ID: "1", Name: "alice"}}
	manager := NewManager(srv, NewServerCache(nil), nil, Options{TriggerOnActivity: true})

	alert := &ActivityAlert{Event: "started"}
	alert.Activity.Type = activityTypeRefreshItems
	alert.Activity.UserID = 1
	alert.Activity.Context.Key = "/library/metadata/ep1"

	if err := alert.Process(context.Background(), manager); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if len(srv.audioSets) != 0 {
		t.Fatal("non-ended activity must be ignored")
	}
}

func timelineFixture(t *testing.T, addedAt time.Time) (*fakeServer, *Manager) {
	t.Helper()
	srv := newFakeServer()
	srv.users = []User{{ID: "1", Name: "alice"}}

	watched := episodeWithTracks(1, 1, 1, true)
	watched.Watched = true
	srv.addEpisode(watched)

	fresh := episodeWithTracks(2, 1, 2, false)
	fresh.RatingKey = "42"
	fresh.Key = "/library/metadata/42"
	fresh.AddedAt = addedAt.Unix()
	srv.addEpisode(fresh)

	manager := NewManager(srv, NewServerCache(nil), nil, Options{TriggerOnScan: true})
	return srv, manager
}

func TestTimelineAlert_RecentEpisodeIsProcessedForAllUsers(t *testing.T) {
	now := time.Unix(100000, 0)
	srv, manager := timelineFixture(t, now.Add(-time.Minute))
	manager.now = func() time.Time { return now }

	alert := &TimelineAlert{
		ItemID:     42,
		Identifier: timelineIdentifierLibrary,
		State:      timelineStateCompleted,
		Type:       4,
	}
	if err := alert.Process(context.Background(), manager); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if len(srv.audioSets) == 0 {
		t.Fatal("expected the new episode to adopt the user's selection")
	}

	// The same added marker must process only once.
	before := len(srv.audioSets)
	if err := alert.Process(context.Background(), manager); err != nil {
		t.Fatalf("repeat process failed: %v", err)
	}
	if len(srv.audioSets) != before {
		t.Fatal("repeated timeline entry for the same marker must be skipped")
	}
}

func TestTimelineAlert_OldEpisodeIsIgnored(t *testing.T) {
	now := time.Unix(100000, 0)
	srv, manager := timelineFixture(t, now.Add(-time.Hour))
	manager.now = func() time.Time { return now }

	alert := &TimelineAlert{
		ItemID:     42,
		Identifier: timelineIdentifierLibrary,
		State:      timelineStateCompleted,
		Type:       4,
	}
	if err := alert.Process(context.Background(), manager); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if len(srv.audioSets) != 0 {
		t.Fatal("an episode older than the window must be ignored")
	}
}

func TestTimelineAlert_IntermediateStatesAreIgnored(t *testing.T) {
	now := time.Unix(100000, 0)
	srv, manager := timelineFixture(t, now.Add(-time.Minute))
	manager.now = func() time.Time { return now }

	metadataState := "queued"
	alert := &TimelineAlert{
		ItemID:        42,
		Identifier:    timelineIdentifierLibrary,
		State:         timelineStateCompleted,
		Type:          4,
		MetadataState: &metadataState,
	}
	if err := alert.Process(context.Background(), manager); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if len(srv.audioSets) != 0 {
		t.Fatal("entries with pending sub-states must be ignored")
	}
}

func TestStatusAlert_ScanCompleteProcessesRecentlyAdded(t *testing.T) {
	srv := newFakeServer()
	srv.users = []User{{ID: "1", Name: "alice"}}

	watched := episodeWithTracks(1, 1, 1, true)
	watched.Watched = true
	srv.addEpisode(watched)

	fresh := episodeWithTracks(2, 1, 2, false)
	fresh.AddedAt = time.Now().Unix()
	srv.addEpisode(fresh)
	srv.recent = []Episode{fresh}

	manager := NewManager(srv, NewServerCache(nil), nil, Options{TriggerOnScan: true})

	alert := &StatusAlert{Title: statusScanComplete}
	if err := alert.Process(context.Background(), manager); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if len(srv.audioSets) == 0 {
		t.Fatal("expected recently added episode to be processed")
	}

	before := len(srv.audioSets)
	if err := alert.Process(context.Background(), manager); err != nil {
		t.Fatalf("repeat process failed: %v", err)
	}
	if len(srv.audioSets) != before {
		t.Fatal("the same added marker must not be processed twice")
	}
}

func TestStatusAlert_OtherTitlesAreIgnored(t *testing.T) {
	srv := newFakeServer()
	manager := NewManager(srv, NewServerCache(nil), nil, Options{TriggerOnScan: true})

	alert := &StatusAlert{Title: "Scanning the Shows section"}
	if err := alert.Process(context.Background(), manager); err != nil {
		t.Fatalf("process failed: %v", err)
	}
}
