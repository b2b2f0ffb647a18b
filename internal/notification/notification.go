// Package notification fans change summaries out to configured
// providers, with per-event and per-user routing.
package notification

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/RemiRigal/Plex-Auto-Languages/internal/autolang"
)

// Event is one notification to deliver.
type Event struct {
	Title     string
	Message   string
	Username  string // empty for global notifications
	Trigger   autolang.EventType
	Timestamp time.Time
}

// Provider delivers events to one destination.
type Provider interface {
	Name() string
	Send(ctx context.Context, event Event) error
}

// Route pairs a provider with its event and user filters. Empty
// filters match everything.
type Route struct {
	Provider Provider
	Events   []string // event type names, e.g. "play_or_activity"
	Users    []string // usernames; a route with users never receives global events
}

func (r Route) matches(event Event) bool {
	if len(r.Users) > 0 {
		if event.Username == "" {
			return false
		}
		found := false
		for _, user := range r.Users {
			if strings.EqualFold(user, event.Username) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if len(r.Events) == 0 {
		return true
	}
	name := event.Trigger.String()
	for _, ev := range r.Events {
		if strings.EqualFold(ev, name) {
			return true
		}
	}
	return false
}

// Notifier routes events to every matching provider. Delivery is
// best-effort; failures are logged and never block track updates.
type Notifier struct {
	routes []Route
}

// NewNotifier creates a notifier over the given routes.
func NewNotifier(routes []Route) *Notifier {
	return &Notifier{routes: routes}
}

// Notify delivers a global notification.
func (n *Notifier) Notify(ctx context.Context, title, body string, event autolang.EventType) {
	n.send(ctx, Event{Title: title, Message: body, Trigger: event, Timestamp: time.Now()})
}

// NotifyUser delivers a notification about one user's library.
func (n *Notifier) NotifyUser(ctx context.Context, title, body, username string, event autolang.EventType) {
	n.send(ctx, Event{Title: title, Message: body, Username: username, Trigger: event, Timestamp: time.Now()})
}

func (n *Notifier) send(ctx context.Context, event Event) {
	for _, route := range n.routes {
		if !route.matches(event) {
			continue
		}
		if err := route.Provider.Send(ctx, event); err != nil {
			log.Warn().
				Err(err).
				Str("provider", route.Provider.Name()).
				Msg("Failed to send notification")
		}
	}
}
