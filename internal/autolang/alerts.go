package autolang

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Alert is one decoded inner notification entry. Process applies the
// variant's policy chain; unmet conditions abandon the entry silently.
type Alert interface {
	Kind() string
	Process(ctx context.Context, m *Manager) error
}

// envelope is the outer shape of every WebSocket notification message. The
// type discriminator selects which inner array carries the entries.
type envelope struct {
	NotificationContainer struct {
		Type                         string            `json:"type"`
		PlaySessionStateNotification []json.RawMessage `json:"PlaySessionStateNotification"`
		ActivityNotification         []json.RawMessage `json:"ActivityNotification"`
		TimelineEntry                []json.RawMessage `json:"TimelineEntry"`
		StatusNotification           []json.RawMessage `json:"StatusNotification"`
	} `json:"NotificationContainer"`
}

// decodeAlerts turns a raw feed message into zero or more alerts. A malformed
// inner entry yields an error for that entry only; the rest still decode.
func decodeAlerts(raw []byte) ([]Alert, []error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, []error{fmt.Errorf("failed to decode notification envelope: %w", err)}
	}

	container := env.NotificationContainer
	var entries []json.RawMessage
	var build func() Alert
	switch container.Type {
	case "playing":
		entries, build = container.PlaySessionStateNotification, func() Alert { return &PlayingAlert{} }
	case "activity":
		entries, build = container.ActivityNotification, func() Alert { return &ActivityAlert{} }
	case "timeline":
		entries, build = container.TimelineEntry, func() Alert { return &TimelineAlert{} }
	case "status":
		entries, build = container.StatusNotification, func() Alert { return &StatusAlert{} }
	default:
		return nil, nil
	}

	var alerts []Alert
	var errs []error
	for _, entry := range entries {
		alert := build()
		if err := json.Unmarshal(entry, alert); err != nil {
			errs = append(errs, fmt.Errorf("failed to decode %s entry: %w", container.Type, err))
			continue
		}
		if v, ok := alert.(interface{ validate() error }); ok {
			if err := v.validate(); err != nil {
				errs = append(errs, fmt.Errorf("invalid %s entry: %w", container.Type, err))
				continue
			}
		}
		alerts = append(alerts, alert)
	}
	return alerts, errs
}

// extractRatingKey pulls the numeric item id out of a metadata key path such
// as /library/metadata/12345.
func extractRatingKey(key string) string {
	parts := strings.Split(key, "/")
	if len(parts) >= 4 && parts[1] == "library" && parts[2] == "metadata" {
		return parts[3]
	}
	return ""
}
