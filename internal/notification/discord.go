package notification

import (
	"context"
	"net/http"
	"time"

	"github.com/RemiRigal/Plex-Auto-Languages/internal/autolang"
)

// DiscordConfig holds Discord webhook configuration.
type DiscordConfig struct {
	WebhookURL string
	Username   string // bot username shown in the channel (optional)
	AvatarURL  string
}

// DiscordProvider sends notifications via Discord webhooks.
type DiscordProvider struct {
	config DiscordConfig
	client *http.Client
}

// NewDiscordProvider creates a new Discord notification provider.
func NewDiscordProvider(config DiscordConfig) *DiscordProvider {
	if config.Username == "" {
		config.Username = "PlexAutoLanguages"
	}
	return &DiscordProvider{
		config: config,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name returns the provider name.
func (d *DiscordProvider) Name() string {
	return "discord"
}

// Send sends a notification to Discord.
func (d *DiscordProvider) Send(ctx context.Context, event Event) error {
	payload := discordWebhookPayload{
		Username:  d.config.Username,
		AvatarURL: d.config.AvatarURL,
		Embeds:    []discordEmbed{d.buildEmbed(event)},
	}
	return sendJSONRequest(ctx, d.client, http.MethodPost, d.config.WebhookURL, payload)
}

func (d *DiscordProvider) buildEmbed(event Event) discordEmbed {
	embed := discordEmbed{
		Title:       event.Title,
		Description: event.Message,
		Color:       colorForTrigger(event.Trigger),
		Timestamp:   event.Timestamp.Format(time.RFC3339),
		Footer:      &discordEmbedFooter{Text: "PlexAutoLanguages"},
	}
	if event.Username != "" {
		embed.Fields = append(embed.Fields, discordEmbedField{
			Name:   "User",
			Value:  event.Username,
			Inline: true,
		})
	}
	return embed
}

func colorForTrigger(trigger autolang.EventType) int {
	switch trigger {
	case autolang.EventNewEpisode:
		return 0x00FF00 // Green
	case autolang.EventUpdatedEpisode:
		return 0xFFFF00 // Yellow
	case autolang.EventScheduler:
		return 0x0099FF // Blue
	default:
		return 0x808080 // Gray
	}
}

// Discord webhook payload structures
type discordWebhookPayload struct {
	Username  string         `json:"username,omitempty"`
	AvatarURL string         `json:"avatar_url,omitempty"`
	Content   string         `json:"content,omitempty"`
	Embeds    []discordEmbed `json:"embeds,omitempty"`
}

type discordEmbed struct {
	Title       string              `json:"title,omitempty"`
	Description string              `json:"description,omitempty"`
	Color       int                 `json:"color,omitempty"`
	Timestamp   string              `json:"timestamp,omitempty"`
	Footer      *discordEmbedFooter `json:"footer,omitempty"`
	Fields      []discordEmbedField `json:"fields,omitempty"`
}

type discordEmbedFooter struct {
	Text    string `json:"text,omitempty"`
	IconURL string `json:"icon_url,omitempty"`
}

type discordEmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}
