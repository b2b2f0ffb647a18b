package notification

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"text/template"
	"time"
)

// WebhookConfig holds generic webhook configuration.
type WebhookConfig struct {
	URL         string
	Method      string            // HTTP method, defaults to POST
	Body        string            // template for the request body
	Headers     map[string]string // custom headers
	ContentType string            // defaults to application/json
}

// WebhookProvider sends notifications via generic HTTP webhooks.
type WebhookProvider struct {
	config WebhookConfig
	client *http.Client
}

// NewWebhookProvider creates a new generic webhook notification provider.
func NewWebhookProvider(config WebhookConfig) *WebhookProvider {
	if config.Method == "" {
		config.Method = http.MethodPost
	}
	if config.ContentType == "" {
		config.ContentType = "application/json"
	}
	return &WebhookProvider{
		config: config,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name returns the provider name.
func (w *WebhookProvider) Name() string {
	return "webhook"
}

// webhookTemplateData holds the data available for template rendering.
type webhookTemplateData struct {
	Trigger   string
	Title     string
	Message   string
	Username  string
	Timestamp string
}

// DefaultWebhookBody is the body template used when none is configured.
const DefaultWebhookBody = `{
  "trigger": {{printf "%q" .Trigger}},
  "title": {{printf "%q" .Title}},
  "message": {{printf "%q" .Message}},
  "username": {{printf "%q" .Username}},
  "timestamp": {{printf "%q" .Timestamp}}
}`

// Send sends a notification via the webhook.
func (w *WebhookProvider) Send(ctx context.Context, event Event) error {
	body, err := w.renderBody(event)
	if err != nil {
		return fmt.Errorf("failed to render body template: %w", err)
	}
	return w.sendRequest(ctx, body)
}

func (w *WebhookProvider) renderBody(event Event) (string, error) {
	bodyTemplate := w.config.Body
	if bodyTemplate == "" {
		bodyTemplate = DefaultWebhookBody
	}

	data := webhookTemplateData{
		Trigger:   event.Trigger.String(),
		Title:     event.Title,
		Message:   event.Message,
		Username:  event.Username,
		Timestamp: event.Timestamp.Format(time.RFC3339),
	}

	tmpl, err := template.New("webhook").Parse(bodyTemplate)
	if err != nil {
		return "", fmt.Errorf("invalid body template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}
	return buf.String(), nil
}

func (w *WebhookProvider) sendRequest(ctx context.Context, body string) error {
	req, err := http.NewRequestWithContext(ctx, w.config.Method, w.config.URL, bytes.NewReader([]byte(body)))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", w.config.ContentType)
	for name, value := range w.config.Headers {
		req.Header.Set(name, value)
	}

	return doRequest(w.client, req)
}
