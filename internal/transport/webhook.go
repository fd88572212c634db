package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"skyalert/internal/model"
)

// WebhookTransport posts JSON to webhook-style endpoints. The body shape
// follows the destination service: Discord and Slack have fixed envelope
// formats, Teams takes a MessageCard, everything else gets a generic
// document.
type WebhookTransport struct {
	client *http.Client
}

func NewWebhookTransport(timeout time.Duration) *WebhookTransport {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &WebhookTransport{client: &http.Client{Timeout: timeout}}
}

func (t *WebhookTransport) Send(ctx context.Context, p model.NotificationPayload) error {
	var body map[string]any
	switch p.ChannelType {
	case model.ChannelDiscord:
		body = map[string]any{"content": "**" + p.Title + "**\n" + p.Body}
		if p.Rich != nil {
			body["embeds"] = []any{p.Rich}
			body["content"] = ""
		}
	case model.ChannelSlack:
		body = map[string]any{"text": "*" + p.Title + "*\n" + p.Body}
		if blocks, ok := p.Rich["blocks"]; ok {
			body["blocks"] = blocks
		}
	case model.ChannelTeams:
		body = map[string]any{
			"@type":      "MessageCard",
			"@context":   "http://schema.org/extensions",
			"themeColor": priorityColor(p.Priority),
			"summary":    p.Title,
			"title":      p.Title,
			"text":       p.Body,
		}
	default:
		body = map[string]any{
			"title":      p.Title,
			"body":       p.Body,
			"priority":   string(p.Priority),
			"event_type": p.EventType,
			"trigger_id": p.TriggerID,
			"rule_id":    p.RuleID,
		}
		if p.Rich != nil {
			body["rich"] = p.Rich
		}
	}
	return t.post(ctx, p.Endpoint, body)
}

func (t *WebhookTransport) post(ctx context.Context, url string, body map[string]any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func priorityColor(p model.Priority) string {
	switch p {
	case model.PriorityCritical:
		return "FF4F6A"
	case model.PriorityWarning:
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
