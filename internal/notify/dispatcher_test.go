package notify

import (
	"context"
	"strings"
	"testing"

	"skyalert/internal/eventbus"
	"skyalert/internal/model"
	"skyalert/internal/storage"
	"skyalert/internal/transport"
	"skyalert/pkg/logx"
)

type fakeTemplateRepo struct {
	tmpl *model.MessageTemplate
}

func (f *fakeTemplateRepo) Find(ctx context.Context, eventType string, priority model.Priority) (*model.MessageTemplate, error) {
	if f.tmpl != nil && f.tmpl.EventType == eventType && f.tmpl.Priority == priority {
		return f.tmpl, nil
	}
	return nil, storage.ErrNotFound
}

type captureTransport struct {
	payloads []model.NotificationPayload
}

func (c *captureTransport) Send(ctx context.Context, p model.NotificationPayload) error {
	c.payloads = append(c.payloads, p)
	return nil
}

func newTestDispatcher(channels []model.Channel, tmpl *model.MessageTemplate) (*Dispatcher, *captureTransport, *memDeliveryRepo) {
	repo := newMemDeliveryRepo()
	tr := &captureTransport{}
	mux := transport.NewMux()
	mux.Register(model.ChannelDiscord, tr)
	mux.Register(model.ChannelWebhook, tr)

	bus := eventbus.New()
	worker := NewWorker(logx.Nop(), mux, repo, &fakeChannelRepo{channels: channels}, bus, WorkerConfig{
		Workers: 1, RatePerSec: 1000,
	})
	router := NewRouter(logx.Nop(), &fakeChannelRepo{channels: channels}, &fakePrefRepo{}, "")
	d := NewDispatcher(logx.Nop(), router, &fakeTemplateRepo{tmpl: tmpl}, repo, worker, bus)
	return d, tr, repo
}

func TestDispatchSynchronous(t *testing.T) {
	t.Parallel()

	channels := []model.Channel{{
		ID: "c1", Type: model.ChannelDiscord,
		Endpoint: "https://discord.com/api/webhooks/1/a",
		Global:   true, Enabled: true, RichFormat: true,
	}}
	d, tr, repo := newTestDispatcher(channels, nil)

	ev := testEvent()
	d.Dispatch(context.Background(), ev, true)

	if len(tr.payloads) != 1 {
		t.Fatalf("got %d payloads, want 1", len(tr.payloads))
	}
	p := tr.payloads[0]
	if !strings.Contains(p.Title, "Low altitude") || !strings.Contains(p.Title, "UAL123") {
		t.Fatalf("built-in title = %q", p.Title)
	}
	if p.Rich == nil {
		t.Fatal("rich-capable channel should carry a rich payload")
	}
	if _, ok := p.Rich["fields"]; !ok {
		t.Fatalf("discord embed missing fields: %v", p.Rich)
	}

	e, err := repo.GetDelivery(context.Background(), p.ID)
	if err != nil {
		t.Fatalf("GetDelivery: %v", err)
	}
	if e.Status != model.DeliverySent {
		t.Fatalf("status = %s, want sent", e.Status)
	}
}

func TestDispatchUsesConfiguredTemplate(t *testing.T) {
	t.Parallel()

	channels := []model.Channel{{
		ID: "c1", Type: model.ChannelWebhook,
		Endpoint: "https://example.com/hook",
		Global:   true, Enabled: true,
	}}
	tmpl := &model.MessageTemplate{
		EventType: model.EventRuleMatch,
		Priority:  model.PriorityWarning,
		Title:     "custom {callsign}",
		Body:      "alt {altitude:,}",
	}
	d, tr, _ := newTestDispatcher(channels, tmpl)

	d.Dispatch(context.Background(), testEvent(), true)

	if len(tr.payloads) != 1 {
		t.Fatalf("got %d payloads", len(tr.payloads))
	}
	if tr.payloads[0].Title != "custom UAL123" {
		t.Fatalf("title = %q", tr.payloads[0].Title)
	}
	if tr.payloads[0].Body != "alt 35,000" {
		t.Fatalf("body = %q", tr.payloads[0].Body)
	}
	if tr.payloads[0].Rich != nil {
		t.Fatal("plain webhook channel must not carry a rich payload")
	}
}

func TestDispatchZeroChannels(t *testing.T) {
	t.Parallel()

	d, tr, repo := newTestDispatcher(nil, nil)
	d.Dispatch(context.Background(), testEvent(), true)

	if len(tr.payloads) != 0 {
		t.Fatalf("payloads = %v, want none", tr.payloads)
	}
	if len(repo.entries) != 0 {
		t.Fatal("no delivery rows expected when routing resolves nothing")
	}
}

func TestRichTemplateOverride(t *testing.T) {
	t.Parallel()

	ev := testEvent()
	ctx := BuildContext(ev)
	doc := RichPayload(model.ChannelDiscord, "T", "B", ev,
		`{"title":"{rule_name}","nested":{"alt":"{altitude:,}"}}`, ctx)

	if doc["title"] != "Low altitude" {
		t.Fatalf("title = %v", doc["title"])
	}
	nested, ok := doc["nested"].(map[string]any)
	if !ok || nested["alt"] != "35,000" {
		t.Fatalf("nested = %v", doc["nested"])
	}
}

func TestRichTemplateBadJSONFallsBack(t *testing.T) {
	t.Parallel()

	ev := testEvent()
	doc := RichPayload(model.ChannelDiscord, "T", "B", ev, "{not json", BuildContext(ev))
	if _, ok := doc["description"]; !ok {
		t.Fatalf("expected built-in discord embed, got %v", doc)
	}
}

func TestTelegramHTMLEscapes(t *testing.T) {
	t.Parallel()

	ev := testEvent()
	ev.Aircraft = model.AircraftSnapshot{Hex: "abc"}
	doc := RichPayload(model.ChannelTelegram, "<Alert>", "a & b", ev, "", BuildContext(ev))
	html, _ := doc["html"].(string)
	if !strings.Contains(html, "&lt;Alert&gt;") || !strings.Contains(html, "a &amp; b") {
		t.Fatalf("html = %q", html)
	}
}
