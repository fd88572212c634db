package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"skyalert/internal/eventbus"
	"skyalert/internal/model"
	"skyalert/internal/storage"
	"skyalert/pkg/logx"
)

// Built-in templates used when no message template is configured for an
// (event type, priority) pair.
var builtinTemplates = map[string]model.MessageTemplate{
	model.EventEmergency: {
		Title: "EMERGENCY {aircraft.squawk|}: {ident}",
		Body:  "{summary}\nPosition: {aircraft.lat|?}, {aircraft.lon|?} at {altitude|unknown:,} ft",
	},
	model.EventRuleMatch: {
		Title: "{rule_name}: {ident}",
		Body:  "{summary}\nAltitude {altitude|unknown:,} ft, speed {speed|unknown:.0f} kt ({timestamp})",
	},
}

// Dispatcher turns a trigger event into per-channel payloads and hands them
// to the delivery pool. It is the rule engine's sink.
type Dispatcher struct {
	log        logx.Logger
	router     *Router
	templates  storage.TemplateRepo
	deliveries storage.DeliveryLogRepo
	worker     *Worker
	bus        eventbus.Bus

	now func() time.Time
}

func NewDispatcher(log logx.Logger, router *Router, templates storage.TemplateRepo, deliveries storage.DeliveryLogRepo, worker *Worker, bus eventbus.Bus) *Dispatcher {
	return &Dispatcher{
		log:        log,
		router:     router,
		templates:  templates,
		deliveries: deliveries,
		worker:     worker,
		bus:        bus,
		now:        time.Now,
	}
}

// HandleTrigger satisfies the engine's sink contract: queued dispatch.
func (d *Dispatcher) HandleTrigger(ctx context.Context, ev model.TriggerEvent) {
	d.Dispatch(ctx, ev, false)
}

// Dispatch routes, renders and delivers one trigger. With sync true every
// payload's first attempt runs inline; otherwise payloads are queued, with
// a synchronous fallback when the queue is saturated.
func (d *Dispatcher) Dispatch(ctx context.Context, ev model.TriggerEvent, sync bool) {
	channels := d.router.Route(ctx, ev)
	if len(channels) == 0 {
		d.log.Warn("trigger routed to zero channels",
			logx.String("trigger_id", ev.ID),
			logx.String("rule_id", ev.RuleID))
		return
	}

	tctx := BuildContext(ev)
	tmpl := d.resolveTemplate(ctx, ev)
	title := Render(tmpl.Title, tctx)
	body := Render(tmpl.Body, tctx)

	for _, ch := range channels {
		p := model.NotificationPayload{
			ID:          uuid.NewString(),
			ChannelID:   ch.ID,
			ChannelType: ch.Type,
			Endpoint:    ch.Endpoint,
			Title:       title,
			Body:        body,
			Priority:    ev.Priority,
			EventType:   ev.EventType,
			TriggerID:   ev.ID,
			RuleID:      ev.RuleID,
		}
		if ch.RichFormat && ch.Type.RichCapable() {
			p.Rich = RichPayload(ch.Type, title, body, ev, tmpl.RichTemplate, tctx)
		}

		entry := &model.DeliveryLogEntry{
			ID:        p.ID,
			TriggerID: ev.ID,
			RuleID:    ev.RuleID,
			ChannelID: ch.ID,
			Status:    model.DeliveryPending,
			CreatedAt: d.now(),
			UpdatedAt: d.now(),
		}
		if err := d.deliveries.Create(ctx, entry); err != nil {
			d.log.Error("delivery log create failed",
				logx.String("delivery_id", p.ID), logx.Err(err))
		}
		d.bus.Publish(eventbus.Event{Type: eventbus.TypeDeliveryQueued, Data: *entry})

		if sync {
			if err := d.worker.SendSync(ctx, p); err != nil {
				d.log.Warn("synchronous send failed",
					logx.String("delivery_id", p.ID), logx.Err(err))
			}
			continue
		}
		if !d.worker.Enqueue(p) {
			d.log.Warn("delivery queue full, sending inline",
				logx.String("delivery_id", p.ID))
			if err := d.worker.SendSync(ctx, p); err != nil {
				d.log.Warn("synchronous send failed",
					logx.String("delivery_id", p.ID), logx.Err(err))
			}
		}
	}
}

func (d *Dispatcher) resolveTemplate(ctx context.Context, ev model.TriggerEvent) model.MessageTemplate {
	if d.templates != nil {
		t, err := d.templates.Find(ctx, ev.EventType, ev.Priority)
		if err == nil && t != nil {
			return *t
		}
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			d.log.Warn("template lookup failed",
				logx.String("event_type", ev.EventType), logx.Err(err))
		}
	}
	if t, ok := builtinTemplates[ev.EventType]; ok {
		return t
	}
	return builtinTemplates[model.EventRuleMatch]
}
