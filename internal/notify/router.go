package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"skyalert/internal/model"
	"skyalert/internal/storage"
	"skyalert/pkg/logx"
)

// Router resolves the ordered, deduplicated channel list for one trigger.
// Precedence, highest first: rule webhook, the owner's channel preferences,
// global channels, then the legacy fallback endpoint list. Endpoint-level
// dedup with first match winning.
type Router struct {
	log      logx.Logger
	channels storage.ChannelRepo
	prefs    storage.PreferenceRepo

	// fallback is the legacy comma-delimited endpoint list, consulted only
	// when everything above resolves nothing.
	fallback string

	now func() time.Time
}

func NewRouter(log logx.Logger, channels storage.ChannelRepo, prefs storage.PreferenceRepo, fallbackEndpoints string) *Router {
	return &Router{
		log:      log,
		channels: channels,
		prefs:    prefs,
		fallback: fallbackEndpoints,
		now:      time.Now,
	}
}

// Route returns the channels a trigger should be delivered to, in
// precedence order. A repo error mid-way degrades that tier rather than
// failing the whole route.
func (r *Router) Route(ctx context.Context, ev model.TriggerEvent) []model.Channel {
	var out []model.Channel
	seen := map[string]bool{}

	add := func(c model.Channel) {
		key := strings.TrimSpace(c.Endpoint)
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, c)
	}

	// 1. Rule-specific webhook.
	if url := strings.TrimSpace(ev.WebhookURL); url != "" {
		add(model.Channel{
			ID:         "rule:" + ev.RuleID,
			Name:       "rule webhook",
			Type:       inferChannelType(url),
			Endpoint:   url,
			RichFormat: inferChannelType(url).RichCapable(),
			Enabled:    true,
		})
	}

	all, err := r.channels.List(ctx)
	if err != nil {
		r.log.Warn("channel list unavailable, routing degraded", logx.Err(err))
	}
	byID := make(map[string]model.Channel, len(all))
	for _, c := range all {
		byID[c.ID] = c
	}

	// 2. Owner preferences.
	if ev.OwnerID != "" {
		prefs, err := r.prefs.ListForUser(ctx, ev.OwnerID)
		if err != nil {
			r.log.Warn("preference list unavailable",
				logx.String("user_id", ev.OwnerID), logx.Err(err))
		}
		for _, p := range prefs {
			c, ok := byID[p.ChannelID]
			if !ok || !c.Enabled || !p.Enabled {
				continue
			}
			if !r.prefAllows(p, ev) {
				continue
			}
			add(c)
		}
	}

	// Rule-pinned channels rank with preferences: explicit selection by the
	// rule author.
	for _, id := range ev.ChannelIDs {
		if c, ok := byID[id]; ok && c.Enabled {
			add(c)
		}
	}

	// 3. Global channels.
	if ev.UseDefaultChannels || len(ev.ChannelIDs) == 0 {
		for _, c := range all {
			if c.Global && c.Enabled {
				add(c)
			}
		}
	}

	// 4. Legacy fallback, only when nothing matched at all.
	if len(out) == 0 {
		for i, ep := range splitEndpoints(r.fallback) {
			t := inferChannelType(ep)
			add(model.Channel{
				ID:         fmt.Sprintf("fallback:%d", i),
				Name:       "legacy fallback",
				Type:       t,
				Endpoint:   ep,
				RichFormat: t.RichCapable(),
				Enabled:    true,
			})
		}
	}
	return out
}

func (r *Router) prefAllows(p model.Preference, ev model.TriggerEvent) bool {
	if p.MinPriority != "" && ev.Priority.Rank() < p.MinPriority.Rank() {
		return false
	}
	if len(p.EventTypes) > 0 {
		allowed := false
		for _, t := range p.EventTypes {
			if t == ev.EventType {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}
	if inQuietHours(p, r.now()) {
		return false
	}
	return true
}

// inQuietHours checks the preference's quiet window against local wall
// clock. The window may wrap past midnight (e.g. 22:00 to 06:00).
func inQuietHours(p model.Preference, now time.Time) bool {
	if p.QuietStart == "" || p.QuietEnd == "" {
		return false
	}
	start, err1 := parseHHMM(p.QuietStart)
	end, err2 := parseHHMM(p.QuietEnd)
	if err1 != nil || err2 != nil {
		return false
	}
	cur := now.Hour()*60 + now.Minute()
	if start <= end {
		return cur >= start && cur < end
	}
	return cur >= start || cur < end
}

func parseHHMM(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}

func splitEndpoints(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// inferChannelType guesses a channel type from characteristic URL
// substrings so rich-formatting capability can still be decided for bare
// endpoints from the legacy fallback list.
func inferChannelType(url string) model.ChannelType {
	u := strings.ToLower(url)
	switch {
	case strings.Contains(u, "discord.com/api/webhooks"),
		strings.Contains(u, "discordapp.com/api/webhooks"):
		return model.ChannelDiscord
	case strings.Contains(u, "hooks.slack.com"):
		return model.ChannelSlack
	case strings.Contains(u, "webhook.office"), strings.Contains(u, "office.com"):
		return model.ChannelTeams
	case strings.Contains(u, "api.telegram.org"):
		return model.ChannelTelegram
	case strings.HasPrefix(u, "mqtt://"):
		return model.ChannelMQTT
	default:
		return model.ChannelWebhook
	}
}
