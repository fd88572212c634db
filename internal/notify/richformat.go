package notify

import (
	"encoding/json"
	"fmt"
	"strings"

	"skyalert/internal/model"
)

// RichPayload builds the channel-type-specific structured payload for a
// rendered notification. When the matched template carries a rich template
// of its own, that document overrides the built-in shape; its string values
// are themselves rendered against the trigger context.
func RichPayload(t model.ChannelType, title, body string, ev model.TriggerEvent, richTmpl string, ctx map[string]any) map[string]any {
	if richTmpl != "" {
		if doc := renderRichTemplate(richTmpl, ctx); doc != nil {
			return doc
		}
	}
	switch t {
	case model.ChannelDiscord:
		return discordEmbed(title, body, ev)
	case model.ChannelSlack:
		return slackBlocks(title, body, ev)
	case model.ChannelTelegram:
		return map[string]any{"html": telegramHTML(title, body, ev)}
	default:
		return nil
	}
}

// renderRichTemplate decodes the JSON document and renders every string
// value in place. A document that does not parse is ignored; the built-in
// shape applies instead.
func renderRichTemplate(tmpl string, ctx map[string]any) map[string]any {
	var doc map[string]any
	if err := json.Unmarshal([]byte(tmpl), &doc); err != nil {
		return nil
	}
	rendered, _ := renderValue(doc, ctx).(map[string]any)
	return rendered
}

func renderValue(v any, ctx map[string]any) any {
	switch t := v.(type) {
	case string:
		return Render(t, ctx)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = renderValue(val, ctx)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = renderValue(val, ctx)
		}
		return out
	default:
		return v
	}
}

func discordEmbed(title, body string, ev model.TriggerEvent) map[string]any {
	embed := map[string]any{
		"title":       title,
		"description": body,
		"color":       discordColor(ev.Priority),
		"timestamp":   ev.At.UTC().Format("2006-01-02T15:04:05Z"),
		"fields":      aircraftFields(ev.Aircraft),
		"footer":      map[string]any{"text": ev.RuleName},
	}
	return embed
}

func discordColor(p model.Priority) int {
	switch p {
	case model.PriorityCritical:
		return 0xFF4F6A
	case model.PriorityWarning:
		return 0xFFAB40
	default:
		return 0x00D4FF
	}
}

func aircraftFields(a model.AircraftSnapshot) []map[string]any {
	var fields []map[string]any
	add := func(name, value string) {
		if value == "" {
			return
		}
		fields = append(fields, map[string]any{
			"name": name, "value": value, "inline": true,
		})
	}
	add("Aircraft", a.Ident())
	add("Hex", a.Hex)
	if a.AltitudeFt != nil {
		add("Altitude", fmt.Sprintf("%s ft", thousands(*a.AltitudeFt)))
	}
	if a.GroundSpeed != nil {
		add("Speed", fmt.Sprintf("%.0f kt", *a.GroundSpeed))
	}
	if a.DistanceNM != nil {
		add("Distance", fmt.Sprintf("%.1f nm", *a.DistanceNM))
	}
	add("Squawk", a.Squawk)
	return fields
}

func slackBlocks(title, body string, ev model.TriggerEvent) map[string]any {
	blocks := []any{
		map[string]any{
			"type": "header",
			"text": map[string]any{"type": "plain_text", "text": title},
		},
		map[string]any{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": body},
		},
	}
	if len(aircraftFields(ev.Aircraft)) > 0 {
		var parts []string
		for _, f := range aircraftFields(ev.Aircraft) {
			parts = append(parts, fmt.Sprintf("*%s:* %s", f["name"], f["value"]))
		}
		blocks = append(blocks, map[string]any{
			"type": "context",
			"elements": []any{
				map[string]any{"type": "mrkdwn", "text": strings.Join(parts, "  ")},
			},
		})
	}
	return map[string]any{"blocks": blocks}
}

func telegramHTML(title, body string, ev model.TriggerEvent) string {
	esc := func(s string) string {
		r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
		return r.Replace(s)
	}
	var b strings.Builder
	b.WriteString("<b>" + esc(title) + "</b>\n")
	b.WriteString(esc(body))
	for _, f := range aircraftFields(ev.Aircraft) {
		b.WriteString(fmt.Sprintf("\n<b>%s:</b> %s", esc(f["name"].(string)), esc(f["value"].(string))))
	}
	return b.String()
}
