package notify

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"skyalert/internal/model"
)

// Template variables look like {name}, {name|default}, {name:format} or
// {name|default:format}. Names may use dot-notation for nested lookup.
var varPattern = regexp.MustCompile(`\{([A-Za-z0-9_.]+)(?:\|([^:}]*))?(?::([^}]*))?\}`)

// Render substitutes every variable in tmpl from ctx. A missing value (at
// any dot-notation level) yields the default if one was given, else the
// empty string. Formatting never fails outward: a format that cannot be
// applied falls back to plain string conversion.
func Render(tmpl string, ctx map[string]any) string {
	return varPattern.ReplaceAllStringFunc(tmpl, func(m string) string {
		parts := varPattern.FindStringSubmatch(m)
		name, def, format := parts[1], parts[2], parts[3]

		v, ok := lookup(ctx, name)
		if !ok || v == nil {
			return def
		}
		s := formatValue(v, format)
		if s == "" {
			return def
		}
		return s
	})
}

// Validate extracts the variable names referenced by tmpl and returns the
// ones absent from the known context registry, without rendering anything.
func Validate(tmpl string) []string {
	var unknown []string
	seen := map[string]bool{}
	for _, m := range varPattern.FindAllStringSubmatch(tmpl, -1) {
		name := m[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		if _, ok := lookup(registry, name); !ok {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	return unknown
}

// lookup resolves a dot-notation path against nested string-keyed maps.
func lookup(ctx map[string]any, name string) (any, bool) {
	cur := any(ctx)
	for _, part := range strings.Split(name, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func formatValue(v any, format string) string {
	switch format {
	case "":
		return plain(v)
	case ",":
		if f, ok := asFloat(v); ok {
			return thousands(f)
		}
	case "upper":
		return strings.ToUpper(plain(v))
	case "lower":
		return strings.ToLower(plain(v))
	case "title":
		return titleCase(plain(v))
	default:
		// ".Nf" fixed decimal places.
		if strings.HasPrefix(format, ".") && strings.HasSuffix(format, "f") {
			if n, err := strconv.Atoi(format[1 : len(format)-1]); err == nil {
				if f, ok := asFloat(v); ok {
					return strconv.FormatFloat(f, 'f', n, 64)
				}
			}
		}
	}
	return plain(v)
}

func plain(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case *float64:
		if t == nil {
			return ""
		}
		return strconv.FormatFloat(*t, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case *float64:
		if t == nil {
			return 0, false
		}
		return *t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// thousands renders f with comma grouping on the integer part, keeping the
// fractional part only when one exists.
func thousands(f float64) string {
	s := strconv.FormatFloat(f, 'f', -1, 64)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	if frac != "" {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}

func titleCase(s string) string {
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// BuildContext flattens a trigger event into the renderer's variable space:
// rule/event metadata, the aircraft object under "aircraft.", convenience
// aliases for the most-used aircraft fields, and four timestamp forms.
func BuildContext(ev model.TriggerEvent) map[string]any {
	a := ev.Aircraft
	aircraft := map[string]any{
		"hex":           a.Hex,
		"callsign":      strings.TrimSpace(a.Callsign),
		"registration":  a.Registration,
		"type":          a.TypeCode,
		"operator":      a.Operator,
		"category":      a.Category,
		"squawk":        a.Squawk,
		"altitude":      a.AltitudeFt,
		"speed":         a.GroundSpeed,
		"vertical_rate": a.VerticalRate,
		"lat":           a.Lat,
		"lon":           a.Lon,
		"distance":      a.DistanceNM,
		"military":      a.Military,
		"emergency":     a.Emergency,
		"ident":         a.Ident(),
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now()
	}

	ctx := map[string]any{
		"aircraft": aircraft,

		"rule_id":    ev.RuleID,
		"rule_name":  ev.RuleName,
		"priority":   string(ev.Priority),
		"event_type": ev.EventType,
		"summary":    ev.Summary,
		"trigger_id": ev.ID,

		"timestamp":       at.UTC().Format(time.RFC3339),
		"timestamp_local": at.Local().Format("2006-01-02 15:04:05"),
		"date":            at.Local().Format("2006-01-02"),
		"time":            at.Local().Format("15:04:05"),
	}

	// Top-level aliases so templates can say {callsign} instead of
	// {aircraft.callsign}.
	for _, k := range []string{
		"hex", "callsign", "registration", "squawk",
		"altitude", "speed", "vertical_rate", "distance", "ident",
	} {
		ctx[k] = aircraft[k]
	}
	return ctx
}

// registry mirrors the shape BuildContext produces, for Validate.
var registry = func() map[string]any {
	alt := 0.0
	ev := model.TriggerEvent{
		Aircraft: model.AircraftSnapshot{
			AltitudeFt: &alt, GroundSpeed: &alt, VerticalRate: &alt,
			Lat: &alt, Lon: &alt, DistanceNM: &alt,
		},
	}
	return BuildContext(ev)
}()
