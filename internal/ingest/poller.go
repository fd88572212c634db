// Package ingest polls a readsb/tar1090-style aircraft.json endpoint and
// feeds each batch of snapshots into the rule engine.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"skyalert/internal/model"
	"skyalert/pkg/logx"
)

// Evaluator is the engine surface the poller drives.
type Evaluator interface {
	EvaluateBatch(ctx context.Context, snaps []model.AircraftSnapshot)
}

type Observer struct {
	Lat float64
	Lon float64
}

type Options struct {
	URL      string
	Interval time.Duration // default 5s
	Timeout  time.Duration // per fetch, default 10s
	Observer *Observer
}

type Poller struct {
	log    logx.Logger
	opts   Options
	client *http.Client
	engine Evaluator
}

func NewPoller(log logx.Logger, opts Options, engine Evaluator) *Poller {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &Poller{
		log:    log,
		opts:   opts,
		client: &http.Client{Timeout: opts.Timeout},
		engine: engine,
	}
}

// Run polls until ctx is cancelled. Fetch errors are logged and the next
// tick proceeds; the poller never gives up on a flaky feed.
func (p *Poller) Run(ctx context.Context) error {
	t := time.NewTicker(p.opts.Interval)
	defer t.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	snaps, err := p.fetch(ctx)
	if err != nil {
		p.log.Warn("aircraft feed fetch failed", logx.Err(err))
		return
	}
	p.engine.EvaluateBatch(ctx, snaps)
}

func (p *Poller) fetch(ctx context.Context) ([]model.AircraftSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.opts.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned HTTP %d", resp.StatusCode)
	}

	var doc feedDoc
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}

	now := time.Now()
	snaps := make([]model.AircraftSnapshot, 0, len(doc.Aircraft))
	for _, a := range doc.Aircraft {
		if a.Hex == "" {
			continue
		}
		snaps = append(snaps, p.convert(a, now))
	}
	return snaps, nil
}

type feedDoc struct {
	Now      float64        `json:"now"`
	Aircraft []feedAircraft `json:"aircraft"`
}

type feedAircraft struct {
	Hex      string `json:"hex"`
	Flight   string `json:"flight"`
	Reg      string `json:"r"`
	Type     string `json:"t"`
	Operator string `json:"ownOp"`
	Category string `json:"category"`
	Squawk   string `json:"squawk"`

	// alt_baro is a number, or the string "ground" when the aircraft is on
	// the surface.
	AltBaro  json.RawMessage `json:"alt_baro"`
	GS       *float64        `json:"gs"`
	BaroRate *float64        `json:"baro_rate"`
	Lat      *float64        `json:"lat"`
	Lon      *float64        `json:"lon"`
	Seen     *float64        `json:"seen"`

	// dbFlags bit 0 marks military airframes in tar1090 databases.
	DBFlags   int    `json:"dbFlags"`
	Emergency string `json:"emergency"`
}

func (p *Poller) convert(a feedAircraft, now time.Time) model.AircraftSnapshot {
	s := model.AircraftSnapshot{
		Hex:          strings.ToLower(strings.TrimSpace(a.Hex)),
		Callsign:     strings.TrimSpace(a.Flight),
		Registration: a.Reg,
		TypeCode:     a.Type,
		Operator:     a.Operator,
		Category:     a.Category,
		Squawk:       a.Squawk,
		GroundSpeed:  a.GS,
		VerticalRate: a.BaroRate,
		Lat:          a.Lat,
		Lon:          a.Lon,
		Military:     a.DBFlags&1 != 0,
		Emergency:    a.Emergency,
		SeenAt:       now,
	}
	if a.Seen != nil {
		s.SeenAt = now.Add(-time.Duration(*a.Seen * float64(time.Second)))
	}
	if alt, ok := parseAltBaro(a.AltBaro); ok {
		s.AltitudeFt = &alt
	}
	if p.opts.Observer != nil && a.Lat != nil && a.Lon != nil {
		d := haversineNM(p.opts.Observer.Lat, p.opts.Observer.Lon, *a.Lat, *a.Lon)
		s.DistanceNM = &d
	}
	return s
}

func parseAltBaro(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	if bytes.Equal(raw, []byte(`"ground"`)) {
		return 0, true
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return f, true
}

// haversineNM is the great-circle distance in nautical miles.
func haversineNM(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusNM = 3440.065
	rad := func(d float64) float64 { return d * math.Pi / 180 }

	dLat := rad(lat2 - lat1)
	dLon := rad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return earthRadiusNM * 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
