package ingest

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"skyalert/internal/model"
	"skyalert/pkg/logx"
)

type captureEvaluator struct {
	mu      sync.Mutex
	batches [][]model.AircraftSnapshot
}

func (c *captureEvaluator) EvaluateBatch(ctx context.Context, snaps []model.AircraftSnapshot) {
	c.mu.Lock()
	c.batches = append(c.batches, snaps)
	c.mu.Unlock()
}

const sampleFeed = `{
  "now": 1755780000.0,
  "aircraft": [
    {"hex": "AE01CE", "flight": "RCH285  ", "r": "02-1099", "t": "C17",
     "alt_baro": 28000, "gs": 420.5, "baro_rate": -640, "lat": 51.0, "lon": 4.0,
     "squawk": "1200", "dbFlags": 1, "seen": 0.4},
    {"hex": "484a3b", "flight": "KLM1023", "alt_baro": "ground", "gs": 12.0,
     "lat": 52.3086, "lon": 4.7639},
    {"hex": "abcdef", "seen": 42.0},
    {"flight": "NOHEX"}
  ]
}`

func TestFetchConvertsFeed(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	eval := &captureEvaluator{}
	p := NewPoller(logx.Nop(), Options{
		URL:      srv.URL,
		Observer: &Observer{Lat: 52.3086, Lon: 4.7639}, // EHAM
	}, eval)

	p.poll(context.Background())

	if len(eval.batches) != 1 {
		t.Fatalf("got %d batches, want 1", len(eval.batches))
	}
	snaps := eval.batches[0]
	if len(snaps) != 3 {
		t.Fatalf("got %d snapshots, want 3 (entry without hex dropped)", len(snaps))
	}

	mil := snaps[0]
	if mil.Hex != "ae01ce" {
		t.Fatalf("hex = %q, want lower-cased ae01ce", mil.Hex)
	}
	if mil.Callsign != "RCH285" {
		t.Fatalf("callsign = %q, want trimmed RCH285", mil.Callsign)
	}
	if !mil.Military {
		t.Fatal("dbFlags bit 0 should mark military")
	}
	if mil.AltitudeFt == nil || *mil.AltitudeFt != 28000 {
		t.Fatalf("altitude = %v, want 28000", mil.AltitudeFt)
	}
	if mil.DistanceNM == nil {
		t.Fatal("observer distance missing")
	}

	ground := snaps[1]
	if ground.AltitudeFt == nil || *ground.AltitudeFt != 0 {
		t.Fatalf(`alt_baro "ground" should decode as 0 ft, got %v`, ground.AltitudeFt)
	}
	if ground.DistanceNM == nil || *ground.DistanceNM > 0.01 {
		t.Fatalf("aircraft at the observer should be ~0 nm away, got %v", ground.DistanceNM)
	}

	stale := snaps[2]
	if stale.AltitudeFt != nil {
		t.Fatal("missing alt_baro must stay nil")
	}
}

func TestPollSurvivesFeedErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	eval := &captureEvaluator{}
	p := NewPoller(logx.Nop(), Options{URL: srv.URL}, eval)
	p.poll(context.Background())

	if len(eval.batches) != 0 {
		t.Fatal("failed fetch must not reach the engine")
	}
}

func TestHaversineKnownDistance(t *testing.T) {
	t.Parallel()

	// EHAM to EBBR is roughly 86 nm.
	d := haversineNM(52.3086, 4.7639, 50.9014, 4.4844)
	if math.Abs(d-86) > 3 {
		t.Fatalf("EHAM-EBBR distance = %.1f nm, want ~86", d)
	}
}
