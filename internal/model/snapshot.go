package model

import (
	"strings"
	"time"
)

// AircraftSnapshot is one point-in-time state record for a tracked aircraft,
// keyed by its 24-bit ICAO hex address. Snapshots are immutable per
// evaluation pass; the ingestion side produces a fresh batch each cycle.
//
// Numeric fields are pointers: readsb-style feeds omit fields an aircraft
// is not currently reporting, and "missing" must stay distinguishable from
// zero for rule evaluation (missing fails closed).
type AircraftSnapshot struct {
	Hex          string `json:"hex"`
	Callsign     string `json:"flight,omitempty"`
	Registration string `json:"r,omitempty"`
	TypeCode     string `json:"t,omitempty"`
	Operator     string `json:"ownOp,omitempty"`
	Category     string `json:"category,omitempty"`
	Squawk       string `json:"squawk,omitempty"`

	AltitudeFt   *float64 `json:"alt_baro,omitempty"`
	GroundSpeed  *float64 `json:"gs,omitempty"`
	VerticalRate *float64 `json:"baro_rate,omitempty"`
	Lat          *float64 `json:"lat,omitempty"`
	Lon          *float64 `json:"lon,omitempty"`

	// DistanceNM is the great-circle distance from the configured observer
	// position, filled in by ingestion when an observer is configured.
	DistanceNM *float64 `json:"distance_nm,omitempty"`

	Military  bool   `json:"military,omitempty"`
	Emergency string `json:"emergency,omitempty"`

	SeenAt time.Time `json:"seen_at,omitempty"`
}

// Ident returns the best human identity for the aircraft:
// trimmed callsign, else registration, else hex.
func (a AircraftSnapshot) Ident() string {
	if cs := strings.TrimSpace(a.Callsign); cs != "" {
		return cs
	}
	if a.Registration != "" {
		return a.Registration
	}
	return a.Hex
}

// EmergencySquawks are the transponder codes that always fire regardless of
// user rules: hijack, radio failure, general emergency.
var EmergencySquawks = map[string]string{
	"7500": "hijack",
	"7600": "radio failure",
	"7700": "general emergency",
}
