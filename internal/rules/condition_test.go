package rules

import (
	"testing"

	"skyalert/internal/model"
)

func fptr(v float64) *float64 { return &v }

func TestEvaluateLeafConditions(t *testing.T) {
	t.Parallel()

	snap := model.AircraftSnapshot{
		Hex:          "ae01ce",
		Callsign:     "RCH285  ",
		Registration: "N123AB",
		TypeCode:     "C17",
		Operator:     "USAF",
		Category:     "A5",
		Squawk:       "1200",
		AltitudeFt:   fptr(2500),
		GroundSpeed:  fptr(310),
		VerticalRate: fptr(-1800),
		DistanceNM:   fptr(12.4),
		Military:     true,
	}

	tests := []struct {
		name string
		c    model.Condition
		want bool
	}{
		{"hex eq case-insensitive", model.Condition{Field: model.FieldHex, Cmp: model.CmpEquals, Value: "AE01CE"}, true},
		{"callsign trimmed eq", model.Condition{Field: model.FieldCallsign, Cmp: model.CmpEquals, Value: "rch285"}, true},
		{"callsign starts_with", model.Condition{Field: model.FieldCallsign, Cmp: model.CmpStartsWith, Value: "RCH"}, true},
		{"callsign contains", model.Condition{Field: model.FieldCallsign, Cmp: model.CmpContains, Value: "H28"}, true},
		{"callsign ne", model.Condition{Field: model.FieldCallsign, Cmp: model.CmpNotEquals, Value: "UAL1"}, true},
		{"squawk eq miss", model.Condition{Field: model.FieldSquawk, Cmp: model.CmpEquals, Value: "7700"}, false},

		{"altitude lt matches 2500", model.Condition{Field: model.FieldAltitude, Cmp: model.CmpLess, Value: "3000"}, true},
		{"altitude gte miss", model.Condition{Field: model.FieldAltitude, Cmp: model.CmpGreaterEqual, Value: "3000"}, false},
		{"speed gt", model.Condition{Field: model.FieldSpeed, Cmp: model.CmpGreater, Value: "300"}, true},
		{"vertical rate lt", model.Condition{Field: model.FieldVerticalRate, Cmp: model.CmpLess, Value: "-1000"}, true},
		{"numeric bad literal fails closed", model.Condition{Field: model.FieldAltitude, Cmp: model.CmpLess, Value: "low"}, false},

		{"proximity lte within", model.Condition{Field: model.FieldProximity, Cmp: model.CmpLessEqual, Value: "25"}, true},
		{"proximity gte at least this far", model.Condition{Field: model.FieldProximity, Cmp: model.CmpGreaterEqual, Value: "10"}, true},
		{"proximity gt farther than actual", model.Condition{Field: model.FieldProximity, Cmp: model.CmpGreater, Value: "50"}, false},
		{"proximity default comparator means within", model.Condition{Field: model.FieldProximity, Cmp: model.CmpEquals, Value: "25"}, true},

		{"military true", model.Condition{Field: model.FieldMilitary, Cmp: model.CmpEquals, Value: "true"}, true},
		{"military ne false", model.Condition{Field: model.FieldMilitary, Cmp: model.CmpNotEquals, Value: "false"}, true},
		{"emergency none", model.Condition{Field: model.FieldEmergency, Cmp: model.CmpEquals, Value: "true"}, false},

		{"type eq", model.Condition{Field: model.FieldAircraftType, Cmp: model.CmpEquals, Value: "c17"}, true},
		{"operator contains", model.Condition{Field: model.FieldOperator, Cmp: model.CmpContains, Value: "USAF"}, true},
		{"registration eq", model.Condition{Field: model.FieldRegistration, Cmp: model.CmpEquals, Value: "n123ab"}, true},

		{"unknown field fails closed", model.Condition{Field: "flight_level", Cmp: model.CmpEquals, Value: "1"}, false},
		{"unknown comparator fails closed", model.Condition{Field: model.FieldHex, Cmp: "like", Value: "ae"}, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(snap, tt.c); got != tt.want {
				t.Fatalf("Evaluate(%v) = %v, want %v", tt.c, got, tt.want)
			}
		})
	}
}

func TestEvaluateAltitudeThreshold(t *testing.T) {
	t.Parallel()

	c := model.Condition{Field: model.FieldAltitude, Cmp: model.CmpLess, Value: "3000"}

	low := model.AircraftSnapshot{Hex: "a", AltitudeFt: fptr(2500)}
	high := model.AircraftSnapshot{Hex: "b", AltitudeFt: fptr(5000)}
	missing := model.AircraftSnapshot{Hex: "c"}

	if !Evaluate(low, c) {
		t.Fatal("2500 ft should match lt 3000")
	}
	if Evaluate(high, c) {
		t.Fatal("5000 ft should not match lt 3000")
	}
	if Evaluate(missing, c) {
		t.Fatal("missing altitude must fail closed")
	}
}

func TestEvaluateGroupLogic(t *testing.T) {
	t.Parallel()

	snap := model.AircraftSnapshot{
		Hex:        "abc123",
		Squawk:     "1200",
		AltitudeFt: fptr(900),
	}
	low := model.Condition{Field: model.FieldAltitude, Cmp: model.CmpLess, Value: "1000"}
	wrongSquawk := model.Condition{Field: model.FieldSquawk, Cmp: model.CmpEquals, Value: "7700"}

	tests := []struct {
		name string
		g    model.ConditionGroup
		want bool
	}{
		{"and all pass", model.ConditionGroup{Logic: model.LogicAnd, Conditions: []model.Condition{low}}, true},
		{"and one fails", model.ConditionGroup{Logic: model.LogicAnd, Conditions: []model.Condition{low, wrongSquawk}}, false},
		{"or one passes", model.ConditionGroup{Logic: model.LogicOr, Conditions: []model.Condition{wrongSquawk, low}}, true},
		{"or none pass", model.ConditionGroup{Logic: model.LogicOr, Conditions: []model.Condition{wrongSquawk}}, false},
		{"empty group never matches", model.ConditionGroup{Logic: model.LogicAnd}, false},
		{"unknown logic treated as and", model.ConditionGroup{Logic: "xor", Conditions: []model.Condition{low}}, true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := EvaluateGroup(snap, tt.g); got != tt.want {
				t.Fatalf("EvaluateGroup = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluateTree(t *testing.T) {
	t.Parallel()

	snap := model.AircraftSnapshot{Hex: "abc123", AltitudeFt: fptr(900), Military: true}

	match := model.ConditionGroup{Logic: model.LogicAnd, Conditions: []model.Condition{
		{Field: model.FieldAltitude, Cmp: model.CmpLess, Value: "1000"},
	}}
	miss := model.ConditionGroup{Logic: model.LogicAnd, Conditions: []model.Condition{
		{Field: model.FieldMilitary, Cmp: model.CmpEquals, Value: "false"},
	}}

	if !EvaluateTree(snap, model.ConditionTree{Logic: model.LogicOr, Groups: []model.ConditionGroup{miss, match}}) {
		t.Fatal("or tree with one matching group should match")
	}
	if EvaluateTree(snap, model.ConditionTree{Logic: model.LogicAnd, Groups: []model.ConditionGroup{miss, match}}) {
		t.Fatal("and tree with a failing group should not match")
	}
	if EvaluateTree(snap, model.ConditionTree{}) {
		t.Fatal("empty tree never matches")
	}
}

func TestMatchesPrefersTree(t *testing.T) {
	t.Parallel()

	snap := model.AircraftSnapshot{Hex: "abc123", AltitudeFt: fptr(900)}

	legacy := model.Condition{Field: model.FieldAltitude, Cmp: model.CmpGreater, Value: "5000"}
	tree := model.ConditionTree{Logic: model.LogicAnd, Groups: []model.ConditionGroup{{
		Logic:      model.LogicAnd,
		Conditions: []model.Condition{{Field: model.FieldAltitude, Cmp: model.CmpLess, Value: "1000"}},
	}}}

	r := model.Rule{Condition: &legacy, Tree: &tree}
	if !Matches(snap, r) {
		t.Fatal("tree should take precedence over the legacy condition")
	}
	if Matches(snap, model.Rule{}) {
		t.Fatal("rule without any condition never matches")
	}
}
