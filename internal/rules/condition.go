package rules

import (
	"strconv"
	"strings"

	"skyalert/internal/model"
)

// Evaluate applies one leaf condition to a snapshot.
//
// String fields compare case-insensitively against a trimmed, upper-cased
// snapshot value. Numeric fields parse the condition literal as a float.
// Anything malformed (unknown field, unparseable literal, missing snapshot
// value) fails closed.
func Evaluate(snap model.AircraftSnapshot, c model.Condition) bool {
	switch c.Field {
	case model.FieldHex:
		return compareString(snap.Hex, c.Cmp, c.Value)
	case model.FieldCallsign:
		return compareString(snap.Callsign, c.Cmp, c.Value)
	case model.FieldSquawk:
		return compareString(snap.Squawk, c.Cmp, c.Value)
	case model.FieldCategory:
		return compareString(snap.Category, c.Cmp, c.Value)
	case model.FieldAircraftType:
		return compareString(snap.TypeCode, c.Cmp, c.Value)
	case model.FieldRegistration:
		return compareString(snap.Registration, c.Cmp, c.Value)
	case model.FieldOperator:
		return compareString(snap.Operator, c.Cmp, c.Value)

	case model.FieldAltitude:
		return compareNumeric(snap.AltitudeFt, c.Cmp, c.Value)
	case model.FieldSpeed:
		return compareNumeric(snap.GroundSpeed, c.Cmp, c.Value)
	case model.FieldVerticalRate:
		return compareNumeric(snap.VerticalRate, c.Cmp, c.Value)

	case model.FieldProximity:
		return compareProximity(snap.DistanceNM, c.Cmp, c.Value)

	case model.FieldMilitary:
		return compareBool(snap.Military, c.Cmp, c.Value)
	case model.FieldEmergency:
		return compareBool(snap.Emergency != "" && snap.Emergency != "none", c.Cmp, c.Value)

	default:
		// Unknown field tags fail closed.
		return false
	}
}

// EvaluateGroup evaluates a group's conditions with short-circuit AND/OR.
// An empty group is always false.
func EvaluateGroup(snap model.AircraftSnapshot, g model.ConditionGroup) bool {
	if len(g.Conditions) == 0 {
		return false
	}
	if g.Logic == model.LogicOr {
		for _, c := range g.Conditions {
			if Evaluate(snap, c) {
				return true
			}
		}
		return false
	}
	// Default (and unknown) logic is AND.
	for _, c := range g.Conditions {
		if !Evaluate(snap, c) {
			return false
		}
	}
	return true
}

// EvaluateTree evaluates a rule's full condition tree. An empty tree is
// always false.
func EvaluateTree(snap model.AircraftSnapshot, t model.ConditionTree) bool {
	if len(t.Groups) == 0 {
		return false
	}
	if t.Logic == model.LogicOr {
		for _, g := range t.Groups {
			if EvaluateGroup(snap, g) {
				return true
			}
		}
		return false
	}
	for _, g := range t.Groups {
		if !EvaluateGroup(snap, g) {
			return false
		}
	}
	return true
}

// Matches evaluates a rule's condition tree, or its legacy single condition,
// against a snapshot. A rule with neither never matches.
func Matches(snap model.AircraftSnapshot, r model.Rule) bool {
	if r.Tree != nil {
		return EvaluateTree(snap, *r.Tree)
	}
	if r.Condition != nil {
		return Evaluate(snap, *r.Condition)
	}
	return false
}

func normString(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func compareString(have string, cmp model.Comparator, want string) bool {
	h := normString(have)
	w := normString(want)
	if h == "" {
		return false
	}
	switch cmp {
	case model.CmpEquals:
		return h == w
	case model.CmpNotEquals:
		return h != w
	case model.CmpContains:
		return strings.Contains(h, w)
	case model.CmpStartsWith:
		return strings.HasPrefix(h, w)
	default:
		return false
	}
}

func compareNumeric(have *float64, cmp model.Comparator, want string) bool {
	if have == nil {
		return false
	}
	w, err := strconv.ParseFloat(strings.TrimSpace(want), 64)
	if err != nil {
		return false
	}
	h := *have
	switch cmp {
	case model.CmpEquals:
		return h == w
	case model.CmpNotEquals:
		return h != w
	case model.CmpLess:
		return h < w
	case model.CmpLessEqual:
		return h <= w
	case model.CmpGreater:
		return h > w
	case model.CmpGreaterEqual:
		return h >= w
	default:
		return false
	}
}

// compareProximity keeps the historical polarity: lt/lte means "within
// distance", gt/gte means "at least this far away", and every other
// comparator defaults to "within". Do not normalize this to the plain
// numeric comparators without confirming intent with rule authors.
func compareProximity(distance *float64, cmp model.Comparator, want string) bool {
	if distance == nil {
		return false
	}
	w, err := strconv.ParseFloat(strings.TrimSpace(want), 64)
	if err != nil {
		return false
	}
	d := *distance
	switch cmp {
	case model.CmpLess:
		return d < w
	case model.CmpLessEqual:
		return d <= w
	case model.CmpGreater:
		return d > w
	case model.CmpGreaterEqual:
		return d >= w
	default:
		return d <= w
	}
}

func compareBool(have bool, cmp model.Comparator, want string) bool {
	w := normString(want) == "TRUE" || normString(want) == "1" || normString(want) == "YES"
	switch cmp {
	case model.CmpEquals:
		return have == w
	case model.CmpNotEquals:
		return have != w
	default:
		return false
	}
}
