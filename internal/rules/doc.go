// Package rules evaluates user-authored alerting rules against aircraft
// snapshots and emits trigger events.
//
// Evaluation is pure and deterministic given (snapshot, rule, now); the only
// I/O on the path is the rule fetch and the cooldown store round-trip.
package rules
