// Package notify carries a trigger event from the rule engine to its
// external destinations: routing (channel resolution with precedence and
// dedup), template rendering, rich per-channel formatting, and a rate
// limited delivery pool with persisted retry state.
package notify
