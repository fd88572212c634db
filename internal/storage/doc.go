// Package storage persists rules, channels, user preferences, message
// templates, and the delivery log in SQLite.
//
// The alerting core treats everything except rule last-triggered timestamps
// and delivery-log rows as read-only; authoring surfaces own the writes.
package storage
