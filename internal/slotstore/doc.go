// Package slotstore persists controller slot assignments and a journal of the
// commands the primary has handled, in SQLite.
//
// The store is optional state: the primary works from its in-memory slot
// table and writes through to the store when persistence is enabled, so a
// restart restores each slot's persistent profile. Temporary profiles are
// never stored. Schema changes bump schemaVersion; users delete slots.db to
// adopt a new schema.
package slotstore
