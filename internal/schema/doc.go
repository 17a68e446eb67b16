// Package schema defines the data model shared by the sync engine.
//
// # Terms
//
// Dictionary entries are stored with the dataset's compact keys:
//
//	{
//	  "t": "Erosão",
//	  "d": "Desgaste do solo provocado pela água ou pelo vento.",
//	  "c": "Solo",
//	  "deleted_at": "2024-01-01T00:00:00Z"
//	}
//
// A term carrying deleted_at is a tombstone. Tombstones only travel inside
// deltas; they never appear in the canonical set.
//
// # Identities
//
// Favorites, history and queued actions are scoped by Identity, which is
// either Anonymous or Authenticated(id). Storage keys come from
// Identity.Key and are never assembled by hand.
//
// # Delta files
//
// The daemon inbox accepts delta drops named {anything}.json holding a JSON
// array of raw term rows. ReadDeltaFile loads one without validating rows;
// validation is the sanitizer's job.
package schema
