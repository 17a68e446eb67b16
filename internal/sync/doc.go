// Package sync drives the offline-first dictionary engine.
//
// The Orchestrator owns the in-memory canonical term set and the current
// identity. It reacts to three kinds of triggers:
//
//   - startup: the cache is bootstrapped (cached set, or the bundled floor
//     dataset) and, when the backend is reachable, a delta pull follows
//   - connectivity: going online drains the signed-in user's queued actions
//     and then pulls; going offline only flips the flag
//   - user actions: favorites and searches are written to the cache first,
//     then to the backend when online, or to the offline queue otherwise
//
// Pull flow:
//
//	cursor -> Remote.FetchTermDeltas(since) -> sanitize -> merge -> cache
//
// The cursor only advances after the merged set and the new cursor are
// committed together. An empty delta changes nothing. Any failure leaves
// the set and the cursor as they were.
//
// Overlapping triggers are coalesced: at most one pull and one drain run at
// a time, and a trigger that finds one in flight is skipped and logged.
//
// Observability: State reports the current phase, and every transition is
// also delivered as an Event to the optional Config.OnEvent callback.
package sync
