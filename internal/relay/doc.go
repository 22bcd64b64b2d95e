// Package relay implements the in-memory core of the event relay using the actor pattern.
//
// The Registry owns the user-to-sessions mapping behind a single goroutine + command channel
// (no mutexes). Per-session write goroutines keep a stalled peer from blocking fan-out.
// The Router shapes feed envelopes per event kind and delivers them to one user's sessions
// (unicast) or to every session (broadcast).
package relay
