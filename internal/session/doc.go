// Package session keeps each speaker's live translation session consistent
// with the current listener population. The orchestrator owns the session
// table; sessions are created lazily when audio arrives and recreated, never
// mutated, when the required target-language set changes.
package session
