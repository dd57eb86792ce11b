// Package prefs maintains the server-side table of participant language
// preferences. It is the single source of truth for computing the
// target-language set of each speaker's recognition session.
package prefs
