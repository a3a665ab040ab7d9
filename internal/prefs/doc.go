// Package prefs persists per-profile reader preferences (theme, sort
// order, expanded directories, recent files) in a single JSON file with
// atomic writes.
package prefs
