// Package http contains the Gin handlers for the reader API.
//
// All file paths arriving here are root-relative strings; handlers pass
// them to the reader service untouched and map sandbox errors to status
// codes (400 for rejected paths, 404 for missing files, 413 for
// oversized ones) without ever echoing a resolved absolute path.
package http
