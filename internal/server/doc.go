// Package server wires configuration, logging, metrics, the sandboxed
// reader, the preference store, and the watcher into one Gin router.
package server
