// Command hearthd runs the hearth reader service: a sandboxed markdown
// documentation backend for the hearth household hub.
package main
