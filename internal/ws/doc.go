// Package ws streams reader change events over WebSocket.
//
// Clients connect to GET /stream and receive one JSON message per
// filesystem change ({"type":"change","op":...,"path":...}), letting the
// tree UI refresh without polling.
package ws
