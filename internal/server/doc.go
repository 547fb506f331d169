// Package server implements the websocket hub of GoChat.
//
// The hub accepts websocket connections, decodes the JSON event envelopes
// sent by clients and dispatches them to the presence, room, receipt and call
// components. All of them run on the hub loop; store I/O runs on a worker pool
// and hands its results back to the loop. The package also carries the HTTP
// surface: health, stats, metrics and a browser test page.
package server
