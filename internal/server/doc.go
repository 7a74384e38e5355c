// Package server implements the HTTP and WebSocket surface of the chat relay.
//
// The implementation is organized into specialized files for hub
// management, clients, origin checks, routing, and HTTP handlers. All
// realtime state lives in the engine owned by the Hub; handlers only read
// presence or queue broadcasts through the hub.
package server
