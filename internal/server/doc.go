// Package server implements the service's network surfaces: the UDP server
// receiving audio datagrams, the websocket control channel carrying
// preferences and captions, and the HTTP API for monitoring and management.
package server
