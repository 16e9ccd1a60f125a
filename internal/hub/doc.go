// Package hub tracks connected peers and moves messages between them.
//
// Every peer is keyed by its remote socket address and belongs to exactly one
// protocol group, the WebSocket sub-protocol it negotiated. Messages never
// cross protocol groups.
package hub
