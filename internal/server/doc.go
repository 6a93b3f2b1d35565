// Package server exposes analyzers over the network. The UDP server feeds
// packet streams into analyzers, the HTTP API serves status, calibration and
// profile endpoints, and the result hub pushes every completed analysis cycle
// to websocket clients.
package server
