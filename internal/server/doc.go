// Package server hosts the VidLoop API and live websocket gateway from a
// single HTTP server.
//
// The server builds a consistent middleware chain of request IDs, logging,
// security headers, CORS, audit, metrics, and rate limiting so handlers all
// share common protections and instrumentation.
package server
