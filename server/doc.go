// Package server runs the health HTTP server: a Gin engine behind an h2c
// handler, exposing GET /health and answering 404 for everything else.
package server
