// Package server provides HTTP server lifecycle management: non-blocking
// start, graceful shutdown, and OS signal handling.
//
// Manager wraps net/http.Server to unify listen/serve/shutdown/error
// propagation. It supports plain HTTP and TLS, and includes built-in
// SIGINT/SIGTERM handling for production shutdown.
package server
