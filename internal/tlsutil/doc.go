// Package tlsutil provides centralized TLS configuration for HTTP
// clients, servers, and Redis connections: TLS 1.2+, AEAD cipher
// suites only.
package tlsutil
