// Package cache provides a Redis-backed key/value layer used as
// internal/deploycache's optional RemoteCache: a process-local deployment
// cache is always present, but a shared Redis layer lets multiple gateway
// replicas avoid hammering the control-plane database independently on
// concurrent cold starts.
package cache
