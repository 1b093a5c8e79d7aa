// Package server hosts the Fiber sidecar that exposes the media cache to local
// players and image views: byte retrieval through the fetch orchestrator,
// materialized artifacts for path-based players, batch prefetch, and a stats
// endpoint. Every request carries an X-Request-ID and produces one structured
// access log line. Dependencies are injected through AppOptions so tests can
// assemble the app around temporary directories and stub upstreams.
package server
