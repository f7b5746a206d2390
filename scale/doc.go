// Package scale owns the serial session against a weighing indicator and
// turns its byte stream into published readings.
//
// A Session acquires one serial device, accumulates raw chunks, and drives
// the frame extractor and reading decoder over them. Readings publish into
// the session state where they are served non-blocking (LatestCached) or
// sampled fresh with a bounded wait (Fresh). A continuous background loop
// keeps the published state current; deployments that only sample on demand
// skip the loop and use ReadOnce directly.
//
// # Lifecycle
//
// Sessions move through Closed, Opening, Opened, Errored and Closing states.
// Individual malformed tokens are dropped and never affect the lifecycle.
// Device errors are counted; a run of consecutive failures past the
// configured threshold marks the session Errored and hands it to the
// recovery controller, which tears the device down and reopens it at most
// once per trigger. Close is terminal and idempotent.
//
// # Concurrency
//
// The continuous loop is the only device reader while it runs; Fresh callers
// wait for its next published reading instead of competing for bytes. Direct
// ReadOnce calls serialize among themselves and are excluded while recovery
// swaps the device handle. Session state is guarded by a mutex that is never
// held across device I/O.
package scale
