// Package server shares canonical documents with remote replicas.
//
// A Registry maps the key of a set of open options to a Session. The
// session owns the canonical markup.Document, loads it through a Loader
// and publishes its status. Every connection gets its own Stream, which
// binds a watch.Watcher to the session document and forwards snapshots,
// edit scripts and status changes over a transport.Transport.
//
// Server exposes the registry over HTTP:
//
//	GET /sync       WebSocket sync stream (options in the query or an open message)
//	GET /snapshot   current document as a JSON record
//	GET /healthz    liveness and session count
//	GET /metrics    Prometheus metrics
//
// and optionally over raw TCP using framed binary messages.
//
// Sessions are reference counted by their streams. A session without
// streams is kept for RetainFor, then its document is saved to the
// configured store.SnapshotStore and the session is dropped. A later open
// of the same key restores the saved snapshot.
package server
