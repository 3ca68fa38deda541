// Package store persists document snapshots so a session evicted from
// memory can be revived without going back to its source.
//
// The SnapshotStore interface defines the contract:
//
//	store := store.NewMemoryStore()
//	// or
//	store := store.NewRedisStore(redisClient, store.WithTTL(time.Hour))
//
// Snapshots are keyed by the canonical key of the open options that
// created the session, and carry the serialized tree with its node
// identifiers so replicas reconnecting later still agree with the server.
package store
