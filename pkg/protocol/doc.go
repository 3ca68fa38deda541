// Package protocol defines the messages exchanged between a document server
// and its replicas, and the codecs that put them on the wire.
//
// # Messages
//
// Four message types flow over a connection:
//
//	open          client → server  the options of the document to observe
//	statusChange  server → client  idle, loading, completed or error
//	newDocument   server → client  a full serialized tree
//	documentDiff  server → client  an edit script against the previous state
//
// A server never sends documentDiff before newDocument on a connection, so
// every script applies to a tree the replica already holds.
//
// # Codecs
//
// The JSON codec renders each message as {"type": ..., "data": ...}, where
// data is a node record, an action array, a status or open options. It is
// the default and is what WebSocket text frames carry.
//
// The binary codec wraps a compact varint encoding in frames:
//
//	┌─────────────┬──────────────┬───────────────────────────────┐
//	│ Frame Type  │ Flags        │ Payload Length                │
//	│ (1 byte)    │ (1 byte)     │ (4 bytes, big-endian)         │
//	└─────────────┴──────────────┴───────────────────────────────┘
//
// Length prefixes, collection counts and record nesting are bounded so a
// hostile peer cannot force large allocations or deep recursion.
//
// Malformed payloads produce a *DecodeError. Readers log and skip them; the
// connection itself stays usable.
package protocol
