// Package markup provides the structural document tree used by treesync.
//
// A markup tree is built from five node kinds: Fragment, Element, Attribute,
// Text and Comment. Containers own their children and, for elements, their
// attributes; every node holds a back-reference to its parent that is set on
// insertion and cleared on removal.
//
// # Identity
//
// Every node carries a stable identifier assigned at creation. Snapshots
// and records keep the identifiers of the nodes they copy, which lets an
// edit script computed against one tree be replayed against any
// structurally equivalent copy, including one deserialized on another
// machine. Clone is for new content and assigns fresh identifiers.
//
// # Diffing and Replay
//
// Diff compares two trees and returns a Script, an ordered list of Actions.
// Apply replays a Script against a tree by resolving node identifiers:
//
//	script := markup.Diff(old, next)
//	root, err := markup.Apply(replica, script)
//
// Replay is not transactional. A failing action stops replay and the
// already applied prefix stays in place.
//
// # Documents
//
// Document wraps a root node with a read/write lock and dispatches mutation
// notifications to observers. The change watcher in package watch builds on
// these notifications.
package markup
