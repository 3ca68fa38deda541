package markup

import "sync"

// MutationType classifies a change notification.
type MutationType uint8

const (
	MutationAttributes MutationType = iota + 1 // Attribute set or removed
	MutationChildList                          // Child inserted, removed, moved or replaced
	MutationValue                              // Text or comment value changed
	MutationReplaced                           // Document root swapped
)

// String returns the string representation of the MutationType.
func (t MutationType) String() string {
	switch t {
	case MutationAttributes:
		return "attributes"
	case MutationChildList:
		return "childList"
	case MutationValue:
		return "value"
	case MutationReplaced:
		return "replaced"
	default:
		return "unknown"
	}
}

// Mutation describes one change to a document tree.
type Mutation struct {
	Type   MutationType
	Target *Node
}

// Document owns a root node, serializes access to it and dispatches
// mutation notifications to observers.
//
// Observers run synchronously on the mutating goroutine while the write
// lock is held. They must not block and must not call View or Update.
type Document struct {
	mu   sync.RWMutex
	root *Node

	obsMu     sync.Mutex
	observers map[uint64]func(Mutation)
	nextObs   uint64
}

// NewDocument creates a document owning root. A nil root is allowed and
// stands for a document that has not been loaded yet.
func NewDocument(root *Node) *Document {
	d := &Document{observers: make(map[uint64]func(Mutation))}
	if root != nil {
		root.detach()
		root.owner = d
		d.root = root
	}
	return d
}

// Root returns the current root. Callers that read the tree concurrently
// with writers should use View instead.
func (d *Document) Root() *Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.root
}

// View runs fn with the read lock held.
func (d *Document) View(fn func(root *Node)) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	fn(d.root)
}

// Update runs fn with the write lock held. Mutations made by fn are
// reported to observers as they happen.
func (d *Document) Update(fn func(root *Node) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn(d.root)
}

// Snapshot returns a deep copy of the current root that keeps identifiers,
// or nil.
func (d *Document) Snapshot() *Node {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.root == nil {
		return nil
	}
	return d.root.Snapshot()
}

// Replace installs a new root and notifies observers with MutationReplaced.
func (d *Document) Replace(root *Node) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.replaceLocked(root)
}

// Apply replays script against the root under the write lock. A replaced
// root is installed before returning. See Apply for failure semantics.
func (d *Document) Apply(script Script) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.root == nil {
		if len(script) == 0 {
			return nil
		}
		return &ReplayError{Index: 0, Action: script[0], Err: ErrNodeNotFound}
	}
	root, err := Apply(d.root, script)
	if root != d.root {
		d.replaceLocked(root)
	}
	return err
}

func (d *Document) replaceLocked(root *Node) {
	if d.root != nil {
		d.root.owner = nil
	}
	if root != nil {
		root.detach()
		root.owner = d
	}
	d.root = root
	d.dispatch(Mutation{Type: MutationReplaced, Target: root})
}

// Observe registers fn for mutation notifications and returns a function
// that unregisters it.
func (d *Document) Observe(fn func(Mutation)) (cancel func()) {
	d.obsMu.Lock()
	d.nextObs++
	id := d.nextObs
	d.observers[id] = fn
	d.obsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.obsMu.Lock()
			delete(d.observers, id)
			d.obsMu.Unlock()
		})
	}
}

func (d *Document) dispatch(m Mutation) {
	d.obsMu.Lock()
	if len(d.observers) == 0 {
		d.obsMu.Unlock()
		return
	}
	fns := make([]func(Mutation), 0, len(d.observers))
	for _, fn := range d.observers {
		fns = append(fns, fn)
	}
	d.obsMu.Unlock()

	for _, fn := range fns {
		fn(m)
	}
}

// notify reports a mutation of target to the document owning n's tree.
func (n *Node) notify(t MutationType, target *Node) {
	if d := n.Root().owner; d != nil {
		d.dispatch(Mutation{Type: t, Target: target})
	}
}
