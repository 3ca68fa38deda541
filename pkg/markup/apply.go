package markup

import "fmt"

// Apply replays script against the tree rooted at root, strictly in order,
// and returns the resulting root. The root only changes when a
// replaceChild action with an empty target replaces it.
//
// Replay stops at the first failing action and returns a *ReplayError; the
// actions before it stay applied. Removing an attribute or child that is
// already absent is not an error. Inserted subtrees are built fresh from
// the action records, so the same script can be replayed on several trees.
func Apply(root *Node, script Script) (*Node, error) {
	r := &replayer{root: root, index: IndexByID(root)}
	for i, a := range script {
		if err := r.apply(a); err != nil {
			return r.root, &ReplayError{Index: i, Action: a, Err: err}
		}
	}
	return r.root, nil
}

type replayer struct {
	root  *Node
	index map[string]*Node
}

func (r *replayer) apply(a Action) error {
	switch a.Op {
	case OpSetAttribute:
		el, err := r.element(a.Target)
		if err != nil {
			return err
		}
		if a.Boolean {
			return el.SetBooleanAttribute(a.Name)
		}
		return el.SetAttribute(a.Name, a.Value)

	case OpRemoveAttribute:
		n, ok := r.index[a.Target]
		if !ok {
			return nil
		}
		if n.kind != KindElement {
			return fmt.Errorf("%w: %s is a %s", ErrNotElement, a.Target, n.kind)
		}
		n.RemoveAttribute(a.Name)
		return nil

	case OpInsertChild:
		container, err := r.lookup(a.Target)
		if err != nil {
			return err
		}
		if a.Index < 0 {
			return fmt.Errorf("%w: %d", ErrInvalidIndex, a.Index)
		}
		child, err := r.build(a.Node, nil)
		if err != nil {
			return err
		}
		if err := container.InsertChildAt(child, a.Index); err != nil {
			return err
		}
		r.add(child)
		return nil

	case OpRemoveChild:
		child, ok := r.index[a.Child]
		if !ok {
			return nil
		}
		parent := child.parent
		if parent == nil || parent.id != a.Target {
			return fmt.Errorf("%w: %s is not a child of %s", ErrParentMismatch, a.Child, a.Target)
		}
		parent.RemoveChild(child)
		r.drop(child)
		return nil

	case OpReplaceChild:
		old, err := r.lookup(a.Child)
		if err != nil {
			return err
		}
		child, err := r.build(a.Node, old)
		if err != nil {
			return err
		}
		if a.Target == "" {
			if old != r.root {
				return fmt.Errorf("%w: %s is not the root", ErrParentMismatch, a.Child)
			}
			r.drop(old)
			r.root = child
			r.add(child)
			return nil
		}
		parent := old.parent
		if parent == nil || parent.id != a.Target {
			return fmt.Errorf("%w: %s is not a child of %s", ErrParentMismatch, a.Child, a.Target)
		}
		if err := parent.ReplaceChild(child, old); err != nil {
			return err
		}
		r.drop(old)
		r.add(child)
		return nil

	case OpMoveChild:
		child, err := r.lookup(a.Child)
		if err != nil {
			return err
		}
		parent := child.parent
		if parent == nil || parent.id != a.Target {
			return fmt.Errorf("%w: %s is not a child of %s", ErrParentMismatch, a.Child, a.Target)
		}
		if a.Index < 0 {
			return fmt.Errorf("%w: %d", ErrInvalidIndex, a.Index)
		}
		parent.RemoveChild(child)
		return parent.InsertChildAt(child, a.Index)

	case OpSetValue:
		n, err := r.lookup(a.Target)
		if err != nil {
			return err
		}
		return n.SetValue(a.Value)

	default:
		return fmt.Errorf("%w: %d", ErrUnknownOp, a.Op)
	}
}

func (r *replayer) lookup(id string) (*Node, error) {
	n, ok := r.index[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	return n, nil
}

func (r *replayer) element(id string) (*Node, error) {
	n, err := r.lookup(id)
	if err != nil {
		return nil, err
	}
	if n.kind != KindElement {
		return nil, fmt.Errorf("%w: %s is a %s", ErrNotElement, id, n.kind)
	}
	return n, nil
}

// build deserializes rec and rejects identifiers that already exist in the
// tree outside of replaced.
func (r *replayer) build(rec *Record, replaced *Node) (*Node, error) {
	n, err := Deserialize(rec)
	if err != nil {
		return nil, err
	}
	var dup string
	Walk(n, func(c *Node) bool {
		if dup != "" {
			return false
		}
		if existing, ok := r.index[c.id]; ok && (replaced == nil || !replaced.Contains(existing)) {
			dup = c.id
			return false
		}
		return true
	})
	if dup != "" {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateID, dup)
	}
	return n, nil
}

func (r *replayer) add(n *Node) {
	Walk(n, func(c *Node) bool {
		r.index[c.id] = c
		return true
	})
}

func (r *replayer) drop(n *Node) {
	Walk(n, func(c *Node) bool {
		if r.index[c.id] == c {
			delete(r.index, c.id)
		}
		return true
	})
}
