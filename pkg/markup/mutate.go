package markup

import "fmt"

// AppendChild adds child as the last child of n. A child that is attached
// elsewhere is detached first.
func (n *Node) AppendChild(child *Node) error {
	return n.InsertChildAt(child, len(n.children))
}

// InsertBefore inserts child before ref. A nil ref appends.
func (n *Node) InsertBefore(child, ref *Node) error {
	if ref == nil {
		return n.AppendChild(child)
	}
	if ref.parent != n || ref.kind == KindAttribute {
		return fmt.Errorf("%w: reference %s is not a child of %s", ErrNodeNotFound, ref.id, n.id)
	}
	if child == ref {
		return nil
	}
	if err := n.checkInsert(child); err != nil {
		return err
	}
	child.detach()
	return n.insertAt(child, indexOf(n.children, ref))
}

// InsertChildAt inserts child so that it ends up at index. An index past
// the end appends.
func (n *Node) InsertChildAt(child *Node, index int) error {
	if index < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidIndex, index)
	}
	if err := n.checkInsert(child); err != nil {
		return err
	}
	child.detach()
	return n.insertAt(child, index)
}

// RemoveChild removes child from n. It reports false, without error, when
// child is not a child of n.
func (n *Node) RemoveChild(child *Node) bool {
	if child == nil || child.parent != n || child.kind == KindAttribute {
		return false
	}
	i := indexOf(n.children, child)
	if i < 0 {
		return false
	}
	n.children = append(n.children[:i], n.children[i+1:]...)
	child.parent = nil
	n.notify(MutationChildList, n)
	return true
}

// ReplaceChild puts child in the place of old.
func (n *Node) ReplaceChild(child, old *Node) error {
	if old == nil || old.parent != n || old.kind == KindAttribute {
		return fmt.Errorf("%w: %v is not a child of %s", ErrNodeNotFound, old, n.id)
	}
	if child == old {
		return nil
	}
	if err := n.checkInsert(child); err != nil {
		return err
	}
	child.detach()
	i := indexOf(n.children, old)
	n.children[i] = child
	child.parent = n
	old.parent = nil
	n.notify(MutationChildList, n)
	return nil
}

// GetAttribute returns the value of the named attribute.
func (n *Node) GetAttribute(name string) (string, bool) {
	if a := n.Attribute(name); a != nil {
		return a.value, true
	}
	return "", false
}

// Attribute returns the named attribute node, or nil.
func (n *Node) Attribute(name string) *Node {
	for _, a := range n.attributes {
		if a.name == name {
			return a
		}
	}
	return nil
}

// SetAttribute sets an attribute value. An existing attribute is updated in
// place and keeps its position; a new one is appended.
func (n *Node) SetAttribute(name, value string) error {
	return n.setAttribute(name, value, false)
}

// SetBooleanAttribute sets a valueless attribute.
func (n *Node) SetBooleanAttribute(name string) error {
	return n.setAttribute(name, "", true)
}

func (n *Node) setAttribute(name, value string, boolean bool) error {
	if n.kind != KindElement {
		return fmt.Errorf("%w: %s is a %s", ErrNotElement, n.id, n.kind)
	}
	if a := n.Attribute(name); a != nil {
		if a.value == value && a.boolean == boolean {
			return nil
		}
		a.value = value
		a.boolean = boolean
	} else {
		a := &Node{kind: KindAttribute, id: newID(), name: name, value: value, boolean: boolean}
		a.parent = n
		n.attributes = append(n.attributes, a)
	}
	n.notify(MutationAttributes, n)
	return nil
}

// RemoveAttribute removes the named attribute. It reports false when the
// attribute is absent.
func (n *Node) RemoveAttribute(name string) bool {
	for i, a := range n.attributes {
		if a.name == name {
			n.attributes = append(n.attributes[:i], n.attributes[i+1:]...)
			a.parent = nil
			n.notify(MutationAttributes, n)
			return true
		}
	}
	return false
}

// SetValue updates the value of a text or comment node, or the doctype
// of a fragment.
func (n *Node) SetValue(value string) error {
	if !n.kind.HasValue() && n.kind != KindFragment {
		return fmt.Errorf("%w: %s is a %s", ErrNotValueNode, n.id, n.kind)
	}
	if n.value == value {
		return nil
	}
	n.value = value
	n.notify(MutationValue, n)
	return nil
}

// putAttribute adds a during construction, collapsing duplicates.
func (n *Node) putAttribute(a *Node) {
	a.detach()
	if existing := n.Attribute(a.name); existing != nil {
		existing.value = a.value
		existing.boolean = a.boolean
		return
	}
	a.parent = n
	n.attributes = append(n.attributes, a)
}

func (n *Node) checkInsert(child *Node) error {
	if !n.kind.IsContainer() {
		return fmt.Errorf("%w: %s is a %s", ErrNotContainer, n.id, n.kind)
	}
	if child == nil {
		return fmt.Errorf("%w: nil child", ErrHierarchy)
	}
	if child.kind == KindAttribute || child.kind == KindFragment {
		return fmt.Errorf("%w: cannot insert a %s as a child", ErrHierarchy, child.kind)
	}
	if child.Contains(n) {
		return fmt.Errorf("%w: %s is an ancestor of %s", ErrHierarchy, child.id, n.id)
	}
	if child.owner != nil {
		return fmt.Errorf("%w: %s is a document root", ErrHierarchy, child.id)
	}
	return nil
}

func (n *Node) insertAt(child *Node, index int) error {
	if index > len(n.children) {
		index = len(n.children)
	}
	n.children = append(n.children, nil)
	copy(n.children[index+1:], n.children[index:])
	n.children[index] = child
	child.parent = n
	n.notify(MutationChildList, n)
	return nil
}

// detach removes n from its current parent, if any.
func (n *Node) detach() {
	p := n.parent
	if p == nil {
		return
	}
	if n.kind == KindAttribute {
		if i := indexOf(p.attributes, n); i >= 0 {
			p.attributes = append(p.attributes[:i], p.attributes[i+1:]...)
		}
	} else if i := indexOf(p.children, n); i >= 0 {
		p.children = append(p.children[:i], p.children[i+1:]...)
		p.notify(MutationChildList, p)
	}
	n.parent = nil
}
