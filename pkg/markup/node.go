package markup

import "fmt"

// Kind is the node type discriminator. The numeric values are part of the
// wire format and must not change.
type Kind uint8

const (
	KindFragment  Kind = 1 // Synthetic root without a tag
	KindAttribute Kind = 2 // name="value" on an element
	KindElement   Kind = 3 // <div>, <span>, etc.
	KindText      Kind = 4 // Character data
	KindComment   Kind = 5 // <!-- ... -->
)

// String returns the lower-case name of the kind.
func (k Kind) String() string {
	switch k {
	case KindFragment:
		return "fragment"
	case KindAttribute:
		return "attribute"
	case KindElement:
		return "element"
	case KindText:
		return "text"
	case KindComment:
		return "comment"
	default:
		return "unknown"
	}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k >= KindFragment && k <= KindComment
}

// IsContainer reports whether nodes of this kind hold children.
func (k Kind) IsContainer() bool {
	return k == KindFragment || k == KindElement
}

// HasValue reports whether nodes of this kind carry a scalar value.
func (k Kind) HasValue() bool {
	return k == KindText || k == KindComment
}

// Position is the byte range a node was parsed from.
type Position struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Node is a single markup tree node. The zero value is not usable; create
// nodes with the New* constructors, Parse, or Deserialize.
type Node struct {
	kind     Kind
	id       string
	name     string
	value    string
	boolean  bool
	position *Position

	parent     *Node
	attributes []*Node
	children   []*Node

	// owner is set on the root node of a Document.
	owner *Document
}

// NewFragment creates a fragment containing children. It panics if a
// child cannot be inserted, such as a nil node, an attribute or another
// fragment.
func NewFragment(children ...*Node) *Node {
	n := &Node{kind: KindFragment, id: newID()}
	n.mustAppend(children)
	return n
}

// NewElement creates an element. Duplicate attribute names collapse to the
// last value, keeping the position of the first occurrence. Like
// NewFragment it panics on children that cannot be inserted, and on attrs
// entries that are not attributes.
func NewElement(name string, attrs []*Node, children ...*Node) *Node {
	n := &Node{kind: KindElement, id: newID(), name: name}
	for _, a := range attrs {
		if a == nil || a.kind != KindAttribute {
			panic(fmt.Errorf("%w: %v is not an attribute", ErrHierarchy, a))
		}
		n.putAttribute(a)
	}
	n.mustAppend(children)
	return n
}

func (n *Node) mustAppend(children []*Node) {
	for _, c := range children {
		if err := n.AppendChild(c); err != nil {
			panic(err)
		}
	}
}

// NewAttribute creates an attribute with a value.
func NewAttribute(name, value string) *Node {
	return &Node{kind: KindAttribute, id: newID(), name: name, value: value}
}

// NewBooleanAttribute creates an attribute without a value, e.g. disabled.
func NewBooleanAttribute(name string) *Node {
	return &Node{kind: KindAttribute, id: newID(), name: name, boolean: true}
}

// NewText creates a text node.
func NewText(value string) *Node {
	return &Node{kind: KindText, id: newID(), value: value}
}

// NewComment creates a comment node.
func NewComment(value string) *Node {
	return &Node{kind: KindComment, id: newID(), value: value}
}

// Kind returns the node kind.
func (n *Node) Kind() Kind { return n.kind }

// ID returns the stable node identifier.
func (n *Node) ID() string { return n.id }

// Name returns the tag name of an element or the name of an attribute.
func (n *Node) Name() string { return n.name }

// Value returns the value of a text, comment or attribute node, or the
// doctype of a fragment.
func (n *Node) Value() string { return n.value }

// Doctype returns the doctype name of a fragment, e.g. "html", or "".
func (n *Node) Doctype() string {
	if n.kind != KindFragment {
		return ""
	}
	return n.value
}

// Boolean reports whether an attribute has no value.
func (n *Node) Boolean() bool { return n.boolean }

// Position returns the source range, or nil.
func (n *Node) Position() *Position { return n.position }

// SetPosition records the source range of the node.
func (n *Node) SetPosition(p *Position) { n.position = p }

// Parent returns the containing node, or nil for a detached node.
func (n *Node) Parent() *Node { return n.parent }

// Children returns the child sequence. The slice must not be modified.
func (n *Node) Children() []*Node { return n.children }

// Attributes returns the attribute sequence. The slice must not be modified.
func (n *Node) Attributes() []*Node { return n.attributes }

// Root returns the topmost ancestor of n.
func (n *Node) Root() *Node {
	for n.parent != nil {
		n = n.parent
	}
	return n
}

// Index returns the position of n in its parent's child or attribute list,
// or -1 when detached.
func (n *Node) Index() int {
	if n.parent == nil {
		return -1
	}
	list := n.parent.children
	if n.kind == KindAttribute {
		list = n.parent.attributes
	}
	return indexOf(list, n)
}

// Clone returns an independent deep copy of the subtree rooted at n for
// use as new content. Every node of the copy gets a fresh identifier and
// no source position, so the copy can be inserted next to the original in
// the same document. The copy has no parent and no owning document.
func (n *Node) Clone() *Node {
	return n.copyTree(false)
}

// Snapshot returns an independent deep copy of the subtree rooted at n
// that keeps identifiers and source positions. It is a picture of the same
// nodes, e.g. a diff baseline, and must not be inserted into the tree it
// was taken from.
func (n *Node) Snapshot() *Node {
	return n.copyTree(true)
}

func (n *Node) copyTree(keep bool) *Node {
	c := &Node{
		kind:    n.kind,
		name:    n.name,
		value:   n.value,
		boolean: n.boolean,
	}
	if keep {
		c.id = n.id
		if n.position != nil {
			p := *n.position
			c.position = &p
		}
	} else {
		c.id = newID()
	}
	if len(n.attributes) > 0 {
		c.attributes = make([]*Node, len(n.attributes))
		for i, a := range n.attributes {
			ac := a.copyTree(keep)
			ac.parent = c
			c.attributes[i] = ac
		}
	}
	if len(n.children) > 0 {
		c.children = make([]*Node, len(n.children))
		for i, ch := range n.children {
			cc := ch.copyTree(keep)
			cc.parent = c
			c.children[i] = cc
		}
	}
	return c
}

// Contains reports whether other is n or one of its descendants.
func (n *Node) Contains(other *Node) bool {
	for p := other; p != nil; p = p.parent {
		if p == n {
			return true
		}
	}
	return false
}

// String returns the outer markup of the node.
func (n *Node) String() string {
	return OuterHTML(n)
}

func indexOf(list []*Node, n *Node) int {
	for i, c := range list {
		if c == n {
			return i
		}
	}
	return -1
}
