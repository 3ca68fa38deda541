package markup

// Visitor performs type-directed traversal. Accept calls the method
// matching the node kind.
type Visitor interface {
	VisitFragment(n *Node)
	VisitElement(n *Node)
	VisitAttribute(n *Node)
	VisitText(n *Node)
	VisitComment(n *Node)
}

// Accept dispatches n to the visitor method for its kind.
func (n *Node) Accept(v Visitor) {
	switch n.kind {
	case KindFragment:
		v.VisitFragment(n)
	case KindElement:
		v.VisitElement(n)
	case KindAttribute:
		v.VisitAttribute(n)
	case KindText:
		v.VisitText(n)
	case KindComment:
		v.VisitComment(n)
	}
}

// Walk visits n and its descendants in document order. Attributes are not
// visited. Returning false from fn skips the node's children.
func Walk(n *Node, fn func(*Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	for _, c := range n.children {
		Walk(c, fn)
	}
}

// Find returns the node with the given identifier in the subtree of root,
// including attribute nodes.
func Find(root *Node, id string) *Node {
	var found *Node
	Walk(root, func(n *Node) bool {
		if found != nil {
			return false
		}
		if n.id == id {
			found = n
			return false
		}
		for _, a := range n.attributes {
			if a.id == id {
				found = a
				return false
			}
		}
		return true
	})
	return found
}

// IndexByID maps the identifiers of root and its descendants to nodes.
// Attributes are not indexed.
func IndexByID(root *Node) map[string]*Node {
	index := make(map[string]*Node)
	Walk(root, func(n *Node) bool {
		index[n.id] = n
		return true
	})
	return index
}

// Count returns the number of nodes in the subtree, attributes excluded.
func Count(root *Node) int {
	count := 0
	Walk(root, func(*Node) bool {
		count++
		return true
	})
	return count
}
