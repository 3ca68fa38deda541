package markup

import "fmt"

// Record is the plain serialized form of a node. It is the JSON wire
// format for documents and for subtrees carried by edit actions.
type Record struct {
	Kind       Kind      `json:"kind"`
	ID         string    `json:"id,omitempty"`
	Name       string    `json:"name,omitempty"`
	Value      *string   `json:"value,omitempty"`
	Attributes []*Record `json:"attributes,omitempty"`
	ChildNodes []*Record `json:"childNodes,omitempty"`
	Position   *Position `json:"position,omitempty"`
}

func (r *Record) describe() string {
	if r == nil {
		return "<nil>"
	}
	if r.Kind == KindElement {
		return "<" + r.Name + ">#" + r.ID
	}
	return r.Kind.String() + "#" + r.ID
}

// Serialize converts the subtree rooted at n into a record.
func Serialize(n *Node) *Record {
	if n == nil {
		return nil
	}
	r := &Record{Kind: n.kind, ID: n.id}
	if n.position != nil {
		p := *n.position
		r.Position = &p
	}
	switch n.kind {
	case KindFragment:
		if n.value != "" {
			v := n.value
			r.Value = &v
		}
	case KindElement:
		r.Name = n.name
		if len(n.attributes) > 0 {
			r.Attributes = make([]*Record, len(n.attributes))
			for i, a := range n.attributes {
				r.Attributes[i] = Serialize(a)
			}
		}
	case KindAttribute:
		r.Name = n.name
		if !n.boolean {
			v := n.value
			r.Value = &v
		}
	case KindText, KindComment:
		v := n.value
		r.Value = &v
	}
	if len(n.children) > 0 {
		r.ChildNodes = make([]*Record, len(n.children))
		for i, c := range n.children {
			r.ChildNodes[i] = Serialize(c)
		}
	}
	return r
}

// Deserialize rebuilds a detached node tree from a record. Records without
// an identifier receive a fresh one.
func Deserialize(r *Record) (*Node, error) {
	return deserialize(r, 0)
}

const maxRecordDepth = 1024

func deserialize(r *Record, depth int) (*Node, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: nil record", ErrInvalidRecord)
	}
	if depth > maxRecordDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrInvalidRecord, maxRecordDepth)
	}
	n := &Node{kind: r.Kind, id: r.ID}
	if n.id == "" {
		n.id = newID()
	}
	if r.Position != nil {
		p := *r.Position
		n.position = &p
	}

	switch r.Kind {
	case KindFragment:
		if r.Value != nil {
			n.value = *r.Value
		}
	case KindElement:
		if r.Name == "" {
			return nil, fmt.Errorf("%w: element %s without name", ErrInvalidRecord, r.ID)
		}
		n.name = r.Name
		for _, ar := range r.Attributes {
			if ar == nil || ar.Kind != KindAttribute {
				return nil, fmt.Errorf("%w: non-attribute in attributes of %s", ErrInvalidRecord, r.ID)
			}
			a, err := deserialize(ar, depth+1)
			if err != nil {
				return nil, err
			}
			n.putAttribute(a)
		}
	case KindAttribute:
		n.name = r.Name
		if r.Value == nil {
			n.boolean = true
		} else {
			n.value = *r.Value
		}
		return n, nil
	case KindText, KindComment:
		if r.Value != nil {
			n.value = *r.Value
		}
		if len(r.ChildNodes) > 0 {
			return nil, fmt.Errorf("%w: %s %s has children", ErrInvalidRecord, r.Kind, r.ID)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrInvalidRecord, r.Kind)
	}

	if len(r.ChildNodes) > 0 {
		n.children = make([]*Node, 0, len(r.ChildNodes))
	}
	for _, cr := range r.ChildNodes {
		if cr == nil || cr.Kind == KindAttribute || cr.Kind == KindFragment {
			return nil, fmt.Errorf("%w: invalid child of %s", ErrInvalidRecord, r.ID)
		}
		c, err := deserialize(cr, depth+1)
		if err != nil {
			return nil, err
		}
		c.parent = n
		n.children = append(n.children, c)
	}
	return n, nil
}
