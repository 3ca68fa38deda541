package markup

import (
	"fmt"
	"strconv"
)

// ActionOp is the type of an edit action. The numeric values are used by
// the binary codec; the names by JSON.
type ActionOp uint8

const (
	OpSetAttribute    ActionOp = 0x01 // Set or update an attribute
	OpRemoveAttribute ActionOp = 0x02 // Remove an attribute
	OpInsertChild     ActionOp = 0x03 // Insert a serialized subtree
	OpRemoveChild     ActionOp = 0x04 // Remove a child
	OpReplaceChild    ActionOp = 0x05 // Replace a child with a serialized subtree
	OpMoveChild       ActionOp = 0x06 // Move a child to a new index
	OpSetValue        ActionOp = 0x07 // Update a text or comment value
)

var opNames = map[ActionOp]string{
	OpSetAttribute:    "setAttribute",
	OpRemoveAttribute: "removeAttribute",
	OpInsertChild:     "insertChild",
	OpRemoveChild:     "removeChild",
	OpReplaceChild:    "replaceChild",
	OpMoveChild:       "moveChild",
	OpSetValue:        "setValue",
}

// String returns the wire name of the op.
func (op ActionOp) String() string {
	if s, ok := opNames[op]; ok {
		return s
	}
	return "unknown(" + strconv.Itoa(int(op)) + ")"
}

// Valid reports whether op is a known op.
func (op ActionOp) Valid() bool {
	_, ok := opNames[op]
	return ok
}

// MarshalText implements encoding.TextMarshaler.
func (op ActionOp) MarshalText() ([]byte, error) {
	s, ok := opNames[op]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownOp, op)
	}
	return []byte(s), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (op *ActionOp) UnmarshalText(b []byte) error {
	for k, v := range opNames {
		if v == string(b) {
			*op = k
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrUnknownOp, b)
}

// Action is a single edit. References are node identifiers.
//
//	setAttribute     Target=element Name Value Boolean
//	removeAttribute  Target=element Name
//	insertChild      Target=container Node Index
//	removeChild      Target=container Child
//	replaceChild     Target=container Node Child (empty Target replaces a root)
//	moveChild        Target=container Child Index
//	setValue         Target=text/comment/fragment Value
type Action struct {
	Op      ActionOp `json:"op"`
	Target  string   `json:"target"`
	Name    string   `json:"name,omitempty"`
	Value   string   `json:"value,omitempty"`
	Boolean bool     `json:"boolean,omitempty"`
	Child   string   `json:"child,omitempty"`
	Index   int      `json:"index,omitempty"`
	Node    *Record  `json:"node,omitempty"`
}

// String returns a compact description for logs.
func (a Action) String() string {
	switch a.Op {
	case OpSetAttribute:
		if a.Boolean {
			return fmt.Sprintf("setAttribute(%s, %s)", a.Target, a.Name)
		}
		return fmt.Sprintf("setAttribute(%s, %s=%q)", a.Target, a.Name, a.Value)
	case OpRemoveAttribute:
		return fmt.Sprintf("removeAttribute(%s, %s)", a.Target, a.Name)
	case OpInsertChild:
		return fmt.Sprintf("insertChild(%s, %s, %d)", a.Target, a.Node.describe(), a.Index)
	case OpRemoveChild:
		return fmt.Sprintf("removeChild(%s, %s)", a.Target, a.Child)
	case OpReplaceChild:
		return fmt.Sprintf("replaceChild(%s, %s, %s)", a.Target, a.Node.describe(), a.Child)
	case OpMoveChild:
		return fmt.Sprintf("moveChild(%s, %s, %d)", a.Target, a.Child, a.Index)
	case OpSetValue:
		return fmt.Sprintf("setValue(%s, %q)", a.Target, a.Value)
	default:
		return a.Op.String()
	}
}

// Script is an ordered list of edit actions.
type Script []Action

// Count returns the number of actions per op.
func (s Script) Count() map[ActionOp]int {
	counts := make(map[ActionOp]int)
	for _, a := range s {
		counts[a.Op]++
	}
	return counts
}

// SetAttributeAction builds a setAttribute action.
func SetAttributeAction(target, name, value string) Action {
	return Action{Op: OpSetAttribute, Target: target, Name: name, Value: value}
}

// RemoveAttributeAction builds a removeAttribute action.
func RemoveAttributeAction(target, name string) Action {
	return Action{Op: OpRemoveAttribute, Target: target, Name: name}
}

// InsertChildAction builds an insertChild action carrying a copy of child.
func InsertChildAction(container string, child *Node, index int) Action {
	return Action{Op: OpInsertChild, Target: container, Node: Serialize(child), Index: index}
}

// RemoveChildAction builds a removeChild action.
func RemoveChildAction(container, child string) Action {
	return Action{Op: OpRemoveChild, Target: container, Child: child}
}

// ReplaceChildAction builds a replaceChild action carrying a copy of child.
func ReplaceChildAction(container string, child *Node, old string) Action {
	return Action{Op: OpReplaceChild, Target: container, Node: Serialize(child), Child: old}
}

// MoveChildAction builds a moveChild action.
func MoveChildAction(container, child string, index int) Action {
	return Action{Op: OpMoveChild, Target: container, Child: child, Index: index}
}

// SetValueAction builds a setValue action.
func SetValueAction(target, value string) Action {
	return Action{Op: OpSetValue, Target: target, Value: value}
}
