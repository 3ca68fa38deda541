package markup

import (
	"errors"
	"fmt"
)

// Sentinel errors for tree mutation and replay.
var (
	// ErrNodeNotFound is returned when a referenced node is not in the tree.
	ErrNodeNotFound = errors.New("markup: node not found")

	// ErrNotContainer is returned when children are added to a leaf node.
	ErrNotContainer = errors.New("markup: node is not a container")

	// ErrNotElement is returned for attribute operations on non-elements.
	ErrNotElement = errors.New("markup: node is not an element")

	// ErrNotValueNode is returned when setting the value of a node that has none.
	ErrNotValueNode = errors.New("markup: node has no value")

	// ErrHierarchy is returned when an insertion would break the tree shape.
	ErrHierarchy = errors.New("markup: invalid hierarchy")

	// ErrDuplicateID is returned when an inserted subtree reuses an identifier
	// that is already present in the target tree.
	ErrDuplicateID = errors.New("markup: duplicate node id")

	// ErrParentMismatch is returned when an action names the wrong container.
	ErrParentMismatch = errors.New("markup: parent mismatch")

	// ErrInvalidIndex is returned for negative child indices.
	ErrInvalidIndex = errors.New("markup: invalid index")

	// ErrUnknownOp is returned for an unrecognized action op.
	ErrUnknownOp = errors.New("markup: unknown action op")

	// ErrInvalidRecord is returned when a serialized record is malformed.
	ErrInvalidRecord = errors.New("markup: invalid record")
)

// ReplayError reports the action at which replay stopped. Actions before
// Index were applied.
type ReplayError struct {
	Index  int
	Action Action
	Err    error
}

// Error returns the error message with the failing action.
func (e *ReplayError) Error() string {
	return fmt.Sprintf("markup: replay action %d (%s): %v", e.Index, e.Action, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As.
func (e *ReplayError) Unwrap() error {
	return e.Err
}
