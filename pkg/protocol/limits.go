package protocol

import "errors"

// MaxRecordDepth limits the nesting of node records in binary payloads.
const MaxRecordDepth = 512

// ErrMaxDepthExceeded is returned when a record nests deeper than
// MaxRecordDepth.
var ErrMaxDepthExceeded = errors.New("protocol: maximum nesting depth exceeded")

// depthContext tracks the current decoding depth of recursive records.
type depthContext struct {
	current int
	max     int
}

func newDepthContext(max int) *depthContext {
	return &depthContext{max: max}
}

// enter increments the depth, failing if the limit would be exceeded.
func (dc *depthContext) enter() error {
	if dc.current >= dc.max {
		return ErrMaxDepthExceeded
	}
	dc.current++
	return nil
}

func (dc *depthContext) leave() {
	dc.current--
}
