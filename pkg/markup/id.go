package markup

import (
	"strconv"
	"sync"

	"github.com/oklog/ulid/v2"
)

// IDGenerator produces node identifiers.
// Implementations must be safe for concurrent use.
type IDGenerator interface {
	Next() string
}

// ULIDGenerator yields lexicographically sortable ULIDs.
// Identifiers from independent parses never collide.
type ULIDGenerator struct{}

// Next returns a fresh ULID string.
func (ULIDGenerator) Next() string {
	return ulid.Make().String()
}

// SequenceGenerator yields prefix-qualified counters ("n1", "n2", ...).
// It is deterministic, which makes it convenient in tests.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	next   uint64
}

// NewSequenceGenerator creates a generator with the given prefix.
// An empty prefix defaults to "n".
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "n"
	}
	return &SequenceGenerator{prefix: prefix}
}

// Next returns the next identifier in the sequence.
func (g *SequenceGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return g.prefix + strconv.FormatUint(g.next, 10)
}

// Reset restarts the sequence.
func (g *SequenceGenerator) Reset() {
	g.mu.Lock()
	g.next = 0
	g.mu.Unlock()
}

var defaultIDs IDGenerator = ULIDGenerator{}

func newID() string {
	return defaultIDs.Next()
}
