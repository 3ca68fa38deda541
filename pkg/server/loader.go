package server

import (
	"context"

	"github.com/vango-dev/treesync/pkg/markup"
	"github.com/vango-dev/treesync/pkg/protocol"
)

// Loader builds the canonical document for a set of open options.
type Loader interface {
	Load(ctx context.Context, opts protocol.OpenOptions) (*markup.Node, error)
}

// Watchable is implemented by loaders that can report changes to the
// source of a document. fn may be called from any goroutine.
type Watchable interface {
	Watch(opts protocol.OpenOptions, fn func()) (stop func(), err error)
}

// Writer is implemented by loaders that can persist an edited document
// back to its source.
type Writer interface {
	WriteBack(ctx context.Context, opts protocol.OpenOptions, root *markup.Node) error
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, opts protocol.OpenOptions) (*markup.Node, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, opts protocol.OpenOptions) (*markup.Node, error) {
	return f(ctx, opts)
}
