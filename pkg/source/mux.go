package source

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vango-dev/treesync/pkg/markup"
	"github.com/vango-dev/treesync/pkg/protocol"
)

// Loader loads a document. It matches the server's loader contract.
type Loader interface {
	Load(ctx context.Context, opts protocol.OpenOptions) (*markup.Node, error)
}

type watcher interface {
	Watch(opts protocol.OpenOptions, fn func()) (stop func(), err error)
}

type writer interface {
	WriteBack(ctx context.Context, opts protocol.OpenOptions, root *markup.Node) error
}

// Mux dispatches to a loader by URL scheme. An empty scheme is treated as
// "file".
type Mux struct {
	loaders map[string]Loader
}

// NewMux creates an empty mux.
func NewMux() *Mux {
	return &Mux{loaders: make(map[string]Loader)}
}

// Handle registers l for scheme.
func (m *Mux) Handle(scheme string, l Loader) {
	m.loaders[strings.ToLower(scheme)] = l
}

// Schemes returns the registered schemes in order.
func (m *Mux) Schemes() []string {
	out := make([]string, 0, len(m.loaders))
	for s := range m.loaders {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (m *Mux) route(opts protocol.OpenOptions) (Loader, error) {
	u, err := parseURL(opts)
	if err != nil {
		return nil, err
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "file"
	}
	l, ok := m.loaders[scheme]
	if !ok {
		return nil, fmt.Errorf("%w: scheme %q", ErrUnsupported, scheme)
	}
	return l, nil
}

// Load delegates to the loader for the URL scheme.
func (m *Mux) Load(ctx context.Context, opts protocol.OpenOptions) (*markup.Node, error) {
	l, err := m.route(opts)
	if err != nil {
		return nil, err
	}
	return l.Load(ctx, opts)
}

// Watch delegates when the selected loader can watch.
func (m *Mux) Watch(opts protocol.OpenOptions, fn func()) (func(), error) {
	l, err := m.route(opts)
	if err != nil {
		return nil, err
	}
	w, ok := l.(watcher)
	if !ok {
		return nil, fmt.Errorf("%w: watching %s", ErrUnsupported, opts.URL)
	}
	return w.Watch(opts, fn)
}

// WriteBack delegates when the selected loader can write.
func (m *Mux) WriteBack(ctx context.Context, opts protocol.OpenOptions, root *markup.Node) error {
	l, err := m.route(opts)
	if err != nil {
		return err
	}
	w, ok := l.(writer)
	if !ok {
		return fmt.Errorf("%w: writing %s", ErrUnsupported, opts.URL)
	}
	return w.WriteBack(ctx, opts, root)
}
