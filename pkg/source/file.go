package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/vango-dev/treesync/pkg/markup"
	"github.com/vango-dev/treesync/pkg/protocol"
)

// FileLoader loads documents from files. URLs are file:// URLs or bare
// paths; with a Root set they are resolved below it and cannot escape it.
type FileLoader struct {
	// Root confines lookups. Empty allows any absolute path.
	Root string

	// Poller serves Watch. Nil disables watching.
	Poller *Poller

	// Editor serves WriteBack. Nil uses a default editor.
	Editor *Editor
}

// NewFileLoader creates a loader rooted at root with its own poller.
func NewFileLoader(root string, poller *Poller) *FileLoader {
	return &FileLoader{Root: root, Poller: poller}
}

// Path resolves the file named by opts.
func (l *FileLoader) Path(opts protocol.OpenOptions) (string, error) {
	u, err := parseURL(opts)
	if err != nil {
		return "", err
	}
	var p string
	switch u.Scheme {
	case "file":
		p = u.Path
	case "":
		p = opts.URL
	default:
		return "", fmt.Errorf("%w: scheme %q", ErrUnsupported, u.Scheme)
	}
	if p == "" {
		return "", fmt.Errorf("source: empty path in %q", opts.URL)
	}
	if l.Root == "" {
		return filepath.Clean(filepath.FromSlash(p)), nil
	}
	// Cleaning against "/" drops any leading "..", keeping the result
	// below Root.
	rel := filepath.Clean("/" + filepath.ToSlash(p))
	return filepath.Join(l.Root, filepath.FromSlash(rel)), nil
}

// Load reads and parses the file.
func (l *FileLoader) Load(ctx context.Context, opts protocol.OpenOptions) (*markup.Node, error) {
	path, err := l.Path(opts)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("source: read %s: %w", path, err)
	}
	return markup.Parse(string(data))
}

// Watch calls fn whenever the file changes.
func (l *FileLoader) Watch(opts protocol.OpenOptions, fn func()) (stop func(), err error) {
	if l.Poller == nil {
		return nil, fmt.Errorf("%w: watching without a poller", ErrUnsupported)
	}
	path, err := l.Path(opts)
	if err != nil {
		return nil, err
	}
	return l.Poller.Add(path, fn), nil
}

// WriteBack makes the file render as root.
func (l *FileLoader) WriteBack(ctx context.Context, opts protocol.OpenOptions, root *markup.Node) error {
	path, err := l.Path(opts)
	if err != nil {
		return err
	}
	editor := l.Editor
	if editor == nil {
		editor = &Editor{}
	}
	return editor.WriteBack(ctx, path, root)
}
