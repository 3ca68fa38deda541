package source

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/vango-dev/treesync/pkg/markup"
)

// Editor applies edits to markup files. Files are parsed with source
// identifiers, so a node's identifier is stable for as long as the text
// before it is unchanged, and edit scripts produced against one parse can
// be replayed against another.
type Editor struct {
	Logger *slog.Logger
}

func (e *Editor) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Parse reads path with source identifiers prefixed by its base name.
func (e *Editor) Parse(path string) (*markup.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	return markup.Parse(string(data), markup.WithSourceIDs(filepath.Base(path)))
}

// ApplyEditActions replays script against the current contents of path
// and writes the result. Nothing is written if any action fails.
func (e *Editor) ApplyEditActions(ctx context.Context, path string, script markup.Script) error {
	root, err := e.Parse(path)
	if err != nil {
		return err
	}
	return e.apply(ctx, path, root, script)
}

func (e *Editor) apply(ctx context.Context, path string, root *markup.Node, script markup.Script) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	root, err := markup.Apply(root, script)
	if err != nil {
		return fmt.Errorf("source: edit %s: %w", path, err)
	}
	e.logger().Debug("applied edit actions", "path", path, "actions", len(script))
	return writeFileAtomic(path, []byte(render(root)))
}

// render returns the file text of root. A fragment root has no text of its
// own.
func render(root *markup.Node) string {
	if root.Kind() == markup.KindFragment {
		return markup.InnerHTML(root)
	}
	return markup.OuterHTML(root)
}

// WriteBack rewrites path so that it renders like target. The parsed file
// is diffed against target and the script replayed onto it. A missing file
// is created.
func (e *Editor) WriteBack(ctx context.Context, path string, target *markup.Node) error {
	current, err := e.Parse(path)
	if errors.Is(err, ErrNotFound) {
		current, err = markup.NewFragment(), nil
	}
	if err != nil {
		return err
	}
	script := markup.Diff(current, target)
	if len(script) == 0 {
		return nil
	}
	return e.apply(ctx, path, current, script)
}

// writeFileAtomic writes data to a temporary file in the same directory
// and renames it over path.
func writeFileAtomic(path string, data []byte) error {
	mode := fs.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".treesync-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, mode); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
