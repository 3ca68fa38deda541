// Package source loads documents from where they live and writes edits
// back.
//
// A loader turns open options into a parsed markup tree. FileLoader reads
// files below a root directory, S3Loader reads objects from a bucket, and
// Mux dispatches on the URL scheme. Loaders that can observe their source
// implement Watch; loaders that can persist edits implement WriteBack.
package source

import (
	"errors"
	"net/url"

	"github.com/vango-dev/treesync/pkg/protocol"
)

// Source errors.
var (
	// ErrNotFound is returned when the document does not exist.
	ErrNotFound = errors.New("source: document not found")

	// ErrUnsupported is returned when a loader cannot serve a URL or lacks
	// an optional capability.
	ErrUnsupported = errors.New("source: unsupported")
)

func parseURL(opts protocol.OpenOptions) (*url.URL, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return url.Parse(opts.URL)
}
