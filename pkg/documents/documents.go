// Package documents serves company documents to the model through the
// read_document tool.
//
// Documents come from a local directory, or from Google Docs when the
// name is written as "gdoc:<document id>".
package documents

import (
	"context"
	"errors"
	"strings"
)

// Sentinel errors for the documents package.
var (
	// ErrNotFound indicates the document does not exist.
	ErrNotFound = errors.New("documents: not found")

	// ErrInvalidName indicates a name that escapes the document root or is empty.
	ErrInvalidName = errors.New("documents: invalid document name")

	// ErrNoSource indicates no source can serve the requested document.
	ErrNoSource = errors.New("documents: no source configured")
)

// GoogleDocPrefix selects the Google Docs source.
const GoogleDocPrefix = "gdoc:"

// Reader returns a document's text by name.
type Reader interface {
	Read(ctx context.Context, name string) (string, error)
}

// Library routes names to the directory or to Google Docs.
type Library struct {
	Dir    Reader
	Google Reader
}

// Read implements Reader.
func (l *Library) Read(ctx context.Context, name string) (string, error) {
	if id, ok := strings.CutPrefix(name, GoogleDocPrefix); ok {
		if l.Google == nil {
			return "", ErrNoSource
		}
		return l.Google.Read(ctx, strings.TrimSpace(id))
	}
	if l.Dir == nil {
		return "", ErrNoSource
	}
	return l.Dir.Read(ctx, name)
}
