// Package sourceio implements the reader/writer abstraction the session
// manager uses to load a document from, and persist it back to, whatever
// external system owns the file of record: a local path or an
// object-storage bucket. Grounded on the pack's own s3aws.go helpers for
// the cloud variant, and on the fsnotify hot-reload pattern used for
// SQLite file watching for the local variant's change notifications.
package sourceio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cexll/docx-session-engine/pkg/docxerr"
)

// Reader loads the current bytes of an external document.
type Reader interface {
	// Read returns the document's current bytes.
	Read(ctx context.Context) ([]byte, error)
	// Fingerprint returns a cheap, comparable identifier for the document's
	// current content (an etag or a modtime-derived value). Open records it
	// in the session index; check_external does not use it, it reads the
	// whole document and compares digests.
	Fingerprint(ctx context.Context) (string, error)
}

// Writer persists document bytes back to the external system.
type Writer interface {
	Write(ctx context.Context, data []byte) error
}

// Watcher notifies a callback when the external document changes, for
// sources that support push notification instead of polling.
type Watcher interface {
	// Watch invokes onChange whenever the source is observed to change, until
	// ctx is cancelled. It returns once the watch is established; errors
	// encountered afterward are not returned from Watch itself.
	Watch(ctx context.Context, onChange func()) (stop func() error, err error)
}

// Source bundles the reader/writer/watcher trio the session manager needs
// for one document's external source.
type Source interface {
	Reader
	Writer
	Watcher
}

// ErrUnsupportedWatch is returned by sources (typically cloud ones) that
// cannot push change notifications and must instead be polled via
// check_external.
var ErrUnsupportedWatch = errors.New("sourceio: source does not support watching")

func wrapNotFound(err error, msg string) error {
	if err == nil {
		return nil
	}
	if os.IsNotExist(err) {
		return docxerr.Wrap(docxerr.NotFound, msg, err)
	}
	return docxerr.Wrap(docxerr.StorageError, msg, err)
}

// LocalSource is a Source backed by a plain filesystem path.
type LocalSource struct {
	path string
}

// NewLocalSource returns a LocalSource for the file at path.
func NewLocalSource(path string) *LocalSource {
	return &LocalSource{path: path}
}

func (s *LocalSource) Read(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, wrapNotFound(err, fmt.Sprintf("read source %s", s.path))
	}
	return data, nil
}

func (s *LocalSource) Write(_ context.Context, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return docxerr.Wrap(docxerr.StorageError, "create source parent dir", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return docxerr.Wrap(docxerr.StorageError, fmt.Sprintf("write source %s", s.path), err)
	}
	return nil
}

func (s *LocalSource) Fingerprint(_ context.Context) (string, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return "", wrapNotFound(err, fmt.Sprintf("stat source %s", s.path))
	}
	return fmt.Sprintf("%d-%d", info.ModTime().UnixNano(), info.Size()), nil
}
