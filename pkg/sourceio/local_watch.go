package sourceio

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/cexll/docx-session-engine/pkg/docxerr"
)

// Watch installs an fsnotify watcher on the source file's directory (not
// the file itself: editors commonly replace a file via rename-on-save,
// which fsnotify only observes on the containing directory) and invokes
// onChange for every write or rename event touching the watched path.
func (s *LocalSource) Watch(ctx context.Context, onChange func()) (func() error, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, docxerr.Wrap(docxerr.StorageError, "create fs watcher", err)
	}
	dir := filepath.Dir(s.path)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, docxerr.Wrap(docxerr.StorageError, "watch source directory", err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != s.path {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Rename|fsnotify.Create) != 0 {
					onChange()
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return watcher.Close, nil
}
