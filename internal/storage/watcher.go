package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"clashdash/internal/shared/logger"
)

// Watcher 监听 FileKV 的文件，在外部修改后 (防抖) 调用回调。
// 监听的是所在目录而不是文件本身: FileKV 通过 rename 写入，文件 inode 会变化。
// 本进程自己的写入不会触发回调。
type Watcher struct {
	kv       *FileKV
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher

	mu    sync.Mutex
	timer *time.Timer
}

// NewWatcher creates a watcher for the file behind kv.
func NewWatcher(kv *FileKV, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	abs, err := filepath.Abs(kv.Path())
	if err != nil {
		w.Close()
		return nil, err
	}
	return &Watcher{kv: kv, path: abs, debounce: debounce, watcher: w}, nil
}

// Watch blocks until ctx is cancelled, calling onChange after each burst of writes.
func (w *Watcher) Watch(ctx context.Context, onChange func()) error {
	l := logger.WithComponent("Storage/Watcher")
	defer w.watcher.Close()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch path: %w", err)
	}
	l.Info().Str("path", w.path).Int64("debounce_ms", w.debounce.Milliseconds()).Msg("Store watcher started.")

	for {
		select {
		case <-ctx.Done():
			w.mu.Lock()
			if w.timer != nil {
				w.timer.Stop()
			}
			w.mu.Unlock()
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return fmt.Errorf("watcher events channel closed")
			}
			if !w.relevant(event) {
				continue
			}
			l.Debug().Str("op", event.Op.String()).Msg("Store file event detected.")
			w.schedule(func() {
				changed, err := w.kv.ModifiedExternally()
				if err != nil {
					l.Warn().Err(err).Msg("Failed to read store file after change.")
					return
				}
				if !changed {
					l.Debug().Msg("Store file matches our last write, skipping reload.")
					return
				}
				onChange()
			})
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher errors channel closed")
			}
			l.Warn().Err(err).Msg("Store watcher error.")
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

func (w *Watcher) schedule(fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, fn)
}
