package config

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "mcwatch/pkg/logx"
)

const (
	reloadDebounce = 250 * time.Millisecond

	watchRetryBase = 250 * time.Millisecond
	watchRetryMax  = 5 * time.Second
)

// Watch reloads the file whenever it changes, until ctx is done. A burst of
// editor events becomes one Reload after reloadDebounce of quiet. Without a
// file it just waits for ctx.
func (m *Manager) Watch(ctx context.Context) error {
	if m.path == "" {
		<-ctx.Done()
		return nil
	}

	changed := make(chan struct{}, 1)
	notify := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}
	go m.debounceReloads(ctx, changed)

	// The watch itself can break (directory replaced, backend errors):
	// re-establish it with jittered backoff.
	retry := watchRetryBase
	for {
		established, err := m.watchOnce(ctx, notify)
		if ctx.Err() != nil {
			return nil
		}
		if established {
			retry = watchRetryBase
		}
		wait := retry + time.Duration(rand.Int63n(int64(retry/2+1)))
		m.log.Warn("config watcher stopped; restarting",
			logx.String("path", m.path),
			logx.Duration("backoff", wait),
			logx.Err(err),
		)
		retry = min(retry*2, watchRetryMax)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

func (m *Manager) debounceReloads(ctx context.Context, changed <-chan struct{}) {
	t := time.NewTimer(time.Hour)
	t.Stop()
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-changed:
			t.Reset(reloadDebounce)
		case <-t.C:
			m.reloadAndLog(ctx)
		}
	}
}

func (m *Manager) reloadAndLog(ctx context.Context) {
	published, err := m.Reload(ctx)
	switch {
	case err != nil:
		m.log.Warn("config reload rejected", logx.String("path", m.path), logx.Err(err))
	case published:
		m.log.Info("config file changed", logx.String("path", m.path))
	default:
		m.log.Debug("config file touched, content unchanged", logx.String("path", m.path))
	}
}

// watchOnce watches the config file's directory, since editors commonly
// replace the file by rename. It returns when the watcher breaks or ctx is
// done; established reports whether the watch got set up at all.
func (m *Manager) watchOnce(ctx context.Context, notify func()) (established bool, err error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return false, fmt.Errorf("fsnotify: %w", err)
	}
	defer w.Close()

	dir, name := filepath.Dir(m.path), filepath.Base(m.path)
	if err := w.Add(dir); err != nil {
		return false, fmt.Errorf("watch %s: %w", dir, err)
	}
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", name))

	for {
		select {
		case <-ctx.Done():
			return true, nil
		case ev, ok := <-w.Events:
			if !ok {
				return true, errors.New("fsnotify: events closed")
			}
			if filepath.Base(ev.Name) == name && ev.Op != fsnotify.Chmod {
				notify()
			}
		case werr, ok := <-w.Errors:
			if !ok {
				return true, errors.New("fsnotify: errors closed")
			}
			if errors.Is(werr, fsnotify.ErrEventOverflow) {
				m.log.Warn("config watch overflow; forcing reload", logx.Err(werr))
				notify()
				continue
			}
			if errors.Is(werr, fsnotify.ErrClosed) {
				return true, werr
			}
			m.log.Warn("config watch error", logx.Err(werr))
		}
	}
}
