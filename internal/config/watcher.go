package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"autograb/internal/domain"
)

const defaultDebounce = 200 * time.Millisecond

// ThresholdSink receives reloaded thresholds.
type ThresholdSink interface {
	SetThresholds(t domain.Thresholds)
}

// LoadFunc produces the effective configuration after the file changed.
type LoadFunc func(ctx context.Context) (Config, error)

// Watcher reloads the config file when it changes and pushes new thresholds
// to the sink. Only the thresholds are hot-reloaded; everything else needs a
// restart.
type Watcher struct {
	path     string
	load     LoadFunc
	sink     ThresholdSink
	logger   *slog.Logger
	debounce time.Duration

	watcher *fsnotify.Watcher

	mu      sync.Mutex
	running bool
	current domain.Thresholds
	reloads int
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewWatcher watches path. initial is the thresholds already in effect so an
// unrelated edit does not trigger a redundant update.
func NewWatcher(path string, initial domain.Thresholds, load LoadFunc, sink ThresholdSink, logger *slog.Logger) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("config: watch path must not be empty")
	}
	if load == nil {
		return nil, errors.New("config: load func must not be nil")
	}
	if sink == nil {
		return nil, errors.New("config: threshold sink must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("config: resolve %s: %w", path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("config: create watcher: %w", err)
	}
	return &Watcher{
		path:     abs,
		load:     load,
		sink:     sink,
		logger:   logger.With("config_file", abs),
		debounce: defaultDebounce,
		watcher:  fw,
		current:  initial,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start watches the file's directory so editors that replace the file by
// rename are still seen. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return fmt.Errorf("config: watch %s: %w", filepath.Dir(w.path), err)
	}
	go w.run(ctx)
	w.logger.Info("watching config for threshold changes")
	return nil
}

// Stop ends the watch loop and releases the underlying watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	wasRunning := w.running
	w.running = false
	w.mu.Unlock()

	if wasRunning {
		close(w.stopCh)
		<-w.doneCh
	}
	if err := w.watcher.Close(); err != nil {
		w.logger.Error("closing config watcher", "err", err)
	}
}

// Reloads reports how many times new thresholds were pushed.
func (w *Watcher) Reloads() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.reloads
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			timerCh = timer.C
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "err", err)
		case <-timerCh:
			timerCh = nil
			w.reload(ctx)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

func (w *Watcher) reload(ctx context.Context) {
	cfg, err := w.load(ctx)
	if err != nil {
		w.logger.Warn("config reload failed, keeping current thresholds", "err", err)
		return
	}
	if err := cfg.Validate(); err != nil {
		w.logger.Warn("reloaded config invalid, keeping current thresholds", "err", err)
		return
	}
	next := cfg.DomainThresholds()

	w.mu.Lock()
	if next == w.current {
		w.mu.Unlock()
		return
	}
	w.current = next
	w.reloads++
	w.mu.Unlock()

	w.sink.SetThresholds(next)
}
