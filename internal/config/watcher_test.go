package config

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"autograb/internal/domain"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingSink struct {
	mu  sync.Mutex
	got []domain.Thresholds
}

func (r *recordingSink) SetThresholds(t domain.Thresholds) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, t)
}

func (r *recordingSink) snapshot() []domain.Thresholds {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Thresholds(nil), r.got...)
}

func writeThresholds(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func newTestWatcher(t *testing.T, path string, sink ThresholdSink) *Watcher {
	t.Helper()
	load := func(context.Context) (Config, error) { return Load(path) }
	w, err := NewWatcher(path, domain.Thresholds{MinQuantity: 50, MinUnitPrice: 4000}, load, sink, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	w.debounce = 20 * time.Millisecond
	return w
}

func TestNewWatcher_Validation(t *testing.T) {
	load := func(context.Context) (Config, error) { return Default(), nil }
	_, err := NewWatcher("", domain.Thresholds{}, load, &recordingSink{}, nil)
	require.Error(t, err)
	_, err = NewWatcher("a.yaml", domain.Thresholds{}, nil, &recordingSink{}, nil)
	require.Error(t, err)
	_, err = NewWatcher("a.yaml", domain.Thresholds{}, load, nil, nil)
	require.Error(t, err)
}

func TestWatcher_PushesChangedThresholds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autograb.yaml")
	writeThresholds(t, path, "thresholds:\n  min_quantity: 50\n  min_unit_price: 4000\n")

	sink := &recordingSink{}
	w := newTestWatcher(t, path, sink)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	writeThresholds(t, path, "thresholds:\n  min_quantity: 20\n  min_unit_price: 3000\n")
	require.Eventually(t, func() bool { return len(sink.snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, domain.Thresholds{MinQuantity: 20, MinUnitPrice: 3000}, sink.snapshot()[0])
	require.Equal(t, 1, w.Reloads())
}

func TestWatcher_IgnoresInvalidAndUnchanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "autograb.yaml")
	writeThresholds(t, path, "thresholds:\n  min_quantity: 50\n  min_unit_price: 4000\n")

	sink := &recordingSink{}
	w := newTestWatcher(t, path, sink)
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	writeThresholds(t, path, "thresholds:\n  min_quantity: -5\n")
	writeThresholds(t, filepath.Join(dir, "other.yaml"), "thresholds:\n  min_quantity: 1\n")
	time.Sleep(150 * time.Millisecond)
	writeThresholds(t, path, "thresholds:\n  min_quantity: 50\n  min_unit_price: 4000\nlog:\n  level: debug\n")
	time.Sleep(150 * time.Millisecond)

	require.Empty(t, sink.snapshot())
	require.Zero(t, w.Reloads())
}

func TestWatcher_StopWithoutStart(t *testing.T) {
	w := newTestWatcher(t, filepath.Join(t.TempDir(), "autograb.yaml"), &recordingSink{})
	w.Stop()
}
