package session

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nkiryanov/storefront/internal/models"
)

// Allow to use a function as resyncer
type resyncFunc func() error

func (f resyncFunc) Resync() error { return f() }

// Start watcher in background and stop it on test cleanup
func startWatcher(t *testing.T, w *Watcher) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	stopped := make(chan error, 1)

	go func() {
		stopped <- w.Watch(ctx, started)
	}()

	select {
	case <-started:
	case err := <-stopped:
		t.Fatalf("watcher stopped before start: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher not started in time")
	}

	t.Cleanup(func() {
		cancel()
		require.NoError(t, <-stopped)
	})
}

func TestNewWatcher(t *testing.T) {
	_, err := NewWatcher("session.json", nil, nil)
	require.Error(t, err)
}

func TestWatcher(t *testing.T) {
	t.Run("resync on change from another process", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "session.json")
		firstStorage, err := NewFileStorage(path)
		require.NoError(t, err)
		secondStorage, err := NewFileStorage(path)
		require.NoError(t, err)

		first := newStore(t, firstStorage)
		second := newStore(t, secondStorage)
		rec := &recorder{}
		first.Subscribe(rec.listen)

		w, err := NewWatcher(path, first, nil, WithDebounce(20*time.Millisecond))
		require.NoError(t, err)
		startWatcher(t, w)

		require.NoError(t, second.Save(models.Session{AccessToken: "a1", RefreshToken: "r1", User: &testUser}))

		require.Eventually(t, first.IsAuthenticated, 3*time.Second, 10*time.Millisecond, "first store should see login")
		require.Eventually(t, func() bool { return len(rec.all()) == 1 }, time.Second, 10*time.Millisecond, "listener should be notified")

		require.NoError(t, second.Destroy())

		require.Eventually(t, func() bool { return !first.IsAuthenticated() }, 3*time.Second, 10*time.Millisecond, "first store should see logout")
	})

	t.Run("ignore other files", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "session.json")
		calls := make(chan struct{}, 10)

		w, err := NewWatcher(path, resyncFunc(func() error {
			calls <- struct{}{}
			return nil
		}), nil, WithDebounce(10*time.Millisecond))
		require.NoError(t, err)
		startWatcher(t, w)

		require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0o600))
		time.Sleep(100 * time.Millisecond)
		require.Len(t, calls, 0, "changes of other files must be ignored")

		require.NoError(t, os.WriteFile(path, []byte("{}"), 0o600))
		require.Eventually(t, func() bool { return len(calls) >= 1 }, 3*time.Second, 10*time.Millisecond)
	})

	t.Run("collapse burst into single resync", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "session.json")
		storage, err := NewFileStorage(path)
		require.NoError(t, err)

		w, err := NewWatcher(path, resyncFunc(func() error { return errors.New("resync failed") }), nil, WithDebounce(300*time.Millisecond))
		require.NoError(t, err)
		startWatcher(t, w)

		for i := range 5 {
			require.NoError(t, storage.Set(map[string]string{KeyAccessToken: string(rune('a' + i))}))
		}

		require.Eventually(t, func() bool { return w.Resyncs() == 1 }, 3*time.Second, 10*time.Millisecond)
		time.Sleep(400 * time.Millisecond)
		require.Equal(t, int64(1), w.Resyncs(), "burst should produce single resync, errors must not stop the watcher")
	})
}
