package hotreload

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelevantFile(t *testing.T) {
	assert.True(t, relevantFile("/cfg/characters/a/character.yaml"))
	assert.True(t, relevantFile("/cfg/shared/style.md"))
	assert.False(t, relevantFile("/cfg/shared/.write-123"))
	assert.False(t, relevantFile("/cfg/shared/style.md~"))
	assert.False(t, relevantFile("/cfg/shared/image.png"))
}

func TestWatcherDebouncesBursts(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "shared"), 0755))

	w, err := NewWatcher(root, 100*time.Millisecond)
	require.NoError(t, err)

	var mu sync.Mutex
	var calls [][]string
	fired := make(chan struct{}, 4)
	w.OnChange(func(changed []string) {
		mu.Lock()
		calls = append(calls, changed)
		mu.Unlock()
		fired <- struct{}{}
	})
	require.NoError(t, w.Start())
	defer w.Stop()

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, "shared", "style.md"), []byte{byte('a' + i)}, 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "shared", "ignored.txt"), []byte("x"), 0644))

	select {
	case <-fired:
	case <-time.After(3 * time.Second):
		t.Fatal("invalidator not called")
	}
	time.Sleep(300 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"shared/style.md"}, calls[0])
}

func TestWatcherPicksUpNewDirectories(t *testing.T) {
	root := t.TempDir()
	w, err := NewWatcher(root, 50*time.Millisecond)
	require.NoError(t, err)

	fired := make(chan []string, 8)
	w.OnChange(func(changed []string) { fired <- changed })
	require.NoError(t, w.Start())
	defer w.Stop()

	dir := filepath.Join(root, "characters", "newbie")
	require.NoError(t, os.MkdirAll(dir, 0755))
	// Let the new directory watch register before writing into it.
	time.Sleep(200 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "character.yaml"), []byte("name: Newbie\n"), 0644))

	deadline := time.After(3 * time.Second)
	for {
		select {
		case changed := <-fired:
			for _, c := range changed {
				if c == "characters/newbie/character.yaml" {
					return
				}
			}
		case <-deadline:
			t.Fatal("change in new directory not observed")
		}
	}
}
