package fsutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLock_ExcludesSecondHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "index.csv")

	unlock, err := Lock(path)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(filepath.Dir(path), ".index.csv.lock"))

	acquired := make(chan struct{})
	go func() {
		second, err := Lock(path)
		if err == nil {
			defer second()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second lock granted while the first is held")
	case <-time.After(100 * time.Millisecond):
	}

	unlock()
	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		t.Fatal("second lock not granted after unlock")
	}
}
