package files

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtomicCreatesAndReplaces(t *testing.T) {
	target := filepath.Join(t.TempDir(), "nested", "doc.md")

	require.NoError(t, WriteAtomic(target, []byte("first")))
	assert.Equal(t, "first", ReadOptional(target))

	require.NoError(t, WriteAtomic(target, []byte("second")))
	assert.Equal(t, "second", ReadOptional(target))

	entries, err := os.ReadDir(filepath.Dir(target))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestReadOptionalMissing(t *testing.T) {
	assert.Equal(t, "", ReadOptional(filepath.Join(t.TempDir(), "absent.md")))
}
