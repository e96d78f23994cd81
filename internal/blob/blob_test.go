package blob

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_PutGetRoundTrip(t *testing.T) {
	st, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, st.Put("jobs/j1/artifacts/out.html", []byte("<p>hi</p>")))

	data, ok, err := st.Get("jobs/j1/artifacts/out.html")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "<p>hi</p>", string(data))

	has, err := st.Has("jobs/j1/artifacts/out.html")
	require.NoError(t, err)
	assert.True(t, has)

	_, ok, err = st.Get("jobs/j1/artifacts/missing.html")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_PutOverwrites(t *testing.T) {
	st, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, st.Put("k", []byte("first")))
	require.NoError(t, st.Put("k", []byte("second")))

	data, ok, err := st.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "second", string(data))
}

func TestStore_DeleteIsIdempotent(t *testing.T) {
	st, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, st.Put("k", []byte("x")))
	require.NoError(t, st.Delete("k"))
	require.NoError(t, st.Delete("k"))

	has, err := st.Has("k")
	require.NoError(t, err)
	assert.False(t, has)
}

func TestStore_KeysCannotEscapeRoot(t *testing.T) {
	root := t.TempDir()
	st, err := NewStore(root)
	require.NoError(t, err)

	outside := filepath.Join(filepath.Dir(root), "escape.txt")
	require.NoError(t, st.Put("../escape.txt", []byte("x")))

	_, statErr := os.Stat(outside)
	assert.True(t, os.IsNotExist(statErr))

	err = st.Put("", []byte("x"))
	require.Error(t, err)
}

func TestKeyHelpers(t *testing.T) {
	assert.Equal(t, "jobs/j1/assets/abc.png", AssetKey("j1", "abc", "image/png"))
	assert.Equal(t, "jobs/j1/assets/abc.bin", AssetKey("j1", "abc", "application/octet-stream"))
	assert.Equal(t, "uploads/u1/doc.html", UploadKey("u1", "/tmp/evil/doc.html"))
	assert.Equal(t, "jobs/j1/artifacts/bundle.json", ArtifactKey("j1", "bundle.json"))
}

func TestContentHash(t *testing.T) {
	a := ContentHash([]byte("hello"))
	b := ContentHash([]byte("hello"))
	c := ContentHash([]byte("world"))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}
