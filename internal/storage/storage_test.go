package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSStoreRoundTrip(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	key := "projects/1/abc.txt"

	require.NoError(t, s.Put(ctx, key, strings.NewReader("contents"), 8, "text/plain"))
	rc, err := s.Open(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "contents", string(data))

	require.NoError(t, s.Put(ctx, key, strings.NewReader("replaced"), 8, "text/plain"))
	rc, err = s.Open(ctx, key)
	require.NoError(t, err)
	data, _ = io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "replaced", string(data))

	require.NoError(t, s.Remove(ctx, key))
	_, err = s.Open(ctx, key)
	assert.ErrorIs(t, err, ErrObjectNotFound)
	assert.ErrorIs(t, s.Remove(ctx, key), ErrObjectNotFound)
}

func TestFSStoreRejectsEscapingKeys(t *testing.T) {
	s, err := NewFSStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()
	for _, key := range []string{"", "/", "../outside.txt", "projects/../../etc/passwd"} {
		assert.Error(t, s.Put(ctx, key, strings.NewReader("x"), 1, ""), "key %q", key)
	}
}
