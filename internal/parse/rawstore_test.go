package parse

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPayload(body []byte) *RawPayload {
	return &RawPayload{
		Source:      "mls",
		URL:         "https://mls.example.com/listing/1",
		ContentType: "text/html",
		Body:        body,
		CapturedAt:  time.Now().UTC(),
		ExpiresAt:   time.Now().Add(time.Hour).UTC(),
	}
}

func TestMemoryRawStoreRoundTrip(t *testing.T) {
	s := NewMemoryRawStore()
	body := []byte("<html><body>listing</body></html>")

	id, err := s.Put(context.Background(), testPayload(body))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	got, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, body, got.Body)
	assert.Equal(t, "mls", got.Source)
}

func TestMemoryRawStoreCompressesLargePayloads(t *testing.T) {
	s := NewMemoryRawStore()
	body := bytes.Repeat([]byte("listing data "), 2000) // > 10KB

	id, err := s.Put(context.Background(), testPayload(body))
	require.NoError(t, err)

	s.mu.Lock()
	entry := s.entries[id]
	s.mu.Unlock()
	assert.True(t, entry.compressed)
	assert.Less(t, len(entry.body), len(body))

	got, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, body, got.Body)
}

func TestMemoryRawStoreDeleteExpired(t *testing.T) {
	s := NewMemoryRawStore()
	p := testPayload([]byte("x"))
	p.ExpiresAt = time.Now().Add(-time.Minute)
	id, err := s.Put(context.Background(), p)
	require.NoError(t, err)

	n, err := s.DeleteExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Get(context.Background(), id)
	require.Error(t, err)
}

func TestMemoryRawStoreMissing(t *testing.T) {
	_, err := NewMemoryRawStore().Get(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLiteRawStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteRawStore(ctx, filepath.Join(t.TempDir(), "raw.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	small := []byte("<html>small</html>")
	large := bytes.Repeat([]byte("big listing "), 2000)

	smallID, err := s.Put(ctx, testPayload(small))
	require.NoError(t, err)
	largeID, err := s.Put(ctx, testPayload(large))
	require.NoError(t, err)

	gotSmall, err := s.Get(ctx, smallID)
	require.NoError(t, err)
	assert.Equal(t, small, gotSmall.Body)

	gotLarge, err := s.Get(ctx, largeID)
	require.NoError(t, err)
	assert.Equal(t, large, gotLarge.Body)
}

func TestSQLiteRawStoreDeleteExpired(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteRawStore(ctx, filepath.Join(t.TempDir(), "raw.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	expired := testPayload([]byte("old"))
	expired.ExpiresAt = time.Now().Add(-time.Hour).UTC()
	_, err = s.Put(ctx, expired)
	require.NoError(t, err)

	live := testPayload([]byte("new"))
	liveID, err := s.Put(ctx, live)
	require.NoError(t, err)

	n, err := s.DeleteExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = s.Get(ctx, liveID)
	require.NoError(t, err)
}
