package persist

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vouch/internal/cache"
)

func newStore(t *testing.T, fs *FileStore) *cache.Store {
	t.Helper()
	return cache.NewStore(cache.WithNotifier(fs))
}

func sampleToken(secret string) cache.AccessTokenItem {
	return cache.AccessTokenItem{
		HomeAccountID: "u1.t1",
		Environment:   "login.example.com",
		ClientID:      "client-1",
		Realm:         "tenant-1",
		Scopes:        []string{"user.read"},
		Secret:        secret,
		TokenType:     "Bearer",
		ExpiresOn:     time.Now().Add(time.Hour),
	}
}

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	fs, err := NewFileStore(path)
	require.NoError(t, err)
	defer fs.Close()

	writer := newStore(t, fs)
	ctx := context.Background()

	require.NoError(t, writer.NotifyBeforeAccess(ctx, cache.EventDetails{}))
	require.NoError(t, writer.SaveAccessToken(sampleToken("secret-1")))
	require.NoError(t, writer.NotifyAfterAccess(ctx, cache.EventDetails{}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, data)

	// A second process over the same file sees the token.
	fs2, err := NewFileStore(path)
	require.NoError(t, err)
	defer fs2.Close()
	reader := newStore(t, fs2)
	require.NoError(t, reader.NotifyBeforeAccess(ctx, cache.EventDetails{}))

	item, ok := reader.GetAccessToken(sampleToken("").Key())
	require.True(t, ok)
	assert.Equal(t, "secret-1", item.Secret)
}

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nonexistent", "cache.json")
	fs, err := NewFileStore(path)
	require.NoError(t, err)
	defer fs.Close()

	store := newStore(t, fs)
	require.NoError(t, store.NotifyBeforeAccess(context.Background(), cache.EventDetails{}))
	assert.False(t, store.HasTokens())
}

func TestFileStoreSkipsUnchangedExport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	fs, err := NewFileStore(path)
	require.NoError(t, err)
	defer fs.Close()

	store := newStore(t, fs)
	ctx := context.Background()
	require.NoError(t, store.SaveAccessToken(sampleToken("secret-1")))
	require.NoError(t, store.NotifyAfterAccess(ctx, cache.EventDetails{}))

	first, err := os.Stat(path)
	require.NoError(t, err)

	// Same content, no rewrite.
	time.Sleep(10 * time.Millisecond)
	require.NoError(t, store.NotifyAfterAccess(ctx, cache.EventDetails{}))
	second, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, first.ModTime(), second.ModTime())
}

func TestFileStoreReloadsAfterExternalChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")

	// First process writes a snapshot.
	writerFS, err := NewFileStore(path)
	require.NoError(t, err)
	writer := newStore(t, writerFS)
	ctx := context.Background()
	require.NoError(t, writer.SaveAccessToken(sampleToken("secret-1")))
	require.NoError(t, writer.NotifyAfterAccess(ctx, cache.EventDetails{}))
	require.NoError(t, writerFS.Close())

	// Second process loads it, then the file changes underneath.
	changed := make(chan struct{}, 1)
	readerFS, err := NewFileStore(path, WithChangeCallback(func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}))
	require.NoError(t, err)
	defer readerFS.Close()
	require.NoError(t, readerFS.Watch())

	reader := newStore(t, readerFS)
	require.NoError(t, reader.NotifyBeforeAccess(ctx, cache.EventDetails{}))
	require.True(t, reader.HasTokens())

	// External update.
	writerFS2, err := NewFileStore(path)
	require.NoError(t, err)
	writer2 := newStore(t, writerFS2)
	require.NoError(t, writer2.NotifyBeforeAccess(ctx, cache.EventDetails{}))
	require.NoError(t, writer2.SaveAccessToken(sampleToken("secret-2")))
	require.NoError(t, writer2.NotifyAfterAccess(ctx, cache.EventDetails{}))
	require.NoError(t, writerFS2.Close())

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not report the external change")
	}

	require.NoError(t, reader.NotifyBeforeAccess(ctx, cache.EventDetails{}))
	item, ok := reader.GetAccessToken(sampleToken("").Key())
	require.True(t, ok)
	assert.Equal(t, "secret-2", item.Secret)
}

func TestFileStoreRejectsEmptyPath(t *testing.T) {
	_, err := NewFileStore("")
	assert.Error(t, err)
}
