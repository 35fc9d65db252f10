package persist

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(digest string) CacheKey {
	return CacheKey{
		Prefix:            "jit",
		SignatureDigest:   digest,
		ModuleFingerprint: "fp",
		DeviceType:        "FPU",
	}
}

// Both local backends must satisfy the same contract.
func runStoreContract(t *testing.T, store Store) {
	t.Helper()

	key := testKey("sig1")

	// Missing key is a miss, not an error.
	_, found, err := store.Get(key)
	require.NoError(t, err)
	assert.False(t, found)

	// Put then Get round-trips.
	require.NoError(t, store.Put(key, []byte("v1")))

	data, found, err := store.Get(key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v1"), data)

	// Put overwrites.
	require.NoError(t, store.Put(key, []byte("v2")))

	data, found, err = store.Get(key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v2"), data)

	// Unrelated keys do not collide.
	other := testKey("sig2")
	require.NoError(t, store.Put(other, []byte("other")))

	data, found, err = store.Get(key)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("v2"), data)

	// Delete is idempotent.
	require.NoError(t, store.Delete(key))
	require.NoError(t, store.Delete(key))

	_, found, err = store.Get(key)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestFileStoreContract(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "cache"))
	require.NoError(t, err)
	defer store.Close()

	runStoreContract(t, store)
}

func TestBoltStoreContract(t *testing.T) {
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer store.Close()

	runStoreContract(t, store)
}

func TestFileStoreCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "cache")

	store, err := NewFileStore(dir)
	require.NoError(t, err)
	defer store.Close()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestFileStoreFilesAndStats(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Put(testKey("a"), []byte("aaaa")))
	require.NoError(t, store.Put(testKey("b"), []byte("bb")))

	files, err := store.Files()
	require.NoError(t, err)
	assert.Len(t, files, 2)

	count, size, err := store.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.Equal(t, int64(6), size)
}

func TestFileStoreClear(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Put(testKey("a"), []byte("a")))
	require.NoError(t, store.Put(testKey("b"), []byte("b")))

	removed, err := store.Clear()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	files, err := store.Files()
	require.NoError(t, err)
	assert.Empty(t, files)

	// Directory itself survives.
	_, err = os.Stat(store.Dir())
	assert.NoError(t, err)
}

func TestFileStoreLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()

	store, err := NewFileStore(dir)
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Put(testKey("a"), []byte("payload")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, testKey("a").Filename(), entries[0].Name())
}

func TestBoltStoreForEachAndLen(t *testing.T) {
	store, err := NewBoltStore(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Put(testKey("a"), []byte("A")))
	require.NoError(t, store.Put(testKey("b"), []byte("B")))

	n, err := store.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	seen := map[string]string{}
	err = store.ForEach(func(name string, data []byte) error {
		seen[name] = string(data)
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		testKey("a").Filename(): "A",
		testKey("b").Filename(): "B",
	}, seen)
}

func TestS3StoreObjectKey(t *testing.T) {
	key := testKey("sig1")

	tests := []struct {
		name   string
		prefix string
		want   string
	}{
		{name: "no prefix", prefix: "", want: key.Filename()},
		{name: "prefix", prefix: "caches/jit", want: "caches/jit/" + key.Filename()},
		{name: "trailing slash trimmed", prefix: "caches/jit/", want: "caches/jit/" + key.Filename()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewS3Store(S3Config{Bucket: "artifacts", Prefix: tt.prefix})
			assert.Equal(t, tt.want, store.objectKey(key))
		})
	}
}

func TestS3StoreNotFoundClassification(t *testing.T) {
	assert.True(t, isNotFound(&types.NoSuchKey{}))
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "NoSuchKey"}))
	assert.True(t, isNotFound(&smithy.GenericAPIError{Code: "NotFound"}))
	assert.False(t, isNotFound(&smithy.GenericAPIError{Code: "AccessDenied"}))
	assert.False(t, isNotFound(errors.New("connection refused")))
}

func TestBoltStoreReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")

	store, err := NewBoltStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Put(testKey("a"), []byte("persisted")))
	require.NoError(t, store.Close())

	reopened, err := NewBoltStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	data, found, err := reopened.Get(testKey("a"))
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("persisted"), data)
}
