package persist

// Store is a keyed blob store for serialized entries. Implementations must
// be safe for concurrent use.
//
// Get reports a missing key as (nil, false, nil); errors are reserved for
// the backend actually failing. Put overwrites any existing entry for the
// key.
type Store interface {
	Get(key CacheKey) ([]byte, bool, error)
	Put(key CacheKey, data []byte) error
	Delete(key CacheKey) error
	Close() error
}
