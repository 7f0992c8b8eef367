package idempotency

import "context"

// KeyRepository stores idempotency keys. AcquireLock must be atomic: it
// either inserts key locked, or returns the stored key unchanged apart from
// the lock timestamp. The boolean reports whether key was inserted.
type KeyRepository interface {
	AcquireLock(ctx context.Context, key *Key) (*Key, bool, error)
	ReleaseLock(ctx context.Context, keyID string) error
	StoreResponse(ctx context.Context, keyID string, responseCode int, responseBody []byte, headers map[string]string) error
	EnsureIndexes(ctx context.Context) error
}
