package domain

import (
	"context"
	"io"
	"time"
)

// BusMessage is one message delivered by a SignalBus subscription. Channel is
// the concrete channel the message was published on, which may differ from the
// subscribed pattern.
type BusMessage struct {
	Channel string
	Payload []byte
}

// SignalBus is the fan-out capability the core depends on: a pub/sub channel
// keyed by room name with at-least-once delivery to currently-connected
// subscribers. No durability is required; late joiners rely on a fetched
// snapshot, not replay.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe returns a read-only channel of messages. Glob patterns
	// (e.g. "auction:*") are supported. The returned channel is closed when
	// ctx is cancelled.
	Subscribe(ctx context.Context, channel string) (<-chan BusMessage, error)
}

// LockManager provides coarse distributed locks, used to elect a single
// sweeper across server instances.
type LockManager interface {
	// Acquire obtains the lock for key with the given TTL, returning an
	// unlock function. ErrLockHeld when another holder has it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter limits request rates per key.
type RateLimiter interface {
	// Allow reports whether one more request for key fits inside the sliding
	// window, counting the request when it does.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// BlobWriter stores archive objects in object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error

	// PutMultipart uploads a large payload in parts of partSize bytes.
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves archive objects from object storage.
type BlobReader interface {
	// Get returns the object body. The caller must close the reader.
	// ErrNotFound when no object exists at path.
	Get(ctx context.Context, path string) (io.ReadCloser, error)

	// Exists reports whether an object exists at path.
	Exists(ctx context.Context, path string) (bool, error)
}
