package object

import (
	"context"
	"io"
)

// ObjectStore defines the contract for saving and retrieving binary objects.
// Save owns key generation: objects land under a hashed user namespace with
// a random prefix, so two uploads of the same file never collide.
type ObjectStore interface {
	Save(ctx context.Context, userId string, fileName string, r io.Reader) (storageKey string, sizeBytes int64, mimeType string, err error)
	Open(ctx context.Context, storageKey string) (io.ReadCloser, error)
}

// KeyedSaver is implemented by stores that can write to a caller-chosen key
// with an explicit content type. Pipeline artifacts use it so re-rendering a
// session overwrites the prior copy instead of accumulating randomly
// prefixed duplicates.
type KeyedSaver interface {
	SaveWithKey(ctx context.Context, storageKey string, contentType string, r io.Reader) (int64, error)
}
