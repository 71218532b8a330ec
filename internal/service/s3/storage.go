// storage.go
package s3

import "context"

// Storage is the external object-store collaborator. The engine only holds
// location pointers; the sole operations it performs itself are existence
// checks and permanent deletion during a trash purge.
type Storage interface {
	ObjectExists(ctx context.Context, key string) (bool, error)
	DeleteObject(ctx context.Context, key string) error
}
