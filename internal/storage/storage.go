package storage

import "context"

// Keys of the persisted client state.
const (
	KeyToken        = "token"
	KeyUser         = "user"
	KeyThemeMode    = "theme-mode"
	KeyAppSettings  = "appSettings"
	KeyItemsPerPage = "itemsPerPage"
)

// Store is a string key-value store. Get reports a missing key with
// found == false, not an error.
type Store interface {
	Get(ctx context.Context, key string) (value string, found bool, err error)
	Set(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
}
