package bunx

import "github.com/google/uuid"

// NewID generates a random UUID string for resource and user ids. Ids are
// opaque to clients, so no ordering is implied.
func NewID() string {
	return uuid.NewString()
}

// IsUUID reports whether id parses as a UUID.
func IsUUID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
