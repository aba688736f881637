package instance

import (
	"os"

	"github.com/google/uuid"
)

// GetID returns the process instance identifier used to tag cross-instance cart notifications.
// Falls back to the hostname, then to a random id so two processes never share a tag.
func GetID() string {
	if id := os.Getenv("CARTSYNC_INSTANCE_ID"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host + "-" + uuid.NewString()[:8]
	}
	return "cartsync-" + uuid.NewString()
}
