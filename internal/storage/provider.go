package storage

import "launchpad/internal/ports"

// Provider is the object store contract used by the dispatcher, the API
// health check and the script publisher.
type Provider = ports.ObjectStore
