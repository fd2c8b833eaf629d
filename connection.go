package codm

import (
	"sync"

	"github.com/pkg/errors"

	"github.com/influx6/codm/storage"
)

//==============================================================================

// connLock provides a mutex for controlling access to the connection
// master list.
var connLock sync.Mutex

// connections contains the set of stores registered by alias. The empty
// alias holds the global default.
var connections = make(map[string]storage.Store)

//==============================================================================

// Register adds a store under the giving alias, replacing any previous
// registration.
func Register(alias string, store storage.Store) {
	connLock.Lock()
	connections[alias] = store
	connLock.Unlock()
}

// Use registers the giving store as the global default.
func Use(store storage.Store) {
	Register("", store)
}

// Connection resolves the giving alias to its registered store. An
// unregistered alias is an error rather than a silent fallback.
func Connection(alias string) (storage.Store, error) {
	connLock.Lock()
	store, ok := connections[alias]
	connLock.Unlock()

	if !ok {
		return nil, errors.Wrapf(ErrNoConnection, "alias %q", alias)
	}

	return store, nil
}

// ShutdownConnections shuts down every registered store and clears the
// master list.
func ShutdownConnections(context interface{}) {
	connLock.Lock()
	stores := connections
	connections = make(map[string]storage.Store)
	connLock.Unlock()

	for _, store := range stores {
		store.Shutdown(context)
	}
}

//==============================================================================
