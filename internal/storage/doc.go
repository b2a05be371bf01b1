// Package storage declares the narrow set of interfaces the
// conflict resolution subsystem consumes from the storage
// collaborator. The collaborator's actual on-disk object/commit
// store, snapshot reading, and cloud sync transport are out of scope
// for this module; internal/fakestorage provides the only concrete
// implementation, for tests and local wiring.
package storage
